// Package bytecode models the register bytecode consumed by the optimizing
// tier's front end.
//
// The model is read-only input: the front end never mutates a Function.
//
// # Architecture Overview
//
//   - Opcodes: register instructions with three integer operands (A, B, C)
//     and a branch target. Each opcode carries static control-flow flags
//     (barrier, branch, tail call, may-exit) and an intrinsic kind.
//
//   - Function and Program: a function's code, constants, upvalue
//     descriptors and baseline profile. A Program links functions by name.
//
//   - CallSite: the baseline tier's per-call profile, progressing
//     Empty -> Monomorphic -> Polymorphic -> Megamorphic.
//
//   - Decoder: the query interface the IR builder sees. It answers operand
//     descriptors (Local, Constant, Range, VarRets), intrinsic payloads, call
//     sites and per-instruction inlining traits.
//
// # Frame Layout
//
// A call places the callee at R[A] and its arguments at R[A+4...]; the four
// slots in between become the callee's frame header once the call happens.
//
// # Fixtures
//
// Programs serialize to canonical CBOR (MarshalProgram) and can be written by
// hand as TOML (ParseProgramTOML). Tests assemble them with NewFunction.
package bytecode
