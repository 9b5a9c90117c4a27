// Package compilelog persists compilation summaries and inlining
// decisions in SQLite.
package compilelog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/dfgjit/dfg"
)

// ErrNotFound indicates the requested compilation doesn't exist
var ErrNotFound = errors.New("compilelog: compilation not found")

var log = commonlog.GetLogger("dfgc.store")

const schema = `
CREATE TABLE IF NOT EXISTS compilations (
	id       TEXT PRIMARY KEY,
	function TEXT NOT NULL,
	created  INTEGER NOT NULL,
	blocks   INTEGER NOT NULL,
	nodes    INTEGER NOT NULL,
	frames   INTEGER NOT NULL,
	phantoms INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS decisions (
	compilation_id TEXT NOT NULL REFERENCES compilations(id),
	seq            INTEGER NOT NULL,
	caller         TEXT NOT NULL,
	bytecode_index INTEGER NOT NULL,
	callee         TEXT NOT NULL,
	accepted       INTEGER NOT NULL,
	reason         TEXT NOT NULL,
	PRIMARY KEY (compilation_id, seq)
);`

// Decision is one recorded inlining decision.
type Decision struct {
	Caller   string
	Index    int
	Callee   string
	Accepted bool
	Reason   string
}

// Report summarizes one compilation.
type Report struct {
	ID       string
	Function string
	Created  time.Time

	Blocks   int
	Nodes    int
	Frames   int
	Phantoms int

	Decisions []Decision
}

// NewReport summarizes a built graph.
func NewReport(g *dfg.Graph) Report {
	s := g.Stats()
	r := Report{
		Function: g.Root().Name,
		Blocks:   s.Blocks,
		Nodes:    s.Nodes,
		Frames:   s.Frames,
		Phantoms: s.Phantoms,
	}
	for _, d := range g.Decisions {
		r.Decisions = append(r.Decisions, Decision{
			Caller:   d.Caller,
			Index:    d.Index,
			Callee:   d.Callee,
			Accepted: d.Accepted,
			Reason:   d.Reason,
		})
	}
	return r
}

// Inlined returns the number of accepted decisions.
func (r Report) Inlined() int {
	n := 0
	for _, d := range r.Decisions {
		if d.Accepted {
			n++
		}
	}
	return n
}

// Store is a compile log backed by a SQLite database.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the compile log at path. The path ":memory:"
// gives a private in-memory log.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("compilelog: opening database: %w", err)
	}
	if path == ":memory:" {
		// every connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("compilelog: setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("compilelog: creating tables: %w", err)
	}

	log.Debugf("opened %s", path)
	return &Store{db: db, path: path}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores r and its decisions in one transaction and returns the
// compilation ID. An empty r.ID gets a fresh UUID.
func (s *Store) Record(ctx context.Context, r Report) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Created.IsZero() {
		r.Created = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("compilelog: beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO compilations (id, function, created, blocks, nodes, frames, phantoms)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Function, r.Created.UnixNano(), r.Blocks, r.Nodes, r.Frames, r.Phantoms,
	)
	if err != nil {
		return "", fmt.Errorf("compilelog: saving compilation: %w", err)
	}
	for i, d := range r.Decisions {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO decisions (compilation_id, seq, caller, bytecode_index, callee, accepted, reason)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.ID, i, d.Caller, d.Index, d.Callee, d.Accepted, d.Reason,
		)
		if err != nil {
			return "", fmt.Errorf("compilelog: saving decision %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("compilelog: committing: %w", err)
	}

	log.Infof("recorded %s for %s (%d decisions)", r.ID, r.Function, len(r.Decisions))
	return r.ID, nil
}

// Get retrieves one compilation with its decisions.
func (s *Store) Get(ctx context.Context, id string) (Report, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, function, created, blocks, nodes, frames, phantoms
		FROM compilations WHERE id = ?`, id)
	r, err := scanReport(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Report{}, ErrNotFound
		}
		return Report{}, fmt.Errorf("compilelog: querying compilation: %w", err)
	}
	if r.Decisions, err = s.decisions(ctx, id); err != nil {
		return Report{}, err
	}
	return r, nil
}

// Recent returns up to n compilations, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]Report, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, function, created, blocks, nodes, frames, phantoms
		FROM compilations ORDER BY created DESC, rowid DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("compilelog: listing compilations: %w", err)
	}
	var reports []Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("compilelog: reading compilation: %w", err)
		}
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("compilelog: listing compilations: %w", err)
	}
	rows.Close()

	for i := range reports {
		if reports[i].Decisions, err = s.decisions(ctx, reports[i].ID); err != nil {
			return nil, err
		}
	}
	return reports, nil
}

func (s *Store) decisions(ctx context.Context, id string) ([]Decision, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT caller, bytecode_index, callee, accepted, reason
		FROM decisions WHERE compilation_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("compilelog: querying decisions: %w", err)
	}
	defer rows.Close()

	var out []Decision
	for rows.Next() {
		var d Decision
		if err := rows.Scan(&d.Caller, &d.Index, &d.Callee, &d.Accepted, &d.Reason); err != nil {
			return nil, fmt.Errorf("compilelog: reading decision: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReport(sc scanner) (Report, error) {
	var r Report
	var created int64
	if err := sc.Scan(&r.ID, &r.Function, &created, &r.Blocks, &r.Nodes, &r.Frames, &r.Phantoms); err != nil {
		return Report{}, err
	}
	r.Created = time.Unix(0, created).UTC()
	return r, nil
}
