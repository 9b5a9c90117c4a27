package server

import (
	"context"
	"strings"

	"connectrpc.com/connect"
)

// Client calls a remote compile service.
type Client struct {
	compile *connect.Client[CompileRequest, CompileResponse]
}

// NewClient creates a Client for the service at baseURL.
func NewClient(httpClient connect.HTTPClient, baseURL string) *Client {
	return &Client{
		compile: connect.NewClient[CompileRequest, CompileResponse](
			httpClient,
			strings.TrimRight(baseURL, "/")+CompileProcedure,
			connect.WithCodec(cborCodec{}),
		),
	}
}

// Compile sends req and returns the service's response.
func (c *Client) Compile(ctx context.Context, req *CompileRequest) (*CompileResponse, error) {
	resp, err := c.compile.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}
