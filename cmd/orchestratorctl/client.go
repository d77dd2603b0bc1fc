package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const connectTimeout = 10 * time.Second

// Client spawns the orchestratord binary as a subprocess and speaks MCP
// JSON-RPC over its stdin/stdout, mirroring the teacher's APIClient but over
// a stdio CommandTransport instead of HTTP, since orchestratord has no HTTP
// API (spec.md §6).
type Client struct {
	session *mcp.ClientSession
}

// Dial spawns the server binary and completes the MCP handshake.
func Dial(ctx context.Context, serverPath string, serverArgs []string) (*Client, error) {
	cmd := exec.Command(serverPath, serverArgs...)
	cmd.Env = os.Environ()
	cmd.Stderr = os.Stderr
	transport := &mcp.CommandTransport{Command: cmd}

	client := mcp.NewClient(&mcp.Implementation{Name: "orchestratorctl", Version: version}, nil)

	initCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	session, err := client.Connect(initCtx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to orchestratord: %w", err)
	}
	return &Client{session: session}, nil
}

// Close ends the session and lets the spawned orchestratord process exit.
func (c *Client) Close() error {
	return c.session.Close()
}

// CallTool invokes a named tool and decodes its envelope's Content text as
// raw JSON, ready for either direct printing (--json) or field extraction.
func (c *Client) CallTool(ctx context.Context, tool string, args map[string]any) (json.RawMessage, error) {
	res, err := c.session.CallTool(ctx, &mcp.CallToolParams{Name: tool, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", tool, err)
	}
	return extractEnvelope(res)
}

// extractEnvelope pulls the tool's single TextContent item out of a
// CallToolResult. Every orchestratord tool returns exactly one TextContent
// item holding the marshaled envelope (internal/rpcserver/envelope.go).
func extractEnvelope(res *mcp.CallToolResult) (json.RawMessage, error) {
	if res.IsError {
		return nil, fmt.Errorf("tool reported an error")
	}
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			return json.RawMessage(tc.Text), nil
		}
	}
	return nil, fmt.Errorf("tool returned no text content")
}
