// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package tools implements ports.ToolPort against an MCP server. The
// teacher's own tool-calling layer (internal/agent/tool/mcp/caller.go,
// internal/agent/tool/local) only survived retrieval as a placeholder
// interface (MCPCaller.Tools() []ToolCaller) with no client body, so the
// concrete wiring here is written fresh against mark3labs/mcp-go's public
// client API (a genuine teacher dependency — go.mod lists
// github.com/mark3labs/mcp-go — just without a retrieved call site), kept
// behind the same Invoke(ctx, name, argumentsJSON) shape
// ports.ToolPort already defines.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rapidaai/voiceorc/internal/commons"
	"github.com/rapidaai/voiceorc/internal/ports"
)

// mcpClient is the subset of *client.Client this package depends on,
// narrowed for testability (see Conn/Runner in internal/transport for the
// same pattern).
type mcpClient interface {
	Start(ctx context.Context) error
	Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error)
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	Close() error
}

// MCPToolPort adapts one MCP server's tool set to ports.ToolPort. One
// instance is owned per call, matching the lifetime of the ConfigSnapshot
// that names the server (spec.md §3 "Ownership").
type MCPToolPort struct {
	client     mcpClient
	logger     commons.Logger
	defaultTTL time.Duration

	mu          sync.Mutex
	initialized bool
}

// NewMCPToolPort connects to a streamable-HTTP MCP server at serverURL and
// performs the MCP initialize handshake. defaultTimeout bounds every
// Invoke call absent a shorter deadline already present on ctx (spec.md
// §4.2, default 10s from ConfigSnapshot.ToolTimeoutMS).
func NewMCPToolPort(ctx context.Context, serverURL string, defaultTimeout time.Duration, logger commons.Logger) (*MCPToolPort, error) {
	c, err := client.NewStreamableHttpClient(serverURL)
	if err != nil {
		return nil, fmt.Errorf("tools: new mcp client: %w", err)
	}

	initCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := c.Start(initCtx); err != nil {
		return nil, fmt.Errorf("tools: start mcp client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "voiceorc", Version: "1.0.0"}
	if _, err := c.Initialize(initCtx, initReq); err != nil {
		c.Close()
		return nil, fmt.Errorf("tools: initialize mcp session: %w", err)
	}

	return &MCPToolPort{client: c, logger: logger, defaultTTL: defaultTimeout, initialized: true}, nil
}

// newMCPToolPortFromClient wires a pre-constructed mcpClient directly,
// bypassing the network handshake — used by tests to inject a fake.
func newMCPToolPortFromClient(c mcpClient, defaultTimeout time.Duration, logger commons.Logger) *MCPToolPort {
	return &MCPToolPort{client: c, logger: logger, defaultTTL: defaultTimeout, initialized: true}
}

// Invoke implements ports.ToolPort. A tool error (including the server
// returning IsError) is reported through ToolResult.Err, never as a
// transport-level error, per spec.md §7's "tool failure never aborts the
// turn" contract — the caller always gets JSON it can feed back to the LLM.
func (m *MCPToolPort) Invoke(ctx context.Context, name string, argumentsJSON string) (ports.ToolResult, error) {
	var args map[string]any
	if argumentsJSON != "" {
		if err := json.Unmarshal([]byte(argumentsJSON), &args); err != nil {
			return ports.ToolResult{Err: fmt.Errorf("tools: invalid arguments JSON for %s: %w", name, err)}, nil
		}
	}

	// WithTimeout keeps ctx's own deadline when that one is earlier.
	callCtx, cancel := context.WithTimeout(ctx, m.defaultTTL)
	defer cancel()

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	res, err := m.client.CallTool(callCtx, req)
	if err != nil {
		m.logger.Warnw("tools: mcp call failed", "tool", name, "error", err.Error())
		return ports.ToolResult{Err: err}, nil
	}
	if res.IsError {
		return ports.ToolResult{Err: fmt.Errorf("tools: %s reported an error: %s", name, contentText(res.Content))}, nil
	}

	resultJSON, err := json.Marshal(map[string]any{"ok": true, "result": contentText(res.Content)})
	if err != nil {
		return ports.ToolResult{Err: fmt.Errorf("tools: marshal result for %s: %w", name, err)}, nil
	}
	return ports.ToolResult{ResultJSON: string(resultJSON)}, nil
}

// Close releases the MCP session.
func (m *MCPToolPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return nil
	}
	m.initialized = false
	return m.client.Close()
}

// ListSchemas queries the server's tool catalog and converts it to
// ports.ToolSchema, for operators who want to populate
// ConfigSnapshot.Tools from the live server rather than a static list.
func (m *MCPToolPort) ListSchemas(ctx context.Context) ([]ports.ToolSchema, error) {
	res, err := m.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("tools: list mcp tools: %w", err)
	}
	schemas := make([]ports.ToolSchema, 0, len(res.Tools))
	for _, t := range res.Tools {
		paramsJSON, err := json.Marshal(t.InputSchema)
		if err != nil {
			continue
		}
		schemas = append(schemas, ports.ToolSchema{
			Name:        t.Name,
			Description: t.Description,
			ParamsJSON:  string(paramsJSON),
		})
	}
	return schemas, nil
}

func contentText(content []mcp.Content) string {
	for _, c := range content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}
