// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package tools

import (
	"context"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/voiceorc/internal/commons"
)

// fakeMCPClient is a scripted mcpClient.
type fakeMCPClient struct {
	callResult *mcp.CallToolResult
	callErr    error
	lastReq    mcp.CallToolRequest
	closed     bool
}

func (f *fakeMCPClient) Start(ctx context.Context) error { return nil }

func (f *fakeMCPClient) Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error) {
	return &mcp.InitializeResult{}, nil
}

func (f *fakeMCPClient) CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	f.lastReq = req
	return f.callResult, f.callErr
}

func (f *fakeMCPClient) ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
	return &mcp.ListToolsResult{
		Tools: []mcp.Tool{{Name: "lookup_order", Description: "Look up an order by id"}},
	}, nil
}

func (f *fakeMCPClient) Close() error {
	f.closed = true
	return nil
}

func TestMCPToolPortInvokeSuccessReturnsOKJSON(t *testing.T) {
	fc := &fakeMCPClient{callResult: &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: "order-42 shipped"}},
	}}
	port := newMCPToolPortFromClient(fc, time.Second, commons.NewNop())

	result, err := port.Invoke(context.Background(), "lookup_order", `{"order_id":"42"}`)
	require.NoError(t, err)
	assert.NoError(t, result.Err)
	assert.Contains(t, result.ResultJSON, "order-42 shipped")
	assert.Equal(t, "lookup_order", fc.lastReq.Params.Name)
	assert.Equal(t, "42", fc.lastReq.Params.Arguments.(map[string]any)["order_id"])
}

func TestMCPToolPortInvokeServerErrorSurfacesAsToolResultErr(t *testing.T) {
	fc := &fakeMCPClient{callResult: &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: "order not found"}},
	}}
	port := newMCPToolPortFromClient(fc, time.Second, commons.NewNop())

	result, err := port.Invoke(context.Background(), "lookup_order", `{}`)
	require.NoError(t, err) // transport succeeded; the failure is domain-level
	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), "order not found")
}

func TestMCPToolPortInvokeTransportErrorSurfacesAsToolResultErr(t *testing.T) {
	fc := &fakeMCPClient{callErr: assert.AnError}
	port := newMCPToolPortFromClient(fc, time.Second, commons.NewNop())

	result, err := port.Invoke(context.Background(), "lookup_order", `{}`)
	require.NoError(t, err)
	assert.ErrorIs(t, result.Err, assert.AnError)
}

func TestMCPToolPortInvokeRejectsInvalidArgumentsJSON(t *testing.T) {
	fc := &fakeMCPClient{}
	port := newMCPToolPortFromClient(fc, time.Second, commons.NewNop())

	result, err := port.Invoke(context.Background(), "lookup_order", `not json`)
	require.NoError(t, err)
	assert.Error(t, result.Err)
}

func TestMCPToolPortListSchemas(t *testing.T) {
	fc := &fakeMCPClient{}
	port := newMCPToolPortFromClient(fc, time.Second, commons.NewNop())

	schemas, err := port.ListSchemas(context.Background())
	require.NoError(t, err)
	require.Len(t, schemas, 1)
	assert.Equal(t, "lookup_order", schemas[0].Name)
}

func TestMCPToolPortClose(t *testing.T) {
	fc := &fakeMCPClient{}
	port := newMCPToolPortFromClient(fc, time.Second, commons.NewNop())
	require.NoError(t, port.Close())
	assert.True(t, fc.closed)
}
