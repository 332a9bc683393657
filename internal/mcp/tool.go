package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
)

// bridgeTool adapts one remote MCP tool to the local tool interface.
// It is registered under mcp_<server>_<tool> to avoid collisions between
// servers.
type bridgeTool struct {
	server   string
	origName string
	desc     string
	params   json.RawMessage
	client   *mcpclient.Client
}

func newBridgeTool(server string, def mcpgo.Tool, client *mcpclient.Client) *bridgeTool {
	params, err := json.Marshal(def.InputSchema)
	if err != nil || len(params) == 0 {
		params = json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return &bridgeTool{
		server:   server,
		origName: def.Name,
		desc:     def.Description,
		params:   params,
		client:   client,
	}
}

func (t *bridgeTool) Name() string {
	return "mcp_" + t.server + "_" + t.origName
}

func (t *bridgeTool) Description() string {
	if t.desc != "" {
		return t.desc
	}
	return fmt.Sprintf("Tool %s provided by MCP server %s.", t.origName, t.server)
}

func (t *bridgeTool) Parameters() json.RawMessage { return t.params }

// Execute forwards the call to the remote server and flattens the result
// content to text.
func (t *bridgeTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	req := mcpgo.CallToolRequest{}
	req.Params.Name = t.origName
	req.Params.Arguments = args

	res, err := t.client.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("mcp call %s/%s: %w", t.server, t.origName, err)
	}

	var parts []string
	for _, c := range res.Content {
		if tc, ok := c.(mcpgo.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	text := strings.Join(parts, "\n")

	if res.IsError {
		return "Error: " + text, nil
	}
	if text == "" {
		text = "(no content)"
	}
	return text, nil
}
