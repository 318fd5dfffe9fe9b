package chat

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// ServerName is the MCP implementation name advertised to clients.
const ServerName = "Watsonx Chat Agent"

// toolDescription is the description of the chat tool.
const toolDescription = "Chat with IBM watsonx.ai"

// Input is the argument object of the chat tool.
type Input struct {
	Query string `json:"query" jsonschema:"the question or instruction to send to the model"`
}

// NewServer returns an MCP server exposing h as the chat tool. version is
// reported in the server implementation info.
func NewServer(h *Handler, version string) *mcpsdk.Server {
	if version == "" {
		version = "dev"
	}
	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    ServerName,
		Version: version,
	}, nil)

	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        ToolName,
		Description: toolDescription,
	}, func(ctx context.Context, _ *mcpsdk.CallToolRequest, in Input) (*mcpsdk.CallToolResult, any, error) {
		reply := h.Chat(ctx, in.Query)
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: reply.Text}},
		}, nil, nil
	})

	return server
}
