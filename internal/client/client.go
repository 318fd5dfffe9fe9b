// Package client is a manual test harness for a running inferbridge server.
//
// [Run] connects over the MCP SSE transport, optionally lists the advertised
// tools, calls the chat tool once and prints the reply.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"slices"
	"strconv"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Defaults for [Options].
const (
	DefaultHost  = "127.0.0.1"
	DefaultPort  = 6288
	DefaultPath  = "/sse"
	DefaultQuery = "What are the main attractions in Rome?"
)

// toolName is the tool the harness calls.
const toolName = "chat"

// ErrToolError is returned when the server answers with IsError set.
var ErrToolError = errors.New("client: tool reported an error")

// Options configures [Run].
type Options struct {
	Host      string
	Port      int
	Path      string
	Query     string
	ListTools bool

	// Out receives the framed reply. Required.
	Out io.Writer

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Version is reported in the client implementation info.
	Version string
}

// Endpoint returns the SSE URL derived from o.
func (o Options) Endpoint() string {
	path := o.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := url.URL{
		Scheme: "http",
		Host:   net.JoinHostPort(o.Host, strconv.Itoa(o.Port)),
		Path:   path,
	}
	return u.String()
}

// Run performs one session against the server. A connection failure is
// logged and returned; a tool-level error is printed, logged and returned as
// [ErrToolError].
func Run(ctx context.Context, o Options) error {
	log := o.Logger
	if log == nil {
		log = slog.Default()
	}
	version := o.Version
	if version == "" {
		version = "dev"
	}
	endpoint := o.Endpoint()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "inferbridge-client", Version: version}, nil)
	log.Debug("connecting", "endpoint", endpoint)
	session, err := client.Connect(ctx, &mcpsdk.SSEClientTransport{Endpoint: endpoint}, nil)
	if err != nil {
		log.Error("could not connect to server; is it running?", "endpoint", endpoint, "err", err)
		return fmt.Errorf("client: connect %s: %w", endpoint, err)
	}
	defer session.Close()

	if info := session.InitializeResult(); info != nil && info.ServerInfo != nil {
		log.Info("connected", "server", info.ServerInfo.Name, "version", info.ServerInfo.Version)
	}

	if o.ListTools {
		listTools(ctx, session, log)
	}

	log.Debug("calling tool", "tool", toolName, "query", o.Query)
	res, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      toolName,
		Arguments: map[string]any{"query": o.Query},
	})
	if err != nil {
		return fmt.Errorf("client: call %s: %w", toolName, err)
	}

	text := extractText(res)
	if res.IsError {
		log.Error("tool returned an error", "tool", toolName, "text", text)
		printReply(o.Out, text)
		return ErrToolError
	}
	if text == "" {
		log.Warn("tool returned empty content", "tool", toolName)
	}
	printReply(o.Out, text)
	return nil
}

// listTools logs the advertised tools. A listing failure is only a warning;
// the chat call still decides the outcome.
func listTools(ctx context.Context, session *mcpsdk.ClientSession, log *slog.Logger) {
	var names []string
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			log.Warn("could not list tools", "err", err)
			return
		}
		names = append(names, tool.Name)
		log.Info("tool available", "name", tool.Name, "description", tool.Description)
	}
	if !slices.Contains(names, toolName) {
		log.Warn("server does not advertise the chat tool", "tools", names)
	}
}

// extractText concatenates all text items of res.
func extractText(res *mcpsdk.CallToolResult) string {
	var sb strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}

func printReply(w io.Writer, text string) {
	fmt.Fprintln(w, "--- reply ---")
	fmt.Fprintln(w, text)
	fmt.Fprintln(w, "-------------")
}
