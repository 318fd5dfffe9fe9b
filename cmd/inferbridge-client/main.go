// Command inferbridge-client connects to a running inferbridge server, lists
// its tools and sends one chat query.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MrWong99/inferbridge/internal/client"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := client.Options{Version: version}
	var debug bool

	cmd := &cobra.Command{
		Use:           "inferbridge-client",
		Short:         "Send a chat query to an inferbridge server over MCP/SSE",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			level := slog.LevelInfo
			if debug {
				level = slog.LevelDebug
			}
			opts.Logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
			opts.Out = cmd.OutOrStdout()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := client.Run(ctx, opts); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("inferbridge-client: %w", err)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Host, "host", client.DefaultHost, "server host")
	f.IntVar(&opts.Port, "port", client.DefaultPort, "server port")
	f.StringVar(&opts.Path, "path", client.DefaultPath, "SSE endpoint path")
	f.StringVar(&opts.Query, "query", client.DefaultQuery, "query to send to the chat tool")
	f.BoolVar(&opts.ListTools, "list-tools", true, "list the tools advertised by the server")
	f.BoolVar(&debug, "debug", false, "enable debug logging")

	return cmd
}
