package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/1broseidon/droidrelay/internal/ipc"
	"github.com/1broseidon/droidrelay/internal/mcp"
)

func runMCP(args []string) int {
	sub := ""
	if len(args) > 0 {
		sub, args = args[0], args[1:]
	}
	switch sub {
	case "serve":
		return runMCPServe(args)
	case "help", "-h", "--help":
		fmt.Fprintln(os.Stdout, "Usage: droidrelay mcp serve [--socket PATH] [--log-level LEVEL]")
		return 0
	case "":
		fmt.Fprintln(os.Stderr, "Usage: droidrelay mcp serve [--socket PATH] [--log-level LEVEL]")
		return 2
	default:
		fmt.Fprintf(os.Stderr, "Unknown mcp command: %s\n", sub)
		return 2
	}
}

func runMCPServe(args []string) int {
	fs := pflag.NewFlagSet("mcp serve", pflag.ContinueOnError)
	socket := fs.String("socket", "", "Daemon IPC socket (default: $XDG_RUNTIME_DIR/droidrelay.sock)")
	logLevel := fs.String("log-level", "warn", "Log level for stderr diagnostics")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: droidrelay mcp serve [--socket PATH] [--log-level LEVEL]")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Serve MCP tools on stdio. Each tool call is forwarded to the")
		fmt.Fprintln(os.Stderr, "running daemon over its IPC socket.")
		fmt.Fprintln(os.Stderr, fs.FlagUsages())
	}
	if code := parseFlags(fs, args); code >= 0 {
		return code
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "invalid --log-level %q\n", *logLevel)
		return 2
	}
	// stdout carries the protocol.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	client := ipc.NewClient()
	if *socket != "" {
		client = ipc.NewClientWithPath(*socket)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := mcp.NewServer(client, logger).Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("MCP server error", "error", err)
		return 1
	}
	return 0
}
