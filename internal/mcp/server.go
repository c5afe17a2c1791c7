package mcp

import (
	"context"
	"log/slog"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/1broseidon/droidrelay/internal/ipc"
)

const (
	ServerName    = "droidrelay"
	ServerVersion = "0.1.0"
)

// DaemonClient is the subset of the IPC client the tools use.
type DaemonClient interface {
	GetStatus() (*ipc.StatusData, error)
	OpenApp(app, activity string) error
	CloseApp(app, activity string) error
	Reload() error
}

var _ DaemonClient = (*ipc.Client)(nil)

// Server exposes the running daemon to MCP clients.
type Server struct {
	mcpServer *mcpsdk.Server
	client    DaemonClient
	logger    *slog.Logger
}

// NewServer creates an MCP server that talks to the daemon through client.
func NewServer(client DaemonClient, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		client: client,
		logger: logger.With("component", "mcp"),
	}

	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    ServerName,
			Version: ServerVersion,
		},
		nil,
	)

	s.registerTools()
	return s
}

// Run starts the MCP server on stdio transport, blocking until done.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "relay_status",
		Description: "Report the relay daemon's state: whether the host window has focus, which guest channels have a peer connected, and the windows currently shown (app, activity, focus, primary).",
	}, s.handleRelayStatus)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "open_app",
		Description: "Open a host window for a guest app and start it. The activity is optional. Opening an app that already has a window focuses that window instead. Blacklisted apps are accepted but get no window.",
	}, s.handleOpenApp)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "close_app",
		Description: "Close the host window for a guest app and stop the app. Closing an app without a window is a no-op.",
	}, s.handleCloseApp)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "reload_config",
		Description: "Make the daemon re-read its configuration file. Socket timeouts, the blacklist and the log level apply immediately.",
	}, s.handleReloadConfig)
}
