package mcp

import (
	"context"
	"fmt"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

func (s *Server) handleRelayStatus(_ context.Context, _ *mcpsdk.CallToolRequest, args RelayStatusInput) (*mcpsdk.CallToolResult, RelayStatusOutput, error) {
	st, err := s.client.GetStatus()
	if err != nil {
		return nil, RelayStatusOutput{}, fmt.Errorf("relay_status: %w", err)
	}

	out := RelayStatusOutput{
		Focused:       st.Focused,
		UptimeSeconds: st.UptimeSeconds,
		RegistrySize:  st.RegistrySize,
		ActiveTouches: st.ActiveTouches,
		Channels:      make([]ChannelInfo, 0, len(st.Channels)),
		Windows:       make([]WindowInfo, 0, len(st.Windows)),
	}
	for _, ch := range st.Channels {
		info := ChannelInfo{Name: ch.Name, Connected: ch.Connected, State: ch.State}
		if args.IncludeSockets {
			info.Socket = ch.Socket
		}
		out.Channels = append(out.Channels, info)
	}
	for _, w := range st.Windows {
		out.Windows = append(out.Windows, WindowInfo(w))
	}

	s.logger.Debug("relay_status", "windows", len(out.Windows), "focused", out.Focused)
	return nil, out, nil
}

func (s *Server) handleOpenApp(_ context.Context, _ *mcpsdk.CallToolRequest, args AppInput) (*mcpsdk.CallToolResult, AppOutput, error) {
	app, err := validateApp(args.App)
	if err != nil {
		return nil, AppOutput{}, fmt.Errorf("open_app: %w", err)
	}
	if err := s.client.OpenApp(app, strings.TrimSpace(args.Activity)); err != nil {
		return nil, AppOutput{}, fmt.Errorf("open_app %s: %w", app, err)
	}
	s.logger.Info("open_app", "app", app, "activity", args.Activity)
	return nil, s.appOutput(app), nil
}

func (s *Server) handleCloseApp(_ context.Context, _ *mcpsdk.CallToolRequest, args AppInput) (*mcpsdk.CallToolResult, AppOutput, error) {
	app, err := validateApp(args.App)
	if err != nil {
		return nil, AppOutput{}, fmt.Errorf("close_app: %w", err)
	}
	if err := s.client.CloseApp(app, strings.TrimSpace(args.Activity)); err != nil {
		return nil, AppOutput{}, fmt.Errorf("close_app %s: %w", app, err)
	}
	s.logger.Info("close_app", "app", app)
	return nil, s.appOutput(app), nil
}

func (s *Server) handleReloadConfig(_ context.Context, _ *mcpsdk.CallToolRequest, _ ReloadConfigInput) (*mcpsdk.CallToolResult, ReloadConfigOutput, error) {
	if err := s.client.Reload(); err != nil {
		return nil, ReloadConfigOutput{}, fmt.Errorf("reload_config: %w", err)
	}
	return nil, ReloadConfigOutput{Reloaded: true}, nil
}

// appOutput reports the window count after an app request. A status
// failure here does not fail the request that already succeeded.
func (s *Server) appOutput(app string) AppOutput {
	out := AppOutput{App: app}
	if st, err := s.client.GetStatus(); err == nil {
		out.Windows = len(st.Windows)
	}
	return out
}

func validateApp(app string) (string, error) {
	app = strings.TrimSpace(app)
	switch {
	case app == "":
		return "", fmt.Errorf("app is required")
	case strings.ContainsAny(app, "/ \t"):
		return "", fmt.Errorf("app %q must be a package name without activity or spaces", app)
	}
	return app, nil
}
