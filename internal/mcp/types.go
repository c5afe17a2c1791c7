package mcp

// RelayStatusInput is the input for the relay_status tool.
type RelayStatusInput struct {
	IncludeSockets bool `json:"include_sockets,omitempty" jsonschema:"When true, include the guest socket paths in the channel list"`
}

// ChannelInfo describes one guest channel.
type ChannelInfo struct {
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
	State     string `json:"state,omitempty"`
	Socket    string `json:"socket,omitempty"`
}

// WindowInfo describes one host window.
type WindowInfo struct {
	App      string `json:"app"`
	Activity string `json:"activity,omitempty"`
	WindowID uint32 `json:"window_id"`
	Focused  bool   `json:"focused"`
	Primary  bool   `json:"primary"`
}

// RelayStatusOutput is the output for the relay_status tool.
type RelayStatusOutput struct {
	Focused       bool          `json:"focused"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	RegistrySize  int           `json:"registry_size"`
	ActiveTouches int           `json:"active_touches"`
	Channels      []ChannelInfo `json:"channels"`
	Windows       []WindowInfo  `json:"windows"`
}

// AppInput is the input for the open_app and close_app tools.
type AppInput struct {
	App      string `json:"app" jsonschema:"required,Android package name (e.g. com.android.settings)"`
	Activity string `json:"activity,omitempty" jsonschema:"Activity to start, relative (.Settings) or fully qualified"`
}

// AppOutput is the output for the open_app and close_app tools.
type AppOutput struct {
	App     string `json:"app"`
	Windows int    `json:"windows"`
}

// ReloadConfigInput is the input for the reload_config tool.
type ReloadConfigInput struct{}

// ReloadConfigOutput is the output for the reload_config tool.
type ReloadConfigOutput struct {
	Reloaded bool `json:"reloaded"`
}
