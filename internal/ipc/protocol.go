package ipc

import (
	"encoding/json"
	"fmt"
)

// CommandType represents different IPC command types
type CommandType string

const (
	CommandReload    CommandType = "RELOAD"
	CommandGetStatus CommandType = "GET_STATUS"
	CommandOpenApp   CommandType = "OPEN_APP"
	CommandCloseApp  CommandType = "CLOSE_APP"
)

// Request represents an IPC request from client to server
type Request struct {
	Command CommandType     `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response represents an IPC response from server to client
type Response struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// ChannelStatus describes one guest-facing socket.
type ChannelStatus struct {
	Name      string `json:"name"`
	Socket    string `json:"socket"`
	State     string `json:"state,omitempty"`
	Connected bool   `json:"connected"`
}

// WindowInfo describes one live window.
type WindowInfo struct {
	App      string `json:"app"`
	Activity string `json:"activity,omitempty"`
	WindowID uint32 `json:"window_id"`
	Focused  bool   `json:"focused"`
	Primary  bool   `json:"primary"`
}

// StatusData represents the data returned by GET_STATUS
type StatusData struct {
	DaemonRunning bool            `json:"daemon_running"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Focused       bool            `json:"focused"`
	RegistrySize  int             `json:"registry_size"`
	ActiveTouches int             `json:"active_touches"`
	Ticks         uint64          `json:"ticks"`
	Channels      []ChannelStatus `json:"channels"`
	Windows       []WindowInfo    `json:"windows"`
}

// AppPayload is the payload for OPEN_APP and CLOSE_APP.
type AppPayload struct {
	App      string `json:"app"`
	Activity string `json:"activity,omitempty"`
}

// Response status values.
const (
	StatusOK    = "OK"
	StatusError = "ERROR"
)

// newResponse wraps a handler result. A non-nil err wins over data.
func newResponse(data any, err error) *Response {
	if err != nil {
		return &Response{Status: StatusError, Error: err.Error()}
	}
	resp := &Response{Status: StatusOK}
	if data != nil {
		raw, merr := json.Marshal(data)
		if merr != nil {
			return &Response{Status: StatusError, Error: fmt.Sprintf("encode %T: %v", data, merr)}
		}
		resp.Data = raw
	}
	return resp
}

// Err returns the daemon-side error carried by r, if any.
func (r *Response) Err() error {
	if r.Status == StatusOK {
		return nil
	}
	if r.Error == "" {
		return fmt.Errorf("daemon error: status %q", r.Status)
	}
	return fmt.Errorf("daemon error: %s", r.Error)
}
