package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/1broseidon/droidrelay/internal/runtimepath"
)

// DefaultClientTimeout bounds dial plus round trip.
const DefaultClientTimeout = 5 * time.Second

// Client talks to a running daemon over its control socket. Each call
// opens a fresh connection.
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient returns a client for the default socket path. An unresolvable
// path surfaces as a dial error on the first call.
func NewClient() *Client {
	path, _ := runtimepath.SocketPath()
	return NewClientWithPath(path)
}

// NewClientWithPath returns a client for the daemon listening on socketPath.
func NewClientWithPath(socketPath string) *Client {
	return &Client{socketPath: socketPath, timeout: DefaultClientTimeout}
}

// Reload asks the daemon to re-read its configuration.
func (c *Client) Reload() error {
	return c.call(CommandReload, nil, nil)
}

// GetStatus fetches a status snapshot.
func (c *Client) GetStatus() (*StatusData, error) {
	var status StatusData
	if err := c.call(CommandGetStatus, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// OpenApp asks the daemon to open a window for app.
func (c *Client) OpenApp(app, activity string) error {
	return c.call(CommandOpenApp, AppPayload{App: app, Activity: activity}, nil)
}

// CloseApp asks the daemon to close the window for app.
func (c *Client) CloseApp(app, activity string) error {
	return c.call(CommandCloseApp, AppPayload{App: app, Activity: activity}, nil)
}

// call sends cmd with payload and decodes the response data into out when
// out is non-nil.
func (c *Client) call(cmd CommandType, payload, out any) error {
	req := Request{Command: cmd}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s payload: %w", cmd, err)
		}
		req.Payload = raw
	}

	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return fmt.Errorf("failed to connect to daemon: %w (is the daemon running?)", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(c.timeout))

	if err := json.NewEncoder(conn).Encode(&req); err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if err := resp.Err(); err != nil {
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return fmt.Errorf("failed to parse %s data: %w", cmd, err)
	}
	return nil
}
