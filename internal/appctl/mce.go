package appctl

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	mceService   = "com.nokia.mce"
	mcePath      = "/com/nokia/mce/request"
	mceInterface = "com.nokia.mce.request"
)

// MCE asks the mode control entity to switch the display on.
type MCE struct {
	conn *dbus.Conn
}

// NewMCE connects to the system bus.
func NewMCE() (*MCE, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}
	return &MCE{conn: conn}, nil
}

// DisplayOn implements DisplayWaker.
func (m *MCE) DisplayOn() error {
	obj := m.conn.Object(mceService, dbus.ObjectPath(mcePath))
	return obj.Call(mceInterface+".req_display_state_on", dbus.FlagNoReplyExpected).Err
}

// Close releases the bus connection.
func (m *MCE) Close() error {
	return m.conn.Close()
}
