package sensors

import "time"

// Fixed is an Accelerometer that always reports V. It stands in when no
// host sensor is available.
type Fixed struct {
	V Vector
}

// Flat reports one standard gravity along Z, a device lying face up.
var Flat = Vector{Z: 1000}

func (f *Fixed) Sample() (Vector, error)           { return f.V, nil }
func (f *Fixed) SetInterval(_ time.Duration) error { return nil }
func (f *Fixed) Start() error                      { return nil }
func (f *Fixed) Stop() error                       { return nil }
func (f *Fixed) Close() error                      { return nil }
