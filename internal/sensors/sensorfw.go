package sensors

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
)

// sensorfw D-Bus names.
const (
	sensorfwService     = "com.nokia.SensorService"
	sensorfwManagerPath = "/SensorManager"
	sensorfwManagerIfc  = "local.SensorManager"
	accelerometerID     = "accelerometersensor"
	accelerometerPath   = sensorfwManagerPath + "/" + accelerometerID
	accelerometerIfc    = "local.AccelerometerSensor"
)

// ErrNoSession is returned when sensorfw refuses a sensor session.
var ErrNoSession = errors.New("sensors: sensorfw refused session")

// xyz mirrors sensorfw's accelerometer value: timestamp then three axes in
// milli-g.
type xyz struct {
	Timestamp uint64
	X, Y, Z   int32
}

// SensorFW is an Accelerometer backed by the sensorfw daemon on the system
// bus.
type SensorFW struct {
	conn    *dbus.Conn
	sensor  dbus.BusObject
	session int32

	mu      sync.Mutex
	running bool
}

// NewSensorFW loads the accelerometer plugin and opens a session.
func NewSensorFW() (*SensorFW, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}

	manager := conn.Object(sensorfwService, sensorfwManagerPath)

	var loaded bool
	if err := manager.Call(sensorfwManagerIfc+".loadPlugin", 0, accelerometerID).Store(&loaded); err != nil {
		conn.Close()
		return nil, fmt.Errorf("load %s plugin: %w", accelerometerID, err)
	}
	if !loaded {
		conn.Close()
		return nil, fmt.Errorf("load %s plugin: refused", accelerometerID)
	}

	var session int32
	if err := manager.Call(sensorfwManagerIfc+".requestSensor", 0, accelerometerID, int64(os.Getpid())).Store(&session); err != nil {
		conn.Close()
		return nil, fmt.Errorf("request %s: %w", accelerometerID, err)
	}
	if session < 0 {
		conn.Close()
		return nil, ErrNoSession
	}

	return &SensorFW{
		conn:    conn,
		sensor:  conn.Object(sensorfwService, accelerometerPath),
		session: session,
	}, nil
}

// Sample reads the latest value.
func (s *SensorFW) Sample() (Vector, error) {
	v, err := s.sensor.GetProperty(accelerometerIfc + ".value")
	if err != nil {
		return Vector{}, fmt.Errorf("read accelerometer: %w", err)
	}
	var raw xyz
	if err := v.Store(&raw); err != nil {
		return Vector{}, fmt.Errorf("decode accelerometer: %w", err)
	}
	return Vector{X: float64(raw.X), Y: float64(raw.Y), Z: float64(raw.Z)}, nil
}

// SetInterval changes the sampling interval.
func (s *SensorFW) SetInterval(d time.Duration) error {
	ms := int32(d / time.Millisecond)
	return s.sensor.Call(accelerometerIfc+".setInterval", 0, s.session, ms).Err
}

// Start begins sampling.
func (s *SensorFW) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if err := s.sensor.Call(accelerometerIfc+".start", 0, s.session).Err; err != nil {
		return err
	}
	s.running = true
	return nil
}

// Stop pauses sampling.
func (s *SensorFW) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false
	return s.sensor.Call(accelerometerIfc+".stop", 0, s.session).Err
}

// Close stops sampling and releases the session.
func (s *SensorFW) Close() error {
	s.Stop()
	manager := s.conn.Object(sensorfwService, sensorfwManagerPath)
	manager.Call(sensorfwManagerIfc+".releaseSensor", 0, accelerometerID, s.session, int64(os.Getpid()))
	return s.conn.Close()
}
