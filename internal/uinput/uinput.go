// Package uinput creates the virtual multitouch device the guest reads
// injected touches from.
package uinput

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/1broseidon/droidrelay/internal/platform"
)

// DefaultPaths are tried in order.
var DefaultPaths = []string{"/dev/uinput", "/dev/input/uinput", "/dev/misc/uinput"}

// DeviceName is reported to the guest.
const DeviceName = "sfdroid-input"

const (
	uiSetEvBit   = 0x40045564
	uiSetAbsBit  = 0x40045567
	uiSetPropBit = 0x4004556e
	uiDevCreate  = 0x5501
	uiDevDestroy = 0x5502

	busVirtual = 0x06
	nameSize   = 80

	absMtBlobID = 0x38
	maxPressure = 255
	maxSlots    = 10
)

// ErrNotFound is returned when no uinput node can be opened.
var ErrNotFound = errors.New("uinput: no usable device node")

// Config describes the device to create.
type Config struct {
	Width, Height int
	// Paths overrides DefaultPaths.
	Paths []string
}

type inputID struct {
	Bustype, Vendor, Product, Version uint16
}

// userDev mirrors struct uinput_user_dev.
type userDev struct {
	Name         [nameSize]byte
	ID           inputID
	FFEffectsMax uint32
	AbsMax       [platform.AbsCnt]int32
	AbsMin       [platform.AbsCnt]int32
	AbsFuzz      [platform.AbsCnt]int32
	AbsFlat      [platform.AbsCnt]int32
}

// event mirrors struct input_event.
type event struct {
	Time  unix.Timeval
	Type  uint16
	Code  uint16
	Value int32
}

// Device is an open uinput device. Emit is safe for concurrent use.
type Device struct {
	mu     sync.Mutex
	w      io.Writer
	closer func() error
	closed bool
}

// Open finds a uinput node, declares the multitouch axes and creates the
// device.
func Open(cfg Config) (*Device, error) {
	paths := cfg.Paths
	if len(paths) == 0 {
		paths = DefaultPaths
	}

	var (
		fd   = -1
		errs []error
	)
	for _, p := range paths {
		var err error
		fd, err = unix.Open(p, unix.O_WRONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
		if err == nil {
			break
		}
		errs = append(errs, fmt.Errorf("%s: %w", p, err))
	}
	if fd < 0 {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, errors.Join(errs...))
	}

	if err := setup(fd, cfg); err != nil {
		unix.Close(fd)
		return nil, err
	}

	f := os.NewFile(uintptr(fd), "uinput")
	return &Device{
		w: f,
		closer: func() error {
			unix.IoctlSetInt(int(f.Fd()), uiDevDestroy, 0)
			return f.Close()
		},
	}, nil
}

func setup(fd int, cfg Config) error {
	bits := []struct {
		req  uint
		val  int
		name string
	}{
		{uiSetEvBit, int(platform.EvSyn), "EV_SYN"},
		{uiSetEvBit, int(platform.EvAbs), "EV_ABS"},
		{uiSetAbsBit, int(platform.AbsMtSlot), "ABS_MT_SLOT"},
		{uiSetAbsBit, int(platform.AbsMtTrackingID), "ABS_MT_TRACKING_ID"},
		{uiSetAbsBit, absMtBlobID, "ABS_MT_BLOB_ID"},
		{uiSetAbsBit, int(platform.AbsMtPositionX), "ABS_MT_POSITION_X"},
		{uiSetAbsBit, int(platform.AbsMtPositionY), "ABS_MT_POSITION_Y"},
		{uiSetAbsBit, int(platform.AbsMtPressure), "ABS_MT_PRESSURE"},
		{uiSetPropBit, int(platform.InputPropDirect), "INPUT_PROP_DIRECT"},
	}
	for _, b := range bits {
		if err := unix.IoctlSetInt(fd, b.req, b.val); err != nil {
			return fmt.Errorf("uinput: enable %s: %w", b.name, err)
		}
	}

	desc, err := encodeUserDev(cfg)
	if err != nil {
		return err
	}
	if _, err := unix.Write(fd, desc); err != nil {
		return fmt.Errorf("uinput: write device description: %w", err)
	}
	if err := unix.IoctlSetInt(fd, uiDevCreate, 0); err != nil {
		return fmt.Errorf("uinput: create device: %w", err)
	}
	return nil
}

func encodeUserDev(cfg Config) ([]byte, error) {
	var dev userDev
	copy(dev.Name[:nameSize-1], DeviceName)
	dev.ID = inputID{Bustype: busVirtual, Vendor: 1, Product: 1, Version: 1}

	dev.AbsMax[platform.AbsMtSlot] = maxSlots - 1
	dev.AbsMax[platform.AbsMtPositionX] = int32(cfg.Width)
	dev.AbsMax[platform.AbsMtPositionY] = int32(cfg.Height)
	dev.AbsMax[platform.AbsMtPressure] = maxPressure
	dev.AbsMax[absMtBlobID] = 255
	dev.AbsMax[platform.AbsMtTrackingID] = 0xFFFF

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.NativeEndian, &dev); err != nil {
		return nil, fmt.Errorf("uinput: encode device description: %w", err)
	}
	return buf.Bytes(), nil
}

// NewWriter wraps w as a device, for tests and recording.
func NewWriter(w io.Writer) *Device {
	return &Device{w: w}
}

// Emit implements platform.InputInjector.
func (d *Device) Emit(typ, code uint16, value int32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return os.ErrClosed
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.NativeEndian, &event{Type: typ, Code: code, Value: value}); err != nil {
		return err
	}
	_, err := d.w.Write(buf.Bytes())
	return err
}

// Close destroys the device.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.closer == nil {
		return nil
	}
	return d.closer()
}
