package control

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Prefix widths in bytes.
const (
	Width1 = 1
	Width2 = 2
)

var (
	ErrBadWidth      = errors.New("control: unsupported length prefix width")
	ErrFrameTooLarge = errors.New("control: frame exceeds length prefix")
	// ErrPartialFrame means the peer stopped mid-frame. The stream can no
	// longer be trusted, so it is never treated as a timeout.
	ErrPartialFrame = errors.New("control: partial frame")
)

func maxLen(width int) (int, error) {
	switch width {
	case Width1:
		return 0xFF, nil
	case Width2:
		return 0xFFFF, nil
	}
	return 0, ErrBadWidth
}

// ReadFrame reads one length-prefixed frame. An error reading the prefix is
// returned as is, so a receive timeout there stays recognizable.
func ReadFrame(r io.Reader, width int) ([]byte, error) {
	if _, err := maxLen(width); err != nil {
		return nil, err
	}

	var prefix [2]byte
	if n, err := io.ReadFull(r, prefix[:width]); err != nil {
		if n > 0 {
			return nil, fmt.Errorf("%w: %v", ErrPartialFrame, err)
		}
		return nil, err
	}

	var n int
	if width == Width1 {
		n = int(prefix[0])
	} else {
		n = int(binary.NativeEndian.Uint16(prefix[:]))
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPartialFrame, err)
	}
	return body, nil
}

// WriteFrame writes body with a length prefix of the given width.
func WriteFrame(w io.Writer, width int, body []byte) error {
	limit, err := maxLen(width)
	if err != nil {
		return err
	}
	if len(body) > limit {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(body), limit)
	}

	buf := make([]byte, width+len(body))
	if width == Width1 {
		buf[0] = byte(len(body))
	} else {
		binary.NativeEndian.PutUint16(buf, uint16(len(body)))
	}
	copy(buf[width:], body)

	_, err = w.Write(buf)
	return err
}
