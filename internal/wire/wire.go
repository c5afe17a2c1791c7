// Package wire implements the buffer-relay wire format: a fixed-size block
// carrying buffer metadata and a native handle, with the handle's file
// descriptors passed as SCM_RIGHTS ancillary data, and the 3-byte status
// reply.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"golang.org/x/sys/unix"
)

const (
	// MaxFds and MaxInts bound a native handle's owned descriptors and ints.
	MaxFds  = 32
	MaxInts = 32

	// InfoSize is the metadata block: width, height, stride, pixel format.
	InfoSize = 16
	// HandleHeaderSize is the native handle header: version, numFds, numInts.
	HandleHeaderSize = 12
	// MessageSize is the full inline block. The payload area always reserves
	// room for MaxFds+MaxInts slots; unused slots are zero.
	MessageSize = InfoSize + HandleHeaderSize + 4*(MaxFds+MaxInts)

	// NewHandleMarker precedes a full buffer message. Any other control byte
	// is an index into the peer's buffer registry.
	NewHandleMarker byte = 0xFF

	// HandleVersion is the header version the guest writes (sizeof header).
	HandleVersion = HandleHeaderSize
)

var (
	ErrShortMessage = errors.New("wire: short buffer message")
	ErrTooManyFds   = errors.New("wire: native handle declares too many fds")
	ErrTooManyInts  = errors.New("wire: native handle declares too many ints")
	ErrTruncated    = errors.New("wire: ancillary data truncated")
	ErrFdMismatch   = errors.New("wire: fd count does not match handle header")
	ErrBadStatus    = errors.New("wire: malformed status frame")
)

// oobSize is the ancillary buffer size needed for MaxFds descriptors.
var oobSize = unix.CmsgSpace(4 * MaxFds)

// recvBuf is the scratch space for one Recv. Decode copies out everything
// it keeps, so the buffer goes back to the pool when Recv returns.
type recvBuf struct {
	msg [MessageSize]byte
	oob []byte
}

var recvPool = sync.Pool{
	New: func() any { return &recvBuf{oob: make([]byte, oobSize)} },
}

// BufferInfo is the metadata that accompanies every buffer.
type BufferInfo struct {
	Width       uint32
	Height      uint32
	Stride      uint32
	PixelFormat int32
}

// NativeHandle is a validated native buffer handle. Fds are owned by the
// handle and closed exactly once by Close.
type NativeHandle struct {
	Version int32
	Fds     []int
	Ints    []int32

	closeOnce sync.Once
}

// Close releases the handle's descriptors. It is safe to call more than once.
func (h *NativeHandle) Close() error {
	if h == nil {
		return nil
	}
	var errs []error
	h.closeOnce.Do(func() {
		errs = closeFds(h.Fds)
	})
	return errors.Join(errs...)
}

// Buffer is one decoded buffer message.
type Buffer struct {
	Info   BufferInfo
	Handle *NativeHandle
}

// Close releases the buffer's handle.
func (b *Buffer) Close() error {
	if b == nil {
		return nil
	}
	return b.Handle.Close()
}

// MsgReader is the subset of *net.UnixConn used to receive a buffer.
type MsgReader interface {
	io.Reader
	ReadMsgUnix(b, oob []byte) (n, oobn, flags int, addr *net.UnixAddr, err error)
}

// Recv reads one buffer message from r. The first read collects the
// ancillary descriptors; the remainder of the fixed block must follow or the
// message is rejected. On any error every received descriptor is closed.
func Recv(r MsgReader) (*Buffer, error) {
	rb := recvPool.Get().(*recvBuf)
	defer recvPool.Put(rb)
	msg, oob := rb.msg[:], rb.oob

	n, oobn, flags, _, err := r.ReadMsgUnix(msg, oob)
	if err != nil {
		// Descriptors can arrive alongside an error on some kernels.
		closeOOB(oob[:oobn])
		return nil, err
	}
	if n < MessageSize {
		if _, err := io.ReadFull(r, msg[n:]); err != nil {
			closeOOB(oob[:oobn])
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, ErrShortMessage
			}
			return nil, fmt.Errorf("%w: %v", ErrShortMessage, err)
		}
	}

	return Decode(msg, oob[:oobn], flags)
}

// Decode validates a complete inline block plus its ancillary data and
// builds a Buffer. flags are the recvmsg flags; MSG_CTRUNC rejects the
// message. Decode owns every descriptor in oob: on failure they are closed.
func Decode(msg, oob []byte, flags int) (*Buffer, error) {
	fds, err := parseRights(oob)
	if err != nil {
		closeFds(fds)
		return nil, err
	}
	fail := func(err error) (*Buffer, error) {
		closeFds(fds)
		return nil, err
	}

	if flags&unix.MSG_CTRUNC != 0 {
		return fail(ErrTruncated)
	}
	if len(msg) != MessageSize {
		return fail(ErrShortMessage)
	}

	order := binary.NativeEndian
	info := BufferInfo{
		Width:       order.Uint32(msg[0:4]),
		Height:      order.Uint32(msg[4:8]),
		Stride:      order.Uint32(msg[8:12]),
		PixelFormat: int32(order.Uint32(msg[12:16])),
	}

	hdr := msg[InfoSize:]
	version := int32(order.Uint32(hdr[0:4]))
	numFds := int32(order.Uint32(hdr[4:8]))
	numInts := int32(order.Uint32(hdr[8:12]))

	if numFds < 0 || numFds > MaxFds {
		return fail(fmt.Errorf("%w: %d > %d", ErrTooManyFds, numFds, MaxFds))
	}
	if numInts < 0 || numInts > MaxInts {
		return fail(fmt.Errorf("%w: %d > %d", ErrTooManyInts, numInts, MaxInts))
	}
	if int(numFds) != len(fds) {
		return fail(fmt.Errorf("%w: header %d, received %d", ErrFdMismatch, numFds, len(fds)))
	}

	// The payload holds numFds placeholder slots followed by numInts ints.
	data := hdr[HandleHeaderSize:]
	ints := make([]int32, numInts)
	for i := range ints {
		off := 4 * (int(numFds) + i)
		ints[i] = int32(order.Uint32(data[off : off+4]))
	}

	return &Buffer{
		Info: info,
		Handle: &NativeHandle{
			Version: version,
			Fds:     fds,
			Ints:    ints,
		},
	}, nil
}

// EncodeBuffer builds the inline block and ancillary data for a buffer, the
// inverse of Decode. It is what the guest side sends.
func EncodeBuffer(info BufferInfo, fds []int, ints []int32) (msg, oob []byte, err error) {
	if len(fds) > MaxFds {
		return nil, nil, ErrTooManyFds
	}
	if len(ints) > MaxInts {
		return nil, nil, ErrTooManyInts
	}

	order := binary.NativeEndian
	msg = make([]byte, MessageSize)
	order.PutUint32(msg[0:4], info.Width)
	order.PutUint32(msg[4:8], info.Height)
	order.PutUint32(msg[8:12], info.Stride)
	order.PutUint32(msg[12:16], uint32(info.PixelFormat))

	hdr := msg[InfoSize:]
	order.PutUint32(hdr[0:4], uint32(HandleVersion))
	order.PutUint32(hdr[4:8], uint32(len(fds)))
	order.PutUint32(hdr[8:12], uint32(len(ints)))

	data := hdr[HandleHeaderSize:]
	for i, fd := range fds {
		order.PutUint32(data[4*i:], uint32(fd))
	}
	for i, v := range ints {
		order.PutUint32(data[4*(len(fds)+i):], uint32(v))
	}

	if len(fds) > 0 {
		oob = unix.UnixRights(fds...)
	}
	return msg, oob, nil
}

func parseRights(oob []byte) ([]int, error) {
	if len(oob) == 0 {
		return nil, nil
	}
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	var fds []int
	for i := range msgs {
		if msgs[i].Header.Level != unix.SOL_SOCKET || msgs[i].Header.Type != unix.SCM_RIGHTS {
			continue
		}
		rights, err := unix.ParseUnixRights(&msgs[i])
		if err != nil {
			return fds, fmt.Errorf("%w: %v", ErrTruncated, err)
		}
		fds = append(fds, rights...)
	}
	return fds, nil
}

func closeOOB(oob []byte) {
	fds, _ := parseRights(oob)
	closeFds(fds)
}

func closeFds(fds []int) []error {
	var errs []error
	for _, fd := range fds {
		if err := unix.Close(fd); err != nil {
			errs = append(errs, fmt.Errorf("close fd %d: %w", fd, err))
		}
	}
	return errs
}
