package wire

import (
	"encoding/binary"
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func socketPair(t *testing.T) (*net.UnixConn, *net.UnixConn) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)

	conn := func(fd int, name string) *net.UnixConn {
		f := os.NewFile(uintptr(fd), name)
		defer f.Close()
		c, err := net.FileConn(f)
		require.NoError(t, err)
		t.Cleanup(func() { c.Close() })
		return c.(*net.UnixConn)
	}
	return conn(fds[0], "guest"), conn(fds[1], "host")
}

func pipeFds(t *testing.T, n int) []int {
	t.Helper()
	var fds []int
	for len(fds) < n {
		var p [2]int
		require.NoError(t, unix.Pipe(p[:]))
		fds = append(fds, p[0], p[1])
	}
	for _, fd := range fds[n:] {
		unix.Close(fd)
	}
	fds = fds[:n]
	t.Cleanup(func() {
		for _, fd := range fds {
			unix.Close(fd)
		}
	})
	return fds
}

func setHeader(msg []byte, numFds, numInts int32) {
	hdr := msg[InfoSize:]
	binary.NativeEndian.PutUint32(hdr[4:8], uint32(numFds))
	binary.NativeEndian.PutUint32(hdr[8:12], uint32(numInts))
}

func TestMessageSize(t *testing.T) {
	assert.Equal(t, 284, MessageSize)
}

func TestDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		info BufferInfo
		ints []int32
	}{
		{"no ints", BufferInfo{Width: 720, Height: 1280, Stride: 720, PixelFormat: 1}, nil},
		{"some ints", BufferInfo{Width: 1080, Height: 1920, Stride: 1088, PixelFormat: 5}, []int32{7, -1, 0x7fffffff, 42}},
		{"max ints", BufferInfo{Width: 1, Height: 1, Stride: 1, PixelFormat: -3}, make([]int32, MaxInts)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, oob, err := EncodeBuffer(tt.info, nil, tt.ints)
			require.NoError(t, err)
			assert.Nil(t, oob)

			buf, err := Decode(msg, nil, 0)
			require.NoError(t, err)
			defer buf.Close()

			assert.Equal(t, tt.info, buf.Info)
			assert.Equal(t, int32(HandleVersion), buf.Handle.Version)
			assert.Empty(t, buf.Handle.Fds)
			assert.Len(t, buf.Handle.Ints, len(tt.ints))
			for i, v := range tt.ints {
				assert.Equal(t, v, buf.Handle.Ints[i])
			}
		})
	}
}

func TestDecodeRejectsOversizedCounts(t *testing.T) {
	tests := []struct {
		name    string
		numFds  int32
		numInts int32
		want    error
	}{
		{"fds 33", 33, 0, ErrTooManyFds},
		{"fds 40", 40, 0, ErrTooManyFds},
		{"fds negative", -1, 0, ErrTooManyFds},
		{"ints 33", 0, 33, ErrTooManyInts},
		{"ints huge", 0, 1 << 20, ErrTooManyInts},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, _, err := EncodeBuffer(BufferInfo{Width: 4}, nil, nil)
			require.NoError(t, err)
			setHeader(msg, tt.numFds, tt.numInts)

			_, err = Decode(msg, nil, 0)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDecodeRejectsShortAndTruncated(t *testing.T) {
	msg, _, err := EncodeBuffer(BufferInfo{}, nil, nil)
	require.NoError(t, err)

	_, err = Decode(msg[:MessageSize-1], nil, 0)
	assert.ErrorIs(t, err, ErrShortMessage)

	_, err = Decode(msg, nil, unix.MSG_CTRUNC)
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestDecodeClosesFdsOnError(t *testing.T) {
	fds := pipeFds(t, 2)
	dup0, err := unix.Dup(fds[0])
	require.NoError(t, err)
	dup1, err := unix.Dup(fds[1])
	require.NoError(t, err)

	msg, oob, err := EncodeBuffer(BufferInfo{}, []int{dup0, dup1}, nil)
	require.NoError(t, err)
	setHeader(msg, 40, 0)

	_, err = Decode(msg, oob, 0)
	require.ErrorIs(t, err, ErrTooManyFds)

	// Both duplicates must have been closed by Decode.
	_, err = unix.FcntlInt(uintptr(dup0), unix.F_GETFD, 0)
	assert.ErrorIs(t, err, unix.EBADF)
	_, err = unix.FcntlInt(uintptr(dup1), unix.F_GETFD, 0)
	assert.ErrorIs(t, err, unix.EBADF)
}

func TestDecodeFdCountMismatch(t *testing.T) {
	msg, _, err := EncodeBuffer(BufferInfo{}, nil, nil)
	require.NoError(t, err)
	setHeader(msg, 2, 0)

	_, err = Decode(msg, nil, 0)
	assert.ErrorIs(t, err, ErrFdMismatch)
}

func TestRecvWithDescriptors(t *testing.T) {
	guest, host := socketPair(t)
	fds := pipeFds(t, 3)
	info := BufferInfo{Width: 640, Height: 480, Stride: 640, PixelFormat: 1}
	ints := []int32{11, 22}

	msg, oob, err := EncodeBuffer(info, fds, ints)
	require.NoError(t, err)
	_, _, err = guest.WriteMsgUnix(msg, oob, nil)
	require.NoError(t, err)

	buf, err := Recv(host)
	require.NoError(t, err)
	assert.Equal(t, info, buf.Info)
	assert.Equal(t, ints, buf.Handle.Ints)
	require.Len(t, buf.Handle.Fds, 3)
	for _, fd := range buf.Handle.Fds {
		_, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
		assert.NoError(t, err)
	}

	received := append([]int(nil), buf.Handle.Fds...)
	require.NoError(t, buf.Close())
	// Second close is a no-op.
	require.NoError(t, buf.Close())
	for _, fd := range received {
		_, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
		assert.ErrorIs(t, err, unix.EBADF)
	}
}

func TestRecvReusesScratchWithoutLeaking(t *testing.T) {
	guest, host := socketPair(t)

	first, _, err := EncodeBuffer(BufferInfo{Width: 1080, Height: 1920}, nil, []int32{1, 2, 3, 4})
	require.NoError(t, err)
	fds := pipeFds(t, 1)
	second, oob, err := EncodeBuffer(BufferInfo{Width: 720, Height: 1280}, fds, []int32{9})
	require.NoError(t, err)

	_, err = guest.Write(first)
	require.NoError(t, err)
	a, err := Recv(host)
	require.NoError(t, err)

	_, _, err = guest.WriteMsgUnix(second, oob, nil)
	require.NoError(t, err)
	b, err := Recv(host)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	assert.Equal(t, uint32(1080), a.Info.Width)
	assert.Equal(t, []int32{1, 2, 3, 4}, a.Handle.Ints, "earlier buffer unchanged by a later Recv")
	assert.Equal(t, uint32(720), b.Info.Width)
	assert.Equal(t, []int32{9}, b.Handle.Ints)
	assert.Len(t, b.Handle.Fds, 1)
}

func TestRecvShortMessage(t *testing.T) {
	guest, host := socketPair(t)
	msg, _, err := EncodeBuffer(BufferInfo{}, nil, nil)
	require.NoError(t, err)

	_, err = guest.Write(msg[:100])
	require.NoError(t, err)
	require.NoError(t, guest.CloseWrite())

	_, err = Recv(host)
	assert.ErrorIs(t, err, ErrShortMessage)
}

func TestStatusFrames(t *testing.T) {
	assert.Equal(t, []byte("OK\x00"), EncodeStatus(true))
	assert.Equal(t, []byte("FA\x00"), EncodeStatus(false))
	assert.Len(t, EncodeStatus(false), StatusSize)

	ok, err := DecodeStatus([]byte("OK\x00"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = DecodeStatus([]byte("FA\x00"))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = DecodeStatus([]byte("NO"))
	assert.ErrorIs(t, err, ErrBadStatus)
}

func TestEncodeBufferBounds(t *testing.T) {
	_, _, err := EncodeBuffer(BufferInfo{}, make([]int, MaxFds+1), nil)
	assert.ErrorIs(t, err, ErrTooManyFds)
	_, _, err = EncodeBuffer(BufferInfo{}, nil, make([]int32, MaxInts+1))
	assert.ErrorIs(t, err, ErrTooManyInts)
}
