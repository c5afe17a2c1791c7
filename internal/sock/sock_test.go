package sock

import (
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func listen(t *testing.T) *Listener {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test_socket")
	l, err := Listen(path, DefaultMode, nil)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestListenSetsModeAndReplacesStale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stale")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	l, err := Listen(path, DefaultMode, nil)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.ModeSocket, info.Mode()&os.ModeSocket)
	assert.Equal(t, DefaultMode, info.Mode().Perm())

	require.NoError(t, l.Close())
	_, err = os.Stat(path)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestAcceptReadAndTimeout(t *testing.T) {
	l := listen(t)

	client, err := net.Dial("unix", l.Path())
	require.NoError(t, err)
	defer client.Close()

	p, err := l.Accept()
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.True(t, l.Connected())

	p.SetTimeout(20 * time.Millisecond)
	_, err = p.ReadByte()
	require.Error(t, err)
	assert.True(t, IsTimeout(err))

	_, err = client.Write([]byte{0x7f})
	require.NoError(t, err)
	b, err := p.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte(0x7f), b)

	require.NoError(t, client.Close())
	_, err = p.ReadByte()
	assert.ErrorIs(t, err, io.EOF)
	assert.False(t, IsTimeout(err))

	l.Release(p)
	assert.False(t, l.Connected())
}

func TestShutdownUnblocksAcceptAndRead(t *testing.T) {
	l := listen(t)

	acceptErr := make(chan error, 1)
	go func() {
		_, err := l.Accept()
		acceptErr <- err
	}()

	time.Sleep(10 * time.Millisecond)
	l.Shutdown()

	select {
	case err := <-acceptErr:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Accept did not return after Shutdown")
	}
}

func TestShutdownClosesPeer(t *testing.T) {
	l := listen(t)

	client, err := net.Dial("unix", l.Path())
	require.NoError(t, err)
	defer client.Close()

	p, err := l.Accept()
	require.NoError(t, err)

	readErr := make(chan error, 1)
	go func() {
		_, err := p.ReadByte()
		readErr <- err
	}()

	time.Sleep(10 * time.Millisecond)
	l.Shutdown()

	select {
	case err := <-readErr:
		assert.Error(t, err)
		assert.False(t, IsTimeout(err))
	case <-time.After(2 * time.Second):
		t.Fatal("read did not return after Shutdown")
	}
}

func TestIsTimeout(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", os.ErrDeadlineExceeded, true},
		{"eagain", unix.EAGAIN, true},
		{"eintr", unix.EINTR, true},
		{"wrapped eagain", &os.SyscallError{Syscall: "recvmsg", Err: unix.EAGAIN}, true},
		{"eof", io.EOF, false},
		{"reset", unix.ECONNRESET, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTimeout(tt.err))
		})
	}
}
