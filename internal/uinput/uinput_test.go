package uinput

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1broseidon/droidrelay/internal/platform"
)

func TestEncodeUserDev(t *testing.T) {
	b, err := encodeUserDev(Config{Width: 1080, Height: 1920})
	require.NoError(t, err)
	require.Len(t, b, 80+8+4+4*4*platform.AbsCnt)

	assert.Equal(t, DeviceName, string(bytes.TrimRight(b[:nameSize], "\x00")))
	assert.Equal(t, uint16(busVirtual), binary.NativeEndian.Uint16(b[80:82]))

	absMax := func(code uint16) int32 {
		off := 92 + 4*int(code)
		return int32(binary.NativeEndian.Uint32(b[off : off+4]))
	}
	assert.Equal(t, int32(1080), absMax(platform.AbsMtPositionX))
	assert.Equal(t, int32(1920), absMax(platform.AbsMtPositionY))
	assert.Equal(t, int32(maxSlots-1), absMax(platform.AbsMtSlot))
}

func TestEmitWritesInputEvents(t *testing.T) {
	var buf bytes.Buffer
	d := NewWriter(&buf)

	require.NoError(t, d.Emit(platform.EvAbs, platform.AbsMtPositionX, 321))
	require.NoError(t, d.Emit(platform.EvSyn, platform.SynReport, 0))

	size := binary.Size(event{})
	require.Equal(t, 2*size, buf.Len())

	var got event
	require.NoError(t, binary.Read(&buf, binary.NativeEndian, &got))
	assert.Equal(t, platform.EvAbs, got.Type)
	assert.Equal(t, platform.AbsMtPositionX, got.Code)
	assert.Equal(t, int32(321), got.Value)
}

func TestEmitAfterClose(t *testing.T) {
	d := NewWriter(&bytes.Buffer{})
	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
	assert.ErrorIs(t, d.Emit(platform.EvSyn, platform.SynReport, 0), os.ErrClosed)
}

func TestOpenNoDevice(t *testing.T) {
	dir := t.TempDir()
	_, err := Open(Config{Paths: []string{filepath.Join(dir, "a"), filepath.Join(dir, "b")}})
	assert.ErrorIs(t, err, ErrNotFound)
}
