package relay

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1broseidon/droidrelay/internal/wire"
)

type fakeImporter struct {
	fail     bool
	imported int
	released int
}

func (f *fakeImporter) Import(*wire.Buffer) error {
	if f.fail {
		return errors.New("register failed")
	}
	f.imported++
	return nil
}

func (f *fakeImporter) Release(*wire.Buffer) {
	f.released++
}

func newBuffer() *wire.Buffer {
	return &wire.Buffer{Handle: &wire.NativeHandle{}}
}

func TestRegistryAddGetRelease(t *testing.T) {
	imp := &fakeImporter{}
	r := NewRegistry(imp)

	a, b := newBuffer(), newBuffer()
	i, err := r.Add(a)
	require.NoError(t, err)
	assert.Equal(t, 0, i)
	i, err = r.Add(b)
	require.NoError(t, err)
	assert.Equal(t, 1, i)
	assert.Equal(t, 2, r.Len())

	got, err := r.Get(1)
	require.NoError(t, err)
	assert.Same(t, b, got)

	for _, idx := range []int{-1, 2, 3, 254} {
		_, err := r.Get(idx)
		assert.ErrorIs(t, err, ErrBadIndex, "index %d", idx)
	}

	r.Release()
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 2, imp.released)
	_, err = r.Get(0)
	assert.ErrorIs(t, err, ErrBadIndex)
}

func TestRegistryImportFailure(t *testing.T) {
	r := NewRegistry(&fakeImporter{fail: true})
	_, err := r.Add(newBuffer())
	assert.Error(t, err)
	assert.Equal(t, 0, r.Len())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "no_client", NoClient.String())
	assert.Equal(t, "indexed_replay", IndexedReplay.String())
	assert.Equal(t, "state(42)", State(42).String())
}
