package relay

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/1broseidon/droidrelay/internal/wire"
)

// ErrBadIndex is returned for a replay index outside the registry.
var ErrBadIndex = errors.New("relay: buffer index out of range")

// Importer registers buffers with the graphics allocator before they can be
// presented. A nil Importer accepts every buffer.
type Importer interface {
	Import(buf *wire.Buffer) error
	Release(buf *wire.Buffer)
}

// Registry holds the buffers a peer has sent, in arrival order, so the peer
// can replay one by index. Only the channel goroutine mutates it.
type Registry struct {
	buffers  []*wire.Buffer
	importer Importer
	size     atomic.Int64
}

// NewRegistry creates an empty registry.
func NewRegistry(importer Importer) *Registry {
	return &Registry{importer: importer}
}

// Add imports buf and appends it. On failure buf is closed and not added.
func (r *Registry) Add(buf *wire.Buffer) (int, error) {
	if r.importer != nil {
		if err := r.importer.Import(buf); err != nil {
			buf.Close()
			return -1, fmt.Errorf("import buffer: %w", err)
		}
	}
	r.buffers = append(r.buffers, buf)
	r.size.Store(int64(len(r.buffers)))
	return len(r.buffers) - 1, nil
}

// Get returns the buffer at index i.
func (r *Registry) Get(i int) (*wire.Buffer, error) {
	if i < 0 || i >= len(r.buffers) {
		return nil, fmt.Errorf("%w: %d (size %d)", ErrBadIndex, i, len(r.buffers))
	}
	return r.buffers[i], nil
}

// Len returns the number of registered buffers. It is safe to call from
// any goroutine.
func (r *Registry) Len() int {
	return int(r.size.Load())
}

// Release unregisters and closes every buffer.
func (r *Registry) Release() {
	for _, buf := range r.buffers {
		if r.importer != nil {
			r.importer.Release(buf)
		}
		buf.Close()
	}
	r.buffers = nil
	r.size.Store(0)
}
