package appctl

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mu   sync.Mutex
	cmds []string
	err  error
}

func (f *fakeRunner) Start(name string, args ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmds = append(f.cmds, strings.Join(append([]string{name}, args...), " "))
	return f.err
}

type fakeDisplay struct{ calls int }

func (f *fakeDisplay) DisplayOn() error {
	f.calls++
	return nil
}

func TestCommands(t *testing.T) {
	r := &fakeRunner{}
	c := NewWithRunner(Config{}, r)

	require.NoError(t, c.Start("com.foo", ".Main"))
	require.NoError(t, c.Start("com.bar", ""))
	require.NoError(t, c.Stop("com.foo"))
	require.NoError(t, c.GoHome())

	assert.Equal(t, []string{
		"/usr/bin/am start --user 0 -n com.foo/.Main",
		"/usr/bin/am start --user 0 -n com.bar",
		"/usr/bin/am force-stop --user 0 com.foo",
		"/usr/bin/am start --user 0 -c android.intent.category.HOME -a android.intent.action.MAIN",
	}, r.cmds)
}

func TestEmptyApp(t *testing.T) {
	c := NewWithRunner(Config{}, &fakeRunner{})
	assert.ErrorIs(t, c.Start("", ".Main"), ErrEmptyApp)
	assert.ErrorIs(t, c.Stop(""), ErrEmptyApp)
}

func TestRunnerError(t *testing.T) {
	boom := errors.New("boom")
	c := NewWithRunner(Config{}, &fakeRunner{err: boom})
	assert.ErrorIs(t, c.GoHome(), boom)
	assert.ErrorIs(t, c.Wake(), boom)
}

func TestWakeRateLimited(t *testing.T) {
	r := &fakeRunner{}
	d := &fakeDisplay{}
	c := NewWithRunner(Config{PowerupPath: "/bin/powerup", WakeInterval: time.Hour, Display: d}, r)

	for i := 0; i < 5; i++ {
		require.NoError(t, c.Wake())
	}
	assert.Equal(t, []string{"/bin/powerup"}, r.cmds)
	assert.Equal(t, 1, d.calls)
}

func TestWakeUnlimited(t *testing.T) {
	r := &fakeRunner{}
	c := NewWithRunner(Config{}, r)
	for i := 0; i < 3; i++ {
		require.NoError(t, c.Wake())
	}
	assert.Len(t, r.cmds, 3)
}
