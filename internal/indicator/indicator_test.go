package indicator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type recorder struct {
	calls []string
	opts  Options
	last  float64
}

func (r *recorder) Configure(opts Options) { r.opts = opts; r.calls = append(r.calls, "configure") }
func (r *recorder) Start()                 { r.calls = append(r.calls, "start") }
func (r *recorder) Set(f float64)          { r.last = f; r.calls = append(r.calls, "set") }
func (r *recorder) Done()                  { r.calls = append(r.calls, "done") }

func TestMultiFansOut(t *testing.T) {
	t.Parallel()

	a, b := &recorder{}, &recorder{}
	m := Multi{a, b, Nop{}}
	m.Configure(DefaultOptions())
	m.Start()
	m.Set(0.4)
	m.Done()

	want := []string{"configure", "start", "set", "done"}
	assert.Equal(t, want, a.calls)
	assert.Equal(t, want, b.calls)
	assert.InDelta(t, 0.4, b.last, 1e-9)
	assert.InDelta(t, 0.08, a.opts.Minimum, 1e-9)
}

func TestDefaultOptions(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions()
	assert.False(t, opts.Trickle)
	assert.False(t, opts.ShowSpinner)
	assert.InDelta(t, 0.08, opts.Minimum, 1e-9)
}
