package indicator

import (
	"io"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
)

const (
	barWidth = 30
	// barScale is the bar's integer maximum; fractions are drawn in tenths of a percent.
	barScale        = 1000
	trickleInterval = 800 * time.Millisecond
	// trickle never pushes the bar past this value.
	trickleCeiling = 0.994
)

var spinnerFrames = []string{"|", "/", "-", `\`}

// Terminal draws a progressbar on w. It adds the minimum floor, trickle and
// spinner behavior of the map client's bar on top.
type Terminal struct {
	w io.Writer

	mu      sync.Mutex
	opts    Options
	bar     *progressbar.ProgressBar
	value   float64
	frame   int
	stopped chan struct{}
}

// NewTerminal returns a bar that writes to w.
func NewTerminal(w io.Writer) *Terminal {
	return &Terminal{w: w, opts: DefaultOptions()}
}

// Configure implements Indicator.
func (t *Terminal) Configure(opts Options) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.opts = opts
}

// Start shows a fresh bar at the configured minimum.
func (t *Terminal) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bar != nil {
		return
	}
	w := t.w
	t.bar = progressbar.NewOptions(barScale,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetWidth(barWidth),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionSetElapsedTime(false),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "#",
			SaucerPadding: ".",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			_, _ = io.WriteString(w, "\n")
		}),
	)
	t.frame = 0
	t.value = clamp(t.opts.Minimum, 0, 1)
	t.draw()
	if t.opts.Trickle {
		t.stopped = make(chan struct{})
		go t.trickle(t.stopped)
	}
}

// Set moves the bar. Values below the minimum are raised to it.
func (t *Terminal) Set(fraction float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bar == nil {
		return
	}
	t.value = clamp(fraction, t.opts.Minimum, 1)
	t.draw()
}

// Done fills the bar and ends the line.
func (t *Terminal) Done() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bar == nil {
		return
	}
	if t.stopped != nil {
		close(t.stopped)
		t.stopped = nil
	}
	t.value = 1
	_ = t.bar.Finish()
	t.bar = nil
}

// Value returns the fraction currently drawn.
func (t *Terminal) Value() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value
}

func (t *Terminal) trickle(stop <-chan struct{}) {
	ticker := time.NewTicker(trickleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.mu.Lock()
			if t.bar != nil && t.value < trickleCeiling {
				t.value = clamp(t.value+trickleStep(t.value), 0, trickleCeiling)
				t.draw()
			}
			t.mu.Unlock()
		}
	}
}

// trickleStep slows down as the bar fills.
func trickleStep(v float64) float64 {
	switch {
	case v < 0.2:
		return 0.1
	case v < 0.5:
		return 0.04
	case v < 0.8:
		return 0.02
	default:
		return 0.005
	}
}

// draw must be called with t.mu held. The bar stops one step short of its
// maximum until Done, so completion and the trailing newline happen only once.
func (t *Terminal) draw() {
	if t.opts.ShowSpinner {
		t.bar.Describe(spinnerFrames[t.frame%len(spinnerFrames)])
		t.frame++
	}
	n := int(t.value*barScale + 0.5)
	if n >= barScale {
		n = barScale - 1
	}
	if n == 0 {
		_ = t.bar.RenderBlank()
		return
	}
	_ = t.bar.Set(n)
}
