// Package indicator renders job progress. The runner drives an Indicator
// through Configure, Start, any number of Set calls, and a final Done.
package indicator

// Options tune how an indicator presents progress.
type Options struct {
	// Trickle nudges the bar forward between updates.
	Trickle bool `mapstructure:"trickle"`
	// ShowSpinner adds a spinner next to the bar.
	ShowSpinner bool `mapstructure:"show_spinner"`
	// Minimum is the value shown on Start and the floor for Set.
	Minimum float64 `mapstructure:"minimum"`
}

// DefaultOptions matches the map client's progress bar: no trickle, no spinner, 8% floor.
func DefaultOptions() Options {
	return Options{Minimum: 0.08}
}

// Indicator is a progress display.
type Indicator interface {
	Configure(opts Options)
	Start()
	// Set shows fraction, a value in [0,1].
	Set(fraction float64)
	Done()
}

// Nop ignores every call.
type Nop struct{}

// Configure implements Indicator.
func (Nop) Configure(Options) {}

// Start implements Indicator.
func (Nop) Start() {}

// Set implements Indicator.
func (Nop) Set(float64) {}

// Done implements Indicator.
func (Nop) Done() {}

// Multi fans every call out to its members in order.
type Multi []Indicator

// Configure implements Indicator.
func (m Multi) Configure(opts Options) {
	for _, ind := range m {
		ind.Configure(opts)
	}
}

// Start implements Indicator.
func (m Multi) Start() {
	for _, ind := range m {
		ind.Start()
	}
}

// Set implements Indicator.
func (m Multi) Set(fraction float64) {
	for _, ind := range m {
		ind.Set(fraction)
	}
}

// Done implements Indicator.
func (m Multi) Done() {
	for _, ind := range m {
		ind.Done()
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
