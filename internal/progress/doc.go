// Package progress carries run lifecycle events from the compute runner to
// pluggable sinks. Emit never blocks the runner; events are batched on a
// background goroutine and handed to each sink with a bounded timeout.
package progress
