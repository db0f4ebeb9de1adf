// Package sinks implements progress consumers: structured logging, Prometheus
// collectors and run history persistence.
package sinks
