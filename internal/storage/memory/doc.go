// Package memory provides in-process repositories used when no database or
// output directory is configured, and in tests.
package memory
