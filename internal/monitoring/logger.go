package monitoring

import (
	"io"
	"log"
)

// Logf is the package-level diagnostic logger used by binaries and adapters.
// It defaults to log.Printf but may be replaced by SetLogger.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil sets a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// WriterLogf returns a Logf-compatible function writing prefixed,
// microsecond-stamped lines to w. A nil writer yields a no-op.
func WriterLogf(w io.Writer, prefix string) func(format string, v ...interface{}) {
	if w == nil {
		return func(string, ...interface{}) {}
	}
	l := log.New(w, prefix, log.LstdFlags|log.Lmicroseconds)
	return l.Printf
}
