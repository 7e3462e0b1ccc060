// Package monitoring carries the operational logging hooks shared by the
// landing pipeline. The pipeline logs through Logf so embedders (tests,
// the monitoring front-end, a flight recorder) can redirect or mute it.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf
// but may be replaced by SetLogger. Tests or production code can redirect
// or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// Tracef is the high-volume per-cycle logger. It is muted by default so
// a 30 Hz loop does not flood the operational log; enable it with
// SetTracer during debugging.
var Tracef func(format string, v ...interface{}) = func(string, ...interface{}) {}

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetTracer replaces the per-cycle trace logger. Passing nil mutes it.
func SetTracer(f func(format string, v ...interface{})) {
	if f == nil {
		Tracef = func(string, ...interface{}) {}
		return
	}
	Tracef = f
}
