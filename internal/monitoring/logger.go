// Package monitoring holds the diagnostic logging hooks shared by the tile
// loading, caching and evaluation packages.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// Debugf receives per-pass and per-tile chatter. It is muted until
// SetVerbose(true) routes it through Logf.
var Debugf func(format string, v ...interface{}) = noop

func noop(string, ...interface{}) {}

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = noop
		return
	}
	Logf = f
}

// SetVerbose enables or mutes Debugf. Enabled output goes through whatever
// Logf is installed at call time.
func SetVerbose(on bool) {
	if !on {
		Debugf = noop
		return
	}
	Debugf = func(format string, v ...interface{}) {
		Logf("[debug] "+format, v...)
	}
}
