// Package monitoring holds the diagnostic logger shared by the navigation
// core. Components log through Logf so tests and embedding hosts can mute or
// capture output.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Warnf logs a recoverable condition, such as a well-known frame that is not
// yet published or a redundant start/stop request. Warnings never stop the
// caller.
func Warnf(format string, v ...interface{}) {
	Logf("[warn] "+format, v...)
}
