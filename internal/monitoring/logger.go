package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// Verbose gates the fitter's per-state diagnostics (gain matrices,
// innovations, chi2 contributions). Off by default; the volume is large.
var Verbose bool

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Verbosef logs through Logf only when Verbose is enabled.
func Verbosef(format string, v ...interface{}) {
	if Verbose {
		Logf(format, v...)
	}
}
