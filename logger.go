package airlift

import "log"

// Logger is the interface components log through. There are no package-level
// loggers; anything that logs takes one of these.
type Logger interface {
	Printf(format string, v ...interface{})
	Debugf(format string, v ...interface{})
}

// NopLogger logs nothing.
type NopLogger struct{}

// Printf does nothing.
func (NopLogger) Printf(format string, v ...interface{}) {}

// Debugf does nothing.
func (NopLogger) Debugf(format string, v ...interface{}) {}

// StdLogger only prints on Printf.
type StdLogger struct {
	*log.Logger
}

// Printf implements Logger.
func (s StdLogger) Printf(format string, v ...interface{}) {
	s.Logger.Printf(format, v...)
}

// Debugf implements Logger, but prints nothing.
func (StdLogger) Debugf(format string, v ...interface{}) {}

// VerboseLogger prints on both Printf and Debugf.
type VerboseLogger struct {
	*log.Logger
}

// Printf implements Logger.
func (s VerboseLogger) Printf(format string, v ...interface{}) {
	s.Logger.Printf(format, v...)
}

// Debugf implements Logger.
func (s VerboseLogger) Debugf(format string, v ...interface{}) {
	s.Logger.Printf(format, v...)
}
