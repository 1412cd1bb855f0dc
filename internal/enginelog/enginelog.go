// Package enginelog provides a verbosity-gated log sink shared by every
// engine component, so tests can inject a buffer instead of writing to
// the process-wide logger.
package enginelog

import (
	"io"
	"log"
	"os"
)

// Sink wraps a *log.Logger behind a verbose gate. When verbose is false,
// Logf is a no-op; Errorf always logs, since failures should never be
// silent even in quiet mode.
type Sink struct {
	logger  *log.Logger
	verbose bool
}

// New creates a Sink writing to w (os.Stderr if w is nil).
func New(w io.Writer, verbose bool) *Sink {
	if w == nil {
		w = os.Stderr
	}
	return &Sink{logger: log.New(w, "", log.LstdFlags), verbose: verbose}
}

// Logf logs a transition when verbose mode is enabled; otherwise it is
// silent.
func (s *Sink) Logf(format string, args ...any) {
	if s == nil || !s.verbose {
		return
	}
	s.logger.Printf(format, args...)
}

// Errorf always logs, regardless of verbosity, since it records errors
// that were caught and swallowed rather than propagated.
func (s *Sink) Errorf(format string, args ...any) {
	if s == nil {
		return
	}
	s.logger.Printf("error: "+format, args...)
}

// Verbose reports whether transition logging is enabled.
func (s *Sink) Verbose() bool {
	return s != nil && s.verbose
}
