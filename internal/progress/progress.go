// Package progress defines the caller-facing reporting hooks. The core
// invokes them at milestones; implementations live with the caller (CLI,
// GUI shell, test).
package progress

// Sink receives progress milestones and user-facing fatal conditions.
type Sink interface {
	// Progress reports a completion percentage with a short message.
	Progress(percent float64, message string)

	// Error reports a user-facing fatal condition. Whether it terminates
	// the process depends on Interactive.
	Error(message string)

	// Interactive reports whether the caller runs in an interactive
	// context. Interactive callers get the error back as a value; batch
	// callers expect the process to exit non-zero after reporting.
	Interactive() bool
}

// Noop discards all reports and claims an interactive context, so fatal
// conditions come back as error values.
type Noop struct{}

func (Noop) Progress(float64, string) {}
func (Noop) Error(string)             {}
func (Noop) Interactive() bool        { return true }
