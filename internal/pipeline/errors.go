// errors.go distinguishes terminal from transient pipeline failures.
//
// Handlers return plain errors for transient conditions (network timeouts,
// throttling) and wrap non-retriable conditions with Terminal. The
// orchestrator retries transient failures with backoff and records
// terminal ones on the pipeline immediately.

package pipeline

import "errors"

// terminalError marks an error as non-retriable.
type terminalError struct {
	err error
}

func (t *terminalError) Error() string { return t.err.Error() }
func (t *terminalError) Unwrap() error { return t.err }

// Terminal wraps err as a non-retriable pipeline failure.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{err: err}
}

// IsTerminal reports whether err (or anything it wraps) was marked
// terminal.
func IsTerminal(err error) bool {
	var t *terminalError
	return errors.As(err, &t)
}
