package stores

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a StoreError.
type ErrorKind string

const (
	// KindConnection means a pool could not be established or failed its
	// liveness probe.
	KindConnection ErrorKind = "connection"

	// KindStatement means a single statement failed after exhausting retries.
	KindStatement ErrorKind = "statement"

	// KindTransaction means a transaction rolled back after exhausting retries.
	KindTransaction ErrorKind = "transaction"

	// KindConfiguration means the caller asked for something that cannot work,
	// such as enabling the external store without parameters. Never retried
	// and never downgraded.
	KindConfiguration ErrorKind = "configuration"

	// KindReplication is only ever carried by a ReplicationWarning.
	KindReplication ErrorKind = "replication"
)

// StoreError is the error type returned by this package.
type StoreError struct {
	Kind     ErrorKind
	Op       string
	Target   Target
	Attempts int
	Message  string
	Err      error
}

// Sentinels for errors.Is. They match any StoreError of the same kind.
var (
	ErrConnection    = &StoreError{Kind: KindConnection}
	ErrStatement     = &StoreError{Kind: KindStatement}
	ErrTransaction   = &StoreError{Kind: KindTransaction}
	ErrConfiguration = &StoreError{Kind: KindConfiguration}
)

// ErrNotConnected is returned when an operation needs a pool that does not exist.
var ErrNotConnected = errors.New("store not connected")

// ErrHandleClosed is returned when acquiring from a closed pool.
var ErrHandleClosed = errors.New("store handle closed")

// Error implements the error interface.
func (e *StoreError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind) + " error"
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Target != "" {
		msg = fmt.Sprintf("%s (target=%s", msg, e.Target)
		if e.Attempts > 0 {
			msg = fmt.Sprintf("%s, attempts=%d", msg, e.Attempts)
		}
		msg += ")"
	} else if e.Attempts > 0 {
		msg = fmt.Sprintf("%s (attempts=%d)", msg, e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is matches on Kind so callers can test against the package sentinels.
func (e *StoreError) Is(target error) bool {
	t, ok := target.(*StoreError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf returns the kind of the first StoreError in err's chain, or "".
func KindOf(err error) ErrorKind {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

func configurationError(op, msg string) error {
	return &StoreError{Kind: KindConfiguration, Op: op, Message: msg}
}

// ReplicationWarning describes a local mirror write that failed. It is
// logged and published, never returned.
type ReplicationWarning struct {
	TaskID     string
	Statements int
	Err        error
}

func (w *ReplicationWarning) Error() string {
	return fmt.Sprintf("replication task %s (%d statements) failed: %v", w.TaskID, w.Statements, w.Err)
}

func (w *ReplicationWarning) Unwrap() error {
	return w.Err
}
