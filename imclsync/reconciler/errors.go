package reconciler

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed reconciliation.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	// KindConfiguration: the InstallSpec cannot serve the requested state.
	// Raised before any external call.
	KindConfiguration
	// KindInventoryUnavailable: the list-installed query failed, so the
	// installed state is unknown.
	KindInventoryUnavailable
	// KindActionFailed: the mutating command exited non-zero or could not run.
	KindActionFailed
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return ""
	case KindConfiguration:
		return "ConfigurationError"
	case KindInventoryUnavailable:
		return "InventoryUnavailable"
	case KindActionFailed:
		return "ActionFailed"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

var ErrNonZeroExit = errors.New("command exited with non-zero status")

// Error is a classified reconciliation failure.
type Error struct {
	Kind    ErrorKind
	Package string
	Op      string
	Err     error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s %s: %v", e.Kind, e.Op, e.Package, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Package, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the ErrorKind carried by err, or KindNone.
func KindOf(err error) ErrorKind {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Kind
	}
	return KindNone
}
