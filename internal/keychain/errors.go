package keychain

import (
	"errors"
	"fmt"
)

// Kind classifies store failures so callers can branch without matching
// message text.
type Kind int

const (
	KindBackend Kind = iota
	KindContainerExists
	KindNotFound
	KindPermissionDenied
	KindDuplicate
	KindDecode
)

func (k Kind) String() string {
	switch k {
	case KindContainerExists:
		return "container exists"
	case KindNotFound:
		return "not found"
	case KindPermissionDenied:
		return "permission denied"
	case KindDuplicate:
		return "duplicate entry"
	case KindDecode:
		return "decode failure"
	default:
		return "backend failure"
	}
}

// Error is the error type returned by every backend.
type Error struct {
	Kind Kind
	Op   string // e.g. "create", "open", "delete"
	Name string // container name or record identity
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Name != "" {
		msg += fmt.Sprintf(" (%s)", e.Name)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the sentinels below work
// with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrBackend          = &Error{Kind: KindBackend}
	ErrContainerExists  = &Error{Kind: KindContainerExists}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrPermissionDenied = &Error{Kind: KindPermissionDenied}
	ErrDuplicate        = &Error{Kind: KindDuplicate}
	ErrDecode           = &Error{Kind: KindDecode}
)

// KindOf returns the kind of err. Errors that did not come from a backend
// are reported as KindBackend.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindBackend
}

func newError(kind Kind, op, name string, err error) error {
	return &Error{Kind: kind, Op: op, Name: name, Err: err}
}

func identity(label, account string) string {
	return label + "/" + account
}

var errClosed = errors.New("container handle is closed")
