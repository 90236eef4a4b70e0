package feed

import (
	"errors"
	"fmt"
)

type Kind int

const (
	// KindTransport covers network failures, timeouts and unexpected statuses.
	KindTransport Kind = iota + 1
	// KindAuthExpired means the upstream rejected our session (401/403).
	KindAuthExpired
	// KindFormat means a 2xx response whose body is not an announcement list.
	KindFormat
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindAuthExpired:
		return "auth_expired"
	case KindFormat:
		return "format"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind   Kind
	Op     string
	Status int
	Err    error
}

func (e *Error) Error() string {
	msg := "feed " + e.Op + ": " + e.Kind.String()
	if e.Status != 0 {
		msg += fmt.Sprintf(" (http %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}

func IsAuthExpired(err error) bool { return KindOf(err) == KindAuthExpired }

// retryable reports whether another attempt could succeed.
func retryable(err error) bool {
	var fe *Error
	if !errors.As(err, &fe) || fe.Kind != KindTransport {
		return false
	}
	switch {
	case fe.Status == 0:
		return true
	case fe.Status == 429, fe.Status >= 500:
		return true
	default:
		return false
	}
}
