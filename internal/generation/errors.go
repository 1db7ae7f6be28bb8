package generation

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a failed generation for the caller.
type Kind int

const (
	KindBadRequest Kind = iota + 1
	KindRateLimited
	KindNotFound
	KindForbidden
	KindUpstreamGeneration
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindRateLimited:
		return "rate_limited"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindUpstreamGeneration:
		return "upstream_generation"
	case KindStorage:
		return "storage"
	}
	return "unknown"
}

// Error is returned by every Service method. Message is safe to show to the
// caller; Err carries the internal cause and is only logged.
type Error struct {
	Kind       Kind
	Message    string
	Err        error
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err, or 0 if err is not an *Error.
func KindOf(err error) Kind {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Kind
	}
	return 0
}

func badRequest(msg string, err error) *Error {
	return &Error{Kind: KindBadRequest, Message: msg, Err: err}
}

func storageFailure(msg string, err error) *Error {
	return &Error{Kind: KindStorage, Message: msg, Err: err}
}
