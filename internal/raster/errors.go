package raster

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
)

// FailureKind classifies a failed raster load.
type FailureKind int

const (
	// FetchFailure is a network error or non-success HTTP status.
	FetchFailure FailureKind = iota + 1
	// DecodeFailure means the bytes are not a usable single-band raster.
	DecodeFailure
	// RenderFailure is an unexpected internal state while rasterizing.
	RenderFailure
)

func (k FailureKind) String() string {
	switch k {
	case FetchFailure:
		return "FetchFailure"
	case DecodeFailure:
		return "DecodeFailure"
	case RenderFailure:
		return "RenderFailure"
	}
	return fmt.Sprintf("FailureKind(%d)", int(k))
}

// Error is a classified raster load failure.
type Error struct {
	Kind FailureKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Fail wraps err with a failure kind and a context message.
func Fail(kind FailureKind, err error, msg string) error {
	if err == nil {
		return &Error{Kind: kind, Err: eris.New(msg)}
	}
	return &Error{Kind: kind, Err: eris.Wrap(err, msg)}
}

// Failf builds a failure without an underlying cause.
func Failf(kind FailureKind, format string, args ...any) error {
	return &Error{Kind: kind, Err: eris.Errorf(format, args...)}
}

// KindOf reports the failure kind carried anywhere in err's chain.
func KindOf(err error) (FailureKind, bool) {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind, true
	}
	return 0, false
}

// IsKind reports whether err carries the given failure kind.
func IsKind(err error, kind FailureKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
