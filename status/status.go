// Package status defines the grpc-status-compatible error codes and the
// Status error type carried on call trailers.
package status

import (
	"context"
	"errors"
	"fmt"
)

// Code is a grpc-status code.
type Code uint32

// Status codes as specified by the wire format (spec §6.4).
const (
	OK                  Code = 0
	Cancelled           Code = 1
	Unknown             Code = 2
	InvalidArgument     Code = 3
	DeadlineExceeded    Code = 4
	NotFound            Code = 5
	AlreadyExists       Code = 6
	PermissionDenied    Code = 7
	ResourceExhausted   Code = 8
	FailedPrecondition  Code = 9
	Unimplemented       Code = 12
	Internal            Code = 13
	Unavailable         Code = 14
)

func (c Code) String() string {
	switch c {
	case OK:
		return "OK"
	case Cancelled:
		return "CANCELLED"
	case Unknown:
		return "UNKNOWN"
	case InvalidArgument:
		return "INVALID_ARGUMENT"
	case DeadlineExceeded:
		return "DEADLINE_EXCEEDED"
	case NotFound:
		return "NOT_FOUND"
	case AlreadyExists:
		return "ALREADY_EXISTS"
	case PermissionDenied:
		return "PERMISSION_DENIED"
	case ResourceExhausted:
		return "RESOURCE_EXHAUSTED"
	case FailedPrecondition:
		return "FAILED_PRECONDITION"
	case Unimplemented:
		return "UNIMPLEMENTED"
	case Internal:
		return "INTERNAL"
	case Unavailable:
		return "UNAVAILABLE"
	default:
		return fmt.Sprintf("CODE(%d)", uint32(c))
	}
}

// Status is an error carrying a grpc-status code and message. It is the
// value materialized from (and serialized into) a trailer METADATA frame.
type Status struct {
	Code    Code
	Message string
}

// New builds a Status error. A nil *Status with Code OK is never returned;
// callers wanting "no error" should just use nil.
func New(code Code, msg string) *Status {
	return &Status{Code: code, Message: msg}
}

// Newf builds a Status error with a formatted message.
func Newf(code Code, format string, args ...any) *Status {
	return New(code, fmt.Sprintf(format, args...))
}

func (s *Status) Error() string {
	if s == nil {
		return ""
	}
	return fmt.Sprintf("rpc error: code = %s desc = %s", s.Code, s.Message)
}

// FromError extracts a *Status from err, synthesizing Code Unknown when err
// is a plain error and Code OK when err is nil. context.DeadlineExceeded and
// context.Canceled are special-cased to DeadlineExceeded/Cancelled, matching
// grpc-go's status.FromContextError, since a bare ctx.Err() otherwise carries
// no grpc-status at all.
func FromError(err error) *Status {
	if err == nil {
		return New(OK, "")
	}
	var s *Status
	if errors.As(err, &s) {
		return s
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return New(DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return New(Cancelled, err.Error())
	}
	return New(Unknown, err.Error())
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return FromError(err).Code == code
}
