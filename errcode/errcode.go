package errcode

import (
	"context"
	"errors"
)

// Code is a stable, bus-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK             Code = "ok"
	Busy           Code = "busy"
	Unsupported    Code = "unsupported"
	InvalidParams  Code = "invalid_params"
	InvalidPayload Code = "invalid_payload"
	NotReady       Code = "not_ready"
	Disabled       Code = "disabled"
	Timeout        Code = "timeout"

	// Order lifecycle outcomes.
	Conflict         Code = "conflict"
	CapacityExceeded Code = "capacity_exceeded"
	SlotExhausted    Code = "slot_exhausted"
	InvalidGeometry  Code = "invalid_geometry"
	NotFound         Code = "not_found"

	Error Code = "error" // generic fallback
)

// E keeps an operation, a detail message and an optional cause with a code.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	return s
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// New is shorthand for &E{C: c, Op: op, Msg: msg}.
func New(c Code, op, msg string) *E { return &E{C: c, Op: op, Msg: msg} }

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	type coder interface{ Code() Code }
	var x coder
	if errors.As(err, &x) {
		return x.Code()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	return Error
}

// Detail returns the human-readable part of err beyond its code, if any.
func Detail(err error) string {
	var e *E
	if errors.As(err, &e) {
		return e.Msg
	}
	return ""
}
