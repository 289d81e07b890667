package pfq

import (
	"errors"
	"fmt"

	"code.hybscloud.com/iox"

	"github.com/pfq-io/go-pfq/internal/interfaces"
)

// Sentinels, comparable with errors.Is. ErrInterrupted is not a
// failure: it is the normal partial-completion result of a cooperative
// stop, with everything drained so far accounted.
var (
	ErrInterrupted = interfaces.ErrInterrupted
	ErrDeviceDown  = interfaces.ErrDeviceDown
	ErrNoDevice    = interfaces.ErrNoDevice
	ErrNoMemory    = interfaces.ErrNoMemory

	// ErrWouldBlock is returned by non-blocking pool operations; a
	// control-flow signal, not a failure.
	ErrWouldBlock = iox.ErrWouldBlock
)

// ErrorCode is the high-level category of a structured error.
type ErrorCode string

const (
	CodeInterrupted   ErrorCode = "interrupted"
	CodeNoDevice      ErrorCode = "no such device"
	CodeDeviceDown    ErrorCode = "device down"
	CodeNoMemory      ErrorCode = "out of memory"
	CodeInvalidConfig ErrorCode = "invalid configuration"
)

// Error is a structured pfq error with operation context.
type Error struct {
	Op    string    // operation that failed (e.g. "flush", "bind")
	Ring  int       // TX ring index (-1 if not applicable)
	Dev   string    // interface name ("" if not applicable)
	Code  ErrorCode // high-level category
	Inner error     // wrapped cause
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := string(e.Code)
	switch {
	case e.Dev != "" && e.Ring >= 0:
		return fmt.Sprintf("pfq: %s (op=%s ring=%d dev=%s)", msg, e.Op, e.Ring, e.Dev)
	case e.Ring >= 0:
		return fmt.Sprintf("pfq: %s (op=%s ring=%d)", msg, e.Op, e.Ring)
	case e.Op != "":
		return fmt.Sprintf("pfq: %s (op=%s)", msg, e.Op)
	}
	return fmt.Sprintf("pfq: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is supports comparing against another *Error by code.
func (e *Error) Is(target error) bool {
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// wrapError attaches operation context to an internal sentinel. nil
// and unknown errors pass through unchanged.
func wrapError(op string, ring int, inner error) error {
	if inner == nil {
		return nil
	}
	code, ok := codeOf(inner)
	if !ok {
		return inner
	}
	return &Error{
		Op:    op,
		Ring:  ring,
		Code:  code,
		Inner: inner,
	}
}

func codeOf(err error) (ErrorCode, bool) {
	switch {
	case errors.Is(err, ErrInterrupted):
		return CodeInterrupted, true
	case errors.Is(err, ErrNoDevice):
		return CodeNoDevice, true
	case errors.Is(err, ErrDeviceDown):
		return CodeDeviceDown, true
	case errors.Is(err, ErrNoMemory):
		return CodeNoMemory, true
	}
	return "", false
}

// IsCode checks if an error matches a specific error code
func IsCode(err error, code ErrorCode) bool {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Code == code
	}
	return false
}
