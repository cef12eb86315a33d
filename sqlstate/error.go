// Package sqlstate holds the SQLSTATE code table and the error value every
// failing dbo operation reports.
package sqlstate

import (
	"errors"
	"fmt"
)

// Error is a failure classified by SQLSTATE. Native is the backend's own
// error number, zero when the failure originated in dbo itself.
type Error struct {
	Code    Code
	Native  int64
	Message string
}

// New returns an Error with no native code.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Newf is New with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NotCapable reports an operation the driver does not implement.
func NotCapable(op string) *Error {
	return &Error{Code: DriverNotCapable, Message: "driver does not support " + op}
}

func (e *Error) Error() string {
	desc := e.Code.Description()
	switch {
	case e.Native != 0 && e.Message != "":
		return fmt.Sprintf("SQLSTATE[%s]: %s: %d %s", e.Code, desc, e.Native, e.Message)
	case e.Message != "":
		return fmt.Sprintf("SQLSTATE[%s]: %s: %s", e.Code, desc, e.Message)
	case e.Native != 0:
		return fmt.Sprintf("SQLSTATE[%s]: %s: %d", e.Code, desc, e.Native)
	default:
		return fmt.Sprintf("SQLSTATE[%s]: %s", e.Code, desc)
	}
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Info returns the code, native code and message triple.
func (e *Error) Info() [3]string {
	if e == nil {
		return [3]string{string(OK), "", ""}
	}
	native := ""
	if e.Native != 0 {
		native = fmt.Sprint(e.Native)
	}
	return [3]string{string(e.Code), native, e.Message}
}

// CodeOf extracts the SQLSTATE from err. A nil error is OK, any error that
// is not an *Error is General.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return General
}

// Class returns the two-character class of err's code.
func Class(err error) string {
	return CodeOf(err).Class()
}
