package transport

import (
	"errors"
	"fmt"
	"io"
)

// Error is a transport failure with a stable negative code and a fixed
// message. Backends wrap their underlying causes around one of the package
// level kinds below so that callers can match with errors.Is and still
// recover the numeric code.
type Error struct {
	code int
	msg  string
	err  error
}

// The transport error vocabulary. Codes are stable and part of the public
// contract; messages are fixed.
var (
	ErrParameter          = &Error{code: -1, msg: "invalid command or argument"}
	ErrOpenSession        = &Error{code: -2, msg: "error opening the communication with the SUT"}
	ErrSendCommand        = &Error{code: -3, msg: "error sending command to the SUT"}
	ErrForwardInput       = &Error{code: -4, msg: "local error while forwarding the input stream"}
	ErrReceiveResults     = &Error{code: -5, msg: "error receiving the results of the command"}
	ErrLocalFile          = &Error{code: -6, msg: "local error while accessing the file"}
	ErrSendFile           = &Error{code: -7, msg: "error sending the file to the SUT"}
	ErrRemoteFile         = &Error{code: -8, msg: "remote error while accessing the file"}
	ErrReceiveFile        = &Error{code: -9, msg: "error receiving the file from the SUT"}
	ErrInterrupt          = &Error{code: -10, msg: "failed to interrupt the command"}
	ErrInvalidTarget      = &Error{code: -11, msg: "invalid target specification"}
	ErrUnknownPlugin      = &Error{code: -12, msg: "unknown plugin"}
	ErrIncompatiblePlugin = &Error{code: -13, msg: "incompatible plugin"}
	ErrCommandTimeout     = &Error{code: -14, msg: "remote command timed out"}
	ErrNotSupported       = &Error{code: -15, msg: "operation not supported by this plugin"}
)

var kinds = []*Error{
	ErrParameter, ErrOpenSession, ErrSendCommand, ErrForwardInput,
	ErrReceiveResults, ErrLocalFile, ErrSendFile, ErrRemoteFile,
	ErrReceiveFile, ErrInterrupt, ErrInvalidTarget, ErrUnknownPlugin,
	ErrIncompatiblePlugin, ErrCommandTimeout, ErrNotSupported,
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s", e.msg, e.err)
	}

	return e.msg
}

// Code returns the stable negative error code.
func (e *Error) Code() int {
	return e.code
}

func (e *Error) Unwrap() error {
	return e.err
}

// Is matches any error of the same kind regardless of the wrapped cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return t.code == e.code
}

// Wrap returns a copy of the kind carrying err as its cause. The code and
// message are preserved so errors.Is against the kind still matches.
func (e *Error) Wrap(err error) *Error {
	return &Error{code: e.code, msg: e.msg, err: err}
}

// Wrapf is Wrap with a formatted cause.
func (e *Error) Wrapf(format string, args ...any) *Error {
	return e.Wrap(fmt.Errorf(format, args...))
}

// CodeOf extracts the transport error code from err. A nil error yields 0;
// an error from outside the vocabulary yields the parameter-error code.
func CodeOf(err error) int {
	if err == nil {
		return 0
	}

	var e *Error
	if errors.As(err, &e) {
		return e.code
	}

	return ErrParameter.code
}

// Message returns the fixed message for a transport error code, or a
// placeholder for codes outside the vocabulary.
func Message(code int) string {
	for _, kind := range kinds {
		if kind.code == code {
			return kind.msg
		}
	}

	return "unknown error"
}

// Explain writes "<prefix>: <message>.\n" for the given code, the way a
// controller reports a failed operation on its diagnostic stream.
func Explain(w io.Writer, prefix string, code int) {
	fmt.Fprintf(w, "%s: %s.\n", prefix, Message(code))
}
