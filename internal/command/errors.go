package command

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownType    = errors.New("unknown command type")
	ErrAlreadyPending = errors.New("a command is already awaiting acknowledgement")
	ErrTimeout        = errors.New("timed out waiting for acknowledgement")
)

// RejectedError is returned when the player refuses a command
type RejectedError struct {
	Code    Code
	Message string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("command rejected (%s)", e.Code)
	}
	return fmt.Sprintf("command rejected (%s): %s", e.Code, e.Message)
}

// Is matches any RejectedError with the same code, so callers can write
// errors.Is(err, command.Reject(command.CodeNotFound, "")).
func (e *RejectedError) Is(target error) bool {
	t, ok := target.(*RejectedError)
	return ok && t.Code == e.Code
}

// Temporary reports false: a rejection will not succeed on retry
func (e *RejectedError) Temporary() bool {
	return false
}

// Reject builds a RejectedError
func Reject(code Code, format string, args ...any) error {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return &RejectedError{Code: code, Message: msg}
}
