package command

import (
	"errors"
	"time"
)

// Code classifies a rejected command
type Code string

const (
	CodeNotFound    Code = "not_found"
	CodeInvalid     Code = "invalid"
	CodeUnsupported Code = "unsupported"
	CodeFailed      Code = "failed"
)

// Result is the player's acknowledgement of a command
type Result struct {
	CommandID string    `json:"command_id"`
	OK        bool      `json:"ok"`
	Code      Code      `json:"code,omitempty"`
	Message   string    `json:"message,omitempty"`
	At        time.Time `json:"at"`
}

// Succeeded builds a positive acknowledgement
func Succeeded(id string, at time.Time) Result {
	return Result{CommandID: id, OK: true, At: at}
}

// Failed builds a negative acknowledgement from the handler's error.
// Errors that are not a *RejectedError are reported as CodeFailed.
func Failed(id string, err error, at time.Time) Result {
	r := Result{CommandID: id, Code: CodeFailed, Message: err.Error(), At: at}
	var rej *RejectedError
	if errors.As(err, &rej) {
		r.Code = rej.Code
		r.Message = rej.Message
	}
	return r
}

// Err converts the result back into an error, nil when it succeeded
func (r Result) Err() error {
	if r.OK {
		return nil
	}
	return &RejectedError{Code: r.Code, Message: r.Message}
}
