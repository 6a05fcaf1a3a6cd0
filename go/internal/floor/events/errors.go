package events

import (
	"errors"
	"fmt"
)

// Code is the machine-readable reason carried by error frames.
type Code string

const (
	CodeRateLimit          Code = "RATE_LIMIT"
	CodeInvalidFormat      Code = "INVALID_FORMAT"
	CodeInvalidCompany     Code = "INVALID_COMPANY"
	CodeInvalidTable       Code = "INVALID_TABLE"
	CodeInvalidTime        Code = "INVALID_TIME"
	CodeInvalidPage        Code = "INVALID_PAGE"
	CodeInvalidDestination Code = "INVALID_DESTINATION"
	CodeNotAuthenticated   Code = "NOT_AUTHENTICATED"
	CodeMessageTooLarge    Code = "MESSAGE_TOO_LARGE"
	CodeInvalidJSON        Code = "INVALID_JSON"
	CodeTargetUnavailable  Code = "TARGET_UNAVAILABLE"
)

// ErrUnknownAction is returned by Parse for discriminators outside the
// closed set. Such frames are dropped without an error frame.
var ErrUnknownAction = errors.New("unknown action")

// ProtocolError is a client-facing rejection.
type ProtocolError struct {
	Code    Code
	Message string
}

func NewProtocolError(code Code, msg string) *ProtocolError {
	return &ProtocolError{Code: code, Message: msg}
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// AsProtocolError unwraps err into a *ProtocolError when possible.
func AsProtocolError(err error) (*ProtocolError, bool) {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
