package protocol

import "fmt"

// Numeric error codes are stable and part of the wire contract.
const (
	CodeUnauthorized    = 4000
	CodeRoomNotFound    = 4001
	CodeInvalidVote     = 4002
	CodeForbidden       = 4003
	CodeValidationError = 4004
	CodeInvalidState    = 4005
	CodeRateLimited     = 4006
	CodeRoomFull        = 4007
	CodeInternal        = 4999
)

// Error is the protocol-facing failure shape. Handlers return it (possibly
// wrapped) and the transport layer turns it into an error.v1 envelope sent
// only to the offending connection.
type Error struct {
	Code    int
	Tag     string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Tag, e.Code, e.Message)
}

func Unauthorized(msg string) *Error {
	return &Error{Code: CodeUnauthorized, Tag: "UNAUTHORIZED", Message: msg}
}

func RoomNotFound(msg string) *Error {
	return &Error{Code: CodeRoomNotFound, Tag: "ROOM_NOT_FOUND", Message: msg}
}

func InvalidVote(msg string) *Error {
	return &Error{Code: CodeInvalidVote, Tag: "INVALID_VOTE", Message: msg}
}

func Forbidden(msg string) *Error {
	return &Error{Code: CodeForbidden, Tag: "FORBIDDEN", Message: msg}
}

func ValidationError(msg string) *Error {
	return &Error{Code: CodeValidationError, Tag: "VALIDATION_ERROR", Message: msg}
}

func InvalidState(msg string) *Error {
	return &Error{Code: CodeInvalidState, Tag: "INVALID_STATE", Message: msg}
}

func RateLimited(msg string) *Error {
	return &Error{Code: CodeRateLimited, Tag: "RATE_LIMITED", Message: msg}
}

func RoomFull(msg string) *Error {
	return &Error{Code: CodeRoomFull, Tag: "ROOM_FULL", Message: msg}
}

func Internal(msg string) *Error {
	return &Error{Code: CodeInternal, Tag: "INTERNAL_SERVER_ERROR", Message: msg}
}
