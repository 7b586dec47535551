package responses

import (
	"fmt"
	"net/http"
)

// Error codes
const (
	CodeUnknownRoute     = 1
	CodeInvalidJSON      = 2
	CodeInternal         = 3
	CodeQuotaExceeded    = 4
	CodeDeclined         = 5
	CodeMalformedImport  = 6
	CodeInvalidTemplate  = 7
	CodeNoBackend        = 8
	CodeUnknownBackend   = 9
	CodeMethodNotAllowed = 10
)

// Error describes an error for humans and machines
type Error struct {
	Status  int    `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e Error) Error() string {
	return fmt.Sprintf("status:%d, code:%d, message:%q", e.Status, e.Code, e.Message)
}

// NewError - a brand new internal error
func NewError(code int, message string) *Error {
	return NewStatusError(http.StatusInternalServerError, code, message)
}

// NewStatusError - a brand new error with an explicit http status
func NewStatusError(status, code int, message string) *Error {
	return &Error{
		Status:  status,
		Code:    code,
		Message: message,
	}
}
