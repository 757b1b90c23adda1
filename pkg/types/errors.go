package types

import "errors"

// Error represents an error with a classification code and context
type Error struct {
	Code    string
	Message string
	Err     error
}

// Error returns the error message
func (e *Error) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new error with code and message
func NewError(code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// WrapError wraps an existing error with code and message
func WrapError(code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsErrCode reports whether err, or any error it wraps, carries the given code.
// The outermost coded error wins.
func IsErrCode(err error, code string) bool {
	return GetErrorCode(err) == code
}

// GetErrorCode returns the code of the outermost coded error in err's chain
func GetErrorCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Error codes
const (
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeCommandNotFound    = "COMMAND_NOT_FOUND"
	ErrCodeNoSuchPort         = "NO_SUCH_PORT"
	ErrCodeIO                 = "IO"
	ErrCodeFailExitCode       = "FAIL_EXIT_CODE"
	ErrCodeInvalidArgument    = "INVALID_ARGUMENT"
	ErrCodeInvalid            = "INVALID"
	ErrCodeUnsupported        = "UNSUPPORTED"
	ErrCodeResourceExhausted  = "RESOURCE_EXHAUSTED"
	ErrCodeCanceled           = "CANCELED"
	ErrCodeInternal           = "INTERNAL"
	ErrCodeFailedPrecondition = "FAILED_PRECONDITION"
)
