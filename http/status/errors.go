package status

import "errors"

type HTTPError struct {
	Message string
	Code    Code
}

func NewError(code Code, message string) error {
	return HTTPError{
		Code:    code,
		Message: message,
	}
}

func (h HTTPError) Error() string {
	return h.Message
}

// CodeOf extracts the status code of the error, falling back to 500 for errors
// that didn't originate from the protocol layer.
func CodeOf(err error) Code {
	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Code
	}

	return InternalServerError
}

// Every error below, except ErrCloseConnection, is terminal for the connection: after
// any of them the framing of the byte stream can't be trusted anymore.
var (
	ErrCloseConnection = NewError(0, "actively closing the connection")

	ErrMalformedRequestLine = NewError(BadRequest, "malformed request line")
	ErrUnsupportedVersion   = NewError(HTTPVersionNotSupported, "HTTP version not supported")
	ErrMalformedHeader      = NewError(BadRequest, "malformed header field")
	ErrHeadersTooLarge      = NewError(RequestHeaderFieldsTooLarge, "too large headers section")
	ErrLineTooLong          = NewError(RequestURITooLong, "request line is too long")
	ErrFramingConflict      = NewError(BadRequest, "ambiguous message framing")
	ErrMalformedBody        = NewError(BadRequest, "malformed chunk-encoded data")
	ErrBodyTooLarge         = NewError(RequestEntityTooLarge, "request body is too large")
	ErrRequestTimeout       = NewError(RequestTimeout, "request timeout")
	ErrInternalServerError  = NewError(InternalServerError, "internal server error")
)
