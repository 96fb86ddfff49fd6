package status

import "strconv"

type Code uint16

// Codes emitted by the engine itself or commonly returned by handlers.
const (
	Continue           Code = 100
	SwitchingProtocols Code = 101

	OK        Code = 200
	Created   Code = 201
	Accepted  Code = 202
	NoContent Code = 204

	MovedPermanently  Code = 301
	Found             Code = 302
	SeeOther          Code = 303
	NotModified       Code = 304
	TemporaryRedirect Code = 307
	PermanentRedirect Code = 308

	BadRequest                  Code = 400
	Unauthorized                Code = 401
	Forbidden                   Code = 403
	NotFound                    Code = 404
	MethodNotAllowed            Code = 405
	RequestTimeout              Code = 408
	Conflict                    Code = 409
	LengthRequired              Code = 411
	RequestEntityTooLarge       Code = 413
	RequestURITooLong           Code = 414
	UnsupportedMediaType        Code = 415
	ExpectationFailed           Code = 417
	MisdirectedRequest          Code = 421
	UnprocessableEntity         Code = 422
	UpgradeRequired             Code = 426
	TooManyRequests             Code = 429
	RequestHeaderFieldsTooLarge Code = 431

	InternalServerError     Code = 500
	NotImplemented          Code = 501
	BadGateway              Code = 502
	ServiceUnavailable      Code = 503
	GatewayTimeout          Code = 504
	HTTPVersionNotSupported Code = 505
)

var texts = map[Code]string{
	Continue:                    "Continue",
	SwitchingProtocols:          "Switching Protocols",
	OK:                          "OK",
	Created:                     "Created",
	Accepted:                    "Accepted",
	NoContent:                   "No Content",
	MovedPermanently:            "Moved Permanently",
	Found:                       "Found",
	SeeOther:                    "See Other",
	NotModified:                 "Not Modified",
	TemporaryRedirect:           "Temporary Redirect",
	PermanentRedirect:           "Permanent Redirect",
	BadRequest:                  "Bad Request",
	Unauthorized:                "Unauthorized",
	Forbidden:                   "Forbidden",
	NotFound:                    "Not Found",
	MethodNotAllowed:            "Method Not Allowed",
	RequestTimeout:              "Request Timeout",
	Conflict:                    "Conflict",
	LengthRequired:              "Length Required",
	RequestEntityTooLarge:       "Request Entity Too Large",
	RequestURITooLong:           "Request URI Too Long",
	UnsupportedMediaType:        "Unsupported Media Type",
	ExpectationFailed:           "Expectation Failed",
	MisdirectedRequest:          "Misdirected Request",
	UnprocessableEntity:         "Unprocessable Entity",
	UpgradeRequired:             "Upgrade Required",
	TooManyRequests:             "Too Many Requests",
	RequestHeaderFieldsTooLarge: "Request Header Fields Too Large",
	InternalServerError:         "Internal Server Error",
	NotImplemented:              "Not Implemented",
	BadGateway:                  "Bad Gateway",
	ServiceUnavailable:          "Service Unavailable",
	GatewayTimeout:              "Gateway Timeout",
	HTTPVersionNotSupported:     "HTTP Version Not Supported",
}

// lines caches the "<code> <text>\r\n" tail of the status line for every known code,
// so the serializer doesn't need to format integers on the hot path.
var lines = func() map[Code]string {
	m := make(map[Code]string, len(texts))
	for code, text := range texts {
		m[code] = strconv.Itoa(int(code)) + " " + text + "\r\n"
	}

	return m
}()

// Text returns the reason phrase for the code. Unknown codes yield an empty string.
func Text(code Code) string {
	return texts[code]
}

// Line returns the status line without the protocol, including the trailing CRLF.
func Line(code Code) string {
	if line, ok := lines[code]; ok {
		return line
	}

	return strconv.Itoa(int(code)) + " Unknown Status Code\r\n"
}

// Informational reports whether the code belongs to the 1xx class.
func (c Code) Informational() bool {
	return c >= 100 && c < 200
}

// NoBody reports whether a response with this code must not carry a body.
func (c Code) NoBody() bool {
	return c.Informational() || c == NoContent || c == NotModified
}
