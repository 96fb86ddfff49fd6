package http

import (
	"github.com/indigo-web/reactor/http/headers"
	"github.com/indigo-web/reactor/http/mime"
	"github.com/indigo-web/reactor/http/status"
	"github.com/indigo-web/utils/strcomp"
	"github.com/indigo-web/utils/uf"
	json "github.com/json-iterator/go"
)

const (
	DefaultContentType = mime.Plain
	JSONContentType    = mime.JSON

	// why 7? There's no theory behind it, the usual response simply doesn't carry more.
	preallocRespHeaders = 7
)

// Fields are the response's internals, as seen by the serializer.
type Fields struct {
	Code        status.Code
	ContentType string
	Headers     []headers.Field
	Body        []byte
	// Chunked makes the serializer use chunked transfer coding instead of
	// Content-Length.
	Chunked bool
}

type Response struct {
	fields Fields
}

// NewResponse returns a new instance of the Response object with status code set to
// 200 OK and text/plain content-type.
func NewResponse() *Response {
	return &Response{
		fields: Fields{
			Code:        status.OK,
			ContentType: DefaultContentType,
			Headers:     make([]headers.Field, 0, preallocRespHeaders),
		},
	}
}

// Code sets the response code.
func (r *Response) Code(code status.Code) *Response {
	r.fields.Code = code
	return r
}

// ContentType sets a custom Content-Type header value.
func (r *Response) ContentType(value string) *Response {
	r.fields.ContentType = value
	return r
}

// Header adds the values to the key. Framing headers are owned by the serializer
// and thus silently ignored.
func (r *Response) Header(key string, values ...string) *Response {
	switch {
	case strcomp.EqualFold(key, "content-type"):
		return r.ContentType(values[0])
	case strcomp.EqualFold(key, "content-length"), strcomp.EqualFold(key, "transfer-encoding"):
		return r
	}

	for _, value := range values {
		r.fields.Headers = append(r.fields.Headers, headers.Field{
			Key:   key,
			Value: value,
		})
	}

	return r
}

// String sets the response's body to the passed string.
func (r *Response) String(body string) *Response {
	return r.Bytes(uf.S2B(body))
}

// Bytes sets the response's body to passed slice WITHOUT COPYING.
func (r *Response) Bytes(body []byte) *Response {
	r.fields.Body = body
	return r
}

// Write implements io.Writer. It always returns n=len(b) and err=nil.
func (r *Response) Write(b []byte) (n int, err error) {
	r.fields.Body = append(r.fields.Body, b...)
	return len(b), nil
}

// Chunked enables chunked transfer coding for the body.
func (r *Response) Chunked() *Response {
	r.fields.Chunked = true
	return r
}

// TryJSON serializes the model into the body.
func (r *Response) TryJSON(model any) (*Response, error) {
	r.fields.Body = r.fields.Body[:0]
	stream := json.ConfigDefault.BorrowStream(r)
	stream.WriteVal(model)
	err := stream.Flush()
	json.ConfigDefault.ReturnStream(stream)

	return r.ContentType(JSONContentType), err
}

// JSON does the same as TryJSON does, except the error is turned into a response.
func (r *Response) JSON(model any) *Response {
	resp, err := r.TryJSON(model)
	if err != nil {
		return r.Error(err)
	}

	return resp
}

// Error turns the response into an error response. HTTPError values carry their own
// code, everything else becomes 500. Nil is a no-op.
func (r *Response) Error(err error) *Response {
	if err == nil {
		return r
	}

	return r.
		Code(status.CodeOf(err)).
		ContentType(DefaultContentType).
		String(err.Error())
}

// Reveal exposes the internals to the serializer.
func (r *Response) Reveal() Fields {
	return r.fields
}

// Clear resets the response to its initial state, keeping allocated space.
func (r *Response) Clear() *Response {
	r.fields.Code = status.OK
	r.fields.ContentType = DefaultContentType
	r.fields.Headers = r.fields.Headers[:0]
	r.fields.Body = nil
	r.fields.Chunked = false
	return r
}

// Handler is invoked for every parsed request, in the order they arrived on the
// connection. Returning nil defers the response: it must then be delivered later
// using the request's Ticket, and responses to the following requests on the same
// connection are held back until it is.
type Handler func(request *Request) *Response
