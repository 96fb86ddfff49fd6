package http

import (
	"testing"

	"github.com/indigo-web/reactor/http/headers"
	"github.com/indigo-web/reactor/http/method"
	"github.com/indigo-web/reactor/http/status"
	"github.com/stretchr/testify/require"
)

func TestClassifyTarget(t *testing.T) {
	tcs := []struct {
		Method method.Method
		Raw    string
		Form   TargetForm
	}{
		{method.GET, "/", FormOrigin},
		{method.GET, "/index.html?a=b", FormOrigin},
		{method.OPTIONS, "*", FormAsterisk},
		{method.CONNECT, "example.com:443", FormAuthority},
		{method.GET, "http://example.com/", FormAbsolute},
		{method.GET, "urn:isbn:0451450523", FormAbsolute},
		{method.GET, "example.com", FormOpaque},
		{method.GET, "1http:", FormOpaque},
	}

	for _, tc := range tcs {
		require.Equal(t, tc.Form, ClassifyTarget(tc.Method, tc.Raw).Form, tc.Raw)
	}

	target := ClassifyTarget(method.GET, "/search?q=go&x")
	require.Equal(t, "/search", target.Path)
	require.Equal(t, "q=go&x", target.Query)
}

func TestRequestClone(t *testing.T) {
	buff := []byte("/hello?x=1")
	request := NewRequest(headers.New(), headers.New())
	request.Method = method.POST
	request.Target = ClassifyTarget(method.POST, string(buff))
	request.Headers.Add("Hello", "world")
	request.Body = buff[:3]

	clone := request.Clone()
	request.Reset()
	buff[1] = 'j'

	require.Equal(t, method.POST, clone.Method)
	require.Equal(t, "/hello", clone.Target.Path)
	require.Equal(t, "x=1", clone.Target.Query)
	require.Equal(t, "world", clone.Headers.Value("hello"))
	require.Equal(t, "/he", string(clone.Body))
	require.True(t, request.Headers.Empty())
}

func TestResponse(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		resp := NewResponse().JSON(map[string]int{"a": 1})
		fields := resp.Reveal()
		require.Equal(t, JSONContentType, fields.ContentType)
		require.JSONEq(t, `{"a":1}`, string(fields.Body))
	})

	t.Run("framing headers ignored", func(t *testing.T) {
		resp := NewResponse().
			Header("Content-Length", "100").
			Header("Transfer-Encoding", "gzip").
			Header("Content-Type", "text/html").
			Header("X-Custom", "1", "2")
		fields := resp.Reveal()
		require.Equal(t, "text/html", fields.ContentType)
		require.Equal(t, []headers.Field{{"X-Custom", "1"}, {"X-Custom", "2"}}, fields.Headers)
	})

	t.Run("error", func(t *testing.T) {
		fields := NewResponse().Error(status.ErrHeadersTooLarge).Reveal()
		require.Equal(t, status.RequestHeaderFieldsTooLarge, fields.Code)
		require.Equal(t, "too large headers section", string(fields.Body))
	})

	t.Run("clear", func(t *testing.T) {
		resp := NewResponse().Code(status.NotFound).Chunked().String("hi")
		fields := resp.Clear().Reveal()
		require.Equal(t, status.OK, fields.Code)
		require.False(t, fields.Chunked)
		require.Empty(t, fields.Body)
	})
}
