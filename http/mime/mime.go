// Package mime lists the content types responses are commonly sent with.
package mime

type MIME = string

const (
	OctetStream MIME = "application/octet-stream"
	Plain       MIME = "text/plain"
	HTML        MIME = "text/html"
	CSS         MIME = "text/css"
	JS          MIME = "text/javascript"
	XML         MIME = "text/xml"
	JSON        MIME = "application/json"
	YAML        MIME = "application/yaml"
	PDF         MIME = "application/pdf"
	WASM        MIME = "application/wasm"
	PNG         MIME = "image/png"
	JPEG        MIME = "image/jpeg"
	SVG         MIME = "image/svg+xml"
)
