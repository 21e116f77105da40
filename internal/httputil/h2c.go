package httputil

import (
	"net/http"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// H2CHandler wraps an http.Handler with h2c support for unencrypted HTTP/2.
// Browsers multiplex long-lived SSE feeds over a single h2 connection;
// WebSocket upgrades still arrive as HTTP/1.1 and pass through untouched.
func H2CHandler(handler http.Handler) http.Handler {
	return h2c.NewHandler(handler, &http2.Server{
		MaxConcurrentStreams: 250,
		MaxReadFrameSize:     1 << 20,
	})
}
