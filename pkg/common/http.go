package common

import (
	_ "embed"
	"net/http"
	"strings"
	"time"
)

//go:embed VERSION
var version string

// Version returns the build version embedded in the binary.
func Version() string {
	return strings.TrimSpace(version)
}

// UserAgent identifies this build to upstream APIs.
func UserAgent() string {
	return "NestAutoHumidity/" + Version()
}

// headerTransport stamps a fixed set of headers on every request.
type headerTransport struct {
	base   http.RoundTripper
	header http.Header
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// callers may retry with the same request so only the clone is touched
	req = req.Clone(req.Context())
	for k, vs := range t.header {
		req.Header[k] = append([]string(nil), vs...)
	}
	return t.base.RoundTrip(req)
}

// Transport returns a RoundTripper that sends header and our User-Agent with
// every request, replacing any values the caller set. A nil base uses
// http.DefaultTransport.
func Transport(base http.RoundTripper, header http.Header) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	h := header.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Set("User-Agent", UserAgent())
	return &headerTransport{base: base, header: h}
}

// HTTPClient returns a client that stamps header on every request and gives
// up after timeout.
func HTTPClient(timeout time.Duration, header http.Header) *http.Client {
	return &http.Client{
		Transport: Transport(nil, header),
		Timeout:   timeout,
	}
}
