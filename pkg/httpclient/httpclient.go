package httpclient

import (
	"net/http"
)

// DefaultUserAgent identifies torfetch to the release mirrors
const DefaultUserAgent = "torfetch"

// NewClient creates an HTTP client that sends userAgent with every request.
// An empty userAgent selects DefaultUserAgent.
func NewClient(userAgent string) *http.Client {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &http.Client{
		Transport: &headerTransport{
			Base:   http.DefaultTransport,
			Header: http.Header{"User-Agent": []string{userAgent}},
		},
	}
}

// headerTransport is a RoundTripper that adds fixed headers to each request
type headerTransport struct {
	Base   http.RoundTripper
	Header http.Header
}

// RoundTrip implements the http.RoundTripper interface
func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone the request to avoid modifying the original
	req2 := req.Clone(req.Context())

	for key, values := range t.Header {
		if req2.Header.Get(key) != "" {
			continue
		}
		for _, v := range values {
			req2.Header.Add(key, v)
		}
	}

	return t.base().RoundTrip(req2)
}

func (t *headerTransport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}
