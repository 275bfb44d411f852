package engineio

import (
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// defaultHandshakeTimeout is the request timeout used for the handshake
// GET, before a [SessionDescriptor] (and thus a real ping_interval) exists.
const defaultHandshakeTimeout = 10 * time.Second

// Header is a single extra HTTP header attached to every request the
// transports make, as described in spec.md §3/§6.
type Header struct {
	Name  string
	Value string
}

// ConnectionConfig holds everything needed to dial an engine.io server:
// the endpoint URL and any extra headers to attach to every HTTP request
// (polling GET/POST and the WebSocket handshake alike).
type ConnectionConfig struct {
	URL          string
	ExtraHeaders []Header
}

// validate checks that c.URL is an absolute HTTP(S) URL with a non-empty
// path, per spec.md §6 ("must be HTTP(S), must be a base URL, must have
// a non-empty path").
func (c ConnectionConfig) validate() (*url.URL, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse connection URL: %w", ErrInvalidState, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: connection URL scheme must be http(s), got %q", ErrInvalidState, u.Scheme)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("%w: connection URL must be absolute", ErrInvalidState)
	}
	if u.Path == "" {
		return nil, fmt.Errorf("%w: connection URL must have a non-empty path", ErrInvalidState)
	}
	return u, nil
}

// applyHeaders attaches the config's extra headers to an outgoing request.
func (c ConnectionConfig) applyHeaders(req *http.Request) {
	for _, h := range c.ExtraHeaders {
		req.Header.Add(h.Name, h.Value)
	}
}
