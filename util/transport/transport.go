package transport

import "net/http"

// Decorator is an http.RoundTripper that runs a decorator against the
// request before delegating to the base transport
type Decorator struct {
	Decorator func(*http.Request) error
	Base      http.RoundTripper
}

func (t *Decorator) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.Decorator(req); err != nil {
		return nil, err
	}

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	return base.RoundTrip(req)
}

// DecorateHeaders returns a decorator adding the given headers
func DecorateHeaders(headers map[string]string) func(*http.Request) error {
	return func(req *http.Request) error {
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		return nil
	}
}
