package httpx

import (
	"errors"
	"net/url"
	"strings"
)

// RequestTarget is a parsed request-target. The virtio-serial RPC channel
// never carries absolute-form or asterisk-form targets (there is no proxy
// hop and no OPTIONS method) — only origin-form, e.g. "GET /api/v1/ping",
// so that is the only form this parser accepts.
type RequestTarget struct {
	Path     string
	RawQuery string
}

// ParseRequestTarget parses the request-target per RFC 7230 §5.3, origin-form only.
func ParseRequestTarget(raw string) (*RequestTarget, error) {
	if raw == "" {
		return nil, errors.New("empty request-target")
	}
	if !strings.HasPrefix(raw, "/") {
		return nil, errors.New("httpx: only origin-form request targets are supported")
	}
	if strings.ContainsAny(raw, " \r\n") {
		return nil, errors.New("invalid characters in request-target")
	}

	t := &RequestTarget{}
	if qmark := strings.IndexByte(raw, '?'); qmark >= 0 {
		t.Path = raw[:qmark]
		t.RawQuery = raw[qmark+1:]
	} else {
		t.Path = raw
	}
	return t, nil
}

// ParseQuery decodes a raw query string into a flat string-to-string
// mapping. When a key repeats, the last value wins.
func ParseQuery(raw string) (map[string]string, error) {
	out := make(map[string]string)
	if raw == "" {
		return out, nil
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return nil, err
	}
	for k, v := range values {
		if len(v) > 0 {
			out[k] = v[len(v)-1]
		}
	}
	return out, nil
}
