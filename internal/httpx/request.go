package httpx

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/nodeagent/vserial-rpc/internal/netx"
)

// Methods accepted by this RPC's HTTP/1.1 subset.
const (
	MethodGet  = "GET"
	MethodPost = "POST"
)

// ErrMalformed wraps every start-line/header parse failure.
var ErrMalformed = fmt.Errorf("httpx: malformed message")

// requestLine models the first line of an HTTP/1.1 request.
type requestLine struct {
	Method     string
	Target     string
	Proto      string
	ProtoMajor int
	ProtoMinor int
}

// String returns the serialized form of the request line.
func (r requestLine) String() string {
	return fmt.Sprintf("%s %s %s", r.Method, r.Target, r.Proto)
}

// Request represents a parsed HTTP/1.1 request. Body is attached separately
// by the caller once it knows the route's max_body_bytes, so it never has to
// allocate an oversize buffer before rejecting it.
type Request struct {
	requestLine
	Path          string
	RawQuery      string
	Header        Header
	ContentLength int64
	Body          []byte
}

// ParseRequestHeader parses a request line plus header block that the caller
// already read off the channel in full, via the Channel Endpoint's
// ReadUntil primitive bounded by a max header size. It does not touch the
// body.
func ParseRequestHeader(raw []byte) (*Request, error) {
	lr := netx.NewCRLFFastReader(bytes.NewReader(raw))

	line, _, err := lr.ReadLine(len(raw) + 1)
	if err != nil {
		return nil, fmt.Errorf("%w: read start line: %v", ErrMalformed, err)
	}
	rl, err := parseRequestLine(string(line))
	if err != nil {
		return nil, err
	}
	if rl.Method != MethodGet && rl.Method != MethodPost {
		return nil, fmt.Errorf("%w: unsupported method %q", ErrMalformed, rl.Method)
	}

	target, err := ParseRequestTarget(rl.Target)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	hdr := make(Header)
	sawContentLength := false
	for {
		line, _, err := lr.ReadLine(len(raw) + 1)
		if err != nil {
			return nil, fmt.Errorf("%w: read header line: %v", ErrMalformed, err)
		}
		if len(line) == 0 {
			break // blank line: end of header block
		}
		i := bytes.IndexByte(line, ':')
		if i <= 0 {
			return nil, fmt.Errorf("%w: bad header line %q", ErrMalformed, line)
		}
		key := CanonicalHeaderKey(string(line[:i]))
		val := strings.TrimSpace(string(line[i+1:]))

		if key == "Transfer-Encoding" {
			// Chunked transfer encoding is unsupported; reject outright.
			return nil, fmt.Errorf("%w: transfer-encoding is not supported", ErrMalformed)
		}
		if key == "Content-Length" {
			if sawContentLength {
				return nil, fmt.Errorf("%w: duplicate content-length", ErrMalformed)
			}
			sawContentLength = true
		}
		hdr.Add(key, val)
	}

	req := &Request{
		requestLine: rl,
		Path:        target.Path,
		RawQuery:    target.RawQuery,
		Header:      hdr,
	}

	if cl := hdr.Get("Content-Length"); cl != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: bad content-length %q", ErrMalformed, cl)
		}
		req.ContentLength = n
	}

	return req, nil
}

// parseRequestLine parses "METHOD SP Request-URI SP HTTP/x.y".
func parseRequestLine(line string) (rl requestLine, err error) {
	parts := strings.Fields(line)
	if len(parts) != 3 {
		return rl, fmt.Errorf("%w: malformed request line %q", ErrMalformed, line)
	}

	method, target, proto := parts[0], parts[1], parts[2]

	if len(method) == 0 || len(method) > 20 {
		return rl, fmt.Errorf("%w: invalid method %q", ErrMalformed, method)
	}
	for _, c := range method {
		if c < 'A' || c > 'Z' {
			return rl, fmt.Errorf("%w: method must be uppercase A-Z: %q", ErrMalformed, method)
		}
	}

	if !strings.HasPrefix(proto, "HTTP/") {
		return rl, fmt.Errorf("%w: invalid protocol %q", ErrMalformed, proto)
	}
	ver := strings.TrimPrefix(proto, "HTTP/")
	dot := strings.IndexByte(ver, '.')
	if dot < 0 {
		return rl, fmt.Errorf("%w: invalid HTTP version %q", ErrMalformed, proto)
	}
	major, err1 := strconv.Atoi(ver[:dot])
	minor, err2 := strconv.Atoi(ver[dot+1:])
	if err1 != nil || err2 != nil {
		return rl, fmt.Errorf("%w: invalid HTTP version numbers %q", ErrMalformed, proto)
	}
	if major != 1 || minor != 1 {
		return rl, fmt.Errorf("%w: only HTTP/1.1 is supported, got %q", ErrMalformed, proto)
	}

	return requestLine{
		Method:     method,
		Target:     target,
		Proto:      proto,
		ProtoMajor: major,
		ProtoMinor: minor,
	}, nil
}

// SerializeRequest renders a request's start line, headers, and body into a
// single buffer for atomic transmission.
func SerializeRequest(req *Request) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "%s %s HTTP/1.1\r\n", req.Method, requestTargetString(req))

	hdr := req.Header.Clone()
	if hdr == nil {
		hdr = make(Header)
	}
	hdr.Set("Content-Length", strconv.Itoa(len(req.Body)))
	if err := hdr.Write(&buf); err != nil {
		return nil, err
	}

	buf.Write(req.Body)
	return buf.Bytes(), nil
}

func requestTargetString(req *Request) string {
	if req.RawQuery == "" {
		return req.Path
	}
	return req.Path + "?" + req.RawQuery
}
