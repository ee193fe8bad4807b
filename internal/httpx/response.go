package httpx

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/nodeagent/vserial-rpc/internal/netx"
)

// Response represents an HTTP/1.1 response, serialized or parsed.
type Response struct {
	Proto         string // defaults to "HTTP/1.1" if empty
	StatusCode    int
	Status        string
	Header        Header
	ContentLength int64
	Body          []byte
}

// SerializeResponse renders a response's status line, headers, and body into
// a single buffer for atomic transmission, symmetric to SerializeRequest.
func SerializeResponse(resp *Response) ([]byte, error) {
	var buf bytes.Buffer

	proto := resp.Proto
	if proto == "" {
		proto = "HTTP/1.1"
	}
	status := resp.Status
	if status == "" {
		status = strconv.Itoa(resp.StatusCode)
	}

	if _, err := fmt.Fprintf(&buf, "%s %d %s\r\n", proto, resp.StatusCode, status); err != nil {
		return nil, err
	}

	hdr := resp.Header.Clone()
	if hdr == nil {
		hdr = make(Header)
	}
	hdr.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	if err := hdr.Write(&buf); err != nil {
		return nil, err
	}

	buf.Write(resp.Body)
	return buf.Bytes(), nil
}

// ParseResponseHeader parses a status line plus header block already read in
// full off the channel (same read_until contract as ParseRequestHeader).
func ParseResponseHeader(raw []byte) (*Response, error) {
	lr := netx.NewCRLFFastReader(bytes.NewReader(raw))

	line, _, err := lr.ReadLine(len(raw) + 1)
	if err != nil {
		return nil, fmt.Errorf("%w: read status line: %v", ErrMalformed, err)
	}

	proto, code, status, err := parseStatusLine(string(line))
	if err != nil {
		return nil, err
	}

	hdr := make(Header)
	sawContentLength := false
	for {
		line, _, err := lr.ReadLine(len(raw) + 1)
		if err != nil {
			return nil, fmt.Errorf("%w: read header line: %v", ErrMalformed, err)
		}
		if len(line) == 0 {
			break
		}
		i := bytes.IndexByte(line, ':')
		if i <= 0 {
			return nil, fmt.Errorf("%w: bad header line %q", ErrMalformed, line)
		}
		key := CanonicalHeaderKey(string(line[:i]))
		val := strings.TrimSpace(string(line[i+1:]))

		if key == "Transfer-Encoding" {
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

	resp := &Response{
		Proto:      proto,
		StatusCode: code,
		Status:     status,
		Header:     hdr,
	}
	if cl := hdr.Get("Content-Length"); cl != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: bad content-length %q", ErrMalformed, cl)
		}
		resp.ContentLength = n
	}
	return resp, nil
}

// parseStatusLine parses "HTTP/1.1 SP code SP reason".
func parseStatusLine(line string) (proto string, code int, status string, err error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return "", 0, "", fmt.Errorf("%w: malformed status line %q", ErrMalformed, line)
	}
	proto = parts[0]
	if !strings.HasPrefix(proto, "HTTP/1.1") {
		return "", 0, "", fmt.Errorf("%w: unsupported protocol %q", ErrMalformed, proto)
	}
	code, err = strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, "", fmt.Errorf("%w: invalid status code %q", ErrMalformed, parts[1])
	}
	if len(parts) == 3 {
		status = parts[2]
	}
	return proto, code, status, nil
}
