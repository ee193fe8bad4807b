package httpx

import (
	"context"
	"errors"
	"io"
)

// Sentinel errors shared by request and response body reading.
//
// This codec supports Content-Length-framed bodies only: chunked transfer
// encoding is rejected at the header layer and never attempted here.
var (
	ErrBodyTooLarge   = errors.New("httpx: body too large")
	ErrLengthMismatch = errors.New("httpx: content-length mismatch")
)

// fixedReader reads exactly n bytes from r, enforcing a hard cap along the way.
// It is the only body-reading strategy this codec supports.
type fixedReader struct {
	ctx       context.Context
	r         io.Reader
	n         int64 // remaining bytes to read
	limit     int64 // hard cap (0 = no cap beyond n)
	readTotal int64
}

func newFixedReader(ctx context.Context, r io.Reader, n, limit int64) io.ReadCloser {
	return &fixedReader{ctx: ctx, r: r, n: n, limit: limit}
}

func (f *fixedReader) Read(p []byte) (int, error) {
	select {
	case <-f.ctx.Done():
		return 0, f.ctx.Err()
	default:
	}

	if f.n <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > f.n {
		p = p[:f.n]
	}

	n, err := f.r.Read(p)
	f.n -= int64(n)
	f.readTotal += int64(n)

	if f.limit > 0 && f.readTotal > f.limit {
		return n, ErrBodyTooLarge
	}
	if err == io.EOF && f.n > 0 {
		return n, ErrLengthMismatch
	}
	if f.n == 0 && err == nil {
		return n, io.EOF
	}
	return n, err
}

func (f *fixedReader) Close() error { return nil }

// readExactBody reads exactly contentLength bytes from r. Callers must have
// already checked contentLength against the route's max_body_bytes —
// this just enforces it can't read more than it was told to expect.
func readExactBody(ctx context.Context, r io.Reader, contentLength int64) ([]byte, error) {
	if contentLength == 0 {
		return nil, nil
	}
	rc := newFixedReader(ctx, r, contentLength, contentLength)
	buf := make([]byte, contentLength)
	if _, err := io.ReadFull(rc, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrLengthMismatch
		}
		return nil, err
	}
	return buf, nil
}
