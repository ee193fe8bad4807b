package httpx

import (
	"context"
	"io"
	"strings"
	"testing"
)

func TestFixedLengthBody(t *testing.T) {
	raw := "hello world"
	r := strings.NewReader(raw)

	fr := newFixedReader(context.Background(), r, int64(len(raw)), 0)

	data, err := io.ReadAll(fr)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != raw {
		t.Fatalf("got %q, want %q", data, raw)
	}

	n, err := fr.Read(make([]byte, 1))
	if n != 0 || err != io.EOF {
		t.Fatalf("expected EOF, got n=%d err=%v", n, err)
	}
}

func TestFixedLengthTooShort(t *testing.T) {
	r := strings.NewReader("abc")
	fr := newFixedReader(context.Background(), r, 5, 0)

	_, err := io.ReadAll(fr)
	if err == nil {
		t.Fatal("expected ErrLengthMismatch for short body")
	}
}

func TestFixedLengthOverCap(t *testing.T) {
	r := strings.NewReader(strings.Repeat("a", 100))
	fr := newFixedReader(context.Background(), r, 100, 10)

	_, err := io.ReadAll(fr)
	if err == nil {
		t.Fatal("expected ErrBodyTooLarge")
	}
}

func TestReadExactBody(t *testing.T) {
	r := strings.NewReader("hello")
	buf, err := readExactBody(context.Background(), r, 5)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf) != "hello" {
		t.Fatalf("got %q", buf)
	}
}

func TestReadExactBody_Empty(t *testing.T) {
	buf, err := readExactBody(context.Background(), strings.NewReader(""), 0)
	if err != nil || buf != nil {
		t.Fatalf("expected nil, nil, got %v, %v", buf, err)
	}
}

func TestReadExactBody_Short(t *testing.T) {
	r := strings.NewReader("ab")
	_, err := readExactBody(context.Background(), r, 5)
	if err == nil {
		t.Fatal("expected error for short body")
	}
}

func TestContextCancelDuringRead(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := strings.NewReader("abc")
	fr := newFixedReader(ctx, r, 3, 0)

	buf := make([]byte, 2)
	_, err := fr.Read(buf)

	if err == nil {
		t.Fatal("expected context cancellation error")
	}
	if ctx.Err() == nil {
		t.Fatal("expected ctx.Err() to be non-nil")
	}
}
