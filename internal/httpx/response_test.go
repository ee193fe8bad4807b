package httpx

import (
	"strings"
	"testing"
)

func TestSerializeResponse(t *testing.T) {
	resp := &Response{
		StatusCode: 200,
		Status:     "OK",
		Header:     Header{},
		Body:       []byte("hello world"),
	}
	resp.Header.Set("Content-Type", "application/json; charset=utf-8")

	raw, err := SerializeResponse(resp)
	if err != nil {
		t.Fatal(err)
	}
	got := string(raw)
	if !strings.HasPrefix(got, "HTTP/1.1 200 OK\r\n") {
		t.Fatalf("bad status line: %q", got)
	}
	if !strings.Contains(got, "Content-Length: 11\r\n") {
		t.Fatalf("missing content-length: %q", got)
	}
	if !strings.HasSuffix(got, "\r\n\r\nhello world") {
		t.Fatalf("body missing or malformed: %q", got)
	}
}

func TestSerializeResponse_EmptyBody(t *testing.T) {
	resp := &Response{StatusCode: 404, Status: "Not Found", Header: Header{}}
	raw, err := SerializeResponse(resp)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), "Content-Length: 0\r\n") {
		t.Fatalf("expected zero content-length: %q", raw)
	}
}

func TestParseResponseHeader(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nX-Request-ID: r1\r\nContent-Length: 5\r\n\r\n"
	resp, err := ParseResponseHeader([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 200 || resp.Status != "OK" {
		t.Fatalf("status mismatch: %+v", resp)
	}
	if resp.ContentLength != 5 {
		t.Fatalf("content-length mismatch: %d", resp.ContentLength)
	}
	if resp.Header.Get("X-Request-Id") != "r1" {
		t.Fatalf("header mismatch: %+v", resp.Header)
	}
}

func TestParseResponseHeader_RejectsTransferEncoding(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n"
	if _, err := ParseResponseHeader([]byte(raw)); err == nil {
		t.Fatal("expected error for transfer-encoding")
	}
}

func TestParseResponseHeader_RejectsDuplicateContentLength(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nContent-Length: 1\r\nContent-Length: 2\r\n\r\n"
	if _, err := ParseResponseHeader([]byte(raw)); err == nil {
		t.Fatal("expected error for duplicate content-length")
	}
}

func TestResponseRoundTrip(t *testing.T) {
	resp := &Response{
		StatusCode: 200,
		Status:     "OK",
		Header:     Header{},
		Body:       []byte(`{"code":0}`),
	}
	raw, err := SerializeResponse(resp)
	if err != nil {
		t.Fatal(err)
	}

	idx := strings.Index(string(raw), "\r\n\r\n")
	if idx < 0 {
		t.Fatal("no header terminator found")
	}
	headerBlock := raw[:idx+4]
	body := raw[idx+4:]

	got, err := ParseResponseHeader(headerBlock)
	if err != nil {
		t.Fatal(err)
	}
	if got.StatusCode != resp.StatusCode {
		t.Fatalf("status code mismatch: %d != %d", got.StatusCode, resp.StatusCode)
	}
	if got.ContentLength != int64(len(resp.Body)) {
		t.Fatalf("content-length mismatch: %d != %d", got.ContentLength, len(resp.Body))
	}
	if string(body) != string(resp.Body) {
		t.Fatalf("body mismatch: %q != %q", body, resp.Body)
	}
}
