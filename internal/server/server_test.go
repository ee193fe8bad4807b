package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/nodeagent/vserial-rpc/internal/channel"
	"github.com/nodeagent/vserial-rpc/internal/envelope"
	"github.com/nodeagent/vserial-rpc/internal/httpx"
)

func pipePair(t *testing.T) (*channel.Endpoint, *channel.Endpoint) {
	t.Helper()
	a, b := net.Pipe()
	return channel.WrapConn(a), channel.WrapConn(b)
}

func pingHandler(ctx context.Context, req *Request) (interface{}, *HandlerError) {
	return map[string]interface{}{"timestamp": 1, "uptime": 0}, nil
}

func slowHandler(ctx context.Context, req *Request) (interface{}, *HandlerError) {
	select {
	case <-time.After(time.Second):
		return "too slow", nil
	case <-ctx.Done():
		<-time.After(2 * time.Second)
		return "late", nil
	}
}

func newTestServer(t *testing.T, guestEP *channel.Endpoint) *Server {
	t.Helper()
	router := NewRouter()
	if err := router.Register(RouteEntry{Method: "GET", Path: "/api/v1/ping", Handler: pingHandler, DefaultTimeout: time.Second}); err != nil {
		t.Fatal(err)
	}
	if err := router.Register(RouteEntry{Method: "POST", Path: "/api/v1/slow", Handler: slowHandler, DefaultTimeout: 50 * time.Millisecond}); err != nil {
		t.Fatal(err)
	}
	router.Build()

	opened := false
	opener := func() (*channel.Endpoint, error) {
		if opened {
			return nil, errStopRequested
		}
		opened = true
		return guestEP, nil
	}
	return New(opener, router, Config{HandlerGrace: 50 * time.Millisecond})
}

func sendRequest(t *testing.T, ep *channel.Endpoint, method, path, requestID string, body []byte) *httpx.Response {
	t.Helper()
	req := &httpx.Request{
		Path:          path,
		Header:        httpx.Header{},
		ContentLength: int64(len(body)),
		Body:          body,
	}
	req.Method = method
	req.Header.Set("X-Request-ID", requestID)

	wire, err := httpx.SerializeRequest(req)
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	if err := ep.WriteAll(deadline, wire); err != nil {
		t.Fatal(err)
	}

	headerBytes, err := ep.ReadUntil(deadline, []byte("\r\n\r\n"), 16*1024)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := httpx.ParseResponseHeader(headerBytes)
	if err != nil {
		t.Fatal(err)
	}
	if resp.ContentLength > 0 {
		respBody, err := ep.ReadAtLeast(deadline, int(resp.ContentLength))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body = respBody
	}
	return resp
}

func TestServerPingRoundTrip(t *testing.T) {
	guestEP, hostEP := pipePair(t)
	srv := newTestServer(t, guestEP)

	done := make(chan error, 1)
	go func() {
		done <- srv.processOne(context.Background(), guestEP, time.Now().Add(2*time.Second))
	}()

	resp := sendRequest(t, hostEP, "GET", "/api/v1/ping", "req-1", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("got status %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") != "req-1" {
		t.Fatalf("X-Request-ID not echoed: %q", resp.Header.Get("X-Request-ID"))
	}

	envResp, err := envelope.UnmarshalResponse(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if envResp.Code != envelope.CodeSuccess {
		t.Fatalf("got code %d", envResp.Code)
	}

	if err := <-done; err != nil {
		t.Fatalf("processOne error: %v", err)
	}
}

func TestServerUnknownRoute(t *testing.T) {
	guestEP, hostEP := pipePair(t)
	srv := newTestServer(t, guestEP)

	done := make(chan error, 1)
	go func() {
		done <- srv.processOne(context.Background(), guestEP, time.Now().Add(2*time.Second))
	}()

	resp := sendRequest(t, hostEP, "GET", "/api/v1/nope", "req-2", nil)
	if resp.StatusCode != 404 {
		t.Fatalf("got status %d", resp.StatusCode)
	}
	envResp, err := envelope.UnmarshalResponse(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if envResp.Code != envelope.CodeEndpointNotFound {
		t.Fatalf("got code %d", envResp.Code)
	}
	<-done
}

func TestServerHandlerTimeout(t *testing.T) {
	guestEP, hostEP := pipePair(t)
	srv := newTestServer(t, guestEP)

	done := make(chan error, 1)
	go func() {
		done <- srv.processOne(context.Background(), guestEP, time.Now().Add(3*time.Second))
	}()

	resp := sendRequest(t, hostEP, "POST", "/api/v1/slow", "req-3", []byte(`{}`))
	envResp, err := envelope.UnmarshalResponse(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if envResp.Code != envelope.CodeCmdTimeout {
		t.Fatalf("got code %d, want CMD_TIMEOUT", envResp.Code)
	}
	<-done
}
