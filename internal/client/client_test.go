package client

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nodeagent/vserial-rpc/internal/channel"
	"github.com/nodeagent/vserial-rpc/internal/envelope"
	"github.com/nodeagent/vserial-rpc/internal/httpx"
)

// fakeGuest reads one request off ep and replies with resp, looping until
// ep is closed. It stands in for a guest server without depending on the
// internal/server package.
func fakeGuest(t *testing.T, ep *channel.Endpoint, reply func(req *httpx.Request) *envelope.Response) {
	t.Helper()
	for {
		header, err := ep.ReadUntil(time.Now().Add(2*time.Second), []byte("\r\n\r\n"), 16*1024)
		if err != nil {
			return
		}
		req, err := httpx.ParseRequestHeader(header)
		if err != nil {
			return
		}
		var body []byte
		if req.ContentLength > 0 {
			body, err = ep.ReadAtLeast(time.Now().Add(2*time.Second), int(req.ContentLength))
			if err != nil {
				return
			}
		}
		req.Body = body

		env := reply(req)
		payload, _ := envelope.Marshal(env)
		resp := &httpx.Response{
			Proto:         "HTTP/1.1",
			StatusCode:    200,
			Status:        "OK",
			Header:        httpx.Header{},
			ContentLength: int64(len(payload)),
			Body:          payload,
		}
		resp.Header.Set(httpx.HeaderRequestID, req.Header.Get(httpx.HeaderRequestID))
		wire, _ := httpx.SerializeResponse(resp)
		if err := ep.WriteAll(time.Now().Add(2*time.Second), wire); err != nil {
			return
		}
	}
}

func newTestClient(ep *channel.Endpoint) *Client {
	c := New(Config{
		ConnectTimeout: time.Second,
		ReadTimeout:    2 * time.Second,
		WriteTimeout:   2 * time.Second,
		MaxRetries:     2,
		RetryInterval:  10 * time.Millisecond,
		BackoffFactor:  2,
		Logger:         logrus.NewEntry(logrus.New()),
	})
	c.ep = ep
	return c
}

func TestClientRequestRoundTrip(t *testing.T) {
	a, b := net.Pipe()
	guestEp := channel.WrapConn(a)
	hostEp := channel.WrapConn(b)
	defer guestEp.Close()
	defer hostEp.Close()

	go fakeGuest(t, guestEp, func(req *httpx.Request) *envelope.Response {
		return envelope.Success("ok", map[string]interface{}{"echo": req.Path})
	})

	c := newTestClient(hostEp)
	resp, err := c.Request(context.Background(), "GET", "/api/v1/ping", nil, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Code != envelope.CodeSuccess {
		t.Fatalf("got code %d", resp.Code)
	}
}

func TestClientRequestSurfacesBusinessErrorWithoutRetry(t *testing.T) {
	a, b := net.Pipe()
	guestEp := channel.WrapConn(a)
	hostEp := channel.WrapConn(b)
	defer guestEp.Close()
	defer hostEp.Close()

	attempts := 0
	go fakeGuest(t, guestEp, func(req *httpx.Request) *envelope.Response {
		attempts++
		return envelope.Failure(envelope.CodeEndpointNotFound, "no route")
	})

	c := newTestClient(hostEp)
	resp, err := c.Request(context.Background(), "GET", "/api/v1/missing", nil, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Code != envelope.CodeEndpointNotFound {
		t.Fatalf("got code %d", resp.Code)
	}
	if attempts != 1 {
		t.Fatalf("expected no retry on a business error, got %d attempts", attempts)
	}
}

func TestClientRequestFailsWithoutAutoReconnectWhenDisconnected(t *testing.T) {
	c := New(Config{AutoReconnect: false, MaxRetries: 1, RetryInterval: time.Millisecond})
	_, err := c.Request(context.Background(), "GET", "/api/v1/ping", nil, time.Second)
	if err == nil {
		t.Fatal("expected an error when no channel is connected and auto-reconnect is disabled")
	}
}
