// Package client implements the host-side synchronous RPC client: connect,
// one request at a time, and a bounded retry/backoff policy over the
// virtio-serial channel.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/nodeagent/vserial-rpc/internal/channel"
	"github.com/nodeagent/vserial-rpc/internal/envelope"
	"github.com/nodeagent/vserial-rpc/internal/httpx"
)

// ErrNotConnected is returned by Request when the client has no open
// channel and auto-reconnect is disabled.
var ErrNotConnected = errors.New("client: not connected")

// Config carries the host client's tunables.
type Config struct {
	SocketPath     string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRetries     int
	RetryInterval  time.Duration
	BackoffFactor  float64
	AutoReconnect  bool
	Logger         *logrus.Entry
}

func (c *Config) withDefaults() Config {
	cp := *c
	if cp.ConnectTimeout <= 0 {
		cp.ConnectTimeout = 5 * time.Second
	}
	if cp.ReadTimeout <= 0 {
		cp.ReadTimeout = 30 * time.Second
	}
	if cp.WriteTimeout <= 0 {
		cp.WriteTimeout = 10 * time.Second
	}
	if cp.MaxRetries <= 0 {
		cp.MaxRetries = 3
	}
	if cp.RetryInterval <= 0 {
		cp.RetryInterval = time.Second
	}
	if cp.BackoffFactor <= 0 {
		cp.BackoffFactor = 2
	}
	if cp.Logger == nil {
		cp.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return cp
}

// Client is a single-channel, single-in-flight RPC client. All exported
// methods are safe for concurrent use; calls are serialized on mu so the
// transport never sees interleaved writes.
type Client struct {
	cfg Config
	mu  sync.Mutex
	ep  *channel.Endpoint
}

// New builds a disconnected Client.
func New(cfg Config) *Client {
	return &Client{cfg: cfg.withDefaults()}
}

// Connect opens the channel. It is idempotent: calling it while already
// connected returns success without redialing.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked()
}

func (c *Client) connectLocked() error {
	if c.ep != nil {
		return nil
	}
	ep, err := channel.DialHost(c.cfg.SocketPath, c.cfg.ConnectTimeout)
	if err != nil {
		return err
	}
	c.ep = ep
	return nil
}

// Disconnect closes the channel. A subsequent Request reconnects if
// AutoReconnect is set, otherwise it fails with ErrNotConnected.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ep == nil {
		return nil
	}
	err := c.ep.Close()
	c.ep = nil
	return err
}

// Request sends one (method, path, params) call and returns the decoded
// envelope. It retries CONNECTION_LOST and IO_TIMEOUT up to MaxRetries
// times with exponential backoff; envelope errors (non-zero code) and
// PROTOCOL_MALFORMED are returned immediately without retry.
func (c *Client) Request(ctx context.Context, method, path string, params map[string]interface{}, timeout time.Duration) (*envelope.Response, error) {
	action := envelope.Request{Version: envelope.ProtocolVersion, Params: params, Timeout: int(timeout.Seconds())}
	body, err := envelope.Marshal(action)
	if err != nil {
		return nil, fmt.Errorf("client: encode request: %w", err)
	}

	requestID := envelope.NewRequestID()
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.RetryInterval
	bo.Multiplier = c.cfg.BackoffFactor
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		resp, err := c.attempt(method, path, requestID, body)
		if err == nil {
			return resp, nil
		}
		if !c.retryable(err) {
			return nil, err
		}
		lastErr = err
		c.cfg.Logger.WithError(err).WithField("attempt", attempt+1).Warn("request failed, retrying")

		if attempt == c.cfg.MaxRetries {
			break
		}
		select {
		case <-time.After(bo.NextBackOff()):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func (c *Client) retryable(err error) bool {
	return channel.IsConnectionLost(err) || channel.IsTimeout(err) || errors.Is(err, ErrNotConnected)
}

func (c *Client) attempt(method, path, requestID string, body []byte) (*envelope.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ep == nil {
		if !c.cfg.AutoReconnect {
			return nil, ErrNotConnected
		}
		if err := c.connectLocked(); err != nil {
			return nil, err
		}
	}

	req := &httpx.Request{Path: path, Header: httpx.Header{}, ContentLength: int64(len(body)), Body: body}
	req.Method = method
	req.Header.Set(httpx.HeaderRequestID, requestID)

	wire, err := httpx.SerializeRequest(req)
	if err != nil {
		return nil, fmt.Errorf("client: serialize request: %w", err)
	}

	writeDeadline := time.Now().Add(c.cfg.WriteTimeout)
	if err := c.ep.WriteAll(writeDeadline, wire); err != nil {
		c.dropLocked()
		return nil, err
	}

	readDeadline := time.Now().Add(c.cfg.ReadTimeout)
	headerBytes, err := c.ep.ReadUntil(readDeadline, []byte("\r\n\r\n"), 16*1024)
	if err != nil {
		c.dropLocked()
		return nil, err
	}
	hresp, err := httpx.ParseResponseHeader(headerBytes)
	if err != nil {
		return nil, fmt.Errorf("%w", err)
	}

	var respBody []byte
	if hresp.ContentLength > 0 {
		respBody, err = c.ep.ReadAtLeast(readDeadline, int(hresp.ContentLength))
		if err != nil {
			c.dropLocked()
			return nil, err
		}
	}

	envResp, err := envelope.UnmarshalResponse(respBody)
	if err != nil {
		return nil, fmt.Errorf("client: decode response: %w", err)
	}
	return envResp, nil
}

// dropLocked discards the channel after a transport-level failure so the
// next attempt (or the caller's next Request) redials instead of reusing
// a handle known to be dead. Caller must hold mu.
func (c *Client) dropLocked() {
	if c.ep != nil {
		c.ep.Close()
		c.ep = nil
	}
}
