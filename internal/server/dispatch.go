package server

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/nodeagent/vserial-rpc/internal/channel"
	"github.com/nodeagent/vserial-rpc/internal/envelope"
	"github.com/nodeagent/vserial-rpc/internal/httpx"
)

var headerTerminator = []byte("\r\n\r\n")

// processOne runs one read-dispatch-write cycle. A returned error that is
// not a timeout means the channel itself is no longer usable and the
// caller should stop serving it and reconnect. A malformed request, an
// unknown route, or a handler-reported failure are all written back as
// envelope/HTTP responses and do not return an error here.
func (s *Server) processOne(ctx context.Context, ep *channel.Endpoint, readDeadline time.Time) error {
	start := time.Now()

	headerBytes, err := ep.ReadUntil(readDeadline, headerTerminator, int(s.cfg.MaxHeaderBytes))
	if err != nil {
		return err
	}

	req, err := httpx.ParseRequestHeader(headerBytes)
	if err != nil {
		return s.writeFault(ep, 400, "", envelope.Failure(envelope.CodeInvalidParams, err.Error()))
	}

	entry, ok := s.router.Resolve(req.Method, req.Path)
	if !ok {
		return s.writeFault(ep, 404, "", envelope.Failure(envelope.CodeEndpointNotFound, fmt.Sprintf("no route for %s %s", req.Method, req.Path)))
	}

	maxBody := entry.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = s.cfg.DefaultMaxBody
	}
	if req.ContentLength > maxBody {
		return s.writeFault(ep, 400, "", envelope.Failure(envelope.CodeInvalidParams, "body exceeds max_body_bytes"))
	}

	var body []byte
	if req.ContentLength > 0 {
		body, err = ep.ReadAtLeast(readDeadline, int(req.ContentLength))
		if err != nil {
			return err
		}
	}

	requestID := req.Header.Get(httpx.HeaderRequestID)
	if requestID == "" {
		requestID = envelope.NewRequestID()
	}

	if s.cfg.Auth != nil && entry.AuthRequired {
		if !s.cfg.Auth.Check(req.Header.Get(httpx.HeaderAuthToken)) {
			return s.writeResult(ep, requestID, start, req.Method, req.Path,
				envelope.Failure(envelope.CodePermissionDenied, "authentication required"))
		}
	}

	var release func()
	if s.cfg.RateLimiter != nil {
		var acquired bool
		release, acquired = s.cfg.RateLimiter.Acquire()
		if !acquired {
			s.cfg.Metrics.ObserveRateLimited(req.Method, req.Path)
			return s.writeResult(ep, requestID, start, req.Method, req.Path,
				envelope.Failure(envelope.CodeServiceUnavailable, "rate limit exceeded"))
		}
	}
	if release != nil {
		defer release()
	}

	envReq, jsonErr := envelope.UnmarshalRequest(body)
	if jsonErr != nil {
		return s.writeResult(ep, requestID, start, req.Method, req.Path,
			envelope.Failure(envelope.CodeJSONParseError, jsonErr.Error()))
	}

	query, qerr := httpx.ParseQuery(req.RawQuery)
	if qerr != nil {
		query = map[string]string{}
	}

	deadline := entry.DefaultTimeout
	if envReq.Timeout > 0 {
		requested := time.Duration(envReq.Timeout) * time.Second
		if requested < deadline || deadline == 0 {
			deadline = requested
		}
	}
	if deadline <= 0 || deadline > s.cfg.MaxHandlerTimeout {
		deadline = s.cfg.MaxHandlerTimeout
	}

	resp := s.invoke(ctx, entry, &Request{
		RequestID: requestID,
		Method:    req.Method,
		Path:      req.Path,
		Query:     query,
		Action:    envReq.Action,
		Params:    envReq.Params,
		Timeout:   envReq.Timeout,
	}, deadline)

	return s.writeResult(ep, requestID, start, req.Method, req.Path, resp)
}

// invoke runs the handler under a deadline, recovering panics into
// CodeInternalError and converting a deadline overrun into CodeCmdTimeout.
// The handler goroutine is never forcibly killed (Go has no such
// mechanism); if it outlives the grace window its result is discarded.
func (s *Server) invoke(ctx context.Context, entry *RouteEntry, req *Request, timeout time.Duration) *envelope.Response {
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		data interface{}
		herr *HandlerError
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{herr: NewHandlerError(0, "handler panic: %v", r)}
			}
		}()
		data, herr := entry.Handler(hctx, req)
		done <- outcome{data: data, herr: herr}
	}()

	grace := time.NewTimer(timeout + s.cfg.HandlerGrace)
	defer grace.Stop()

	select {
	case o := <-done:
		if o.herr != nil {
			code := o.herr.Code
			if code == 0 {
				code = envelope.CodeInternalError
			}
			return envelope.Failure(code, o.herr.Detail)
		}
		return envelope.Success("ok", o.data)
	case <-hctx.Done():
		select {
		case o := <-done:
			if o.herr != nil {
				code := o.herr.Code
				if code == 0 {
					code = envelope.CodeInternalError
				}
				return envelope.Failure(code, o.herr.Detail)
			}
			return envelope.Success("ok", o.data)
		case <-grace.C:
			return envelope.Failure(envelope.CodeCmdTimeout, "handler exceeded its deadline")
		}
	}
}

// writeFault serializes a protocol-level fault response (HTTP 4xx/5xx).
func (s *Server) writeFault(ep *channel.Endpoint, status int, requestID string, resp *envelope.Response) error {
	return s.writeEnvelope(ep, status, requestID, resp, time.Time{})
}

// writeResult serializes a business-level response (HTTP 200, code may be
// non-zero) and records the request in metrics.
func (s *Server) writeResult(ep *channel.Endpoint, requestID string, start time.Time, method, path string, resp *envelope.Response) error {
	err := s.writeEnvelope(ep, 200, requestID, resp, start)
	s.cfg.Metrics.ObserveRequest(method, path, resp.Code, time.Since(start))
	return err
}

// writeEnvelope serializes and writes resp. Its deadline is computed fresh
// from cfg.WriteTimeout here, independent of whatever deadline governed the
// read side of this cycle: a handler that legitimately runs for most of its
// timeout must not inherit an already-expired read deadline on the way out.
func (s *Server) writeEnvelope(ep *channel.Endpoint, status int, requestID string, resp *envelope.Response, start time.Time) error {
	body, err := envelope.Marshal(resp)
	if err != nil {
		body, _ = envelope.Marshal(envelope.Failure(envelope.CodeInternalError, "failed to encode response"))
	}

	hresp := &httpx.Response{
		Proto:         "HTTP/1.1",
		StatusCode:    status,
		Status:        httpStatusText(status),
		Header:        httpx.Header{},
		ContentLength: int64(len(body)),
		Body:          body,
	}
	if requestID != "" {
		hresp.Header.Set(httpx.HeaderRequestID, requestID)
	}
	if !start.IsZero() {
		hresp.Header.Set(httpx.HeaderResponseMs, strconv.FormatInt(time.Since(start).Milliseconds(), 10))
	}

	wire, err := httpx.SerializeResponse(hresp)
	if err != nil {
		return err
	}
	return ep.WriteAll(time.Now().Add(s.cfg.WriteTimeout), wire)
}

func httpStatusText(code int) string {
	switch code {
	case 200:
		return "OK"
	case 400:
		return "Bad Request"
	case 404:
		return "Not Found"
	case 500:
		return "Internal Server Error"
	case 503:
		return "Service Unavailable"
	default:
		return "Unknown"
	}
}
