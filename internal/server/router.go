package server

import (
	"context"
	"fmt"
	"time"

	"github.com/nodeagent/vserial-rpc/internal/envelope"
)

// HandlerError is the error-kind tag plus detail every handler returns
// instead of a Go error: a typed success payload or an error-kind tag
// plus detail, never a panic. The envelope layer maps it straight to a
// response code.
type HandlerError struct {
	Code   int
	Detail string
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("%s: %s", envelope.ErrorTypeName(e.Code), e.Detail)
}

// NewHandlerError is a convenience constructor.
func NewHandlerError(code int, format string, args ...interface{}) *HandlerError {
	return &HandlerError{Code: code, Detail: fmt.Sprintf(format, args...)}
}

// Handler consumes a parsed request and produces either a success payload
// or a *HandlerError. It must not retain req beyond its own return.
type Handler func(ctx context.Context, req *Request) (interface{}, *HandlerError)

// Request is the borrowed request object a handler invocation receives.
// Params/Query are read-only from the handler's point of view.
type Request struct {
	RequestID string
	Method    string
	Path      string
	Query     map[string]string
	Action    string
	Params    map[string]interface{}
	Timeout   int // seconds, as supplied by the caller; 0 = not specified
}

// RouteEntry is the guest-side route table tuple: method, path,
// handler, body-size cap, default timeout, and whether auth is required.
type RouteEntry struct {
	Method         string
	Path           string
	Handler        Handler
	MaxBodyBytes   int64
	DefaultTimeout time.Duration
	AuthRequired   bool
}

type routeKey struct {
	method string
	path   string
}

// Router is the immutable-after-Build route table: it owns the route
// table exclusively after construction and is read-only thereafter.
type Router struct {
	routes map[routeKey]*RouteEntry
	built  bool
}

// NewRouter creates an empty, mutable router.
func NewRouter() *Router {
	return &Router{routes: make(map[routeKey]*RouteEntry)}
}

// Register adds a route. Duplicate (method, path) registration, or any
// registration after Build, is a startup-fatal error.
func (r *Router) Register(entry RouteEntry) error {
	if r.built {
		return fmt.Errorf("server: cannot register route %s %s after Build", entry.Method, entry.Path)
	}
	key := routeKey{entry.Method, entry.Path}
	if _, exists := r.routes[key]; exists {
		return fmt.Errorf("server: duplicate route registration for %s %s", entry.Method, entry.Path)
	}
	cp := entry
	r.routes[key] = &cp
	return nil
}

// Build freezes the route table. After Build, Register always fails.
func (r *Router) Build() {
	r.built = true
}

// Resolve looks up the route entry for (method, path-without-query).
func (r *Router) Resolve(method, path string) (*RouteEntry, bool) {
	e, ok := r.routes[routeKey{method, path}]
	return e, ok
}
