package server

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/nodeagent/vserial-rpc/internal/channel"
	"github.com/nodeagent/vserial-rpc/internal/policy"
)

// ChannelOpener produces a fresh Channel Endpoint. It is called once at
// startup and again after every CONNECTION_LOST, so on the guest side it is
// typically channel.OpenGuest bound to a fixed device path, and in tests a
// func returning a net.Pipe-backed Endpoint.
type ChannelOpener func() (*channel.Endpoint, error)

// Config carries the guest server's tunables. It is passed by value into
// New; there is no package-level mutable configuration.
type Config struct {
	MaxHeaderBytes    int64
	DefaultMaxBody    int64
	RequestReadWindow time.Duration // read deadline applied to each header read while idle
	WriteTimeout      time.Duration // deadline given to each response write, computed fresh after the handler returns
	MaxHandlerTimeout time.Duration // hard ceiling on any handler deadline
	HandlerGrace      time.Duration // grace window after deadline before a handler is abandoned
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	RateLimiter       *policy.RateLimiter // nil disables rate limiting
	Auth              policy.AuthChecker  // nil disables auth enforcement
	Logger            *logrus.Entry
	Metrics           Metrics
}

// Metrics is the narrow observability hook the loop calls into. A nil
// Metrics field is replaced with noopMetrics so callers never need to
// nil-check.
type Metrics interface {
	ObserveRequest(method, path string, code int, duration time.Duration)
	ObserveRateLimited(method, path string)
	ObserveReconnect()
}

type noopMetrics struct{}

func (noopMetrics) ObserveRequest(string, string, int, time.Duration) {}
func (noopMetrics) ObserveRateLimited(string, string)                 {}
func (noopMetrics) ObserveReconnect()                                 {}

func (c *Config) withDefaults() Config {
	cp := *c
	if cp.MaxHeaderBytes <= 0 {
		cp.MaxHeaderBytes = 16 * 1024
	}
	if cp.DefaultMaxBody <= 0 {
		cp.DefaultMaxBody = 10 * 1024 * 1024
	}
	if cp.RequestReadWindow <= 0 {
		cp.RequestReadWindow = 5 * time.Second
	}
	if cp.WriteTimeout <= 0 {
		cp.WriteTimeout = 10 * time.Second
	}
	if cp.MaxHandlerTimeout <= 0 {
		cp.MaxHandlerTimeout = 120 * time.Second
	}
	if cp.HandlerGrace <= 0 {
		cp.HandlerGrace = 5 * time.Second
	}
	if cp.InitialBackoff <= 0 {
		cp.InitialBackoff = time.Second
	}
	if cp.MaxBackoff <= 0 {
		cp.MaxBackoff = 30 * time.Second
	}
	if cp.Logger == nil {
		cp.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if cp.Metrics == nil {
		cp.Metrics = noopMetrics{}
	}
	return cp
}

// Server runs the guest-side connect/serve/reconnect state machine over one
// channel at a time.
type Server struct {
	open   ChannelOpener
	router *Router
	cfg    Config

	state  stateBox
	stopCh chan struct{}
}

// New builds a Server. router must already be Build()-frozen.
func New(open ChannelOpener, router *Router, cfg Config) *Server {
	return &Server{
		open:   open,
		router: router,
		cfg:    cfg.withDefaults(),
		stopCh: make(chan struct{}),
	}
}

// State reports the server's current lifecycle state.
func (s *Server) State() State { return s.state.get() }

// Stop requests an orderly shutdown: the in-flight handler (if any) is
// allowed to finish, the channel is closed, and Run returns. Stop is
// idempotent.
func (s *Server) Stop() {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
}

var errStopRequested = errors.New("server: stop requested")

// newBackoff builds the doubling 1s-to-30s-class backoff used between
// reconnect attempts, with no randomization and no elapsed-time ceiling —
// the state machine itself owns when to stop retrying.
func newBackoff(cfg Config) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialBackoff
	b.MaxInterval = cfg.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	return b
}

// Run drives the state machine until Stop is called or ctx is canceled.
// It never returns while the server is healthy; callers run it on its own
// goroutine.
func (s *Server) Run(ctx context.Context) error {
	s.state.set(StateInitializing)
	bo := newBackoff(s.cfg)
	log := s.cfg.Logger

	for {
		if s.stopRequested(ctx) {
			s.state.set(StateStopped)
			return nil
		}

		ep, err := s.open()
		if err != nil {
			log.WithError(err).Warn("channel open failed, backing off")
			s.state.set(StateReconnecting)
			s.cfg.Metrics.ObserveReconnect()
			if !s.sleepBackoff(ctx, bo) {
				s.state.set(StateStopped)
				return nil
			}
			continue
		}

		s.state.set(StateRunning)
		bo.Reset()
		log.Info("channel open, serving requests")

		err = s.serveChannel(ctx, ep)
		ep.Close()

		if errors.Is(err, errStopRequested) {
			s.state.set(StateStopped)
			log.Info("stop requested, channel closed")
			return nil
		}

		log.WithError(err).Warn("channel lost, reconnecting")
		s.state.set(StateReconnecting)
		s.cfg.Metrics.ObserveReconnect()
		if !s.sleepBackoff(ctx, bo) {
			s.state.set(StateStopped)
			return nil
		}
	}
}

func (s *Server) stopRequested(ctx context.Context) bool {
	select {
	case <-s.stopCh:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// sleepBackoff sleeps for bo's next interval. It returns false if a
// stop/cancel arrived during the sleep.
func (s *Server) sleepBackoff(ctx context.Context, bo *backoff.ExponentialBackOff) bool {
	d := bo.NextBackOff()
	if d == backoff.Stop {
		return false
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-s.stopCh:
		return false
	case <-ctx.Done():
		return false
	}
	return true
}

// serveChannel processes requests strictly sequentially until the channel
// is lost or a stop is requested. A read timeout while idle is not an
// error: it's the mechanism by which the loop rechecks stopCh/ctx without
// blocking forever on a channel with no traffic.
func (s *Server) serveChannel(ctx context.Context, ep *channel.Endpoint) error {
	for {
		if s.stopRequested(ctx) {
			s.state.set(StateStopping)
			return errStopRequested
		}

		deadline := time.Now().Add(s.cfg.RequestReadWindow)
		err := s.processOne(ctx, ep, deadline)
		if err == nil {
			continue
		}
		if channel.IsTimeout(err) {
			continue
		}
		return err
	}
}
