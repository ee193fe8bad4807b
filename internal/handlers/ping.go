package handlers

import (
	"context"
	"time"

	"github.com/nodeagent/vserial-rpc/internal/server"
)

// Ping answers GET /api/v1/ping with a liveness payload. startedAt is
// captured once at daemon startup so uptime survives across requests but
// not across process restarts.
func Ping(startedAt time.Time) server.Handler {
	return func(ctx context.Context, req *server.Request) (interface{}, *server.HandlerError) {
		return map[string]interface{}{
			"timestamp": time.Now().Unix(),
			"uptime":    int64(time.Since(startedAt).Seconds()),
		}, nil
	}
}
