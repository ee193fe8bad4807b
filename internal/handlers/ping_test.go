package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/nodeagent/vserial-rpc/internal/server"
)

func TestPingReportsUptime(t *testing.T) {
	start := time.Now().Add(-5 * time.Second)
	h := Ping(start)

	data, herr := h(context.Background(), &server.Request{})
	if herr != nil {
		t.Fatalf("unexpected error: %v", herr)
	}
	m, ok := data.(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected payload type %T", data)
	}
	uptime, ok := m["uptime"].(int64)
	if !ok || uptime < 5 {
		t.Fatalf("expected uptime >= 5, got %v", m["uptime"])
	}
}
