package handlers

import (
	"context"
	"runtime"
	"testing"

	"github.com/nodeagent/vserial-rpc/internal/server"
)

func TestSystemInfoReportsArchAndOS(t *testing.T) {
	h := SystemInfo()
	data, herr := h(context.Background(), &server.Request{})
	if herr != nil {
		t.Fatalf("unexpected error: %v", herr)
	}
	m := data.(map[string]interface{})
	if m["os"] != runtime.GOOS {
		t.Fatalf("got os %v", m["os"])
	}
	if m["arch"] != runtime.GOARCH {
		t.Fatalf("got arch %v", m["arch"])
	}
	if m["cpu_count"] != runtime.NumCPU() {
		t.Fatalf("got cpu_count %v", m["cpu_count"])
	}
}

func TestSystemStatusReportsProcessCount(t *testing.T) {
	h := SystemStatus()
	data, herr := h(context.Background(), &server.Request{})
	if herr != nil {
		t.Fatalf("unexpected error: %v", herr)
	}
	m := data.(map[string]interface{})
	if _, ok := m["process_count"].(int); !ok {
		t.Fatalf("missing process_count: %v", m)
	}
	if _, ok := m["load_average"].([]float64); !ok {
		t.Fatalf("missing load_average: %v", m)
	}
}
