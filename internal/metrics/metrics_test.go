package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/nodeagent/vserial-rpc/internal/server"
)

func TestCollectorsImplementServerMetrics(t *testing.T) {
	var _ server.Metrics = (*Collectors)(nil)
}

func TestObserveRequestIncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.ObserveRequest("GET", "/api/v1/ping", 0, 5*time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	if !hasCounterValue(families, "vserial_rpc_requests_total", 1) {
		t.Fatalf("expected requests_total to be incremented, got: %+v", families)
	}
}

func hasCounterValue(families []*dto.MetricFamily, name string, want float64) bool {
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			if m.GetCounter().GetValue() == want {
				return true
			}
		}
	}
	return false
}
