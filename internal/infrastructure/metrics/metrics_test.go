package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nerrad567/gray-logic-link/internal/engine"
)

var _ engine.Metrics = (*Collector)(nil)

func TestCollector_Counters(t *testing.T) {
	c := New(prometheus.NewRegistry())

	c.MessageReceived("response")
	c.MessageReceived("response")
	c.MessageMalformed("status")
	c.CommandSent("set_power")
	c.CommandResolved("set_power", "completed", 40*time.Millisecond)
	c.CommandResolved("set_power", "timeout", 30*time.Second)
	c.ResponseUnmatched()
	c.PendingCommands(3)
	c.StatusUpdated("feedback")
	c.ObserverFailed()

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"received", testutil.ToFloat64(c.messagesReceived.WithLabelValues("response")), 2},
		{"malformed", testutil.ToFloat64(c.messagesMalformed.WithLabelValues("status")), 1},
		{"sent", testutil.ToFloat64(c.commandsSent.WithLabelValues("set_power")), 1},
		{"completed", testutil.ToFloat64(c.commandResults.WithLabelValues("set_power", "completed")), 1},
		{"timeout", testutil.ToFloat64(c.commandResults.WithLabelValues("set_power", "timeout")), 1},
		{"unmatched", testutil.ToFloat64(c.responsesUnmatched), 1},
		{"pending", testutil.ToFloat64(c.pendingCommands), 3},
		{"status", testutil.ToFloat64(c.statusUpdates.WithLabelValues("feedback")), 1},
		{"observer errors", testutil.ToFloat64(c.observerErrors), 1},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}

	if n := testutil.CollectAndCount(c.commandLatency); n != 2 {
		t.Errorf("latency series = %d, want 2", n)
	}
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector

	c.MessageReceived("status")
	c.CommandResolved("set_power", "failed", time.Second)
	c.PendingCommands(1)
	c.ObserverFailed()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("nil Handler() status = %d, want 404", rec.Code)
	}
}

func TestCollector_Handler(t *testing.T) {
	c := New(prometheus.NewRegistry())
	c.CommandSent("set_mode")

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `graylink_commands_sent_total{command="set_mode"} 1`) {
		t.Errorf("exposition missing command counter:\n%s", body)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Error("exposition missing Go runtime metrics")
	}
}
