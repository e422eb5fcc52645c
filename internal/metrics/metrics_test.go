package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics_RegistersOnCustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.SignalsTotal.WithLabelValues("ETHUSDT", "BUY").Inc()
	m.SignalsTotal.WithLabelValues("ETHUSDT", "BUY").Inc()
	m.OpenPositions.Set(2)

	if got := testutil.ToFloat64(m.SignalsTotal.WithLabelValues("ETHUSDT", "BUY")); got != 2 {
		t.Errorf("signals = %v", got)
	}
	if got := testutil.ToFloat64(m.OpenPositions); got != 2 {
		t.Errorf("open positions = %v", got)
	}

	// A second registration on the same registry must panic
	defer func() {
		if recover() == nil {
			t.Error("expected duplicate registration panic")
		}
	}()
	NewMetrics(reg)
}

func TestHealthStatus_Report(t *testing.T) {
	h := NewHealthStatus("paper")
	h.SetFeedConnected("ETHUSDT", true)

	rep, code := h.Report()
	if rep.Status != "healthy" || code != http.StatusOK || rep.Mode != "paper" {
		t.Errorf("report = %+v code=%d", rep, code)
	}

	h.SetHalted("ETHUSDT", true)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("halted lane should degrade health, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"halted_lanes":["ETHUSDT"]`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}
