package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics_IndependentRegistries(t *testing.T) {
	a := NewMetrics("test")
	b := NewMetrics("test")

	a.RecordAdShown("vungle", "rewarded")
	if got := testutil.ToFloat64(a.AdsShownTotal.WithLabelValues("vungle", "rewarded")); got != 1 {
		t.Errorf("expected 1, got %v", got)
	}
	if got := testutil.ToFloat64(b.AdsShownTotal.WithLabelValues("vungle", "rewarded")); got != 0 {
		t.Errorf("expected second instance to be untouched, got %v", got)
	}
}

func TestRecordAdLoad(t *testing.T) {
	m := NewMetrics("")
	m.RecordAdLoad("facebook", "banner", "filled", 120*time.Millisecond)
	m.RecordAdLoad("facebook", "banner", "no_fill", 80*time.Millisecond)
	m.RecordAdLoad("facebook", "banner", "filled", 90*time.Millisecond)

	if got := testutil.ToFloat64(m.AdLoadsTotal.WithLabelValues("facebook", "banner", "filled")); got != 2 {
		t.Errorf("expected 2 filled loads, got %v", got)
	}
	if got := testutil.CollectAndCount(m.AdLoadDuration); got != 1 {
		t.Errorf("expected one duration series, got %d", got)
	}
}

func TestRecordSizeMatch(t *testing.T) {
	m := NewMetrics("")
	m.RecordSizeMatch("vungle", true)
	m.RecordSizeMatch("vungle", false)
	m.RecordSizeMatch("vungle", false)

	if got := testutil.ToFloat64(m.SizeMatchTotal.WithLabelValues("vungle", "mismatch")); got != 2 {
		t.Errorf("expected 2 mismatches, got %v", got)
	}
}

func TestSetCircuitState(t *testing.T) {
	m := NewMetrics("")
	tests := []struct {
		state    string
		expected float64
	}{
		{"open", 1},
		{"half-open", 2},
		{"closed", 0},
	}
	for _, tt := range tests {
		m.SetCircuitState("yahoo", tt.state)
		if got := testutil.ToFloat64(m.CircuitState.WithLabelValues("yahoo")); got != tt.expected {
			t.Errorf("state %s: expected %v, got %v", tt.state, tt.expected, got)
		}
	}
}

func TestMiddleware(t *testing.T) {
	m := NewMetrics("")
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ads/{id}/show", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler := m.Middleware(mux)

	for _, id := range []string{"a", "b"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/ads/"+id+"/show", nil))
	}
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))

	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("POST", "/v1/ads/{id}/show", "204")); got != 2 {
		t.Errorf("expected 2 requests on the show pattern, got %v", got)
	}
	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "unmatched", "404")); got != 1 {
		t.Errorf("expected 1 unmatched request, got %v", got)
	}
	if got := testutil.ToFloat64(m.RequestsInFlight); got != 0 {
		t.Errorf("expected no requests in flight, got %v", got)
	}
}

func TestHandler(t *testing.T) {
	m := NewMetrics("mediation")
	m.RecordEvent("nend", "clicked")
	m.IncRateLimitRejected()
	m.RecordOversizeRejected("events", "body")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`mediation_events_forwarded_total{event="clicked",network="nend"} 1`,
		`mediation_rate_limit_rejected_total 1`,
		`mediation_oversize_rejected_total{reason="body",route="events"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("expected metrics output to contain %q", want)
		}
	}
}
