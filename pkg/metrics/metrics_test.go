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
	dto "github.com/prometheus/client_model/go"
)

func TestObserveRequest(t *testing.T) {
	before := testutil.ToFloat64(RequestsTotal.WithLabelValues(http.MethodGet, OutcomeHit, "200"))

	ObserveRequest(http.MethodGet, OutcomeHit, http.StatusOK, 15*time.Millisecond)

	after := testutil.ToFloat64(RequestsTotal.WithLabelValues(http.MethodGet, OutcomeHit, "200"))
	if after != before+1 {
		t.Errorf("edgecache_http_requests_total = %v, want %v", after, before+1)
	}

	observer, err := RequestDuration.GetMetricWithLabelValues(OutcomeHit)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues() error = %v", err)
	}
	var m dto.Metric
	if err := observer.(prometheus.Histogram).Write(&m); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if m.GetHistogram().GetSampleCount() == 0 {
		t.Error("expected at least one duration sample")
	}
}

func TestHandler(t *testing.T) {
	ObserveRequest(http.MethodGet, OutcomeMiss, http.StatusOK, time.Millisecond)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "edgecache_http_requests_total") {
		t.Error("metrics output should contain edgecache_http_requests_total")
	}
}
