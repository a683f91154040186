package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRunsAreIsolated(t *testing.T) {
	a, b := New(), New()
	a.Rejections.WithLabelValues("STOP_TOO_TIGHT").Inc()
	a.Rejections.WithLabelValues("STOP_TOO_TIGHT").Inc()
	a.Rejections.WithLabelValues("SESSION_BLOCKED").Inc()

	if got := testutil.ToFloat64(a.Rejections.WithLabelValues("STOP_TOO_TIGHT")); got != 2 {
		t.Errorf("run a STOP_TOO_TIGHT = %v, want 2", got)
	}
	if got := testutil.CollectAndCount(b.Rejections); got != 0 {
		t.Errorf("run b has %d rejection series, want 0", got)
	}

	counts := a.RejectionCounts()
	if counts["STOP_TOO_TIGHT"] != 2 || counts["SESSION_BLOCKED"] != 1 || len(counts) != 2 {
		t.Errorf("RejectionCounts = %v", counts)
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.Equity.Set(512.5)
	m.Exits.WithLabelValues("TRAILING_STOP").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{"rangefx_equity 512.5", `rangefx_exits_total{reason="TRAILING_STOP"} 1`} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
