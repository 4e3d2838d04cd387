package prometheus

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	goRefresh "github.com/MrEthical07/goRefresh"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeSource struct {
	snapshot goRefresh.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() goRefresh.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                       { return f.dropped }

func scrape(t *testing.T, exp *Exporter) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

func TestScrapeWhenMetricsDisabled(t *testing.T) {
	exp, err := NewExporterFromSource(fakeSource{
		snapshot: goRefresh.MetricsSnapshot{
			Counters:   map[goRefresh.MetricID]uint64{},
			Histograms: map[goRefresh.MetricID][]uint64{},
		},
	})
	if err != nil {
		t.Fatalf("NewExporterFromSource failed: %v", err)
	}

	out := scrape(t, exp)
	if strings.Contains(out, "refresh_rotation_success_total") {
		t.Fatalf("expected no counters for disabled metrics, got:\n%s", out)
	}
	if !strings.Contains(out, "refresh_audit_dropped_total 0") {
		t.Fatalf("expected audit dropped counter, got:\n%s", out)
	}
}

func TestScrapeIncludesCounterAndHistogram(t *testing.T) {
	exp, err := NewExporterFromSource(fakeSource{
		snapshot: goRefresh.MetricsSnapshot{
			Counters: map[goRefresh.MetricID]uint64{
				goRefresh.MetricRefreshSuccess: 7,
			},
			Histograms: map[goRefresh.MetricID][]uint64{
				goRefresh.MetricRefreshLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})
	if err != nil {
		t.Fatalf("NewExporterFromSource failed: %v", err)
	}

	out := scrape(t, exp)
	if !strings.Contains(out, "refresh_rotation_success_total 7") {
		t.Fatalf("expected refresh success counter, got:\n%s", out)
	}
	if !strings.Contains(out, `refresh_latency_seconds_bucket{le="0.005"} 1`) {
		t.Fatalf("expected first histogram bucket, got:\n%s", out)
	}
	if !strings.Contains(out, `refresh_latency_seconds_bucket{le="+Inf"} 36`) {
		t.Fatalf("expected +Inf cumulative bucket, got:\n%s", out)
	}
	if !strings.Contains(out, "refresh_latency_seconds_count 36") {
		t.Fatalf("expected histogram count, got:\n%s", out)
	}
	if !strings.Contains(out, "refresh_audit_dropped_total 2") {
		t.Fatalf("expected audit dropped counter, got:\n%s", out)
	}
}

func TestCollectorLints(t *testing.T) {
	exp, err := NewExporterFromSource(fakeSource{
		snapshot: goRefresh.MetricsSnapshot{
			Counters: map[goRefresh.MetricID]uint64{goRefresh.MetricLogout: 1},
		},
	})
	if err != nil {
		t.Fatalf("NewExporterFromSource failed: %v", err)
	}
	if n := testutil.CollectAndCount(exp); n != 2 {
		t.Fatalf("expected 2 metrics, got %d", n)
	}
}

func TestRejectsNilSource(t *testing.T) {
	if _, err := NewExporterFromSource(nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	if _, err := NewExporter(nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
}

func BenchmarkScrape(b *testing.B) {
	exp, err := NewExporterFromSource(fakeSource{
		snapshot: goRefresh.MetricsSnapshot{
			Counters: map[goRefresh.MetricID]uint64{
				goRefresh.MetricIssueSuccess:   1000,
				goRefresh.MetricRefreshSuccess: 800,
				goRefresh.MetricRefreshFailure: 10,
				goRefresh.MetricLogout:         20,
			},
			Histograms: map[goRefresh.MetricID][]uint64{
				goRefresh.MetricRefreshLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
	})
	if err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := exp.Registry().Gather(); err != nil {
			b.Fatal(err)
		}
	}
}
