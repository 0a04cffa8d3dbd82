package datadog

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

// fakeSubmitter captures payloads submitted by Backend.Flush().
type fakeSubmitter struct {
	mu       sync.Mutex
	payloads []datadogV2.MetricPayload
	err      error
}

func (f *fakeSubmitter) SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, body)
	return datadogV2.IntakePayloadAccepted{}, nil, f.err
}

func (f *fakeSubmitter) last() (datadogV2.MetricPayload, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.payloads) == 0 {
		return datadogV2.MetricPayload{}, false
	}
	return f.payloads[len(f.payloads)-1], true
}

// newTestBackend builds a backend with a fake submitter, a frozen clock
// and a ticker that never fires, so only explicit Flush/Close submit.
func newTestBackend(t *testing.T) (*Backend, *fakeSubmitter) {
	t.Helper()
	sub := &fakeSubmitter{}
	b, err := NewBackend(context.Background(), Options{
		JobName:    "test-job",
		FlushEvery: time.Hour,
		now:        func() time.Time { return time.Unix(1700000000, 0) },
		newTicker:  func(time.Duration) *time.Ticker { return time.NewTicker(time.Hour) },
		submitter:  sub,
	})
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	return b, sub
}

func TestResolveEnvTag(t *testing.T) {
	t.Setenv("ENV", "prod")
	t.Setenv("DD_ENV", "staging")
	if got := resolveEnvTag(); got != "env:prod" {
		t.Fatalf("ENV precedence: %q", got)
	}

	t.Setenv("ENV", " ")
	if got := resolveEnvTag(); got != "env:staging" {
		t.Fatalf("DD_ENV fallback: %q", got)
	}

	t.Setenv("DD_ENV", "")
	if got := resolveEnvTag(); got != "env:unknown" {
		t.Fatalf("default: %q", got)
	}
}

func TestFlushEmptySubmitsNothing(t *testing.T) {
	b, sub := newTestBackend(t)
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if _, ok := sub.last(); ok {
		t.Fatalf("empty flush submitted a payload")
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestFlushBuildsTaggedSeries(t *testing.T) {
	b, sub := newTestBackend(t)

	b.IncStage("dimensions", "ok")
	b.IncRows("dim_client", 42)
	b.IncDropped("dim_project", "missing_client", 3)
	b.ObserveDuration("dimensions", 2*time.Second)

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	payload, ok := sub.last()
	if !ok {
		t.Fatalf("no payload submitted")
	}

	byMetric := map[string]datadogV2.MetricSeries{}
	for _, s := range payload.Series {
		byMetric[s.Metric] = s
	}

	stage, ok := byMetric["sgp_etl.stage.total"]
	if !ok {
		t.Fatalf("stage series missing; got %v", metricNames(payload))
	}
	if !hasTag(stage.Tags, "stage:dimensions") || !hasTag(stage.Tags, "status:ok") || !hasTag(stage.Tags, "job:test-job") {
		t.Fatalf("stage tags = %v", stage.Tags)
	}

	rows, ok := byMetric["sgp_etl.rows.total"]
	if !ok || *rows.Points[0].Value != 42 {
		t.Fatalf("rows series = %+v", rows)
	}

	dropped, ok := byMetric["sgp_etl.rows.dropped"]
	if !ok || !hasTag(dropped.Tags, "reason:missing_client") {
		t.Fatalf("dropped series = %+v", dropped)
	}

	if _, ok := byMetric["sgp_etl.stage.duration_seconds.p50"]; !ok {
		t.Fatalf("duration percentiles missing; got %v", metricNames(payload))
	}

	// Flush reset the buffers: a second flush submits nothing new.
	before := len(sub.payloads)
	if err := b.Flush(); err != nil {
		t.Fatalf("second Flush: %v", err)
	}
	if len(sub.payloads) != before {
		t.Fatalf("second flush submitted stale data")
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestCloseFlushesTail(t *testing.T) {
	b, sub := newTestBackend(t)
	b.IncRows("fact_projects", 10)
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := sub.last(); !ok {
		t.Fatalf("Close did not flush the tail")
	}
}

func TestPercentileNearestRank(t *testing.T) {
	s := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	if got := percentileNearestRank(s, 0.5); got != 6 {
		t.Errorf("p50 = %v", got)
	}
	if got := percentileNearestRank(s, 0); got != 1 {
		t.Errorf("p0 = %v", got)
	}
	if got := percentileNearestRank(s, 1); got != 10 {
		t.Errorf("p100 = %v", got)
	}
	if got := percentileNearestRank(nil, 0.5); got != 0 {
		t.Errorf("empty = %v", got)
	}
}

func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}

func metricNames(p datadogV2.MetricPayload) string {
	names := make([]string, 0, len(p.Series))
	for _, s := range p.Series {
		names = append(names, s.Metric)
	}
	return strings.Join(names, ", ")
}
