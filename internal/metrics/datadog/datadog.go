// Package datadog implements a Datadog backend for the internal/metrics
// package.
//
// The backend buffers observations in memory, submits them on a periodic
// ticker and once more on Close. Buffering keeps the hot path a map write
// under a mutex; submission happens out of lock. If the process dies
// without Close, the last window is lost, which is acceptable for batch
// job telemetry.
package datadog

import (
	"context"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

// Options controls Datadog backend configuration.
type Options struct {
	// JobName becomes tag "job:<name>" on every metric. Defaults to "etl".
	JobName string

	// Tags are extra Datadog tags (e.g. []string{"service:sgp-etl"}).
	Tags []string

	// FlushEvery controls the submission interval. Defaults to 60s.
	FlushEvery time.Duration

	// Unexported test seams. Production never sets these; tests use them
	// to avoid real clocks, tickers and network submission.
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the slice of the Datadog SDK the backend needs. The
// SDK only exposes the concrete *datadogV2.MetricsApi; depending on this
// interface instead lets tests substitute a fake.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api metricsSubmitter
	ctx context.Context

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}

	baseTags []string

	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu sync.Mutex

	stageCounts    map[string]float64
	rowCounts      map[string]float64
	droppedCounts  map[string]float64
	stageDurations map[string][]float64
}

func resolveEnvTag() string {
	if v := strings.TrimSpace(os.Getenv("ENV")); v != "" {
		return "env:" + v
	}
	if v := strings.TrimSpace(os.Getenv("DD_ENV")); v != "" {
		return "env:" + v
	}
	return "env:unknown"
}

// NewBackend constructs a Datadog backend using the official client.
// Credentials come from the standard DD_API_KEY / DD_SITE environment, via
// the SDK's default context.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	job := opts.JobName
	if job == "" {
		job = "etl"
	}
	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	baseTags := make([]string, 0, 2+len(opts.Tags))
	baseTags = append(baseTags, resolveEnvTag(), "job:"+job)
	baseTags = append(baseTags, opts.Tags...)

	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	newTicker := opts.newTicker
	if newTicker == nil {
		newTicker = time.NewTicker
	}

	submitter := opts.submitter
	if submitter == nil {
		cfg := dd.NewConfiguration()
		client := dd.NewAPIClient(cfg)
		submitter = datadogV2.NewMetricsApi(client)
	}

	b := &Backend{
		api:        submitter,
		ctx:        dd.NewDefaultContext(parent),
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		baseTags:   baseTags,
		now:        nowFn,
		newTicker:  newTicker,

		stageCounts:    make(map[string]float64),
		rowCounts:      make(map[string]float64),
		droppedCounts:  make(map[string]float64),
		stageDurations: make(map[string][]float64),
	}

	go b.loop()
	return b, nil
}

func (b *Backend) loop() {
	defer close(b.doneCh)

	t := b.newTicker(b.flushEvery)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// IncStage implements metrics.Backend.
func (b *Backend) IncStage(stage, status string) {
	if status == "" {
		status = "unknown"
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stageCounts[pairKey(stage, status)]++
}

// IncRows implements metrics.Backend.
func (b *Backend) IncRows(table string, n int64) {
	if n <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rowCounts[table] += float64(n)
}

// IncDropped implements metrics.Backend.
func (b *Backend) IncDropped(table, reason string, n int64) {
	if n <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.droppedCounts[pairKey(table, reason)] += float64(n)
}

// ObserveDuration implements metrics.Backend.
func (b *Backend) ObserveDuration(stage string, d time.Duration) {
	if d < 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stageDurations[stage] = append(b.stageDurations[stage], d.Seconds())
}

// Close stops the flush loop and performs one final Flush. Call once.
func (b *Backend) Close() error {
	close(b.stopCh)
	<-b.doneCh
	return b.Flush()
}

// snapshot is the buffered state detached under lock so payload building
// and submission run out of lock.
type snapshot struct {
	stageCounts    map[string]float64
	rowCounts      map[string]float64
	droppedCounts  map[string]float64
	stageDurations map[string][]float64
}

func (b *Backend) snapshotAndReset() snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := snapshot{
		stageCounts:    b.stageCounts,
		rowCounts:      b.rowCounts,
		droppedCounts:  b.droppedCounts,
		stageDurations: b.stageDurations,
	}
	b.stageCounts = make(map[string]float64)
	b.rowCounts = make(map[string]float64)
	b.droppedCounts = make(map[string]float64)
	b.stageDurations = make(map[string][]float64)
	return s
}

func (s snapshot) isEmpty() bool {
	return len(s.stageCounts) == 0 &&
		len(s.rowCounts) == 0 &&
		len(s.droppedCounts) == 0 &&
		len(s.stageDurations) == 0
}

// Flush submits buffered metrics and resets the buffers. Buffers reset
// even when submission fails, so a flaky intake never blocks the pipeline.
func (b *Backend) Flush() error {
	snap := b.snapshotAndReset()
	if snap.isEmpty() {
		return nil
	}

	series := b.buildSeries(snap, b.now().Unix())
	payload := datadogV2.MetricPayload{Series: series}

	_, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	return err
}

// buildSeries is pure (no locks, clocks or network), which keeps the
// naming and tagging contract unit-testable.
func (b *Backend) buildSeries(s snapshot, nowUnix int64) []datadogV2.MetricSeries {
	series := make([]datadogV2.MetricSeries, 0, len(s.stageCounts)+len(s.rowCounts)+len(s.droppedCounts)+8)

	for k, v := range s.stageCounts {
		if v == 0 {
			continue
		}
		stage, status := splitPairKey(k)
		tags := withTags(b.baseTags, "stage:"+stage, "status:"+status)
		series = append(series, countSeries("sgp_etl.stage.total", v, tags, nowUnix))
	}

	for table, v := range s.rowCounts {
		if v == 0 {
			continue
		}
		tags := withTags(b.baseTags, "table:"+table)
		series = append(series, countSeries("sgp_etl.rows.total", v, tags, nowUnix))
	}

	for k, v := range s.droppedCounts {
		if v == 0 {
			continue
		}
		table, reason := splitPairKey(k)
		tags := withTags(b.baseTags, "table:"+table, "reason:"+reason)
		series = append(series, countSeries("sgp_etl.rows.dropped", v, tags, nowUnix))
	}

	for stage, samples := range s.stageDurations {
		if len(samples) == 0 {
			continue
		}
		cp := append([]float64(nil), samples...)
		sort.Float64s(cp)
		tags := withTags(b.baseTags, "stage:"+stage)
		series = append(series, gaugeSeries("sgp_etl.stage.duration_seconds.p50", percentileNearestRank(cp, 0.50), tags, nowUnix))
		series = append(series, gaugeSeries("sgp_etl.stage.duration_seconds.p95", percentileNearestRank(cp, 0.95), tags, nowUnix))
		series = append(series, gaugeSeries("sgp_etl.stage.duration_seconds.max", cp[len(cp)-1], tags, nowUnix))
		series = append(series, gaugeSeries("sgp_etl.stage.duration_seconds.samples", float64(len(cp)), tags, nowUnix))
	}

	return series
}

func countSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   datadogV2.METRICINTAKETYPE_COUNT.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func gaugeSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   datadogV2.METRICINTAKETYPE_GAUGE.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func pairKey(a, b string) string {
	return a + "\x00" + b
}

func splitPairKey(k string) (string, string) {
	parts := strings.SplitN(k, "\x00", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return k, "unknown"
}

func withTags(base []string, extras ...string) []string {
	out := make([]string, 0, len(base)+len(extras))
	out = append(out, base...)
	out = append(out, extras...)
	return out
}

func percentileNearestRank(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}
	idx := int(p*float64(n-1) + 0.5)
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}
