package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) (metricdata.Metrics, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m, true
			}
		}
	}
	return metricdata.Metrics{}, false
}

func TestNewMetrics_CreatesAllInstruments(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m.AnswerDuration == nil || m.HTTPRequestDuration == nil {
		t.Fatal("expected histograms to be initialised")
	}
	if m.ProviderRequests == nil || m.ProviderErrors == nil {
		t.Fatal("expected counters to be initialised")
	}
	if m.ActiveCaptures == nil || m.ConnectedClients == nil {
		t.Fatal("expected gauges to be initialised")
	}
}

func TestRecordProviderRequest(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "openai", "ok")
	m.RecordProviderRequest(ctx, "openai", "ok")
	m.RecordProviderError(ctx, "anthropic", "upstream")

	rm := collect(t, reader)
	requests, ok := findMetric(rm, "candor.provider.requests")
	if !ok {
		t.Fatal("candor.provider.requests not found")
	}
	sum, ok := requests.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", requests.Data)
	}
	if len(sum.DataPoints) != 1 {
		t.Fatalf("expected 1 data point, got %d", len(sum.DataPoints))
	}
	if got := sum.DataPoints[0].Value; got != 2 {
		t.Errorf("expected count 2, got %d", got)
	}

	if _, ok := findMetric(rm, "candor.provider.errors"); !ok {
		t.Fatal("candor.provider.errors not found")
	}
}

func TestRecordUtterance_CountsQuestions(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordUtterance(ctx, "interviewer", true)
	m.RecordUtterance(ctx, "user", false)

	rm := collect(t, reader)
	utterances, ok := findMetric(rm, "candor.utterances")
	if !ok {
		t.Fatal("candor.utterances not found")
	}
	sum := utterances.Data.(metricdata.Sum[int64])
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	if total != 2 {
		t.Errorf("expected 2 utterances, got %d", total)
	}

	questions, ok := findMetric(rm, "candor.questions.detected")
	if !ok {
		t.Fatal("candor.questions.detected not found")
	}
	qsum := questions.Data.(metricdata.Sum[int64])
	if len(qsum.DataPoints) != 1 || qsum.DataPoints[0].Value != 1 {
		t.Error("expected exactly 1 question detected")
	}
}

func TestMiddleware_RecordsDurationAndStatus(t *testing.T) {
	m, reader := newTestMetrics(t)

	handler := Middleware(m, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected status passthrough, got %d", rec.Code)
	}

	rm := collect(t, reader)
	hist, ok := findMetric(rm, "candor.http.request.duration")
	if !ok {
		t.Fatal("candor.http.request.duration not found")
	}
	data, ok := hist.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("unexpected data type %T", hist.Data)
	}
	if len(data.DataPoints) != 1 {
		t.Fatalf("expected 1 data point, got %d", len(data.DataPoints))
	}
	if data.DataPoints[0].Count != 1 {
		t.Errorf("expected 1 recording, got %d", data.DataPoints[0].Count)
	}
}

func TestCorrelationID_Propagates(t *testing.T) {
	ctx, id := WithCorrelationID(context.Background())
	if id == "" {
		t.Fatal("expected non-empty correlation id")
	}
	ctx2, id2 := WithCorrelationID(ctx)
	if id2 != id {
		t.Errorf("expected existing id to be reused, got %q and %q", id, id2)
	}
	if got := CorrelationID(ctx2); got != id {
		t.Errorf("CorrelationID = %q, want %q", got, id)
	}
}
