// Package observability holds the process metrics and a lightweight span
// recorder for settlement operations.
//
// Metrics are registered on the default Prometheus registry and exposed by
// the API server at /metrics. Spans are kept in a bounded in-memory ring so
// recent fund/release/distribute timings can be inspected without an
// external collector.
package observability

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ═══════════════════════════════════════════════════════════════════════════
// Trace Spans
// ═══════════════════════════════════════════════════════════════════════════

// SpanStatus indicates success/failure.
type SpanStatus int

const (
	SpanOK SpanStatus = iota
	SpanError
)

// Span is one timed unit of work.
type Span struct {
	TraceID   string            `json:"trace_id"`
	SpanID    string            `json:"span_id"`
	ParentID  string            `json:"parent_id,omitempty"`
	Operation string            `json:"operation"`
	StartTime time.Time         `json:"start_time"`
	EndTime   time.Time         `json:"end_time,omitempty"`
	Duration  time.Duration     `json:"duration,omitempty"`
	Status    SpanStatus        `json:"status"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

// ─── Tracer ─────────────────────────────────────────────────────────────────

// Tracer records finished spans in a ring buffer.
type Tracer struct {
	mu       sync.Mutex
	spans    []Span
	maxSpans int
	enabled  bool
}

// TracerConfig configures the tracer.
type TracerConfig struct {
	Enabled  bool
	MaxSpans int // ring buffer size (default 10_000)
}

// DefaultTracerConfig returns production defaults.
func DefaultTracerConfig() TracerConfig {
	return TracerConfig{
		Enabled:  true,
		MaxSpans: 10_000,
	}
}

// NewTracer creates a new tracer.
func NewTracer(cfg TracerConfig) *Tracer {
	if cfg.MaxSpans <= 0 {
		cfg.MaxSpans = DefaultTracerConfig().MaxSpans
	}
	return &Tracer{
		spans:    make([]Span, 0, cfg.MaxSpans),
		maxSpans: cfg.MaxSpans,
		enabled:  cfg.Enabled,
	}
}

// StartSpan begins a span. The returned context carries the span id so
// nested spans record it as their parent. Callers must EndSpan.
// A nil tracer is valid and records nothing.
func (t *Tracer) StartSpan(ctx context.Context, operation string, attrs map[string]string) (context.Context, *Span) {
	if t == nil || !t.enabled {
		return ctx, &Span{Operation: operation}
	}

	span := &Span{
		TraceID:   traceIDFromContext(ctx),
		SpanID:    uuid.NewString(),
		ParentID:  spanIDFromContext(ctx),
		Operation: operation,
		StartTime: time.Now(),
		Status:    SpanOK,
		Attrs:     attrs,
	}
	ctx = WithTraceID(ctx, span.TraceID)
	ctx = WithSpanID(ctx, span.SpanID)
	return ctx, span
}

// EndSpan completes a span and records it.
func (t *Tracer) EndSpan(span *Span, err error) {
	if t == nil || !t.enabled || span == nil {
		return
	}

	span.EndTime = time.Now()
	span.Duration = span.EndTime.Sub(span.StartTime)
	if err != nil {
		span.Status = SpanError
		if span.Attrs == nil {
			span.Attrs = make(map[string]string)
		}
		span.Attrs["error"] = err.Error()
		TraceErrors.Inc()
	}
	TracesRecorded.Inc()

	t.mu.Lock()
	defer t.mu.Unlock()

	// Ring buffer: overwrite oldest if at capacity
	if len(t.spans) >= t.maxSpans {
		t.spans = t.spans[1:]
	}
	t.spans = append(t.spans, *span)
}

// Spans returns up to limit of the most recent spans, oldest first.
func (t *Tracer) Spans(limit int) []Span {
	t.mu.Lock()
	defer t.mu.Unlock()

	if limit <= 0 || limit > len(t.spans) {
		limit = len(t.spans)
	}
	start := len(t.spans) - limit
	out := make([]Span, limit)
	copy(out, t.spans[start:])
	return out
}

// SpanCount returns the number of recorded spans.
func (t *Tracer) SpanCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.spans)
}

// Reset clears all recorded spans.
func (t *Tracer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.spans = t.spans[:0]
}

// ─── Context Helpers ────────────────────────────────────────────────────────

type contextKey string

const (
	traceIDKey contextKey = "talpay-trace-id"
	spanIDKey  contextKey = "talpay-span-id"
)

// WithTraceID returns a context with the given trace ID.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// WithSpanID returns a context with the given span ID.
func WithSpanID(ctx context.Context, spanID string) context.Context {
	return context.WithValue(ctx, spanIDKey, spanID)
}

// TraceID returns the trace id carried by ctx, or "".
func TraceID(ctx context.Context) string {
	v, _ := ctx.Value(traceIDKey).(string)
	return v
}

func traceIDFromContext(ctx context.Context) string {
	if v := TraceID(ctx); v != "" {
		return v
	}
	return uuid.NewString()
}

func spanIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(spanIDKey).(string)
	return v
}

// ═══════════════════════════════════════════════════════════════════════════
// Prometheus Metrics
// ═══════════════════════════════════════════════════════════════════════════

// ─── Ledger Metrics ─────────────────────────────────────────────────────────

// LedgerTransactions counts audit records by type and status.
var LedgerTransactions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "talpay",
	Subsystem: "ledger",
	Name:      "transactions_total",
	Help:      "Total ledger transactions recorded, by type and status.",
}, []string{"type", "status"})

// PayrollCirculation is the sum of all payroll balances, escrow accounts included.
var PayrollCirculation = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "talpay",
	Subsystem: "ledger",
	Name:      "payroll_circulation",
	Help:      "Sum of all payroll-unit balances.",
})

// NativeCirculation is the sum of all native balances.
var NativeCirculation = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "talpay",
	Subsystem: "ledger",
	Name:      "native_circulation",
	Help:      "Sum of all native-unit balances.",
})

// ─── Escrow Metrics ─────────────────────────────────────────────────────────

// EscrowTransitions counts escrow status changes by target status.
var EscrowTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "talpay",
	Subsystem: "escrow",
	Name:      "transitions_total",
	Help:      "Total escrow status transitions, by target status.",
}, []string{"to"})

// EscrowFunding counts payroll units moved into escrow.
var EscrowFunding = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "talpay",
	Subsystem: "escrow",
	Name:      "funded_units_total",
	Help:      "Total payroll units moved into escrow accounts.",
})

// EscrowsOverdue is the number of open contracts past their release date.
var EscrowsOverdue = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "talpay",
	Subsystem: "escrow",
	Name:      "overdue",
	Help:      "Open escrow contracts past their release date.",
})

// ─── Distribution Metrics ───────────────────────────────────────────────────

// DistributionDuration tracks wall time of a full distribution.
var DistributionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "talpay",
	Subsystem: "payout",
	Name:      "distribution_duration_ms",
	Help:      "Distribution latency in milliseconds.",
	Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 1000},
})

// DistributionPayees tracks payees per distribution.
var DistributionPayees = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "talpay",
	Subsystem: "payout",
	Name:      "payees",
	Help:      "Number of payees per distribution.",
	Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
})

// DistributionFailures counts aborted distributions.
var DistributionFailures = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "talpay",
	Subsystem: "payout",
	Name:      "failures_total",
	Help:      "Total distributions aborted and rolled back.",
})

// ─── API Metrics ────────────────────────────────────────────────────────────

// APIRequests counts handled requests by route and status code.
var APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "talpay",
	Subsystem: "api",
	Name:      "requests_total",
	Help:      "Total API requests, by route and status code.",
}, []string{"route", "code"})

// APIErrors counts typed error responses by kind.
var APIErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "talpay",
	Subsystem: "api",
	Name:      "errors_total",
	Help:      "Total error responses, by error kind.",
}, []string{"kind"})

// ─── Trace Metrics ──────────────────────────────────────────────────────────

// TracesRecorded tracks total spans recorded.
var TracesRecorded = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "talpay",
	Subsystem: "traces",
	Name:      "spans_recorded_total",
	Help:      "Total trace spans recorded.",
})

// TraceErrors tracks error spans.
var TraceErrors = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "talpay",
	Subsystem: "traces",
	Name:      "error_spans_total",
	Help:      "Total trace spans with error status.",
})
