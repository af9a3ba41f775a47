package observability

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/sauti/internal/sandbox"
	"github.com/jkaninda/sauti/internal/storage"
	"github.com/jkaninda/sauti/internal/tts"
)

// --- InstrumentedEngine ---

// InstrumentedEngine wraps a sandbox.Engine with metrics and tracing.
type InstrumentedEngine struct {
	inner   sandbox.Engine
	metrics *MetricsCollector
	tracer  trace.Tracer
}

// NewInstrumentedEngine wraps a sandbox engine with observability.
func NewInstrumentedEngine(inner sandbox.Engine, metrics *MetricsCollector, ts *TracerSetup) *InstrumentedEngine {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedEngine{
		inner:   inner,
		metrics: metrics,
		tracer:  tracer,
	}
}

func (e *InstrumentedEngine) Create(ctx context.Context, userID string) (*sandbox.Sandbox, error) {
	var sb *sandbox.Sandbox
	err := e.instrument(ctx, "create", func(ctx context.Context) error {
		var err error
		sb, err = e.inner.Create(ctx, userID)
		return err
	})
	return sb, err
}

func (e *InstrumentedEngine) Start(ctx context.Context, id string) error {
	return e.instrument(ctx, "start", func(ctx context.Context) error {
		return e.inner.Start(ctx, id)
	})
}

func (e *InstrumentedEngine) Stop(ctx context.Context, id string) error {
	return e.instrument(ctx, "stop", func(ctx context.Context) error {
		return e.inner.Stop(ctx, id)
	})
}

func (e *InstrumentedEngine) Delete(ctx context.Context, id string) error {
	return e.instrument(ctx, "delete", func(ctx context.Context) error {
		return e.inner.Delete(ctx, id)
	})
}

func (e *InstrumentedEngine) Status(ctx context.Context, id string) (sandbox.Status, error) {
	var st sandbox.Status
	err := e.instrument(ctx, "status", func(ctx context.Context) error {
		var err error
		st, err = e.inner.Status(ctx, id)
		return err
	})
	return st, err
}

func (e *InstrumentedEngine) URLFor(userID string) string {
	return e.inner.URLFor(userID)
}

func (e *InstrumentedEngine) instrument(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if e.tracer != nil {
		var span trace.Span
		ctx, span = e.tracer.Start(ctx, "sandbox."+op,
			trace.WithAttributes(
				attribute.String("sandbox.op", op),
			))
		defer span.End()
	}

	start := time.Now()
	err := fn(ctx)
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "error"
		if e.tracer != nil {
			span := trace.SpanFromContext(ctx)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}

	if e.metrics != nil {
		e.metrics.SandboxOpsTotal.WithLabelValues(op, status).Inc()
		e.metrics.SandboxOpDuration.WithLabelValues(op).Observe(duration)
	}
	return err
}

// --- InstrumentedSynthesizer ---

// InstrumentedSynthesizer wraps a tts.Synthesizer with metrics and tracing.
type InstrumentedSynthesizer struct {
	inner   tts.Synthesizer
	metrics *MetricsCollector
	tracer  trace.Tracer
}

// NewInstrumentedSynthesizer wraps a synthesizer with observability.
func NewInstrumentedSynthesizer(inner tts.Synthesizer, metrics *MetricsCollector, ts *TracerSetup) *InstrumentedSynthesizer {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedSynthesizer{
		inner:   inner,
		metrics: metrics,
		tracer:  tracer,
	}
}

func (s *InstrumentedSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.Start(ctx, "voice.synthesize",
			trace.WithAttributes(
				attribute.Int("voice.text_length", len(text)),
			))
		defer span.End()
	}

	start := time.Now()
	audio, err := s.inner.Synthesize(ctx, text)
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "error"
		if s.tracer != nil {
			span := trace.SpanFromContext(ctx)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}

	if s.metrics != nil {
		s.metrics.SynthesisJobsTotal.WithLabelValues(status).Inc()
		s.metrics.SynthesisDuration.Observe(duration)
	}
	return audio, err
}

// --- InstrumentedCreditStore ---

// InstrumentedCreditStore wraps a storage.CreditStore, counting debits.
type InstrumentedCreditStore struct {
	inner   storage.CreditStore
	metrics *MetricsCollector
}

// NewInstrumentedCreditStore wraps a credit store with metrics.
func NewInstrumentedCreditStore(inner storage.CreditStore, metrics *MetricsCollector) *InstrumentedCreditStore {
	return &InstrumentedCreditStore{inner: inner, metrics: metrics}
}

func (c *InstrumentedCreditStore) GetCredits(ctx context.Context, userID string) (float64, error) {
	return c.inner.GetCredits(ctx, userID)
}

func (c *InstrumentedCreditStore) DebitCredits(ctx context.Context, userID string, amount float64) error {
	return c.inner.DebitCredits(ctx, userID, amount)
}

func (c *InstrumentedCreditStore) RecordUsage(ctx context.Context, userID, kind string, amount float64) error {
	err := c.inner.RecordUsage(ctx, userID, kind, amount)
	if err == nil && c.metrics != nil {
		c.metrics.CreditsDebitedTotal.WithLabelValues(kind).Add(amount)
	}
	return err
}

// --- Compile-time interface checks ---

var (
	_ sandbox.Engine      = (*InstrumentedEngine)(nil)
	_ tts.Synthesizer     = (*InstrumentedSynthesizer)(nil)
	_ storage.CreditStore = (*InstrumentedCreditStore)(nil)
)

// statusCode returns the HTTP status code as a string for metric labels.
func statusCode(code int) string {
	return strconv.Itoa(code)
}
