package ai

import (
	"context"
	"encoding/json"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	// delegateCalls counts assistant calls by operation, provider, and outcome (ok|error).
	delegateCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_delegate_requests_total",
			Help: "Total number of assistant calls.",
		},
		[]string{"operation", "provider", "outcome"},
	)

	// delegateLat records assistant call latency. Buckets reach a minute
	// because completions are slow.
	delegateLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_delegate_duration_seconds",
			Help:    "Duration of assistant calls in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"operation", "provider"},
	)
)

func init() {
	prometheus.MustRegister(delegateCalls, delegateLat)
}

const (
	opConvert = "convert_calendar_input"
	opAnswer  = "answer_availability_query"
)

// instrumented decorates a Delegate with tracing, metrics, and debug logs.
type instrumented struct {
	next     Delegate
	provider string
}

// Instrument wraps d so every call is traced, counted, and timed under the
// given provider label.
func Instrument(d Delegate, provider string) Delegate {
	return &instrumented{next: d, provider: provider}
}

func (i *instrumented) observe(ctx context.Context, op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	dur := time.Since(start)
	delegateCalls.WithLabelValues(op, i.provider, outcome).Inc()
	delegateLat.WithLabelValues(op, i.provider).Observe(dur.Seconds())

	ev := log.Ctx(ctx).Debug()
	if err != nil {
		ev = log.Ctx(ctx).Warn().Err(err)
	}
	ev.Str("operation", op).Str("provider", i.provider).Dur("duration", dur).Msg("ai delegate call")
}

func (i *instrumented) ConvertCalendarInput(ctx context.Context, freeText string) (json.RawMessage, error) {
	ctx, span := otel.Tracer("ai/Delegate").Start(ctx, "ConvertCalendarInput",
		trace.WithAttributes(
			attribute.String("ai.provider", i.provider),
			attribute.Int("ai.input_len", len(freeText)),
		),
	)
	defer span.End()

	start := time.Now()
	out, err := i.next.ConvertCalendarInput(ctx, freeText)
	i.observe(ctx, opConvert, start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("ai.output_len", len(out)))
	return out, nil
}

func (i *instrumented) AnswerAvailabilityQuery(ctx context.Context, question string, calendars []CalendarEntry) (string, error) {
	ctx, span := otel.Tracer("ai/Delegate").Start(ctx, "AnswerAvailabilityQuery",
		trace.WithAttributes(
			attribute.String("ai.provider", i.provider),
			attribute.Int("ai.calendars", len(calendars)),
		),
	)
	defer span.End()

	start := time.Now()
	out, err := i.next.AnswerAvailabilityQuery(ctx, question, calendars)
	i.observe(ctx, opAnswer, start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return out, nil
}
