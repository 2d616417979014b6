package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otellog "go.opentelemetry.io/otel/log"
	otelmetric "go.opentelemetry.io/otel/metric"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/metric"

	"twentymin-coach/backend/internal/eventbus"
	"twentymin-coach/backend/internal/session/event"
)

// EventMonitor counts session events and emits each as an OTel log record.
// It observes the bus passively; it never alters delivery.
type EventMonitor struct {
	events otelmetric.Int64Counter
	logger otellog.Logger
}

// NewEventMonitor builds meters on the given providers. lp may be nil, in
// which case no log records are emitted.
func NewEventMonitor(mp *metric.MeterProvider, lp *sdklog.LoggerProvider) (*EventMonitor, error) {
	meter := mp.Meter("coach.session")
	events, err := meter.Int64Counter("session.events",
		otelmetric.WithDescription("Session lifecycle events published on the bus"))
	if err != nil {
		return nil, err
	}
	m := &EventMonitor{events: events}
	if lp != nil {
		m.logger = lp.Logger("coach.session")
	}
	return m, nil
}

// Attach subscribes the monitor to every session event type on the bus.
func (m *EventMonitor) Attach(bus *eventbus.Bus) []eventbus.Subscription {
	subs := make([]eventbus.Subscription, 0, len(event.Types))
	for _, typ := range event.Types {
		subs = append(subs, bus.Subscribe(typ, m.observe))
	}
	return subs
}

func (m *EventMonitor) observe(ctx context.Context, payload any) error {
	p, ok := payload.(event.Payload)
	if !ok {
		return nil
	}
	m.events.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("event", p.Event),
	))
	if m.logger != nil {
		m.emitRecord(ctx, p)
	}
	return nil
}

// emitRecord converts the event to an OTel log record. Best-effort.
func (m *EventMonitor) emitRecord(ctx context.Context, p event.Payload) {
	rec := otellog.Record{}
	if t, err := time.Parse(time.RFC3339, p.Timestamp); err == nil {
		rec.SetTimestamp(t)
	} else {
		rec.SetTimestamp(time.Now().UTC())
	}
	rec.SetBody(otellog.StringValue(p.Event))
	rec.AddAttributes(
		otellog.String("event_id", p.EventID),
		otellog.String("session_id", p.SessionID),
		otellog.String("user_id", p.UserID),
		otellog.String("coach_id", p.CoachID),
	)
	if p.DurationMinutes != nil {
		rec.AddAttributes(otellog.Int("duration_minutes", *p.DurationMinutes))
	}
	if p.Rating != nil {
		rec.AddAttributes(otellog.Int("rating", *p.Rating))
	}
	if p.Reason != "" {
		rec.AddAttributes(otellog.String("reason", p.Reason))
	}
	m.logger.Emit(ctx, rec)
}
