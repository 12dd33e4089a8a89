package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "agentmesh"

// Metrics holds all AgentMesh metric instruments.
type Metrics struct {
	MessagesSent      metric.Int64Counter
	MessagesDelivered metric.Int64Counter
	MessagesQueued    metric.Int64Counter
	MessagesExpired   metric.Int64Counter
	MessagesFailed    metric.Int64Counter
	SessionsActive    metric.Int64UpDownCounter
	MeetingsCompleted metric.Int64Counter
	RoundDuration     metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.MessagesSent, err = meter.Int64Counter("agentmesh.messages.sent",
		metric.WithDescription("Number of messages accepted for routing"))
	if err != nil {
		return nil, err
	}

	m.MessagesDelivered, err = meter.Int64Counter("agentmesh.messages.delivered",
		metric.WithDescription("Number of messages delivered to live sessions"))
	if err != nil {
		return nil, err
	}

	m.MessagesQueued, err = meter.Int64Counter("agentmesh.messages.queued",
		metric.WithDescription("Number of messages queued for offline sessions"))
	if err != nil {
		return nil, err
	}

	m.MessagesExpired, err = meter.Int64Counter("agentmesh.messages.expired",
		metric.WithDescription("Number of messages dropped after TTL expiry"))
	if err != nil {
		return nil, err
	}

	m.MessagesFailed, err = meter.Int64Counter("agentmesh.messages.failed",
		metric.WithDescription("Number of messages that failed routing"))
	if err != nil {
		return nil, err
	}

	m.SessionsActive, err = meter.Int64UpDownCounter("agentmesh.sessions.active",
		metric.WithDescription("Number of live broker sessions"))
	if err != nil {
		return nil, err
	}

	m.MeetingsCompleted, err = meter.Int64Counter("agentmesh.meetings.completed",
		metric.WithDescription("Number of meetings driven to completion"))
	if err != nil {
		return nil, err
	}

	m.RoundDuration, err = meter.Float64Histogram("agentmesh.round.duration_seconds",
		metric.WithDescription("Discussion round duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
