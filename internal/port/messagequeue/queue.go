// Package messagequeue defines the external event-mirror queue port.
// Meeting lifecycle events are mirrored to these subjects so external
// consumers can follow discussions without holding a WebSocket.
package messagequeue

import "context"

// Handler processes a message received from the queue.
type Handler func(subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Close shuts down the queue connection.
	Close() error
}

// Subject constants for mirrored events.
const (
	// SubjectMeetingEvents is the per-meeting event subject:
	// meetings.{meeting_id}.events
	SubjectMeetingEventsPrefix = "meetings."
	SubjectMeetingEventsSuffix = ".events"

	// SubjectBrokerStats carries periodic per-project routing statistics.
	SubjectBrokerStats = "broker.stats"
)

// MeetingSubject returns the mirror subject for one meeting's events.
func MeetingSubject(meetingID string) string {
	return SubjectMeetingEventsPrefix + meetingID + SubjectMeetingEventsSuffix
}
