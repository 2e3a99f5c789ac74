package types

import "time"

// EventType identifies a domain event emitted by a mutating operation.
type EventType string

const (
	EventTaskCreated   EventType = "task:created"
	EventTaskAssigned  EventType = "task:assigned"
	EventTaskCompleted EventType = "task:completed"
	EventTaskFailed    EventType = "task:failed"

	EventHandoffCreated   EventType = "handoff:created"
	EventHandoffAccepted  EventType = "handoff:accepted"
	EventHandoffRejected  EventType = "handoff:rejected"
	EventHandoffCancelled EventType = "handoff:cancelled"
	EventHandoffExpired   EventType = "handoff:expired"

	EventCollaborationStarted   EventType = "collaboration:started"
	EventCollaborationCompleted EventType = "collaboration:completed"

	EventConsensusCreated  EventType = "consensus:created"
	EventConsensusResolved EventType = "consensus:resolved"

	EventAgentStatusChanged EventType = "agent:status_changed"
)

// Event is a fire-and-forget notification consumed by the transport layer
// for push delivery. Emission never blocks or fails the originating call.
type Event struct {
	Type      EventType      `json:"type"`
	OwnerID   string         `json:"owner_id,omitempty"`
	Subject   string         `json:"subject"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewEvent creates an event stamped with the current time.
func NewEvent(typ EventType, ownerID, subject string, payload map[string]any) Event {
	return Event{
		Type:      typ,
		OwnerID:   ownerID,
		Subject:   subject,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}
