// Package event provides the in-process publish/subscribe channel carrying
// session lifecycle and message events to webhook and realtime consumers.
package event

import "time"

// Kind identifies an event topic.
type Kind string

const (
	KindQR             Kind = "qr"
	KindAuthenticated  Kind = "authenticated"
	KindReady          Kind = "ready"
	KindAuthFailure    Kind = "auth_failure"
	KindDisconnected   Kind = "disconnected"
	KindMessage        Kind = "message"
	KindMessageSent    Kind = "message_sent"
	KindMessageRevoked Kind = "message_revoked"
	KindSessionDeleted Kind = "session_deleted"
)

// Event is an immutable record of one lifecycle or message occurrence.
// It is published exactly once and observed by zero or more subscribers.
type Event struct {
	Kind      Kind      `json:"kind"`
	SessionID string    `json:"session_id"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// New builds an event stamped with the current UTC time.
func New(kind Kind, sessionID string, payload any) Event {
	return Event{
		Kind:      kind,
		SessionID: sessionID,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}
