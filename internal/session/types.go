// Package session implements the concurrent registry of per-tenant session
// state machines and the operations the gateway exposes on them.
package session

import (
	"time"

	"github.com/sableline/wagate/internal/engine"
	"github.com/sableline/wagate/internal/media"
)

// Status is a session's lifecycle state. The implicit state for an id with
// no registered session is "offline".
type Status string

const (
	StatusInitializing   Status = "initializing"
	StatusQR             Status = "qr"
	StatusAuthenticating Status = "authenticating"
	StatusReady          Status = "ready"
	StatusAuthFailure    Status = "auth_failure"
	StatusDisconnected   Status = "disconnected"
)

// Info is the listing projection of one registered session.
type Info struct {
	ID           string           `json:"id"`
	Status       Status           `json:"status"`
	SelfIdentity *engine.Identity `json:"self_identity,omitempty"`
}

// QRPayload carries a pairing challenge: the raw code and, when rendering
// succeeded, a PNG data URL suitable for direct display.
type QRPayload struct {
	Code  string `json:"code"`
	Image string `json:"image,omitempty"`
}

// ReadyPayload announces a session entering the ready state.
type ReadyPayload struct {
	SelfIdentity *engine.Identity `json:"self_identity,omitempty"`
}

// FailurePayload carries the reason of an auth_failure or disconnected event.
type FailurePayload struct {
	Reason string `json:"reason,omitempty"`
}

// MessagePayload is the normalized inbound message event body.
type MessagePayload struct {
	ID         string            `json:"id"`
	ChatID     string            `json:"chat_id"`
	From       string            `json:"from"`
	To         string            `json:"to"`
	Body       string            `json:"body,omitempty"`
	Type       string            `json:"type"`
	Ack        int               `json:"ack"`
	FromMe     bool              `json:"from_me"`
	Timestamp  time.Time         `json:"timestamp"`
	Attachment *media.Attachment `json:"attachment,omitempty"`
}

// SentPayload acknowledges an outbound delivery.
type SentPayload struct {
	To        string    `json:"to"`
	MessageID string    `json:"message_id"`
	Timestamp time.Time `json:"timestamp"`
}

// RevokedPayload records a successful message revocation.
type RevokedPayload struct {
	ChatID    string `json:"chat_id"`
	MessageID string `json:"message_id"`
}
