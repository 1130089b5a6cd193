// Package engine abstracts the external automation engine that performs
// QR pairing and message transport for one session. Every instance is owned
// by exactly one session and must never be shared across tenants.
package engine

import (
	"context"
	"time"
)

// Identity is the engine account's own address once authenticated.
type Identity struct {
	ID       string `json:"id"`
	PushName string `json:"push_name,omitempty"`
}

// MediaRef describes an attachment carried by an inbound message. The raw
// bytes are fetched separately via DownloadMedia.
type MediaRef struct {
	MimeType  string `json:"mime_type"`
	FileName  string `json:"file_name,omitempty"`
	SizeBytes int64  `json:"size_bytes"`
}

// InboundMessage is a message event as emitted by the engine.
type InboundMessage struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Body      string    `json:"body"`
	Type      string    `json:"type"`
	Ack       int       `json:"ack"`
	FromMe    bool      `json:"from_me"`
	Timestamp time.Time `json:"timestamp"`
	Media     *MediaRef `json:"media,omitempty"`
}

// MediaPayload is an outbound attachment.
type MediaPayload struct {
	Data     []byte `json:"data"`
	MimeType string `json:"mime_type"`
	FileName string `json:"file_name,omitempty"`
}

// Content is the body of an outbound message: text, an attachment, or both
// (the attachment caption rides in SendOptions).
type Content struct {
	Text  string        `json:"text,omitempty"`
	Media *MediaPayload `json:"media,omitempty"`
}

// SendOptions mirror the engine's sendMessage options.
type SendOptions struct {
	AsVoice        bool   `json:"as_voice,omitempty"`
	SendAsDocument bool   `json:"send_as_document,omitempty"`
	Caption        string `json:"caption,omitempty"`
}

// SentMessage acknowledges a delivered outbound message.
type SentMessage struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Message is a previously sent message resolved by id.
type Message interface {
	ID() string
	// Delete revokes the message, for everyone when forEveryone is true.
	Delete(ctx context.Context, forEveryone bool) error
}

// Handler receives the asynchronous callback stream of one engine instance.
// Callbacks for a single instance arrive sequentially, in engine order.
type Handler interface {
	OnQR(code string)
	OnAuthenticated(credentials map[string]any)
	OnReady()
	OnAuthFailure(reason string)
	OnDisconnected(reason string)
	OnMessage(msg InboundMessage)
}

// Engine drives one tenant's connection to the messaging service.
// All operations are fallible and may be arbitrarily long-lived; callers
// serialize access per instance.
type Engine interface {
	// Initialize starts the engine. Authentication proceeds asynchronously
	// through the Handler callbacks.
	Initialize(ctx context.Context) error
	// Destroy tears the engine down. Safe to call more than once.
	Destroy(ctx context.Context) error
	SendMessage(ctx context.Context, chatID string, content Content, opts SendOptions) (SentMessage, error)
	SelfIdentity(ctx context.Context) (Identity, error)
	// MessageByID resolves a sent message for revocation. Engines without
	// lookup capability return ErrLookupUnsupported.
	MessageByID(ctx context.Context, messageID string) (Message, error)
	// DownloadMedia fetches the decoded bytes of an inbound attachment.
	DownloadMedia(ctx context.Context, messageID string) ([]byte, error)
}

// Factory creates one engine instance per session. The credential directory
// is where the engine reads and writes its authentication material.
type Factory interface {
	New(sessionID, credentialDir string, handler Handler) (Engine, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(sessionID, credentialDir string, handler Handler) (Engine, error)

func (f FactoryFunc) New(sessionID, credentialDir string, handler Handler) (Engine, error) {
	return f(sessionID, credentialDir, handler)
}
