package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/sableline/wagate/internal/engine"
	"github.com/sableline/wagate/internal/event"
	"github.com/sableline/wagate/internal/media"
)

const qrImageSize = 256

// Session is one tenant's managed connection: its lifecycle state and its
// exclusively owned engine handle. State mutates only through callbacks from
// that handle; external callers read state and invoke ready-only operations.
type Session struct {
	id         string
	logger     *slog.Logger
	bus        *event.Bus
	pipeline   *media.Pipeline
	deregister func(id string)

	mu       sync.RWMutex
	status   Status
	authInfo map[string]any
	self     *engine.Identity
	qr       QRPayload

	// engineMu serializes every call into the engine handle; the underlying
	// automation runtime is not safe for concurrent invocation.
	engineMu sync.Mutex
	engine   engine.Engine
}

func newSession(log *slog.Logger, id string, bus *event.Bus, pipeline *media.Pipeline, deregister func(string)) *Session {
	return &Session{
		id:         id,
		logger:     log.With(slog.String("component", "session"), slog.String("session_id", id)),
		bus:        bus,
		pipeline:   pipeline,
		deregister: deregister,
		status:     StatusInitializing,
	}
}

// ID returns the immutable session id.
func (s *Session) ID() string { return s.id }

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Self returns the account's own identity, non-nil only once ready.
func (s *Session) Self() *engine.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.self
}

// QR returns the last pairing challenge, empty outside the qr state.
func (s *Session) QR() QRPayload {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.qr
}

// Info returns the listing projection.
func (s *Session) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Info{ID: s.id, Status: s.status, SelfIdentity: s.self}
}

// start initializes the engine handle in the background. Initialization
// failure is reported as an auth_failure event; no caller waits on it.
func (s *Session) start(ctx context.Context) {
	s.engineMu.Lock()
	eng := s.engine
	s.engineMu.Unlock()
	if eng == nil {
		return
	}
	if err := eng.Initialize(ctx); err != nil {
		s.logger.Error("engine initialize failed", slog.Any("error", err))
		s.OnAuthFailure(fmt.Sprintf("engine initialize failed: %v", err))
	}
}

// teardown destroys the engine handle, swallowing failures.
func (s *Session) teardown(ctx context.Context) {
	s.engineMu.Lock()
	eng := s.engine
	s.engine = nil
	s.engineMu.Unlock()
	if eng == nil {
		return
	}
	if err := eng.Destroy(ctx); err != nil {
		s.logger.Warn("engine destroy failed", slog.Any("error", err))
	}
}

// apply runs the transition function under the state lock and reports
// whether the trigger was valid in the state it arrived in.
func (s *Session) apply(trigger Trigger) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, ok := Next(s.status, trigger)
	if !ok {
		return false
	}
	s.status = next
	if next != StatusQR {
		s.qr = QRPayload{}
	}
	if next != StatusReady {
		s.self = nil
	}
	return true
}

// --- engine.Handler ---

// OnQR renders the raw pairing challenge into a displayable PNG data URL and
// publishes it. Rendering failure degrades to the raw code.
func (s *Session) OnQR(code string) {
	if !s.apply(TriggerQR) {
		return
	}
	payload := QRPayload{Code: code}
	if png, err := qrcode.Encode(code, qrcode.Medium, qrImageSize); err == nil {
		payload.Image = "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
	} else {
		s.logger.Warn("qr render failed", slog.Any("error", err))
	}
	s.mu.Lock()
	s.qr = payload
	s.mu.Unlock()
	s.logger.Info("qr challenge received")
	s.bus.Publish(event.New(event.KindQR, s.id, payload))
}

func (s *Session) OnAuthenticated(credentials map[string]any) {
	if !s.apply(TriggerAuthenticated) {
		return
	}
	s.mu.Lock()
	s.authInfo = credentials
	s.mu.Unlock()
	s.logger.Info("authenticated")
	s.bus.Publish(event.New(event.KindAuthenticated, s.id, nil))
}

// OnReady fetches the account's own identity best-effort; a fetch failure
// leaves it null but does not fail the transition.
func (s *Session) OnReady() {
	if !s.apply(TriggerReady) {
		return
	}
	var self *engine.Identity
	s.engineMu.Lock()
	if s.engine != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		identity, err := s.engine.SelfIdentity(ctx)
		cancel()
		if err != nil {
			s.logger.Warn("self identity fetch failed", slog.Any("error", err))
		} else {
			self = &identity
		}
	}
	s.engineMu.Unlock()
	s.mu.Lock()
	if s.status == StatusReady {
		s.self = self
	}
	s.mu.Unlock()
	s.logger.Info("session ready")
	s.bus.Publish(event.New(event.KindReady, s.id, ReadyPayload{SelfIdentity: self}))
}

func (s *Session) OnAuthFailure(reason string) {
	if !s.apply(TriggerAuthFailure) {
		return
	}
	s.logger.Warn("auth failure", slog.String("reason", reason))
	s.bus.Publish(event.New(event.KindAuthFailure, s.id, FailurePayload{Reason: reason}))
}

// OnDisconnected is the self-terminating transition: the session tears down
// its own engine handle and removes itself from the owning registry.
func (s *Session) OnDisconnected(reason string) {
	if !s.apply(TriggerDisconnected) {
		return
	}
	s.logger.Warn("disconnected", slog.String("reason", reason))
	s.bus.Publish(event.New(event.KindDisconnected, s.id, FailurePayload{Reason: reason}))
	s.teardown(context.Background())
	if s.deregister != nil {
		s.deregister(s.id)
	}
}

// OnMessage runs the ingress pipeline for attachments and publishes the
// normalized message event. No state change.
func (s *Session) OnMessage(msg engine.InboundMessage) {
	payload := MessagePayload{
		ID:        msg.ID,
		ChatID:    msg.ChatID,
		From:      msg.From,
		To:        msg.To,
		Body:      msg.Body,
		Type:      msg.Type,
		Ack:       msg.Ack,
		FromMe:    msg.FromMe,
		Timestamp: msg.Timestamp,
	}
	if msg.Media != nil && s.pipeline != nil {
		s.engineMu.Lock()
		if s.engine != nil {
			att := s.pipeline.Ingest(context.Background(), s.engine, s.id, msg.ID, *msg.Media)
			payload.Attachment = &att
		}
		s.engineMu.Unlock()
	}
	s.bus.Publish(event.New(event.KindMessage, s.id, payload))
}

// --- operations ---

func (s *Session) requireReady() (engine.Engine, error) {
	s.mu.RLock()
	status := s.status
	s.mu.RUnlock()
	if status != StatusReady {
		return nil, fmt.Errorf("%w: session %s is %s", ErrSessionNotReady, s.id, status)
	}
	s.engineMu.Lock()
	eng := s.engine
	s.engineMu.Unlock()
	if eng == nil {
		return nil, fmt.Errorf("%w: session %s has no engine", ErrSessionNotReady, s.id)
	}
	return eng, nil
}

// SendText delivers a text message to the normalized chat id.
func (s *Session) SendText(ctx context.Context, chatID, text string) (engine.SentMessage, error) {
	eng, err := s.requireReady()
	if err != nil {
		return engine.SentMessage{}, err
	}
	s.engineMu.Lock()
	sent, err := eng.SendMessage(ctx, chatID, engine.Content{Text: text}, engine.SendOptions{})
	s.engineMu.Unlock()
	if err != nil {
		return engine.SentMessage{}, err
	}
	s.bus.Publish(event.New(event.KindMessageSent, s.id, SentPayload{
		To:        chatID,
		MessageID: sent.ID,
		Timestamp: sent.Timestamp,
	}))
	return sent, nil
}

// SendMedia builds the outbound attachment and delivers it through the
// egress pipeline, including its single document fallback.
func (s *Session) SendMedia(ctx context.Context, chatID string, input media.SendInput) (engine.SentMessage, error) {
	eng, err := s.requireReady()
	if err != nil {
		return engine.SentMessage{}, err
	}
	payload, opts, err := media.BuildOutbound(input)
	if err != nil {
		return engine.SentMessage{}, err
	}
	s.engineMu.Lock()
	sent, err := media.Send(ctx, func(ctx context.Context, content engine.Content, opts engine.SendOptions) (engine.SentMessage, error) {
		return eng.SendMessage(ctx, chatID, content, opts)
	}, payload, opts)
	s.engineMu.Unlock()
	if err != nil {
		return engine.SentMessage{}, err
	}
	s.bus.Publish(event.New(event.KindMessageSent, s.id, SentPayload{
		To:        chatID,
		MessageID: sent.ID,
		Timestamp: sent.Timestamp,
	}))
	return sent, nil
}

// Revoke deletes a previously sent message for everyone.
func (s *Session) Revoke(ctx context.Context, chatID, messageID string) error {
	eng, err := s.requireReady()
	if err != nil {
		return err
	}
	s.engineMu.Lock()
	defer s.engineMu.Unlock()
	msg, err := eng.MessageByID(ctx, messageID)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrLookupUnsupported):
			return fmt.Errorf("%w: %v", ErrRevokeUnsupported, err)
		case errors.Is(err, engine.ErrMessageNotFound):
			return fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
		}
		return err
	}
	if err := msg.Delete(ctx, true); err != nil {
		return err
	}
	s.bus.Publish(event.New(event.KindMessageRevoked, s.id, RevokedPayload{
		ChatID:    chatID,
		MessageID: messageID,
	}))
	return nil
}
