package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sableline/wagate/internal/credentials"
	"github.com/sableline/wagate/internal/engine"
	"github.com/sableline/wagate/internal/event"
	"github.com/sableline/wagate/internal/media"
)

// Registry owns every live session. It is the single authority for the
// id -> session mapping: creation, lookup, listing, and removal all go
// through it, and at most one session exists per id at a time.
type Registry struct {
	logger   *slog.Logger
	factory  engine.Factory
	bus      *event.Bus
	creds    *credentials.Store
	pipeline *media.Pipeline

	mu       sync.RWMutex
	sessions map[string]*Session
	order    []string
}

func NewRegistry(log *slog.Logger, factory engine.Factory, bus *event.Bus, creds *credentials.Store, pipeline *media.Pipeline) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		logger:   log.With(slog.String("component", "registry")),
		factory:  factory,
		bus:      bus,
		creds:    creds,
		pipeline: pipeline,
		sessions: make(map[string]*Session),
	}
}

// Create registers a new session for id and starts its engine in the
// background. Idempotent: if a live session already exists for id it is
// returned unchanged. The check-and-insert is atomic, so concurrent creates
// for the same id yield exactly one engine handle.
func (r *Registry) Create(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty session id", ErrInvalidArgument)
	}

	r.mu.Lock()
	if existing, ok := r.sessions[id]; ok {
		r.mu.Unlock()
		return existing, nil
	}
	s := newSession(r.logger, id, r.bus, r.pipeline, r.remove)
	eng, err := r.factory.New(id, r.creds.PathFor(id), s)
	if err != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("create engine for session %s: %w", id, err)
	}
	s.engine = eng
	r.sessions[id] = s
	r.order = append(r.order, id)
	r.mu.Unlock()

	r.logger.Info("session created", slog.String("session_id", id))
	go s.start(context.WithoutCancel(ctx))
	return s, nil
}

// Get returns the session for id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// List returns the live sessions in creation order.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]Info, 0, len(r.sessions))
	for _, id := range r.order {
		if s, ok := r.sessions[id]; ok {
			infos = append(infos, s.Info())
		}
	}
	return infos
}

// remove drops id from the registry without touching the engine or stored
// credentials. Used by sessions deregistering themselves on disconnect.
func (r *Registry) remove(id string) {
	r.mu.Lock()
	if _, ok := r.sessions[id]; ok {
		delete(r.sessions, id)
		for i, v := range r.order {
			if v == id {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()
}

// Delete terminates the session and purges its stored credentials. It is
// idempotent: deleting an unknown id still clears any leftover credential
// directory, and teardown failures never block the removal.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty session id", ErrInvalidArgument)
	}
	r.mu.Lock()
	s, existed := r.sessions[id]
	if existed {
		delete(r.sessions, id)
		for i, v := range r.order {
			if v == id {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()

	if existed {
		s.teardown(ctx)
	}
	if err := r.creds.Remove(id); err != nil {
		r.logger.Warn("credential purge failed", slog.String("session_id", id), slog.Any("error", err))
	}
	if existed {
		r.logger.Info("session deleted", slog.String("session_id", id))
		r.bus.Publish(event.New(event.KindSessionDeleted, id, nil))
	}
	return nil
}

// Reconnect tears the session's engine down while keeping its stored
// credentials, then re-registers it so it can re-pair or resume.
func (r *Registry) Reconnect(ctx context.Context, id string) (*Session, error) {
	r.mu.Lock()
	s, existed := r.sessions[id]
	if existed {
		delete(r.sessions, id)
		for i, v := range r.order {
			if v == id {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()
	if !existed {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.teardown(ctx)
	r.logger.Info("session reconnecting", slog.String("session_id", id))
	return r.Create(ctx, id)
}

// SendText normalizes the recipient and delivers through the session.
func (r *Registry) SendText(ctx context.Context, id, to, text string) (engine.SentMessage, error) {
	s, err := r.Get(id)
	if err != nil {
		return engine.SentMessage{}, err
	}
	chatID, err := NormalizeChatID(to)
	if err != nil {
		return engine.SentMessage{}, err
	}
	return s.SendText(ctx, chatID, text)
}

// SendMedia normalizes the recipient and delivers through the session.
func (r *Registry) SendMedia(ctx context.Context, id, to string, input media.SendInput) (engine.SentMessage, error) {
	s, err := r.Get(id)
	if err != nil {
		return engine.SentMessage{}, err
	}
	chatID, err := NormalizeChatID(to)
	if err != nil {
		return engine.SentMessage{}, err
	}
	return s.SendMedia(ctx, chatID, input)
}

// Revoke deletes a previously sent message in the given chat.
func (r *Registry) Revoke(ctx context.Context, id, chatID, messageID string) error {
	s, err := r.Get(id)
	if err != nil {
		return err
	}
	normalized, err := NormalizeChatID(chatID)
	if err != nil {
		return err
	}
	return s.Revoke(ctx, normalized, messageID)
}

// Shutdown tears down every live session without purging credentials, so
// they can be restored on the next start.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.sessions = make(map[string]*Session)
	r.order = nil
	r.mu.Unlock()

	for _, s := range all {
		s.teardown(ctx)
	}
	r.logger.Info("all sessions shut down", slog.Int("count", len(all)))
}
