package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/sableline/wagate/internal/credentials"
	"github.com/sableline/wagate/internal/engine"
	"github.com/sableline/wagate/internal/event"
	"github.com/sableline/wagate/internal/media"
)

func mediaInput() media.SendInput {
	return media.SendInput{Data: []byte("png-bytes"), MimeType: "image/png"}
}

type fakeEngine struct {
	initFn     func(ctx context.Context) error
	destroyFn  func(ctx context.Context) error
	sendFn     func(ctx context.Context, chatID string, content engine.Content, opts engine.SendOptions) (engine.SentMessage, error)
	selfFn     func(ctx context.Context) (engine.Identity, error)
	messageFn  func(ctx context.Context, messageID string) (engine.Message, error)
	downloadFn func(ctx context.Context, messageID string) ([]byte, error)
}

func (f *fakeEngine) Initialize(ctx context.Context) error {
	if f.initFn != nil {
		return f.initFn(ctx)
	}
	return nil
}

func (f *fakeEngine) Destroy(ctx context.Context) error {
	if f.destroyFn != nil {
		return f.destroyFn(ctx)
	}
	return nil
}

func (f *fakeEngine) SendMessage(ctx context.Context, chatID string, content engine.Content, opts engine.SendOptions) (engine.SentMessage, error) {
	if f.sendFn != nil {
		return f.sendFn(ctx, chatID, content, opts)
	}
	return engine.SentMessage{ID: "sent-1", ChatID: chatID, Timestamp: time.Now()}, nil
}

func (f *fakeEngine) SelfIdentity(ctx context.Context) (engine.Identity, error) {
	if f.selfFn != nil {
		return f.selfFn(ctx)
	}
	return engine.Identity{ID: "self@c.us"}, nil
}

func (f *fakeEngine) MessageByID(ctx context.Context, messageID string) (engine.Message, error) {
	if f.messageFn != nil {
		return f.messageFn(ctx, messageID)
	}
	return nil, engine.ErrLookupUnsupported
}

func (f *fakeEngine) DownloadMedia(ctx context.Context, messageID string) ([]byte, error) {
	if f.downloadFn != nil {
		return f.downloadFn(ctx, messageID)
	}
	return nil, errors.New("no media")
}

// fakeFactory records every created engine and its handler so tests can
// drive lifecycle callbacks by hand.
type fakeFactory struct {
	mu       sync.Mutex
	created  int
	engines  map[string]*fakeEngine
	handlers map[string]engine.Handler
	build    func(sessionID string) *fakeEngine
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		engines:  map[string]*fakeEngine{},
		handlers: map[string]engine.Handler{},
	}
}

func (f *fakeFactory) New(sessionID, credentialDir string, handler engine.Handler) (engine.Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	eng := &fakeEngine{}
	if f.build != nil {
		eng = f.build(sessionID)
	}
	f.engines[sessionID] = eng
	f.handlers[sessionID] = handler
	return eng, nil
}

func (f *fakeFactory) handler(sessionID string) engine.Handler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers[sessionID]
}

func (f *fakeFactory) engine(sessionID string) *fakeEngine {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.engines[sessionID]
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

func newTestRegistry(t *testing.T) (*Registry, *fakeFactory, *event.Bus) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	creds, err := credentials.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("credentials store: %v", err)
	}
	factory := newFakeFactory()
	bus := event.NewBus(log)
	t.Cleanup(bus.Close)
	return NewRegistry(log, factory, bus, creds, nil), factory, bus
}

func waitEvent(t *testing.T, ch <-chan event.Event) event.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return event.Event{}
	}
}

func makeReady(t *testing.T, factory *fakeFactory, id string) {
	t.Helper()
	h := factory.handler(id)
	if h == nil {
		t.Fatalf("no handler captured for %s", id)
	}
	h.OnQR("challenge")
	h.OnAuthenticated(map[string]any{"token": "x"})
	h.OnReady()
}

func TestRegistryCreateAndGet(t *testing.T) {
	t.Parallel()
	r, factory, _ := newTestRegistry(t)

	s, err := r.Create(context.Background(), "tenant-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if s.Status() != StatusInitializing {
		t.Fatalf("status = %s, want initializing", s.Status())
	}
	if factory.count() != 1 {
		t.Fatalf("factory created %d engines", factory.count())
	}
	got, err := r.Get("tenant-1")
	if err != nil || got != s {
		t.Fatalf("get: %v", err)
	}

	// Duplicate create returns the existing session without a new engine.
	again, err := r.Create(context.Background(), "tenant-1")
	if err != nil || again != s {
		t.Fatalf("duplicate create = (%v, %v)", again, err)
	}
	if factory.count() != 1 {
		t.Fatalf("factory created %d engines after duplicate create", factory.count())
	}

	if _, err := r.Create(context.Background(), ""); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("empty id err = %v", err)
	}
}

func TestRegistryConcurrentCreateSingleEngine(t *testing.T) {
	t.Parallel()
	r, factory, _ := newTestRegistry(t)

	const n = 16
	var wg sync.WaitGroup
	results := make(chan *Session, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := r.Create(context.Background(), "tenant-1")
			if err != nil {
				t.Errorf("create: %v", err)
				return
			}
			results <- s
		}()
	}
	wg.Wait()
	close(results)

	// Every caller gets the same session, backed by a single engine handle.
	var first *Session
	for s := range results {
		if first == nil {
			first = s
		} else if s != first {
			t.Fatal("concurrent creates returned different sessions")
		}
	}
	if factory.count() != 1 {
		t.Fatalf("factory created %d engines, want 1", factory.count())
	}
}

func TestRegistryOpsRequireReady(t *testing.T) {
	t.Parallel()
	r, factory, _ := newTestRegistry(t)

	_, err := r.Create(context.Background(), "tenant-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	h := factory.handler("tenant-1")

	advance := []func(){
		func() {},                         // initializing
		func() { h.OnQR("challenge") },    // qr
		func() { h.OnAuthenticated(nil) }, // authenticating
	}
	for _, step := range advance {
		step()
		if _, err := r.SendText(context.Background(), "tenant-1", "123", "hi"); !errors.Is(err, ErrSessionNotReady) {
			t.Fatalf("send err = %v, want ErrSessionNotReady", err)
		}
		if _, err := r.SendMedia(context.Background(), "tenant-1", "123", mediaInput()); !errors.Is(err, ErrSessionNotReady) {
			t.Fatalf("send media err = %v, want ErrSessionNotReady", err)
		}
		if err := r.Revoke(context.Background(), "tenant-1", "123", "msg-1"); !errors.Is(err, ErrSessionNotReady) {
			t.Fatalf("revoke err = %v, want ErrSessionNotReady", err)
		}
	}

	h.OnReady()
	if _, err := r.SendText(context.Background(), "tenant-1", "123", "hi"); err != nil {
		t.Fatalf("send after ready: %v", err)
	}
}

func TestRegistrySendTextNormalizesRecipient(t *testing.T) {
	t.Parallel()
	r, factory, bus := newTestRegistry(t)

	events := make(chan event.Event, 8)
	bus.Subscribe(func(ev event.Event) { events <- ev }, event.KindMessageSent)

	if _, err := r.Create(context.Background(), "tenant-1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	var gotChat string
	factory.engine("tenant-1").sendFn = func(ctx context.Context, chatID string, content engine.Content, opts engine.SendOptions) (engine.SentMessage, error) {
		gotChat = chatID
		return engine.SentMessage{ID: "sent-1", ChatID: chatID, Timestamp: time.Now()}, nil
	}
	makeReady(t, factory, "tenant-1")

	sent, err := r.SendText(context.Background(), "tenant-1", "+49 151 1234", "hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotChat != "491511234@c.us" {
		t.Fatalf("engine saw chat id %q", gotChat)
	}
	if sent.ID != "sent-1" {
		t.Fatalf("sent id = %q", sent.ID)
	}
	ev := waitEvent(t, events)
	payload, ok := ev.Payload.(SentPayload)
	if !ok || payload.MessageID != "sent-1" {
		t.Fatalf("unexpected payload %#v", ev.Payload)
	}

	if _, err := r.SendText(context.Background(), "tenant-1", "%%%", "hello"); !errors.Is(err, ErrInvalidRecipient) {
		t.Fatalf("bad recipient err = %v", err)
	}
}

func TestRegistryDeleteIdempotent(t *testing.T) {
	t.Parallel()
	r, _, bus := newTestRegistry(t)

	deleted := make(chan event.Event, 8)
	bus.Subscribe(func(ev event.Event) { deleted <- ev }, event.KindSessionDeleted)

	if _, err := r.Create(context.Background(), "tenant-1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := r.Delete(context.Background(), "tenant-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := r.Get("tenant-1"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("get after delete err = %v", err)
	}
	waitEvent(t, deleted)

	// Second delete is a no-op and emits nothing.
	if err := r.Delete(context.Background(), "tenant-1"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	select {
	case ev := <-deleted:
		t.Fatalf("unexpected event %s", ev.Kind)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSessionDisconnectDeregisters(t *testing.T) {
	t.Parallel()
	r, factory, bus := newTestRegistry(t)

	events := make(chan event.Event, 8)
	bus.Subscribe(func(ev event.Event) { events <- ev }, event.KindDisconnected)

	if _, err := r.Create(context.Background(), "tenant-1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	makeReady(t, factory, "tenant-1")

	destroyed := false
	factory.engine("tenant-1").destroyFn = func(ctx context.Context) error {
		destroyed = true
		return nil
	}
	factory.handler("tenant-1").OnDisconnected("stream closed")

	if _, err := r.Get("tenant-1"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("session still registered: %v", err)
	}
	if !destroyed {
		t.Fatal("engine was not destroyed")
	}
	ev := waitEvent(t, events)
	if ev.Payload.(FailurePayload).Reason != "stream closed" {
		t.Fatalf("unexpected payload %#v", ev.Payload)
	}
}

func TestRegistryListOrder(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRegistry(t)

	for _, id := range []string{"c", "a", "b"} {
		if _, err := r.Create(context.Background(), id); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	infos := r.List()
	if len(infos) != 3 {
		t.Fatalf("list len = %d", len(infos))
	}
	for i, want := range []string{"c", "a", "b"} {
		if infos[i].ID != want {
			t.Fatalf("list[%d] = %s, want %s", i, infos[i].ID, want)
		}
	}
}

func TestRegistryReconnect(t *testing.T) {
	t.Parallel()
	r, factory, _ := newTestRegistry(t)

	if _, err := r.Create(context.Background(), "tenant-1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	makeReady(t, factory, "tenant-1")

	s, err := r.Reconnect(context.Background(), "tenant-1")
	if err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if s.Status() != StatusInitializing {
		t.Fatalf("status after reconnect = %s", s.Status())
	}
	if factory.count() != 2 {
		t.Fatalf("factory created %d engines, want 2", factory.count())
	}
	if _, err := r.Reconnect(context.Background(), "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("reconnect missing err = %v", err)
	}
}

func TestSessionRevokeErrorMapping(t *testing.T) {
	t.Parallel()
	r, factory, _ := newTestRegistry(t)

	if _, err := r.Create(context.Background(), "tenant-1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	makeReady(t, factory, "tenant-1")
	eng := factory.engine("tenant-1")

	eng.messageFn = func(ctx context.Context, messageID string) (engine.Message, error) {
		return nil, engine.ErrLookupUnsupported
	}
	if err := r.Revoke(context.Background(), "tenant-1", "123", "msg-1"); !errors.Is(err, ErrRevokeUnsupported) {
		t.Fatalf("err = %v, want ErrRevokeUnsupported", err)
	}

	eng.messageFn = func(ctx context.Context, messageID string) (engine.Message, error) {
		return nil, engine.ErrMessageNotFound
	}
	if err := r.Revoke(context.Background(), "tenant-1", "123", "msg-1"); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("err = %v, want ErrMessageNotFound", err)
	}
}
