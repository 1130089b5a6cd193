package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/sableline/wagate/internal/credentials"
	"github.com/sableline/wagate/internal/engine"
	"github.com/sableline/wagate/internal/event"
	"github.com/sableline/wagate/internal/session"
)

type stubEngine struct {
	sendFn func(ctx context.Context, chatID string, content engine.Content, opts engine.SendOptions) (engine.SentMessage, error)
}

func (s *stubEngine) Initialize(ctx context.Context) error { return nil }
func (s *stubEngine) Destroy(ctx context.Context) error    { return nil }

func (s *stubEngine) SendMessage(ctx context.Context, chatID string, content engine.Content, opts engine.SendOptions) (engine.SentMessage, error) {
	if s.sendFn != nil {
		return s.sendFn(ctx, chatID, content, opts)
	}
	return engine.SentMessage{ID: "sent-1", ChatID: chatID, Timestamp: time.Now()}, nil
}

func (s *stubEngine) SelfIdentity(ctx context.Context) (engine.Identity, error) {
	return engine.Identity{ID: "self@c.us", PushName: "Gateway"}, nil
}

func (s *stubEngine) MessageByID(ctx context.Context, messageID string) (engine.Message, error) {
	return nil, engine.ErrLookupUnsupported
}

func (s *stubEngine) DownloadMedia(ctx context.Context, messageID string) ([]byte, error) {
	return nil, engine.ErrMessageNotFound
}

type testValidator struct {
	validate *validator.Validate
}

func (v *testValidator) Validate(i any) error { return v.validate.Struct(i) }

type handlerFixture struct {
	echo     *echo.Echo
	registry *session.Registry
	handlers map[string]engine.Handler
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	creds, err := credentials.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("credentials: %v", err)
	}
	bus := event.NewBus(log)
	t.Cleanup(bus.Close)

	fixture := &handlerFixture{handlers: map[string]engine.Handler{}}
	factory := engine.FactoryFunc(func(sessionID, credentialDir string, handler engine.Handler) (engine.Engine, error) {
		fixture.handlers[sessionID] = handler
		return &stubEngine{}, nil
	})
	fixture.registry = session.NewRegistry(log, factory, bus, creds, nil)

	e := echo.New()
	e.Validator = &testValidator{validate: validator.New()}
	NewSessionsHandler(log, fixture.registry, nil).Register(e)
	fixture.echo = e
	return fixture
}

func (f *handlerFixture) request(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	f.echo.ServeHTTP(rec, req)
	return rec
}

func (f *handlerFixture) makeReady(t *testing.T, id string) {
	t.Helper()
	h := f.handlers[id]
	if h == nil {
		t.Fatalf("no handler for %s", id)
	}
	h.OnQR("challenge")
	h.OnAuthenticated(nil)
	h.OnReady()
}

func TestCreateSessionEndpoint(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(t)

	rec := f.request(t, http.MethodPost, "/sessions", `{"id":"tenant-1"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body)
	}
	var resp sessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ID != "tenant-1" || resp.Status != string(session.StatusInitializing) {
		t.Fatalf("resp = %+v", resp)
	}

	// Missing id fails validation.
	rec = f.request(t, http.MethodPost, "/sessions", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}

	// Create is idempotent: repeating the call returns the live session.
	rec = f.request(t, http.MethodPost, "/sessions", `{"id":"tenant-1"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("duplicate status = %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ID != "tenant-1" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestListAndGetSessionEndpoints(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(t)

	f.request(t, http.MethodPost, "/sessions", `{"id":"b"}`)
	f.request(t, http.MethodPost, "/sessions", `{"id":"a"}`)

	rec := f.request(t, http.MethodGet, "/sessions", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var list []sessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 2 || list[0].ID != "b" || list[1].ID != "a" {
		t.Fatalf("list = %+v", list)
	}

	if rec := f.request(t, http.MethodGet, "/sessions/a", ""); rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	if rec := f.request(t, http.MethodGet, "/sessions/missing", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("missing status = %d", rec.Code)
	}
}

func TestQREndpoint(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(t)

	f.request(t, http.MethodPost, "/sessions", `{"id":"tenant-1"}`)

	// No challenge yet.
	if rec := f.request(t, http.MethodGet, "/sessions/tenant-1/qr", ""); rec.Code != http.StatusConflict {
		t.Fatalf("status = %d", rec.Code)
	}

	f.handlers["tenant-1"].OnQR("pairing-code")
	rec := f.request(t, http.MethodGet, "/sessions/tenant-1/qr", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp qrResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Code != "pairing-code" {
		t.Fatalf("code = %q", resp.Code)
	}
	if !strings.HasPrefix(resp.Image, "data:image/png;base64,") {
		t.Fatalf("image = %.40q", resp.Image)
	}

	// Challenge is cleared once authenticated.
	f.handlers["tenant-1"].OnAuthenticated(nil)
	if rec := f.request(t, http.MethodGet, "/sessions/tenant-1/qr", ""); rec.Code != http.StatusConflict {
		t.Fatalf("post-auth status = %d", rec.Code)
	}
}

func TestSendTextEndpoint(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(t)

	f.request(t, http.MethodPost, "/sessions", `{"id":"tenant-1"}`)

	// Not ready yet.
	rec := f.request(t, http.MethodPost, "/sessions/tenant-1/messages", `{"to":"123","text":"hi"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d", rec.Code)
	}

	f.makeReady(t, "tenant-1")
	rec = f.request(t, http.MethodPost, "/sessions/tenant-1/messages", `{"to":"123","text":"hi"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body)
	}
	var resp sentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.MessageID != "sent-1" || resp.ChatID != "123@c.us" {
		t.Fatalf("resp = %+v", resp)
	}

	// Invalid recipient.
	rec = f.request(t, http.MethodPost, "/sessions/tenant-1/messages", `{"to":"$$$","text":"hi"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid recipient status = %d", rec.Code)
	}
}

func TestSendMediaEndpoint(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(t)

	f.request(t, http.MethodPost, "/sessions", `{"id":"tenant-1"}`)
	f.makeReady(t, "tenant-1")

	data := base64.StdEncoding.EncodeToString([]byte("png-bytes"))
	body := `{"to":"123","data":"` + data + `","mime_type":"image/png","file_name":"pic.png"}`
	rec := f.request(t, http.MethodPost, "/sessions/tenant-1/media", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body)
	}

	// Invalid base64.
	rec = f.request(t, http.MethodPost, "/sessions/tenant-1/media", `{"to":"123","data":"%%%","mime_type":"image/png"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad base64 status = %d", rec.Code)
	}
}

func TestRevokeEndpointUnsupported(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(t)

	f.request(t, http.MethodPost, "/sessions", `{"id":"tenant-1"}`)
	f.makeReady(t, "tenant-1")

	rec := f.request(t, http.MethodPost, "/sessions/tenant-1/revoke", `{"chat_id":"123","message_id":"m1"}`)
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestDeleteSessionEndpoint(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(t)

	f.request(t, http.MethodPost, "/sessions", `{"id":"tenant-1"}`)
	if rec := f.request(t, http.MethodDelete, "/sessions/tenant-1", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec := f.request(t, http.MethodGet, "/sessions/tenant-1", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete = %d", rec.Code)
	}
	// Idempotent.
	if rec := f.request(t, http.MethodDelete, "/sessions/tenant-1", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("second delete = %d", rec.Code)
	}
}
