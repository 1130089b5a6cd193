package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

// BridgeConfig describes the external engine runner command. One process is
// launched per session; the session id and credential directory are passed
// through the environment.
type BridgeConfig struct {
	Command string
	Args    []string
}

// NewBridgeFactory returns a Factory that launches the configured runner
// process per session and speaks newline-delimited JSON over its stdio:
// commands down stdin, events and command replies up stdout.
func NewBridgeFactory(log *slog.Logger, cfg BridgeConfig) Factory {
	if log == nil {
		log = slog.Default()
	}
	return FactoryFunc(func(sessionID, credentialDir string, handler Handler) (Engine, error) {
		if cfg.Command == "" {
			return nil, fmt.Errorf("engine command not configured")
		}
		if handler == nil {
			return nil, fmt.Errorf("engine handler is required")
		}
		return &bridgeEngine{
			sessionID:     sessionID,
			credentialDir: credentialDir,
			command:       cfg.Command,
			args:          cfg.Args,
			handler:       handler,
			logger:        log.With(slog.String("component", "engine"), slog.String("session_id", sessionID)),
			pending:       map[string]chan bridgeFrame{},
		}, nil
	})
}

type bridgeEngine struct {
	sessionID     string
	credentialDir string
	command       string
	args          []string
	handler       Handler
	logger        *slog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	pending map[string]chan bridgeFrame
	events  chan bridgeFrame
	seq     int64
	stopped bool
}

type bridgeFrame struct {
	Event   string          `json:"event,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	ReplyTo string          `json:"reply_to,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *bridgeError    `json:"error,omitempty"`
}

type bridgeError struct {
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

type bridgeCommand struct {
	ID          string       `json:"id"`
	Op          string       `json:"op"`
	ChatID      string       `json:"chat_id,omitempty"`
	Content     *Content     `json:"content,omitempty"`
	Options     *SendOptions `json:"options,omitempty"`
	MessageID   string       `json:"message_id,omitempty"`
	ForEveryone bool         `json:"for_everyone,omitempty"`
}

func (e *bridgeEngine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cmd != nil {
		return nil
	}
	cmd := exec.Command(e.command, e.args...)
	cmd.Env = append(cmd.Environ(),
		"WAGATE_SESSION_ID="+e.sessionID,
		"WAGATE_CREDENTIAL_DIR="+e.credentialDir,
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return NewError(ErrorKindFatal, "initialize", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return NewError(ErrorKindFatal, "initialize", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return NewError(ErrorKindFatal, "initialize", err)
	}
	if err := cmd.Start(); err != nil {
		return NewError(ErrorKindFatal, "initialize", err)
	}
	e.cmd = cmd
	e.stdin = stdin
	e.events = make(chan bridgeFrame, 1024)
	go e.readLoop(stdout)
	go e.dispatchLoop()
	go e.logStderr(stderr)
	return nil
}

func (e *bridgeEngine) Destroy(ctx context.Context) error {
	e.mu.Lock()
	if e.stopped || e.cmd == nil {
		e.stopped = true
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	cmd := e.cmd
	stdin := e.stdin
	for id, ch := range e.pending {
		close(ch)
		delete(e.pending, id)
	}
	e.mu.Unlock()

	// Closing stdin asks the runner to shut down; kill if it lingers.
	if stdin != nil {
		_ = stdin.Close()
	}
	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		_ = cmd.Process.Kill()
		<-done
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-done
	}
	return nil
}

func (e *bridgeEngine) SendMessage(ctx context.Context, chatID string, content Content, opts SendOptions) (SentMessage, error) {
	frame, err := e.call(ctx, bridgeCommand{Op: "send", ChatID: chatID, Content: &content, Options: &opts})
	if err != nil {
		return SentMessage{}, err
	}
	var sent SentMessage
	if err := json.Unmarshal(frame.Result, &sent); err != nil {
		return SentMessage{}, NewError(ErrorKindFatal, "send", err)
	}
	return sent, nil
}

func (e *bridgeEngine) SelfIdentity(ctx context.Context) (Identity, error) {
	frame, err := e.call(ctx, bridgeCommand{Op: "self"})
	if err != nil {
		return Identity{}, err
	}
	var id Identity
	if err := json.Unmarshal(frame.Result, &id); err != nil {
		return Identity{}, NewError(ErrorKindFatal, "self", err)
	}
	return id, nil
}

func (e *bridgeEngine) MessageByID(ctx context.Context, messageID string) (Message, error) {
	frame, err := e.call(ctx, bridgeCommand{Op: "get_message", MessageID: messageID})
	if err != nil {
		return nil, err
	}
	var result struct {
		Found bool   `json:"found"`
		ID    string `json:"id"`
	}
	if err := json.Unmarshal(frame.Result, &result); err != nil {
		return nil, NewError(ErrorKindFatal, "get_message", err)
	}
	if !result.Found {
		return nil, ErrMessageNotFound
	}
	return &bridgeMessage{engine: e, id: result.ID}, nil
}

func (e *bridgeEngine) DownloadMedia(ctx context.Context, messageID string) ([]byte, error) {
	frame, err := e.call(ctx, bridgeCommand{Op: "download_media", MessageID: messageID})
	if err != nil {
		return nil, err
	}
	var result struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal(frame.Result, &result); err != nil {
		return nil, NewError(ErrorKindFatal, "download_media", err)
	}
	data, err := base64.StdEncoding.DecodeString(result.Data)
	if err != nil {
		return nil, NewError(ErrorKindFatal, "download_media", err)
	}
	return data, nil
}

type bridgeMessage struct {
	engine *bridgeEngine
	id     string
}

func (m *bridgeMessage) ID() string { return m.id }

func (m *bridgeMessage) Delete(ctx context.Context, forEveryone bool) error {
	_, err := m.engine.call(ctx, bridgeCommand{Op: "revoke", MessageID: m.id, ForEveryone: forEveryone})
	return err
}

func (e *bridgeEngine) call(ctx context.Context, cmd bridgeCommand) (bridgeFrame, error) {
	e.mu.Lock()
	if e.stopped || e.stdin == nil {
		e.mu.Unlock()
		return bridgeFrame{}, NewError(ErrorKindFatal, cmd.Op, errors.New("engine not running"))
	}
	e.seq++
	cmd.ID = strconv.FormatInt(e.seq, 10)
	ch := make(chan bridgeFrame, 1)
	e.pending[cmd.ID] = ch
	payload, err := json.Marshal(cmd)
	if err != nil {
		delete(e.pending, cmd.ID)
		e.mu.Unlock()
		return bridgeFrame{}, NewError(ErrorKindFatal, cmd.Op, err)
	}
	_, err = e.stdin.Write(append(payload, '\n'))
	e.mu.Unlock()
	if err != nil {
		e.dropPending(cmd.ID)
		return bridgeFrame{}, NewError(ErrorKindFatal, cmd.Op, err)
	}

	select {
	case frame, ok := <-ch:
		if !ok {
			return bridgeFrame{}, NewError(ErrorKindFatal, cmd.Op, errors.New("engine stopped"))
		}
		if frame.Error != nil {
			kind := ErrorKindFatal
			switch frame.Error.Kind {
			case "evaluation":
				kind = ErrorKindEvaluation
			case "unsupported":
				return bridgeFrame{}, ErrLookupUnsupported
			case "not_found":
				return bridgeFrame{}, ErrMessageNotFound
			}
			return bridgeFrame{}, NewError(kind, cmd.Op, errors.New(frame.Error.Message))
		}
		return frame, nil
	case <-ctx.Done():
		e.dropPending(cmd.ID)
		return bridgeFrame{}, NewError(ErrorKindFatal, cmd.Op, ctx.Err())
	}
}

func (e *bridgeEngine) dropPending(id string) {
	e.mu.Lock()
	delete(e.pending, id)
	e.mu.Unlock()
}

func (e *bridgeEngine) readLoop(stdout io.Reader) {
	// Lines are read without a size cap: a download_media reply carries the
	// whole payload base64-encoded in one frame, which can run to hundreds of
	// megabytes.
	reader := bufio.NewReaderSize(stdout, 64*1024)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			e.handleFrame(bytes.TrimSuffix(line, []byte{'\n'}))
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				e.logger.Warn("engine stdout read failed", slog.Any("error", err))
			}
			break
		}
	}
	close(e.events)
}

func (e *bridgeEngine) handleFrame(line []byte) {
	if len(line) == 0 {
		return
	}
	var frame bridgeFrame
	if err := json.Unmarshal(line, &frame); err != nil {
		e.logger.Warn("engine frame parse failed", slog.Any("error", err))
		return
	}
	if frame.ReplyTo != "" {
		e.mu.Lock()
		ch := e.pending[frame.ReplyTo]
		delete(e.pending, frame.ReplyTo)
		e.mu.Unlock()
		if ch != nil {
			ch <- frame
		}
		return
	}
	// Events are handed to a separate goroutine: handlers may issue
	// commands of their own (media download, identity fetch), and their
	// replies must keep flowing through the read loop meanwhile.
	select {
	case e.events <- frame:
	default:
		e.logger.Warn("engine event buffer full, event dropped",
			slog.String("event", frame.Event))
	}
}

func (e *bridgeEngine) dispatchLoop() {
	for frame := range e.events {
		e.dispatchEvent(frame)
	}
	// Stdout closed with buffered events drained. A deliberate Destroy has
	// already marked the engine stopped; anything else is the process dying.
	e.mu.Lock()
	stopped := e.stopped
	e.mu.Unlock()
	if !stopped {
		e.handler.OnDisconnected("engine process exited")
	}
}

func (e *bridgeEngine) dispatchEvent(frame bridgeFrame) {
	switch frame.Event {
	case "qr":
		var data struct {
			Code string `json:"code"`
		}
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			e.logger.Warn("qr event parse failed", slog.Any("error", err))
			return
		}
		e.handler.OnQR(data.Code)
	case "authenticated":
		creds := map[string]any{}
		if len(frame.Data) > 0 {
			_ = json.Unmarshal(frame.Data, &creds)
		}
		e.handler.OnAuthenticated(creds)
	case "ready":
		e.handler.OnReady()
	case "auth_failure":
		e.handler.OnAuthFailure(eventReason(frame.Data))
	case "disconnected":
		e.handler.OnDisconnected(eventReason(frame.Data))
	case "message":
		var msg InboundMessage
		if err := json.Unmarshal(frame.Data, &msg); err != nil {
			e.logger.Warn("message event parse failed", slog.Any("error", err))
			return
		}
		e.handler.OnMessage(msg)
	default:
		e.logger.Debug("unknown engine event", slog.String("event", frame.Event))
	}
}

func eventReason(data json.RawMessage) string {
	var payload struct {
		Reason string `json:"reason"`
	}
	if len(data) > 0 {
		_ = json.Unmarshal(data, &payload)
	}
	return payload.Reason
}

func (e *bridgeEngine) logStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		e.logger.Debug("engine stderr", slog.String("line", scanner.Text()))
	}
}
