// Package webhook pushes gateway events to configured HTTP endpoints.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sableline/wagate/internal/event"
)

const secretHeader = "X-Webhook-Secret"

// Dispatcher delivers every published event to each configured URL as a JSON
// POST. Delivery is fire-and-forget: a slow or failing endpoint is logged and
// dropped, it never stalls event flow or other endpoints.
type Dispatcher struct {
	logger *slog.Logger
	urls   []string
	secret string
	client *http.Client

	cancel func()
	wg     sync.WaitGroup
}

func NewDispatcher(log *slog.Logger, urls []string, secret string, timeout time.Duration) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		logger: log.With(slog.String("component", "webhook")),
		urls:   urls,
		secret: secret,
		client: &http.Client{Timeout: timeout},
	}
}

// Attach subscribes the dispatcher to the bus. No-op when no URLs are
// configured.
func (d *Dispatcher) Attach(bus *event.Bus) {
	if len(d.urls) == 0 {
		return
	}
	d.cancel = bus.Subscribe(d.dispatch)
}

// Close detaches from the bus and waits for in-flight deliveries.
func (d *Dispatcher) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

func (d *Dispatcher) dispatch(ev event.Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		d.logger.Error("event marshal failed",
			slog.String("kind", string(ev.Kind)), slog.Any("error", err))
		return
	}
	for _, url := range d.urls {
		d.wg.Add(1)
		go func(url string) {
			defer d.wg.Done()
			if err := d.post(url, body); err != nil {
				d.logger.Warn("webhook delivery failed",
					slog.String("url", url),
					slog.String("kind", string(ev.Kind)),
					slog.String("session_id", ev.SessionID),
					slog.Any("error", err))
			}
		}(url)
	}
}

func (d *Dispatcher) post(url string, body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.client.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if d.secret != "" {
		req.Header.Set(secretHeader, d.secret)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return nil
}
