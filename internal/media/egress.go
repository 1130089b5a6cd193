package media

import (
	"context"
	"fmt"
	"strings"

	"github.com/sableline/wagate/internal/engine"
)

// Sender delivers one outbound message round trip. Implemented by the
// session's engine handle; access is serialized per session by the caller.
type Sender func(ctx context.Context, content engine.Content, opts engine.SendOptions) (engine.SentMessage, error)

// BuildOutbound validates a caller payload and produces the engine payload
// and send options. A voice-note request is honored only for recognized
// voice-compatible audio encodings; otherwise the flag is silently dropped.
func BuildOutbound(input SendInput) (engine.MediaPayload, engine.SendOptions, error) {
	if len(input.Data) == 0 {
		return engine.MediaPayload{}, engine.SendOptions{}, fmt.Errorf("%w: empty buffer", ErrInvalidMedia)
	}
	if strings.TrimSpace(input.MimeType) == "" {
		return engine.MediaPayload{}, engine.SendOptions{}, fmt.Errorf("%w: mime type is required", ErrInvalidMedia)
	}
	if int64(len(input.Data)) > MaxPayloadBytes {
		return engine.MediaPayload{}, engine.SendOptions{}, fmt.Errorf("%w: max %d bytes", ErrTooLarge, MaxPayloadBytes)
	}
	payload := engine.MediaPayload{
		Data:     input.Data,
		MimeType: input.MimeType,
		FileName: input.FileName,
	}
	opts := engine.SendOptions{
		AsVoice: input.AsVoice && VoiceCompatible(input.MimeType),
		Caption: input.Caption,
	}
	return payload, opts, nil
}

// Send attempts delivery once, and on the recognized evaluation fault retries
// exactly once with the attachment forced to a generic document and the voice
// flag cleared. Any other failure propagates unchanged. This is a narrow
// compatibility fallback, not a general retry policy.
func Send(ctx context.Context, send Sender, payload engine.MediaPayload, opts engine.SendOptions) (engine.SentMessage, error) {
	sent, err := send(ctx, engine.Content{Media: &payload}, opts)
	if err == nil {
		return sent, nil
	}
	if !engine.IsEvaluationFault(err) {
		return engine.SentMessage{}, err
	}
	opts.SendAsDocument = true
	opts.AsVoice = false
	return send(ctx, engine.Content{Media: &payload}, opts)
}
