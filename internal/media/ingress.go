package media

import (
	"context"
	"log/slog"

	"github.com/sableline/wagate/internal/engine"
)

// Downloader fetches the decoded bytes of an inbound attachment.
// Satisfied by the session's engine handle.
type Downloader interface {
	DownloadMedia(ctx context.Context, messageID string) ([]byte, error)
}

// Pipeline is the attachment ingress/egress pipeline shared by all sessions.
// The file store is append-only, so no cross-session locking is needed.
type Pipeline struct {
	store     *FileStore
	inlineMax int64
	logger    *slog.Logger
}

// NewPipeline creates a pipeline persisting to store and inlining
// attachments up to inlineMax decoded bytes.
func NewPipeline(log *slog.Logger, store *FileStore, inlineMax int64) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		store:     store,
		inlineMax: inlineMax,
		logger:    log.With(slog.String("component", "media")),
	}
}

// InlineMax returns the configured inline threshold in bytes.
func (p *Pipeline) InlineMax() int64 { return p.inlineMax }

// Ingest downloads the attachment of an inbound message, persists it, and
// builds the attachment descriptor for the message event. Download and
// persistence failures degrade to metadata-only; Ingest never fails the
// triggering message event.
func (p *Pipeline) Ingest(ctx context.Context, dl Downloader, sessionID, messageID string, ref engine.MediaRef) Attachment {
	att := Attachment{
		MimeType:  ref.MimeType,
		FileName:  ref.FileName,
		SizeBytes: ref.SizeBytes,
		Class:     ClassForMime(ref.MimeType),
	}

	data, err := dl.DownloadMedia(ctx, messageID)
	if err != nil {
		p.logger.Warn("media download failed",
			slog.String("session_id", sessionID),
			slog.String("message_id", messageID),
			slog.Any("error", err),
		)
		att.Skipped = true
		return att
	}
	if att.SizeBytes <= 0 {
		att.SizeBytes = int64(len(data))
	}

	locator, err := p.store.Put(data, ref.MimeType)
	if err != nil {
		p.logger.Warn("media persist failed",
			slog.String("session_id", sessionID),
			slog.String("message_id", messageID),
			slog.Any("error", err),
		)
		att.Skipped = true
		return att
	}
	att.StorageLocator = locator

	if att.SizeBytes <= p.inlineMax {
		att.InlineData = data
	} else {
		att.Skipped = true
	}
	return att
}
