package session

import (
	"context"
	"log/slog"

	"github.com/sableline/wagate/internal/credentials"
)

// RestoreManager re-registers sessions from credential directories left on
// disk by a previous run.
type RestoreManager struct {
	logger   *slog.Logger
	creds    *credentials.Store
	registry *Registry
}

func NewRestoreManager(log *slog.Logger, creds *credentials.Store, registry *Registry) *RestoreManager {
	if log == nil {
		log = slog.Default()
	}
	return &RestoreManager{
		logger:   log.With(slog.String("component", "restore")),
		creds:    creds,
		registry: registry,
	}
}

// Restore scans the credential root and creates a session for every valid
// entry. Malformed directory names and individual create failures are
// logged and skipped; one bad entry never aborts the sweep. Returns the ids
// for which a restore was attempted.
func (m *RestoreManager) Restore(ctx context.Context) ([]string, error) {
	entries, err := m.creds.List()
	if err != nil {
		return nil, err
	}
	var restored []string
	for _, entry := range entries {
		if entry.Err != nil {
			m.logger.Warn("skipping malformed credential entry",
				slog.String("name", entry.Name), slog.Any("error", entry.Err))
			continue
		}
		if _, err := m.registry.Create(ctx, entry.ID); err != nil {
			m.logger.Warn("session restore failed",
				slog.String("session_id", entry.ID), slog.Any("error", err))
			continue
		}
		m.logger.Info("session restored", slog.String("session_id", entry.ID))
		restored = append(restored, entry.ID)
	}
	return restored, nil
}
