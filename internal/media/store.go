package media

import (
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FileStore persists inbound media under a date-partitioned layout:
// <root>/<year>/<month>/<unix-ts>-<disambiguator>.<ext>. The store is
// append-only; entries are removed only by external retention tooling.
type FileStore struct {
	root    string
	baseURL string
}

// NewFileStore creates the media root if needed. baseURL prefixes the
// public-facing locator returned for each persisted object.
func NewFileStore(root, baseURL string) (*FileStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("media root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create media root: %w", err)
	}
	return &FileStore{root: root, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Put writes data and returns the public locator for it.
func (s *FileStore) Put(data []byte, mimeType string) (string, error) {
	now := time.Now().UTC()
	dir := filepath.Join(s.root, now.Format("2006"), now.Format("01"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create media partition: %w", err)
	}
	name := fmt.Sprintf("%d-%s%s", now.Unix(), uuid.NewString()[:8], extensionFromMime(mimeType))
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("write media object: %w", err)
	}
	return s.locator(now, name), nil
}

func (s *FileStore) locator(ts time.Time, name string) string {
	rel := path.Join(ts.Format("2006"), ts.Format("01"), name)
	if s.baseURL == "" {
		return path.Join("media", rel)
	}
	return s.baseURL + "/media/" + rel
}

var mimeExtensions = map[string]string{
	"image/jpeg":             ".jpg",
	"image/png":              ".png",
	"image/webp":             ".webp",
	"image/gif":              ".gif",
	"video/mp4":              ".mp4",
	"audio/ogg":              ".ogg",
	"audio/ogg; codecs=opus": ".ogg",
	"audio/mpeg":             ".mp3",
	"application/pdf":        ".pdf",
}

func extensionFromMime(mimeType string) string {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if ext, ok := mimeExtensions[mimeType]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}
