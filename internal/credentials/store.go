// Package credentials manages the directory-per-session credential layout.
// The automation engine reads and writes the actual credential bytes; this
// store only tracks directory existence and the id encoded in each name.
package credentials

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const dirPrefix = "session-"

// ErrMalformedEntry indicates a directory under the root whose name does not
// encode a session id.
var ErrMalformedEntry = errors.New("malformed credential directory")

// Store is a directory-per-session credential root.
type Store struct {
	root string
}

// NewStore creates the root directory if needed and returns the store.
func NewStore(root string) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("credentials root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create credentials root: %w", err)
	}
	return &Store{root: root}, nil
}

// PathFor returns the credential directory for the given session id.
// The directory is not created; the engine creates it on first login.
func (s *Store) PathFor(id string) string {
	return filepath.Join(s.root, dirPrefix+id)
}

// Exists reports whether a credential directory exists for id.
func (s *Store) Exists(id string) bool {
	info, err := os.Stat(s.PathFor(id))
	return err == nil && info.IsDir()
}

// Remove deletes the credential directory for id. Removing a nonexistent
// directory succeeds.
func (s *Store) Remove(id string) error {
	if err := os.RemoveAll(s.PathFor(id)); err != nil {
		return fmt.Errorf("remove credentials for %s: %w", id, err)
	}
	return nil
}

// ParseID extracts the session id from a credential directory name.
func ParseID(name string) (string, error) {
	if !strings.HasPrefix(name, dirPrefix) {
		return "", fmt.Errorf("%w: %s", ErrMalformedEntry, name)
	}
	id := strings.TrimPrefix(name, dirPrefix)
	if id == "" {
		return "", fmt.Errorf("%w: %s", ErrMalformedEntry, name)
	}
	return id, nil
}

// Entry is one directory found under the credential root. Err is non-nil for
// entries whose name does not encode a session id.
type Entry struct {
	Name string
	ID   string
	Err  error
}

// List enumerates the credential root. Files are ignored; every directory is
// returned, malformed names carrying their parse error so callers can log
// and skip them.
func (s *Store) List() ([]Entry, error) {
	dirents, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read credentials root: %w", err)
	}
	entries := make([]Entry, 0, len(dirents))
	for _, d := range dirents {
		if !d.IsDir() {
			continue
		}
		id, err := ParseID(d.Name())
		entries = append(entries, Entry{Name: d.Name(), ID: id, Err: err})
	}
	return entries, nil
}
