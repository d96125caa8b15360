// filesystem.go -- Filesystem-backed session store setup and expiry sweep.
//
// gorilla's FilesystemStore writes one file per session and never deletes
// expired ones; SweepFilesystemSessions is run periodically from main.
package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/sessions"
)

// sessionFilePrefix matches the file names gorilla's FilesystemStore writes.
const sessionFilePrefix = "session_"

// maxSessionFileBytes caps encoded session size on disk. Provider JWTs are ~1KB each,
// which is close to securecookie's 4KB default.
const maxSessionFileBytes = 64 * 1024

// FilesystemSessionStore is gorilla's FilesystemStore plus Discard, which
// drops a session file by id when the id is rotated.
type FilesystemSessionStore struct {
	*sessions.FilesystemStore
	dir string
}

// NewFilesystemSessionStore creates dir if needed and returns a store
// signing its id cookie with keyPairs.
func NewFilesystemSessionStore(dir string, keyPairs ...[]byte) (*FilesystemSessionStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating session dir: %w", err)
	}
	fss := sessions.NewFilesystemStore(dir, keyPairs...)
	fss.MaxLength(maxSessionFileBytes)
	fss.Options.HttpOnly = true
	fss.Options.SameSite = http.SameSiteLaxMode
	return &FilesystemSessionStore{FilesystemStore: fss, dir: dir}, nil
}

// Discard removes the file for session id. A file already gone is not an error.
func (s *FilesystemSessionStore) Discard(_ context.Context, id string) error {
	if id == "" || strings.ContainsAny(id, "/\\.") {
		return fmt.Errorf("discarding session: invalid id %q", id)
	}
	err := os.Remove(filepath.Join(s.dir, sessionFilePrefix+id))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("discarding session: %w", err)
	}
	return nil
}

// SweepFilesystemSessions removes session files in dir not written for longer than maxAge.
// Returns the number of files removed. Files that vanish mid-sweep are ignored.
func SweepFilesystemSessions(dir string, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("reading session dir: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), sessionFilePrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return removed, fmt.Errorf("stat %s: %w", e.Name(), err)
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("removing %s: %w", e.Name(), err)
		}
		removed++
	}
	return removed, nil
}
