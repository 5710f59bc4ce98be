// Package blob persists attachment content on the local filesystem. Blobs
// are keyed by "{emailID}_{filename}" so attachments from different emails
// never collide even when their original filenames match.
package blob

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store is a flat directory of attachment blobs.
type Store struct {
	dir string
}

// NewStore opens (creating if needed) the blob directory.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the directory backing the store.
func (s *Store) Dir() string {
	return s.dir
}

// Key derives the storage key for an attachment of the given email. The
// filename is sanitized so the key is always usable as a file name; the
// id prefix keeps keys unique across emails.
func Key(emailID int64, filename string) string {
	return fmt.Sprintf("%d_%s", emailID, SanitizeFilename(filename))
}

// Write durably persists the bytes under the given key. A subsequent Read
// of the same key returns identical bytes.
func (s *Store) Write(key string, data []byte) error {
	if err := os.WriteFile(s.path(key), data, 0644); err != nil {
		return fmt.Errorf("failed to write blob %s: %w", key, err)
	}
	return nil
}

// Read returns the bytes stored under key. A missing blob surfaces as an
// error satisfying errors.Is(err, fs.ErrNotExist).
func (s *Store) Read(key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", key, err)
	}
	return data, nil
}

// Remove deletes the blob stored under key. Removing a missing blob returns
// an error satisfying errors.Is(err, fs.ErrNotExist); callers decide whether
// that is fatal.
func (s *Store) Remove(key string) error {
	if err := os.Remove(s.path(key)); err != nil {
		return fmt.Errorf("failed to remove blob %s: %w", key, err)
	}
	return nil
}

// path confines the key to the blob directory. Keys are produced by Key and
// already sanitized; Base is kept as a second line against traversal.
func (s *Store) path(key string) string {
	return filepath.Join(s.dir, filepath.Base(key))
}

// SanitizeFilename removes dangerous characters from attachment filenames
func SanitizeFilename(filename string) string {
	// Remove path separators
	filename = filepath.Base(filename)

	// Remove any control characters and quotes
	cleaned := strings.Map(func(r rune) rune {
		if r < 32 || r == 127 || r == '"' || r == '\'' {
			return -1 // Remove character
		}
		return r
	}, filename)

	// Limit length
	if len(cleaned) > 255 {
		cleaned = cleaned[:255]
	}

	// Fallback if nothing usable remains
	if cleaned == "" || cleaned == "." || cleaned == ".." {
		cleaned = "download.bin"
	}

	return cleaned
}
