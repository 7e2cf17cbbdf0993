package segment

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Store abstracts where committed segments live. The local backend
// serves directly from the data directory; the object-store backend
// downloads into a local cache before iteration.
type Store interface {
	// Discover lists the ids of all committed segments.
	Discover(ctx context.Context) ([]string, error)
	// EnsureLocal makes the segment available on local disk and
	// returns its directory.
	EnsureLocal(ctx context.Context, segmentID string) (string, error)
}

// LocalStore reads segments from <root>/segments on the local
// filesystem.
type LocalStore struct {
	root string
}

func NewLocalStore(root string) *LocalStore {
	return &LocalStore{root: root}
}

func (s *LocalStore) SegmentsDir() string {
	return filepath.Join(s.root, "segments")
}

func (s *LocalStore) Dir(segmentID string) string {
	return filepath.Join(s.SegmentsDir(), Flatten(segmentID))
}

// Discover walks the segments directory; every directory holding a
// documents.dat file is one segment.
func (s *LocalStore) Discover(ctx context.Context) ([]string, error) {
	base := s.SegmentsDir()
	if _, err := os.Stat(base); os.IsNotExist(err) {
		return nil, nil
	}
	var ids []string
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || d.Name() != DocumentsFile {
			return nil
		}
		rel, err := filepath.Rel(base, filepath.Dir(path))
		if err != nil {
			return err
		}
		ids = append(ids, Unflatten(strings.ReplaceAll(rel, string(filepath.Separator), "/")))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover segments: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *LocalStore) EnsureLocal(_ context.Context, segmentID string) (string, error) {
	dir := s.Dir(segmentID)
	if _, err := os.Stat(filepath.Join(dir, DocumentsFile)); err != nil {
		return "", fmt.Errorf("segment %s not found locally: %w", segmentID, err)
	}
	return dir, nil
}

// Open returns a streaming reader over a local segment.
func (s *LocalStore) Open(segmentID string) (*Reader, error) {
	return NewReader(s.Dir(segmentID), segmentID)
}

// Remove deletes a segment directory.
func (s *LocalStore) Remove(segmentID string) error {
	return os.RemoveAll(s.Dir(segmentID))
}
