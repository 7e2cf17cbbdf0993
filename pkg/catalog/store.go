package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/driftwatch/driftwatch/pkg/logger"
	"github.com/driftwatch/driftwatch/pkg/segment"
)

// Store persists the catalog under a base directory:
//
//	catalog/
//	  current.json        latest merged catalog
//	  manifest.json       segment ids + hash
//	  segments/           per-segment partials, flattened filenames
//	  external/           SQL source schemas
//	  snapshots/          timestamped history
type Store struct {
	baseDir string
}

func NewStore(baseDir string) (*Store, error) {
	for _, sub := range []string{"segments", "external", "snapshots"} {
		if err := os.MkdirAll(filepath.Join(baseDir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create catalog dir: %w", err)
		}
	}
	return &Store{baseDir: baseDir}, nil
}

func (s *Store) BaseDir() string { return s.baseDir }

func (s *Store) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (s *Store) SaveCurrent(c Catalog) error {
	return s.writeJSON(filepath.Join(s.baseDir, "current.json"), c)
}

// LoadCurrent returns the merged catalog, or ok=false when none has
// been persisted yet.
func (s *Store) LoadCurrent() (Catalog, bool, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, "current.json"))
	if os.IsNotExist(err) {
		return Catalog{}, false, nil
	}
	if err != nil {
		return Catalog{}, false, err
	}
	var c Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return Catalog{}, false, fmt.Errorf("decode current catalog: %w", err)
	}
	return c, true, nil
}

func (s *Store) partialPath(segmentID string) string {
	return filepath.Join(s.baseDir, "segments", segment.Flatten(segmentID)+".json")
}

func (s *Store) SavePartial(p Partial) error {
	return s.writeJSON(s.partialPath(p.SegmentID), p)
}

func (s *Store) LoadPartial(segmentID string) (Partial, bool, error) {
	data, err := os.ReadFile(s.partialPath(segmentID))
	if os.IsNotExist(err) {
		return Partial{}, false, nil
	}
	if err != nil {
		return Partial{}, false, err
	}
	var p Partial
	if err := json.Unmarshal(data, &p); err != nil {
		return Partial{}, false, fmt.Errorf("decode partial %s: %w", segmentID, err)
	}
	return p, true, nil
}

// ListPartials returns the segment ids of all persisted partials.
func (s *Store) ListPartials() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.baseDir, "segments"))
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, segment.Unflatten(strings.TrimSuffix(name, ".json")))
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) RemovePartial(segmentID string) error {
	err := os.Remove(s.partialPath(segmentID))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *Store) SaveManifest(m Manifest) error {
	return s.writeJSON(filepath.Join(s.baseDir, "manifest.json"), m)
}

func (s *Store) LoadManifest() (Manifest, bool, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, "manifest.json"))
	if os.IsNotExist(err) {
		return Manifest{}, false, nil
	}
	if err != nil {
		return Manifest{}, false, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, false, fmt.Errorf("decode manifest: %w", err)
	}
	return m, true, nil
}

// SaveSnapshot writes a timestamped copy of the catalog and returns
// the snapshot filename.
func (s *Store) SaveSnapshot(c Catalog) (string, error) {
	filename := time.Now().UTC().Format("2006-01-02T15-04-05") + ".json"
	if err := s.writeJSON(filepath.Join(s.baseDir, "snapshots", filename), c); err != nil {
		return "", err
	}
	return filename, nil
}

// RebuildFromPartials merges every persisted partial and saves the
// current catalog, manifest and a snapshot.
func (s *Store) RebuildFromPartials() (Catalog, error) {
	segmentIDs, err := s.ListPartials()
	if err != nil {
		return Catalog{}, err
	}
	partials := make([]Partial, 0, len(segmentIDs))
	for _, id := range segmentIDs {
		partial, ok, err := s.LoadPartial(id)
		if err != nil {
			return Catalog{}, err
		}
		if ok {
			partials = append(partials, partial)
		}
	}

	merged := FromPartials(partials)
	if err := s.SaveCurrent(merged); err != nil {
		return Catalog{}, err
	}
	if err := s.SaveManifest(NewManifest(segmentIDs)); err != nil {
		return Catalog{}, err
	}
	if _, err := s.SaveSnapshot(merged); err != nil {
		return Catalog{}, err
	}

	logger.Info("[Catalog] Rebuilt from partials",
		"partials", len(partials),
		"nodes", merged.TotalNodes,
		"edges", merged.TotalEdges)
	return merged, nil
}

// AddSegment incrementally merges one new partial into the current
// catalog, so a new segment does not force a full rebuild.
func (s *Store) AddSegment(partial Partial) (Catalog, error) {
	if err := s.SavePartial(partial); err != nil {
		return Catalog{}, err
	}

	existing, _, err := s.LoadCurrent()
	if err != nil {
		return Catalog{}, err
	}
	existingAsPartial := Partial{
		SegmentID:   "__existing__",
		EntityTypes: existing.EntityTypes,
		EdgeTypes:   existing.EdgeTypes,
		NodeCount:   existing.TotalNodes,
		EdgeCount:   existing.TotalEdges,
	}

	merged := FromPartials([]Partial{existingAsPartial, partial})
	if err := s.SaveCurrent(merged); err != nil {
		return Catalog{}, err
	}
	segmentIDs, err := s.ListPartials()
	if err != nil {
		return Catalog{}, err
	}
	if err := s.SaveManifest(NewManifest(segmentIDs)); err != nil {
		return Catalog{}, err
	}
	if _, err := s.SaveSnapshot(merged); err != nil {
		return Catalog{}, err
	}

	logger.Info("[Catalog] Updated after segment add",
		"segment", partial.SegmentID,
		"nodes", merged.TotalNodes,
		"edges", merged.TotalEdges)
	return merged, nil
}

// RemoveSegment drops a partial and re-merges the remainder. Removal
// needs the full rebuild because counts cannot be subtracted from the
// merged totals.
func (s *Store) RemoveSegment(segmentID string) (Catalog, error) {
	if err := s.RemovePartial(segmentID); err != nil {
		return Catalog{}, err
	}
	logger.Info("[Catalog] Removed partial, rebuilding", "segment", segmentID)
	return s.RebuildFromPartials()
}
