package segment

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/driftwatch/driftwatch/pkg/logger"
)

const dayLayout = "2006-01-02"

// Manager owns the writable side of the local segment store: one open
// writer per active segment, sealing, retention eviction and range
// listing.
type Manager struct {
	store     *LocalStore
	retention time.Duration

	mu      sync.Mutex
	writers map[string]*Writer
}

func NewManager(store *LocalStore, retention time.Duration) (*Manager, error) {
	m := &Manager{
		store:     store,
		retention: retention,
		writers:   make(map[string]*Writer),
	}
	ids, err := store.Discover(context.Background())
	if err != nil {
		return nil, err
	}
	logger.Info("[Segment] Manager initialized", "segments", len(ids))
	return m, nil
}

// SegmentIDForTimestamp buckets events into one segment per UTC day.
func SegmentIDForTimestamp(ts time.Time) string {
	return ts.UTC().Format(dayLayout)
}

func (m *Manager) GetOrCreateWriter(segmentID string) (*Writer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.writers[segmentID]; ok {
		return w, nil
	}
	w, err := NewWriter(m.store.Dir(segmentID), segmentID)
	if err != nil {
		return nil, err
	}
	m.writers[segmentID] = w
	return w, nil
}

// Seal finalizes an open writer. The segment becomes immutable and
// readable afterwards.
func (m *Manager) Seal(segmentID string) (Meta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.writers[segmentID]
	if !ok {
		return Meta{}, fmt.Errorf("no open writer for segment %s", segmentID)
	}
	meta, err := w.Finalize()
	if err != nil {
		return Meta{}, err
	}
	delete(m.writers, segmentID)
	logger.Info("[Segment] Sealed segment", "segment", segmentID, "documents", meta.DocumentCount)
	return meta, nil
}

// EvictExpired removes sealed day segments older than the retention
// window. Segment ids that are not date-shaped are left alone.
func (m *Manager) EvictExpired(now time.Time) ([]string, error) {
	if m.retention <= 0 {
		return nil, nil
	}
	ids, err := m.store.Discover(context.Background())
	if err != nil {
		return nil, err
	}
	var evicted []string
	for _, id := range ids {
		day, err := time.ParseInLocation(dayLayout, id, time.UTC)
		if err != nil {
			continue
		}
		if now.Sub(day) <= m.retention {
			continue
		}
		if err := m.store.Remove(id); err != nil {
			return evicted, fmt.Errorf("evict segment %s: %w", id, err)
		}
		logger.Info("[Segment] Evicted expired segment", "segment", id)
		evicted = append(evicted, id)
	}
	return evicted, nil
}

// ListSegments returns sealed and in-flight segment ids, sorted and
// deduplicated.
func (m *Manager) ListSegments() ([]string, error) {
	ids, err := m.store.Discover(context.Background())
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	for id := range m.writers {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	sort.Strings(ids)
	out := ids[:0]
	for i, id := range ids {
		if i > 0 && ids[i-1] == id {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

// SegmentsInRange filters date-shaped segment ids by optional inclusive
// day bounds.
func (m *Manager) SegmentsInRange(from, to *time.Time) ([]string, error) {
	ids, err := m.ListSegments()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, id := range ids {
		day, err := time.ParseInLocation(dayLayout, id, time.UTC)
		if err != nil {
			continue
		}
		if from != nil && day.Before(from.UTC().Truncate(24*time.Hour)) {
			continue
		}
		if to != nil && day.After(to.UTC()) {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

// FlushAll flushes every open writer to disk without sealing.
func (m *Manager) FlushAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, w := range m.writers {
		if err := w.Flush(); err != nil {
			return fmt.Errorf("flush segment %s: %w", id, err)
		}
	}
	return nil
}
