package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// Manifest records which segments the persisted catalog was merged
// from. The hash is a SHA-256 hex digest of the sorted, newline-joined
// segment ids, so freshness is one string compare.
type Manifest struct {
	SegmentIDs   []string `json:"segment_ids"`
	SegmentsHash string   `json:"segments_hash"`
	CreatedAt    string   `json:"created_at"`
	Version      int      `json:"version"`
}

func NewManifest(segmentIDs []string) Manifest {
	sorted := append([]string(nil), segmentIDs...)
	sort.Strings(sorted)
	return Manifest{
		SegmentIDs:   sorted,
		SegmentsHash: segmentsHash(sorted),
		CreatedAt:    time.Now().UTC().Format(time.RFC3339),
		Version:      1,
	}
}

// IsFresh reports whether the manifest still covers exactly the given
// segment set, independent of order.
func (m Manifest) IsFresh(currentSegmentIDs []string) bool {
	sorted := append([]string(nil), currentSegmentIDs...)
	sort.Strings(sorted)
	return m.SegmentsHash == segmentsHash(sorted)
}

func segmentsHash(sortedIDs []string) string {
	digest := sha256.Sum256([]byte(strings.Join(sortedIDs, "\n")))
	return hex.EncodeToString(digest[:])
}
