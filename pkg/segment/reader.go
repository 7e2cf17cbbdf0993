package segment

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/driftwatch/driftwatch/pkg/event"
	"github.com/driftwatch/driftwatch/pkg/logger"
)

// maxRecordSize guards against a corrupted length prefix.
const maxRecordSize = 64 << 20

// Reader streams events out of a segment directory. Malformed records
// are logged and skipped; truncated trailing data ends the stream.
type Reader struct {
	segmentID string
	file      *os.File
	buf       *bufio.Reader
}

func NewReader(dir, segmentID string) (*Reader, error) {
	path := filepath.Join(dir, DocumentsFile)
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &Reader{
		segmentID: segmentID,
		file:      file,
		buf:       bufio.NewReader(file),
	}, nil
}

// Next returns the next event, or io.EOF when the stream is exhausted.
func (r *Reader) Next() (event.Event, error) {
	for {
		var prefix [4]byte
		if _, err := io.ReadFull(r.buf, prefix[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return event.Event{}, io.EOF
			}
			logger.Warn("[Segment] Truncated record prefix, ending stream", "segment", r.segmentID, "error", err)
			return event.Event{}, io.EOF
		}
		size := binary.LittleEndian.Uint32(prefix[:])
		if size == 0 || size > maxRecordSize {
			return event.Event{}, fmt.Errorf("segment %s: invalid record length %d", r.segmentID, size)
		}
		data := make([]byte, size)
		if _, err := io.ReadFull(r.buf, data); err != nil {
			logger.Warn("[Segment] Truncated record body, ending stream", "segment", r.segmentID, "error", err)
			return event.Event{}, io.EOF
		}
		var e event.Event
		if err := json.Unmarshal(data, &e); err != nil {
			logger.Warn("[Segment] Skipping malformed event", "segment", r.segmentID, "error", err)
			continue
		}
		return e, nil
	}
}

// ForEach streams all remaining events through fn, stopping on the
// first error fn returns.
func (r *Reader) ForEach(fn func(event.Event) error) error {
	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
}

func (r *Reader) Close() error { return r.file.Close() }

// ReadMeta loads the segment summary written on finalize.
func ReadMeta(dir string) (Meta, error) {
	data, err := os.ReadFile(filepath.Join(dir, MetaFile))
	if err != nil {
		return Meta{}, err
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return Meta{}, fmt.Errorf("decode meta: %w", err)
	}
	return meta, nil
}
