package segment

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/driftwatch/driftwatch/pkg/event"
)

// DocumentsFile is the binary event log inside a segment directory.
// Records are a little-endian uint32 length prefix followed by one
// JSON-encoded event.
const DocumentsFile = "documents.dat"

// MetaFile holds the segment summary written on finalize.
const MetaFile = "meta.json"

type Meta struct {
	SegmentID     string `json:"segment_id"`
	DocumentCount int64  `json:"document_count"`
	RawBytes      int64  `json:"raw_bytes"`
	CreatedAt     string `json:"created_at"`
}

// Writer appends events to a segment directory. It is not safe for
// concurrent use; the Manager serializes access per segment.
type Writer struct {
	segmentID string
	dir       string
	file      *os.File
	buf       *bufio.Writer
	count     int64
	rawBytes  int64
	createdAt time.Time
	finalized bool
}

func NewWriter(dir, segmentID string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create segment dir: %w", err)
	}
	path := filepath.Join(dir, DocumentsFile)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	return &Writer{
		segmentID: segmentID,
		dir:       dir,
		file:      file,
		buf:       bufio.NewWriter(file),
		rawBytes:  info.Size(),
		createdAt: time.Now().UTC(),
	}, nil
}

func (w *Writer) Append(e event.Event) error {
	if w.finalized {
		return fmt.Errorf("segment %s already finalized", w.segmentID)
	}
	if err := e.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	var prefix [4]byte
	binary.LittleEndian.PutUint32(prefix[:], uint32(len(data)))
	if _, err := w.buf.Write(prefix[:]); err != nil {
		return err
	}
	if _, err := w.buf.Write(data); err != nil {
		return err
	}
	w.count++
	w.rawBytes += int64(len(prefix) + len(data))
	return nil
}

func (w *Writer) Flush() error {
	if w.finalized {
		return nil
	}
	if err := w.buf.Flush(); err != nil {
		return err
	}
	return w.file.Sync()
}

func (w *Writer) Count() int64 { return w.count }

// Finalize flushes outstanding writes, records meta.json and closes the
// underlying file. The segment is immutable afterwards.
func (w *Writer) Finalize() (Meta, error) {
	if w.finalized {
		return Meta{}, fmt.Errorf("segment %s already finalized", w.segmentID)
	}
	if err := w.Flush(); err != nil {
		return Meta{}, err
	}
	if err := w.file.Close(); err != nil {
		return Meta{}, err
	}
	w.finalized = true

	meta := Meta{
		SegmentID:     w.segmentID,
		DocumentCount: w.count,
		RawBytes:      w.rawBytes,
		CreatedAt:     w.createdAt.Format(time.RFC3339),
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return Meta{}, err
	}
	if err := os.WriteFile(filepath.Join(w.dir, MetaFile), data, 0o644); err != nil {
		return Meta{}, fmt.Errorf("write meta: %w", err)
	}
	return meta, nil
}
