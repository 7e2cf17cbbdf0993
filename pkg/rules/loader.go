package rules

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/driftwatch/driftwatch/pkg/logger"
)

// watchDebounce coalesces bursts of filesystem events per path.
const watchDebounce = 500 * time.Millisecond

// LoadStatus describes the outcome for one scanned file.
type LoadStatus string

const (
	StatusLoaded  LoadStatus = "loaded"
	StatusSkipped LoadStatus = "skipped"
	StatusFailed  LoadStatus = "failed"
)

// LoadResult is the per-file outcome of a directory scan.
type LoadResult struct {
	Path   string
	RuleID string
	Status LoadStatus
	Reason string
}

// Loader scans a directory tree for YAML rule files and keeps an in-memory
// map keyed by rule id, optionally hot-reloading on filesystem changes.
// Anomaly rules are additionally exposed through a dedicated map.
type Loader struct {
	dir string

	mu      sync.RWMutex
	docs    map[string]Document
	anomaly map[string]*AnomalyRule
	raw     map[string]map[string]any

	watcher  *fsnotify.Watcher
	timersMu sync.Mutex
	timers   map[string]*time.Timer
}

// NewLoader creates a loader rooted at dir, creating it if missing.
func NewLoader(dir string) *Loader {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Warn("[Rules] Failed to create rules directory", "path", dir, "error", err)
	}
	return &Loader{
		dir:     dir,
		docs:    make(map[string]Document),
		anomaly: make(map[string]*AnomalyRule),
		raw:     make(map[string]map[string]any),
		timers:  make(map[string]*time.Timer),
	}
}

// Dir returns the rules directory root.
func (l *Loader) Dir() string { return l.dir }

// LoadAll scans the directory recursively, loading every *.yml / *.yaml
// file that isn't a dotfile. Extends chains are resolved across the whole
// scanned set. Failures are reported per file and never abort the scan.
func (l *Loader) LoadAll() []LoadResult {
	var results []LoadResult
	type pending struct {
		path string
		id   string
	}
	var parsed []pending
	raws := make(map[string]map[string]any)

	err := filepath.WalkDir(l.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logger.Warn("[Rules] Failed to read directory entry", "path", path, "error", err)
			return nil
		}
		name := d.Name()
		if strings.HasPrefix(name, ".") && path != l.dir {
			if d.IsDir() {
				return filepath.SkipDir
			}
			results = append(results, LoadResult{Path: path, Status: StatusSkipped, Reason: "dotfile"})
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !isYAMLFile(path) {
			results = append(results, LoadResult{Path: path, Status: StatusSkipped, Reason: "not a YAML file"})
			return nil
		}

		raw, id, err := readRaw(path)
		if err != nil {
			logger.Warn("[Rules] Failed to load rule file", "path", path, "error", err)
			results = append(results, LoadResult{Path: path, Status: StatusFailed, Reason: err.Error()})
			return nil
		}
		raws[id] = raw
		parsed = append(parsed, pending{path: path, id: id})
		return nil
	})
	if err != nil {
		logger.Warn("[Rules] Directory scan aborted", "path", l.dir, "error", err)
	}

	// Resolve extends per rule so one broken chain doesn't take down the rest.
	for _, p := range parsed {
		resolved, rerr := resolveSingle(p.id, raws, make(map[string]map[string]any), make(map[string]bool), 0)
		if rerr != nil {
			logger.Warn("[Rules] Failed to resolve extends", "id", p.id, "error", rerr)
			results = append(results, LoadResult{Path: p.path, RuleID: p.id, Status: StatusFailed, Reason: rerr.Error()})
			continue
		}
		doc, perr := parseRaw(resolved)
		if perr != nil {
			logger.Warn("[Rules] Failed to parse rule file", "path", p.path, "error", perr)
			results = append(results, LoadResult{Path: p.path, RuleID: p.id, Status: StatusFailed, Reason: perr.Error()})
			continue
		}
		l.insert(p.id, doc, raws[p.id])
		logger.Info("[Rules] Loaded rule", "id", p.id, "kind", doc.DocKind(), "path", p.path)
		results = append(results, LoadResult{Path: p.path, RuleID: p.id, Status: StatusLoaded})
	}
	return results
}

// readRaw reads a YAML file into a raw map and extracts metadata.id.
func readRaw(path string) (map[string]any, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, "", fmt.Errorf("parse envelope: %w", err)
	}
	meta, _ := raw["metadata"].(map[string]any)
	id, _ := meta["id"].(string)
	if id == "" {
		return nil, "", fmt.Errorf("rule metadata.id must not be empty")
	}
	return raw, id, nil
}

// parseRaw runs the strict two-pass decode over a resolved raw value.
func parseRaw(raw map[string]any) (Document, error) {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return nil, err
	}
	return ParseDocument(data)
}

func (l *Loader) insert(id string, doc Document, raw map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.docs[id] = doc
	l.raw[id] = raw
	if ar, ok := doc.(*AnomalyRule); ok {
		l.anomaly[id] = ar
	} else {
		delete(l.anomaly, id)
	}
}

func (l *Loader) remove(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.docs[id]
	delete(l.docs, id)
	delete(l.anomaly, id)
	delete(l.raw, id)
	return ok
}

// Document looks up a single rule by id.
func (l *Loader) Document(id string) (Document, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	doc, ok := l.docs[id]
	return doc, ok
}

// Documents snapshots the full multi-kind map.
func (l *Loader) Documents() map[string]Document {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]Document, len(l.docs))
	for id, doc := range l.docs {
		out[id] = doc
	}
	return out
}

// AnomalyRules snapshots the anomaly-only map.
func (l *Loader) AnomalyRules() map[string]*AnomalyRule {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]*AnomalyRule, len(l.anomaly))
	for id, r := range l.anomaly {
		out[id] = r
	}
	return out
}

// WriteDocument atomically persists a document as <id>.yml (tmp + rename)
// and upserts it in memory.
func (l *Loader) WriteDocument(doc Document) (string, error) {
	meta := doc.DocMetadata()
	if meta.ID == "" {
		return "", fmt.Errorf("rule metadata.id must not be empty")
	}
	data, err := MarshalDocument(doc)
	if err != nil {
		return "", fmt.Errorf("marshal rule '%s': %w", meta.ID, err)
	}

	finalPath := filepath.Join(l.dir, meta.ID+".yml")
	tmpPath := filepath.Join(l.dir, "."+meta.ID+".tmp")
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err == nil {
		l.insert(meta.ID, doc, raw)
	}
	logger.Info("[Rules] Wrote rule file", "id", meta.ID, "kind", doc.DocKind(), "path", finalPath)
	return finalPath, nil
}

// DeleteRule removes the rule file (trying .yml then .yaml) and the
// in-memory entry.
func (l *Loader) DeleteRule(id string) error {
	removed := false
	for _, ext := range []string{".yml", ".yaml"} {
		path := filepath.Join(l.dir, id+ext)
		if _, err := os.Stat(path); err == nil {
			if err := os.Remove(path); err != nil {
				return err
			}
			removed = true
			break
		}
	}
	if !removed {
		return fmt.Errorf("no rule file found for id '%s'", id)
	}
	l.remove(id)
	logger.Info("[Rules] Deleted rule", "id", id)
	return nil
}

// Watch starts a recursive filesystem watcher that hot-reloads rules until
// ctx is cancelled. Events are debounced per path; a parse error keeps the
// previously loaded version live.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	l.watcher = watcher

	// fsnotify is not recursive: register every subdirectory.
	err = filepath.WalkDir(l.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && path != l.dir {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
	if err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				l.handleEvent(ev)
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("[Rules] Watcher error", "error", werr)
			}
		}
	}()

	logger.Info("[Rules] Watching rules directory", "path", l.dir)
	return nil
}

func (l *Loader) handleEvent(ev fsnotify.Event) {
	name := filepath.Base(ev.Name)
	if strings.HasPrefix(name, ".") {
		return
	}

	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if l.watcher != nil {
				_ = l.watcher.Add(ev.Name)
			}
			return
		}
	}
	if !isYAMLFile(ev.Name) {
		return
	}

	switch {
	case ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename):
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		if l.remove(stem) {
			logger.Info("[Rules] Removed rule after file deletion", "id", stem, "path", ev.Name)
		}
	case ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write):
		l.debounceReload(ev.Name)
	}
}

// debounceReload schedules a reload for a path, resetting any pending timer.
func (l *Loader) debounceReload(path string) {
	l.timersMu.Lock()
	defer l.timersMu.Unlock()
	if t, ok := l.timers[path]; ok {
		t.Reset(watchDebounce)
		return
	}
	l.timers[path] = time.AfterFunc(watchDebounce, func() {
		l.timersMu.Lock()
		delete(l.timers, path)
		l.timersMu.Unlock()
		l.reloadFile(path)
	})
}

// reloadFile re-parses a single file and upserts the rule, resolving
// extends against the currently loaded set.
func (l *Loader) reloadFile(path string) {
	raw, id, err := readRaw(path)
	if err != nil {
		logger.Warn("[Rules] Failed to parse rule during hot reload, keeping previous version", "path", path, "error", err)
		return
	}

	l.mu.RLock()
	raws := make(map[string]map[string]any, len(l.raw)+1)
	for rid, rv := range l.raw {
		raws[rid] = rv
	}
	l.mu.RUnlock()
	raws[id] = raw

	resolved, err := resolveSingle(id, raws, make(map[string]map[string]any), make(map[string]bool), 0)
	if err != nil {
		logger.Warn("[Rules] Failed to resolve extends during hot reload, keeping previous version", "id", id, "error", err)
		return
	}
	doc, err := parseRaw(resolved)
	if err != nil {
		logger.Warn("[Rules] Failed to parse rule during hot reload, keeping previous version", "path", path, "error", err)
		return
	}
	l.insert(id, doc, raw)
	logger.Info("[Rules] Hot-reloaded rule", "id", id, "kind", doc.DocKind(), "path", path)
}

func isYAMLFile(path string) bool {
	ext := filepath.Ext(path)
	return ext == ".yml" || ext == ".yaml"
}
