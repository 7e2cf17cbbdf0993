package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

func (s *Store) externalDir(kind, connectionID string) string {
	return filepath.Join(s.baseDir, "external", kind+"-"+connectionID)
}

type externalMetadata struct {
	Name         string `json:"name"`
	Kind         string `json:"kind"`
	ConnectionID string `json:"connection_id"`
}

// SaveExternalSource persists one SQL source schema as
// external/<kind>-<connection_id>/metadata.json plus one JSON file per
// table under a directory per database.
func (s *Store) SaveExternalSource(source ExternalSource) error {
	dir := s.externalDir(source.Kind, source.ConnectionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	meta := externalMetadata{
		Name:         source.Name,
		Kind:         source.Kind,
		ConnectionID: source.ConnectionID,
	}
	if err := s.writeJSON(filepath.Join(dir, "metadata.json"), meta); err != nil {
		return err
	}

	for _, db := range source.Databases {
		dbDir := filepath.Join(dir, db.Name)
		if err := os.MkdirAll(dbDir, 0o755); err != nil {
			return err
		}
		for _, table := range db.Tables {
			if err := s.writeJSON(filepath.Join(dbDir, table.Name+".json"), table); err != nil {
				return err
			}
		}
	}
	return nil
}

// LoadExternalSource reads one SQL source schema back, with databases
// and tables sorted by name.
func (s *Store) LoadExternalSource(kind, connectionID string) (ExternalSource, bool, error) {
	dir := s.externalDir(kind, connectionID)
	data, err := os.ReadFile(filepath.Join(dir, "metadata.json"))
	if os.IsNotExist(err) {
		return ExternalSource{}, false, nil
	}
	if err != nil {
		return ExternalSource{}, false, err
	}
	var meta externalMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return ExternalSource{}, false, fmt.Errorf("decode external metadata: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return ExternalSource{}, false, err
	}
	var databases []ExternalDatabase
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dbDir := filepath.Join(dir, entry.Name())
		tableFiles, err := os.ReadDir(dbDir)
		if err != nil {
			return ExternalSource{}, false, err
		}
		var tables []ExternalTable
		for _, tf := range tableFiles {
			if !strings.HasSuffix(tf.Name(), ".json") {
				continue
			}
			raw, err := os.ReadFile(filepath.Join(dbDir, tf.Name()))
			if err != nil {
				return ExternalSource{}, false, err
			}
			var table ExternalTable
			if err := json.Unmarshal(raw, &table); err != nil {
				return ExternalSource{}, false, fmt.Errorf("decode table %s: %w", tf.Name(), err)
			}
			tables = append(tables, table)
		}
		sort.Slice(tables, func(i, j int) bool { return tables[i].Name < tables[j].Name })
		databases = append(databases, ExternalDatabase{Name: entry.Name(), Tables: tables})
	}
	sort.Slice(databases, func(i, j int) bool { return databases[i].Name < databases[j].Name })

	return ExternalSource{
		Name:         meta.Name,
		Kind:         meta.Kind,
		ConnectionID: meta.ConnectionID,
		Databases:    databases,
	}, true, nil
}

// ListExternalSources loads every persisted SQL source, sorted by
// connection id.
func (s *Store) ListExternalSources() ([]ExternalSource, error) {
	entries, err := os.ReadDir(filepath.Join(s.baseDir, "external"))
	if err != nil {
		return nil, err
	}
	var sources []ExternalSource
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		kind, connectionID, ok := strings.Cut(entry.Name(), "-")
		if !ok {
			continue
		}
		source, found, err := s.LoadExternalSource(kind, connectionID)
		if err != nil || !found {
			continue
		}
		sources = append(sources, source)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].ConnectionID < sources[j].ConnectionID })
	return sources, nil
}

// RemoveExternalSource deletes one persisted SQL source schema.
func (s *Store) RemoveExternalSource(kind, connectionID string) error {
	return os.RemoveAll(s.externalDir(kind, connectionID))
}
