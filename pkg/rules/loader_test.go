package rules

import (
	"os"
	"path/filepath"
	"testing"
)

func writeRuleFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func countStatus(results []LoadResult, status LoadStatus) int {
	n := 0
	for _, r := range results {
		if r.Status == status {
			n++
		}
	}
	return n
}

func TestLoadAllScansRecursively(t *testing.T) {
	dir := t.TempDir()
	writeRuleFile(t, dir, "top.yml", validAnomalyYAML)
	writeRuleFile(t, dir, "sub/nested.yaml", `
apiVersion: v1
kind: AnomalyRule
metadata:
  id: nested-rule
  name: Nested
schedule:
  cron: "* * * * *"
detection:
  template: threshold
  params:
    feature: login_count_7d
    operator: gt
    value: 5.0
notifications:
  - channel: webhook
    url: "https://example.com/hook"
`)
	writeRuleFile(t, dir, ".hidden.yml", validAnomalyYAML)
	writeRuleFile(t, dir, "readme.txt", "not yaml")

	l := NewLoader(dir)
	results := l.LoadAll()

	if got := countStatus(results, StatusLoaded); got != 2 {
		t.Fatalf("loaded: got %d, results %+v", got, results)
	}
	if got := countStatus(results, StatusSkipped); got != 2 {
		t.Fatalf("skipped: got %d, results %+v", got, results)
	}
	if _, ok := l.Document("test-rule"); !ok {
		t.Fatal("test-rule not loaded")
	}
	if _, ok := l.Document("nested-rule"); !ok {
		t.Fatal("nested-rule not loaded")
	}
	if len(l.AnomalyRules()) != 2 {
		t.Fatalf("anomaly map: got %d", len(l.AnomalyRules()))
	}
}

func TestLoadAllIsolatesFailures(t *testing.T) {
	dir := t.TempDir()
	writeRuleFile(t, dir, "good.yml", validAnomalyYAML)
	writeRuleFile(t, dir, "bad.yml", "kind: AnomalyRule\nmetadata: [broken")

	l := NewLoader(dir)
	results := l.LoadAll()

	if got := countStatus(results, StatusLoaded); got != 1 {
		t.Fatalf("loaded: got %d", got)
	}
	if got := countStatus(results, StatusFailed); got != 1 {
		t.Fatalf("failed: got %d", got)
	}
	if _, ok := l.Document("test-rule"); !ok {
		t.Fatal("good rule should load despite the bad one")
	}
}

func TestLoadAllResolvesExtends(t *testing.T) {
	dir := t.TempDir()
	writeRuleFile(t, dir, "base.yml", `
apiVersion: v1
kind: AnomalyRule
metadata:
  id: base-rule
  name: Base
schedule:
  cron: "*/15 * * * *"
  timezone: UTC
detection:
  template: spike
  params:
    feature: login_count_7d
    multiplier: 3.0
notifications:
  - channel: webhook
    url: "https://example.com/hook"
`)
	writeRuleFile(t, dir, "child.yml", `
apiVersion: v1
kind: AnomalyRule
metadata:
  id: child-rule
  name: Child
  extends: base-rule
detection:
  template: spike
  params:
    feature: login_count_7d
    multiplier: 5.0
`)

	l := NewLoader(dir)
	l.LoadAll()

	doc, ok := l.Document("child-rule")
	if !ok {
		t.Fatal("child-rule not loaded")
	}
	rule := doc.(*AnomalyRule)
	// Schedule and notifications are inherited from the parent.
	if rule.Schedule.Cron != "*/15 * * * *" {
		t.Fatalf("inherited cron: got %q", rule.Schedule.Cron)
	}
	if len(rule.Notifications) != 1 {
		t.Fatalf("inherited notifications: got %d", len(rule.Notifications))
	}
	var p SpikeParams
	if err := rule.Detection.decodeParams(&p); err != nil {
		t.Fatalf("decode params: %v", err)
	}
	if p.Multiplier != 5.0 {
		t.Fatalf("child multiplier should win: got %v", p.Multiplier)
	}
}

func TestWriteDocumentAtomicAndUpsert(t *testing.T) {
	dir := t.TempDir()
	l := NewLoader(dir)

	rule := mustParseAnomaly(t, validAnomalyYAML)
	rule.Metadata.ID = "written-rule"
	path, err := l.WriteDocument(rule)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if filepath.Base(path) != "written-rule.yml" {
		t.Fatalf("path: got %q", path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("file missing: %v", err)
	}
	// No stray tmp file left behind.
	if _, err := os.Stat(filepath.Join(dir, ".written-rule.tmp")); !os.IsNotExist(err) {
		t.Fatal("tmp file should be gone after rename")
	}
	if _, ok := l.Document("written-rule"); !ok {
		t.Fatal("written rule should be live in memory")
	}

	// A fresh loader parses the same file back.
	l2 := NewLoader(dir)
	l2.LoadAll()
	if _, ok := l2.Document("written-rule"); !ok {
		t.Fatal("written file should round-trip through a scan")
	}
}

func TestDeleteRuleTriesBothExtensions(t *testing.T) {
	dir := t.TempDir()
	writeRuleFile(t, dir, "only-yaml.yaml", `
apiVersion: v1
kind: AnomalyRule
metadata:
  id: only-yaml
  name: Yaml Extension
schedule:
  cron: "* * * * *"
detection:
  template: threshold
  params:
    feature: login_count_7d
    operator: gt
    value: 1.0
notifications:
  - channel: webhook
    url: "https://example.com/hook"
`)

	l := NewLoader(dir)
	l.LoadAll()
	if err := l.DeleteRule("only-yaml"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "only-yaml.yaml")); !os.IsNotExist(err) {
		t.Fatal("file should be removed")
	}
	if _, ok := l.Document("only-yaml"); ok {
		t.Fatal("in-memory entry should be removed")
	}

	if err := l.DeleteRule("never-existed"); err == nil {
		t.Fatal("deleting a missing rule should error")
	}
}

func TestReloadKeepsOldVersionOnParseError(t *testing.T) {
	dir := t.TempDir()
	path := writeRuleFile(t, dir, "test-rule.yml", validAnomalyYAML)

	l := NewLoader(dir)
	l.LoadAll()

	// Corrupt the file and reload: the old version must stay live.
	if err := os.WriteFile(path, []byte("metadata: [broken"), 0o644); err != nil {
		t.Fatalf("corrupt: %v", err)
	}
	l.reloadFile(path)

	doc, ok := l.Document("test-rule")
	if !ok {
		t.Fatal("rule evicted by parse error")
	}
	if doc.DocMetadata().Name != "Test Rule" {
		t.Fatalf("old version lost: got %q", doc.DocMetadata().Name)
	}
}

func TestReloadUpsertsChangedRule(t *testing.T) {
	dir := t.TempDir()
	path := writeRuleFile(t, dir, "test-rule.yml", validAnomalyYAML)

	l := NewLoader(dir)
	l.LoadAll()

	updated := mustParseAnomaly(t, validAnomalyYAML)
	updated.Metadata.Name = "Renamed Rule"
	data, err := MarshalDocument(updated)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	l.reloadFile(path)

	doc, _ := l.Document("test-rule")
	if doc.DocMetadata().Name != "Renamed Rule" {
		t.Fatalf("reload did not pick up the change: got %q", doc.DocMetadata().Name)
	}
}

func TestRemoveByFileStem(t *testing.T) {
	dir := t.TempDir()
	writeRuleFile(t, dir, "test-rule.yml", validAnomalyYAML)

	l := NewLoader(dir)
	l.LoadAll()

	if !l.remove("test-rule") {
		t.Fatal("remove should report the rule existed")
	}
	if _, ok := l.Document("test-rule"); ok {
		t.Fatal("document should be gone")
	}
	if len(l.AnomalyRules()) != 0 {
		t.Fatal("anomaly map should be empty")
	}
}
