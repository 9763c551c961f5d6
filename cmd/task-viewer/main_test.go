package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hochfrequenz/task-viewer/internal/catalog"
	"github.com/hochfrequenz/task-viewer/internal/config"
	"github.com/hochfrequenz/task-viewer/internal/domain"
	"github.com/hochfrequenz/task-viewer/internal/traceindex"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)
	if err != nil {
		t.Fatal(err)
	}

	logger.Info("hidden")
	logger.Warn("shown", "port", 9322)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info record written at warn level")
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &rec); err != nil {
		t.Fatalf("output is not one JSON record: %q", out)
	}
	if rec["msg"] != "shown" {
		t.Errorf("msg = %v", rec["msg"])
	}

	if _, err := newLogger(config.LogConfig{Level: "loud"}, &buf); err == nil {
		t.Error("expected error for unknown level")
	}
	if _, err := newLogger(config.LogConfig{Level: "info", Format: "xml"}, &buf); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestReloadCallback(t *testing.T) {
	taskDir := t.TempDir()
	traceDir := t.TempDir()
	path := filepath.Join(taskDir, "tasks.json")
	os.WriteFile(path, []byte(`[{"task_id": 1}]`), 0644)
	os.WriteFile(filepath.Join(traceDir, "1.trace.zip"), []byte("PK"), 0644)

	loader := catalog.NewLoader(catalog.Options{Dir: taskDir})
	traces := traceindex.New()
	if _, err := loader.Load("tasks.json"); err != nil {
		t.Fatal(err)
	}
	if _, err := traces.Scan(traceDir); err != nil {
		t.Fatal(err)
	}

	cb := reloadCallback(loader, traces, traceDir, slog.Default())

	// sidecar and temp file writes are ours and must not drop the cache
	cb([]string{filepath.Join(taskDir, "tasks_reviews.json"), filepath.Join(taskDir, ".tmp-123")})
	if len(loader.Cached()) != 1 {
		t.Error("review sidecar write invalidated the task cache")
	}

	cb([]string{path})
	if len(loader.Cached()) != 0 {
		t.Error("task file change did not invalidate the cache")
	}

	os.WriteFile(filepath.Join(traceDir, "2.trace.zip"), []byte("PK"), 0644)
	cb([]string{filepath.Join(traceDir, "2.trace.zip")})
	set, err := traces.Scan(traceDir)
	if err != nil {
		t.Fatal(err)
	}
	if !set.Has(2) {
		t.Error("new trace not visible after invalidation")
	}
}

func TestWriteTask_YAML(t *testing.T) {
	var task domain.Task
	if err := json.Unmarshal([]byte(`{"task_id": 7, "sites": ["gitlab"], "intent": "Star it"}`), &task); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := writeTask(&buf, &task, "yaml"); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"task_id: 7", "intent: Star it", "- gitlab"} {
		if !strings.Contains(out, want) {
			t.Errorf("yaml output missing %q:\n%s", want, out)
		}
	}

	if err := writeTask(&buf, &task, "toml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestWriteTaskList_SiteFilter(t *testing.T) {
	var tasks []*domain.Task
	if err := json.Unmarshal([]byte(`[
		{"task_id": 1, "sites": ["gitlab"], "intent": "first"},
		{"task_id": 2, "sites": ["reddit"], "intent": "second"},
		{"task_id": 3, "sites": ["shopping", "reddit"], "intent": "third"}
	]`), &tasks); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	writeTaskList(&buf, "tasks.json", tasks, nil, traceindex.Set{}, "reddit")
	out := buf.String()
	if strings.Contains(out, "first") || !strings.Contains(out, "second") || !strings.Contains(out, "third") {
		t.Errorf("site filter not applied:\n%s", out)
	}
}

func TestWatchDirs(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.SourceMode = domain.SourceModeFile
	cfg.Paths.TaskFile = "/data/webarena/tasks.json"

	got := watchDirs(cfg, "/data/webarena")
	if len(got) != 1 || got[0] != "/data/webarena" {
		t.Errorf("watchDirs() = %v, want one shared dir", got)
	}

	got = watchDirs(cfg, "/data/traces")
	if len(got) != 2 {
		t.Errorf("watchDirs() = %v, want task and trace dirs", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("a  b\nc", 10); got != "a b c" {
		t.Errorf("truncate() = %q", got)
	}
	if got := truncate("abcdef", 4); got != "abc…" {
		t.Errorf("truncate() = %q", got)
	}
}
