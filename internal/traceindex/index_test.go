package traceindex

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	vierr "github.com/hochfrequenz/task-viewer/internal/errors"
)

func touch(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte("PK"), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestScan_SkipsMalformedNames(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "7.trace.zip")
	touch(t, dir, "42.trace.zip")
	touch(t, dir, "bad.trace.zip")
	touch(t, dir, "8.zip")
	touch(t, dir, "9.trace.zip.tmp")

	set, err := New().Scan(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got := set.Sorted(); !reflect.DeepEqual(got, []int{7, 42}) {
		t.Errorf("Scan() = %v, want [7 42]", got)
	}
	if !set.Has(42) || set.Has(8) {
		t.Error("Has() disagrees with scan result")
	}
}

func TestScan_CachedUntilInvalidated(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "1.trace.zip")
	x := New()

	if _, err := x.Scan(dir); err != nil {
		t.Fatal(err)
	}
	touch(t, dir, "2.trace.zip")

	set, _ := x.Scan(dir)
	if set.Has(2) {
		t.Error("trace added after first scan should not be observed")
	}

	x.Invalidate(dir)
	set, _ = x.Scan(dir)
	if !set.Has(2) {
		t.Error("trace should be observed after Invalidate")
	}
}

func TestScan_MissingDir(t *testing.T) {
	set, err := New().Scan(filepath.Join(t.TempDir(), "absent"))
	if err != nil {
		t.Fatal(err)
	}
	if len(set) != 0 {
		t.Errorf("Scan() = %v, want empty", set)
	}
}

func TestPath(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "7.trace.zip")

	got, err := Path(dir, 7)
	if err != nil {
		t.Fatal(err)
	}
	if got != filepath.Join(dir, "7.trace.zip") {
		t.Errorf("Path() = %q", got)
	}

	if _, err := Path(dir, 8); !errors.Is(err, vierr.ErrNotFound) {
		t.Errorf("Path(8) error = %v, want NotFound", err)
	}
}

func TestParseFileName(t *testing.T) {
	tests := []struct {
		name   string
		wantID int
		wantOK bool
	}{
		{"7.trace.zip", 7, true},
		{"007.trace.zip", 7, true},
		{"bad.trace.zip", 0, false},
		{"12.retry.trace.zip", 12, true},
		{"7-retry.trace.zip", 0, false},
		{"7.trace.zip.bak", 0, false},
	}

	for _, tt := range tests {
		id, ok := ParseFileName(tt.name)
		if id != tt.wantID || ok != tt.wantOK {
			t.Errorf("ParseFileName(%q) = %d, %v, want %d, %v", tt.name, id, ok, tt.wantID, tt.wantOK)
		}
	}
}
