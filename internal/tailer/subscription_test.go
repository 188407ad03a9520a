package tailer

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/spf13/afero"
)

func TestNewTarget(t *testing.T) {
	dir := t.TempDir()
	fs := afero.NewOsFs()

	notDir := filepath.Join(dir, "plain")
	writeFile(t, fs, notDir, "")

	target, err := NewTarget(fs, filepath.Join(dir, "auth.log"))
	if err != nil {
		t.Fatalf("NewTarget: %v", err)
	}
	if target.Name != "auth.log" {
		t.Errorf("Name = %q, want auth.log", target.Name)
	}
	if target.Dir != dir {
		t.Errorf("Dir = %q, want %q", target.Dir, dir)
	}
	if target.Path != filepath.Join(dir, "auth.log") {
		t.Errorf("Path = %q", target.Path)
	}

	tests := []struct {
		name string
		path string
	}{
		{"root", "/"},
		{"missing parent", filepath.Join(dir, "missing", "auth.log")},
		{"parent is a file", filepath.Join(notDir, "auth.log")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTarget(fs, tt.path)
			if !errors.Is(err, ErrNoParent) {
				t.Errorf("NewTarget(%q) = %v, want ErrNoParent", tt.path, err)
			}
		})
	}
}

func TestNewTargetRelative(t *testing.T) {
	fs := afero.NewOsFs()

	target, err := NewTarget(fs, "auth.log")
	if err != nil {
		t.Fatalf("NewTarget: %v", err)
	}
	if !filepath.IsAbs(target.Path) {
		t.Errorf("Path %q is not absolute", target.Path)
	}
	if target.Name != "auth.log" {
		t.Errorf("Name = %q, want auth.log", target.Name)
	}
}

func TestAttachCold(t *testing.T) {
	fs := newMemFs(t)
	writeFile(t, fs, memLog, "existing\n")

	sub, w, sink := newTestSubscription(t, fs, memLog)
	if err := sub.Attach(true); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if !sub.Attached() {
		t.Fatal("expected attached")
	}
	if w.fileWatch() == 0 {
		t.Error("expected a file watch")
	}

	appendFile(t, fs, memLog, "new\n")
	if err := sub.ReadOnce(); err != nil {
		t.Fatalf("ReadOnce: %v", err)
	}

	if !reflect.DeepEqual(sink.lines, []string{"new\n"}) {
		t.Errorf("lines = %q, want only the appended line", sink.lines)
	}
}

func TestAttachHot(t *testing.T) {
	fs := newMemFs(t)
	writeFile(t, fs, memLog, "existing\n")

	sub, _, sink := newTestSubscription(t, fs, memLog)
	if err := sub.Attach(false); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if err := sub.ReadOnce(); err != nil {
		t.Fatalf("ReadOnce: %v", err)
	}

	if !reflect.DeepEqual(sink.lines, []string{"existing\n"}) {
		t.Errorf("lines = %q, want existing content", sink.lines)
	}
}

func TestAttachMissingFile(t *testing.T) {
	fs := newMemFs(t)
	sub, w, _ := newTestSubscription(t, fs, memLog)

	err := sub.Attach(false)
	var attachErr *AttachError
	if !errors.As(err, &attachErr) {
		t.Fatalf("Attach() = %v, want *AttachError", err)
	}
	if attachErr.Op != "open" {
		t.Errorf("Op = %q, want open", attachErr.Op)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Attach() = %v, want it to wrap os.ErrNotExist", err)
	}
	if sub.Attached() {
		t.Error("expected detached")
	}
	if len(w.files) != 0 {
		t.Errorf("file watch leaked: %v", w.files)
	}
}

func TestAttachWatchError(t *testing.T) {
	fs := newMemFs(t)
	writeFile(t, fs, memLog, "")

	sub, w, _ := newTestSubscription(t, fs, memLog)
	w.fileErr = errors.New("no space left on device")

	err := sub.Attach(false)
	var attachErr *AttachError
	if !errors.As(err, &attachErr) || attachErr.Op != "watch" {
		t.Fatalf("Attach() = %v, want watch AttachError", err)
	}
	if sub.Attached() {
		t.Error("expected detached")
	}
}

func TestAttachReplacesHandle(t *testing.T) {
	fs := newMemFs(t)
	writeFile(t, fs, memLog, "partial")

	sub, w, _ := newTestSubscription(t, fs, memLog)
	if err := sub.Attach(false); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if err := sub.ReadOnce(); err != nil {
		t.Fatalf("ReadOnce: %v", err)
	}
	first := w.fileWatch()

	if err := sub.Attach(false); err != nil {
		t.Fatalf("second Attach: %v", err)
	}

	if len(w.files) != 1 {
		t.Errorf("expected exactly one file watch, got %v", w.files)
	}
	if w.fileWatch() == first {
		t.Error("expected a new file watch")
	}
	if sub.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0 after re-attach", sub.Pending())
	}
}

func TestStart(t *testing.T) {
	t.Run("directory watch failure is fatal", func(t *testing.T) {
		fs := newMemFs(t)
		sub, w, _ := newTestSubscription(t, fs, memLog)
		w.dirErr = errors.New("permission denied")

		if err := sub.Start(true); err == nil {
			t.Error("expected error, got nil")
		}
	})

	t.Run("missing file waits", func(t *testing.T) {
		fs := newMemFs(t)
		sub, w, _ := newTestSubscription(t, fs, memLog)

		if err := sub.Start(true); err != nil {
			t.Fatalf("Start: %v", err)
		}
		if sub.Attached() {
			t.Error("expected detached")
		}
		if w.dirWatch() == 0 {
			t.Error("expected a directory watch")
		}
	})

	t.Run("cold start skips existing content", func(t *testing.T) {
		fs := newMemFs(t)
		writeFile(t, fs, memLog, "old\n")
		sub, _, sink := newTestSubscription(t, fs, memLog)

		if err := sub.Start(true); err != nil {
			t.Fatalf("Start: %v", err)
		}
		if !sub.Attached() {
			t.Fatal("expected attached")
		}
		if len(sink.lines) != 0 {
			t.Errorf("unexpected lines %q", sink.lines)
		}
	})

	t.Run("warm start reads existing content", func(t *testing.T) {
		fs := newMemFs(t)
		writeFile(t, fs, memLog, "old\n")
		sub, _, sink := newTestSubscription(t, fs, memLog)

		if err := sub.Start(false); err != nil {
			t.Fatalf("Start: %v", err)
		}
		if !reflect.DeepEqual(sink.lines, []string{"old\n"}) {
			t.Errorf("lines = %q, want existing content", sink.lines)
		}
	})
}

func TestClose(t *testing.T) {
	fs := newMemFs(t)
	writeFile(t, fs, memLog, "")

	sub, w, _ := newTestSubscription(t, fs, memLog)
	if err := sub.Start(true); err != nil {
		t.Fatalf("Start: %v", err)
	}

	sub.Close()

	if sub.Attached() {
		t.Error("expected detached")
	}
	if len(w.dirs) != 0 || len(w.files) != 0 {
		t.Errorf("watches left after Close: dirs=%v files=%v", w.dirs, w.files)
	}

	// Closing twice is harmless.
	sub.Close()
}
