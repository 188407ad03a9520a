package tailer

import (
	"errors"
	"os"
	"testing"

	"github.com/spf13/afero"

	"github.com/good-yellow-bee/tailguard/internal/watch"
)

// fakeWatcher records registrations and lets tests inject events by hand.
type fakeWatcher struct {
	next    watch.ID
	dirs    map[watch.ID]string
	files   map[watch.ID]string
	removed []watch.ID

	dirErr  error
	fileErr error

	events chan watch.Event
	errs   chan error
	closed bool
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{
		dirs:   make(map[watch.ID]string),
		files:  make(map[watch.ID]string),
		events: make(chan watch.Event, 16),
		errs:   make(chan error, 4),
	}
}

func (w *fakeWatcher) AddDir(path string) (watch.ID, error) {
	if w.dirErr != nil {
		return 0, w.dirErr
	}
	w.next++
	w.dirs[w.next] = path
	return w.next, nil
}

func (w *fakeWatcher) AddFile(path string) (watch.ID, error) {
	if w.fileErr != nil {
		return 0, w.fileErr
	}
	w.next++
	w.files[w.next] = path
	return w.next, nil
}

func (w *fakeWatcher) Remove(id watch.ID) error {
	if _, ok := w.dirs[id]; !ok {
		if _, ok := w.files[id]; !ok {
			return errors.New("unknown watch")
		}
	}
	delete(w.dirs, id)
	delete(w.files, id)
	w.removed = append(w.removed, id)
	return nil
}

func (w *fakeWatcher) Events() <-chan watch.Event { return w.events }
func (w *fakeWatcher) Errors() <-chan error       { return w.errs }

func (w *fakeWatcher) Close() error {
	w.closed = true
	return nil
}

// fileWatch returns the single registered file watch, or 0.
func (w *fakeWatcher) fileWatch() watch.ID {
	for id := range w.files {
		return id
	}
	return 0
}

func (w *fakeWatcher) dirWatch() watch.ID {
	for id := range w.dirs {
		return id
	}
	return 0
}

type lineCollector struct {
	lines []string
}

func (c *lineCollector) Deliver(line string) {
	c.lines = append(c.lines, line)
}

func newTestSubscription(t *testing.T, fs afero.Fs, path string) (*Subscription, *fakeWatcher, *lineCollector) {
	t.Helper()

	target, err := NewTarget(fs, path)
	if err != nil {
		t.Fatalf("NewTarget(%q): %v", path, err)
	}

	w := newFakeWatcher()
	sink := &lineCollector{}
	sub := NewSubscription(target, w, sink, SubscriptionOptions{Fs: fs})
	return sub, w, sink
}

func writeFile(t *testing.T, fs afero.Fs, path, content string) {
	t.Helper()
	if err := afero.WriteFile(fs, path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func appendFile(t *testing.T, fs afero.Fs, path, content string) {
	t.Helper()
	f, err := fs.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		t.Fatalf("failed to open %s: %v", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("failed to append to %s: %v", path, err)
	}
}
