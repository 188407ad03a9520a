package watch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// fsnotifySource adapts fsnotify to Source. fsnotify identifies watches by
// path and reports child events of a watched directory under the child's full
// path, so file watches are logical: they are derived from the events of the
// parent directory watch instead of registering the file with the kernel. This
// keeps a stale watch on a replaced inode from ever reporting against the new
// file.
type fsnotifySource struct {
	w *fsnotify.Watcher

	mu     sync.Mutex
	nextID ID
	dirs   map[string]ID
	files  map[string]ID
	paths  map[ID]string

	events chan Event
	errors chan error

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewFsnotify creates a Source backed by fsnotify.
func NewFsnotify() (Source, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	s := &fsnotifySource{
		w:      w,
		dirs:   make(map[string]ID),
		files:  make(map[string]ID),
		paths:  make(map[ID]string),
		events: make(chan Event, 64),
		errors: make(chan error, 8),
		done:   make(chan struct{}),
	}

	s.wg.Add(1)
	go s.run()

	return s, nil
}

func (s *fsnotifySource) AddDir(path string) (ID, error) {
	path = filepath.Clean(path)

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.dirs[path]; ok {
		return id, nil
	}
	if err := s.w.Add(path); err != nil {
		return 0, fmt.Errorf("failed to watch directory %s: %w", path, err)
	}

	s.nextID++
	s.dirs[path] = s.nextID
	s.paths[s.nextID] = path
	return s.nextID, nil
}

func (s *fsnotifySource) AddFile(path string) (ID, error) {
	path = filepath.Clean(path)

	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("failed to watch file %s: %w", path, err)
	}
	if info.IsDir() {
		return 0, fmt.Errorf("failed to watch file %s: is a directory", path)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.dirs[filepath.Dir(path)]; !ok {
		return 0, fmt.Errorf("failed to watch file %s: parent directory is not watched", path)
	}
	if id, ok := s.files[path]; ok {
		return id, nil
	}

	s.nextID++
	s.files[path] = s.nextID
	s.paths[s.nextID] = path
	return s.nextID, nil
}

func (s *fsnotifySource) Remove(id ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, ok := s.paths[id]
	if !ok {
		return nil
	}
	delete(s.paths, id)

	if s.files[path] == id {
		delete(s.files, path)
		return nil
	}

	delete(s.dirs, path)
	if err := s.w.Remove(path); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
		return fmt.Errorf("failed to remove watch %s: %w", path, err)
	}
	return nil
}

func (s *fsnotifySource) Events() <-chan Event {
	return s.events
}

func (s *fsnotifySource) Errors() <-chan error {
	return s.errors
}

func (s *fsnotifySource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.w.Close()
		s.wg.Wait()
	})
	return err
}

func (s *fsnotifySource) run() {
	defer s.wg.Done()
	defer close(s.events)
	defer close(s.errors)

	for {
		select {
		case <-s.done:
			return
		case fe, ok := <-s.w.Events:
			if !ok {
				return
			}
			for _, ev := range s.translate(fe) {
				select {
				case s.events <- ev:
				case <-s.done:
					return
				}
			}
		case err, ok := <-s.w.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				err = ErrOverflow
			}
			select {
			case s.errors <- err:
			case <-s.done:
				return
			}
		}
	}
}

// translate maps one fsnotify event to at most one file-scoped and one
// directory-scoped event. fsnotify reports entries moved into a directory as
// Create, and both a self-move and a move out of the directory as Rename.
func (s *fsnotifySource) translate(fe fsnotify.Event) []Event {
	name := filepath.Clean(fe.Name)

	s.mu.Lock()
	fileID, isFile := s.files[name]
	dirID, inDir := s.dirs[filepath.Dir(name)]
	s.mu.Unlock()

	var out []Event

	if isFile {
		var op Op
		if fe.Has(fsnotify.Write) {
			op |= Modify
		}
		if fe.Has(fsnotify.Chmod) {
			op |= Attrib
		}
		if fe.Has(fsnotify.Rename) {
			op |= MoveSelf
		}
		if op != 0 {
			out = append(out, Event{Watch: fileID, Op: op})
		}
	}

	if inDir {
		var op Op
		if fe.Has(fsnotify.Create) {
			op |= Create
		}
		if fe.Has(fsnotify.Remove) {
			op |= Delete
		}
		if op != 0 {
			out = append(out, Event{Watch: dirID, Op: op, Name: filepath.Base(name)})
		}
	}

	return out
}
