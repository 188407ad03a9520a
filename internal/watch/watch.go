// Package watch provides filesystem change notifications for a directory and
// a single file inside it. Events are tagged with the watch they originated
// from so a consumer can tell directory-level existence changes apart from
// file-level content changes.
package watch

import (
	"errors"
	"fmt"
	"strings"
)

// ID identifies a registered watch. The zero value is never a valid ID.
type ID int

// Op is a bitmask of semantic event kinds.
type Op uint32

const (
	// Create reports that an entry was created in a watched directory.
	Create Op = 1 << iota
	// MovedTo reports that an entry was moved into a watched directory.
	MovedTo
	// Delete reports that an entry was deleted from a watched directory.
	Delete
	// Modify reports that the content of a watched file changed.
	Modify
	// Attrib reports that metadata of a watched file changed (including its link count).
	Attrib
	// MoveSelf reports that a watched file was itself moved.
	MoveSelf
)

// DirOps is the set of kinds registered for directory watches.
const DirOps = Create | MovedTo | Delete

// FileOps is the set of kinds registered for file watches.
const FileOps = Modify | Attrib | MoveSelf

// Has reports whether o contains any of the kinds in other.
func (o Op) Has(other Op) bool {
	return o&other != 0
}

func (o Op) String() string {
	names := []struct {
		op   Op
		name string
	}{
		{Create, "CREATE"},
		{MovedTo, "MOVED_TO"},
		{Delete, "DELETE"},
		{Modify, "MODIFY"},
		{Attrib, "ATTRIB"},
		{MoveSelf, "MOVE_SELF"},
	}

	var parts []string
	for _, n := range names {
		if o.Has(n.op) {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "NONE"
	}
	return strings.Join(parts, "|")
}

// Event is a single notification. Name is the entry name relative to the
// watched directory and is only set for directory-scoped events.
type Event struct {
	Watch ID
	Op    Op
	Name  string
}

func (e Event) String() string {
	if e.Name == "" {
		return fmt.Sprintf("wd=%d %s", e.Watch, e.Op)
	}
	return fmt.Sprintf("wd=%d %s %q", e.Watch, e.Op, e.Name)
}

// Source delivers events for registered watches. Implementations deliver
// events in the order the kernel reported them; they make no promise about
// the state of the filesystem at the moment an event is received.
type Source interface {
	// AddDir watches a directory for entries being created, moved in or deleted.
	AddDir(path string) (ID, error)
	// AddFile watches a file for modification, attribute changes and self-moves.
	AddFile(path string) (ID, error)
	// Remove drops a watch. Removing a watch the kernel already discarded is not an error.
	Remove(id ID) error
	// Events returns the event channel. It is closed when the source is closed.
	Events() <-chan Event
	// Errors returns non-fatal errors such as queue overflows.
	Errors() <-chan error
	// Close releases all watches.
	Close() error
}

// Backend names accepted by Open.
const (
	BackendFsnotify = "fsnotify"
	BackendInotify  = "inotify"
)

// ErrUnsupported is returned when a backend is not available on this platform.
var ErrUnsupported = errors.New("watch backend not supported on this platform")

// ErrOverflow is reported on the Errors channel when the kernel dropped events.
var ErrOverflow = errors.New("event queue overflowed, events were lost")

// Open creates a Source for the named backend. An empty name selects fsnotify.
func Open(backend string) (Source, error) {
	switch backend {
	case "", BackendFsnotify:
		return NewFsnotify()
	case BackendInotify:
		return NewInotify()
	default:
		return nil, fmt.Errorf("unknown watch backend %q", backend)
	}
}
