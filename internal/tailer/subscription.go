package tailer

import (
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"

	"github.com/spf13/afero"
	"golang.org/x/text/encoding"

	"github.com/good-yellow-bee/tailguard/internal/metrics"
	"github.com/good-yellow-bee/tailguard/internal/watch"
)

// ErrNoParent is returned when a target path has no usable parent directory.
var ErrNoParent = errors.New("no parent folder found for given path")

// ErrNoHandle is returned by ReadOnce when no file is attached.
var ErrNoHandle = errors.New("file handle does not exist")

// Detach reasons.
const (
	ReasonDeleted  = "deleted"
	ReasonUnlinked = "unlinked"
	ReasonMoved    = "moved"
	ReasonShutdown = "shutdown"
)

// AttachError describes a failed attempt to open and watch the target.
type AttachError struct {
	Path string
	Op   string
	Err  error
}

func (e *AttachError) Error() string {
	return fmt.Sprintf("attach %s: %s: %v", e.Path, e.Op, e.Err)
}

func (e *AttachError) Unwrap() error {
	return e.Err
}

// ReadError describes an I/O failure while reading the attached file.
type ReadError struct {
	Path string
	Op   string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read %s: %s: %v", e.Path, e.Op, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// Target identifies the followed file. It is derived once and never changes.
type Target struct {
	Name string // base name, matched against directory events
	Path string // absolute path of the file
	Dir  string // absolute path of the parent directory
}

// NewTarget derives a Target from path. The parent directory must exist.
func NewTarget(fs afero.Fs, path string) (Target, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Target{}, fmt.Errorf("failed to get absolute path: %w", err)
	}

	name := filepath.Base(abs)
	dir := filepath.Dir(abs)
	if name == "" || name == "." || name == string(filepath.Separator) || dir == abs {
		return Target{}, fmt.Errorf("%s: %w", path, ErrNoParent)
	}

	info, err := fs.Stat(dir)
	if err != nil {
		return Target{}, fmt.Errorf("%s: %w: %v", path, ErrNoParent, err)
	}
	if !info.IsDir() {
		return Target{}, fmt.Errorf("%s: %w: %s is not a directory", path, ErrNoParent, dir)
	}

	return Target{Name: name, Path: abs, Dir: dir}, nil
}

// Sink receives every completed line, in file order.
type Sink interface {
	Deliver(line string)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(line string)

// Deliver calls f(line).
func (f SinkFunc) Deliver(line string) {
	f(line)
}

// Watcher registers the watches a Subscription needs. watch.Source satisfies it.
type Watcher interface {
	AddDir(path string) (watch.ID, error)
	AddFile(path string) (watch.ID, error)
	Remove(id watch.ID) error
}

// Subscription is the live tracking state for one target file: its watches,
// the open handle (if any) and the partial line read from that handle.
//
// A Subscription is not safe for concurrent use. It is owned by the single
// loop that feeds it events.
type Subscription struct {
	target  Target
	fs      afero.Fs
	watcher Watcher
	sink    Sink
	verbose bool

	dirWatch  watch.ID
	fileWatch watch.ID
	file      afero.File

	framer *Framer
	buf    []byte
}

// SubscriptionOptions configures a Subscription.
type SubscriptionOptions struct {
	// Fs is the filesystem the target is opened from (default: the OS filesystem).
	Fs afero.Fs
	// Encoding is used to decode lines (default: UTF-8).
	Encoding encoding.Encoding
	// Verbose enables per-event logging.
	Verbose bool
}

// NewSubscription creates a detached Subscription for target.
func NewSubscription(target Target, w Watcher, sink Sink, opts SubscriptionOptions) *Subscription {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	return &Subscription{
		target:  target,
		fs:      opts.Fs,
		watcher: w,
		sink:    sink,
		verbose: opts.Verbose,
		framer:  NewFramer(opts.Encoding),
		buf:     make([]byte, ChunkSize),
	}
}

// Target returns the followed target.
func (s *Subscription) Target() Target {
	return s.target
}

// Attached reports whether a live handle to the target is held.
func (s *Subscription) Attached() bool {
	return s.file != nil
}

// Pending returns the number of buffered bytes of an unfinished line.
func (s *Subscription) Pending() int {
	return s.framer.Pending()
}

// Start registers the directory watch and makes an eager attach attempt.
// Failing to watch the directory is fatal; failing to attach is not, the
// subscription then waits for the file to be created.
func (s *Subscription) Start(cold bool) error {
	id, err := s.watcher.AddDir(s.target.Dir)
	if err != nil {
		return fmt.Errorf("failed to watch directory: %w", err)
	}
	s.dirWatch = id

	if err := s.Attach(cold); err != nil {
		s.logf("initial attach failed, waiting for %s to appear: %v", s.target.Name, err)
		return nil
	}
	if !cold {
		s.read()
	}
	return nil
}

// Attach opens the target and registers its file watch, replacing any
// current handle. A cold attach starts at the end of the file; a hot attach
// (after rotation) starts at offset 0. On failure the subscription is left
// detached.
func (s *Subscription) Attach(cold bool) error {
	s.release()

	id, err := s.watcher.AddFile(s.target.Path)
	if err != nil {
		metrics.AttachErrorsTotal.WithLabelValues(s.target.Path).Inc()
		return &AttachError{Path: s.target.Path, Op: "watch", Err: err}
	}

	f, err := s.fs.Open(s.target.Path)
	if err != nil {
		s.removeWatch(id)
		metrics.AttachErrorsTotal.WithLabelValues(s.target.Path).Inc()
		return &AttachError{Path: s.target.Path, Op: "open", Err: err}
	}

	if cold {
		if _, err := f.Seek(0, io.SeekEnd); err != nil {
			f.Close()
			s.removeWatch(id)
			metrics.AttachErrorsTotal.WithLabelValues(s.target.Path).Inc()
			return &AttachError{Path: s.target.Path, Op: "seek", Err: err}
		}
	}

	s.file = f
	s.fileWatch = id

	mode := "hot"
	if cold {
		mode = "cold"
	}
	metrics.AttachesTotal.WithLabelValues(s.target.Path, mode).Inc()
	metrics.Attached.WithLabelValues(s.target.Path).Set(1)
	log.Printf("[tailer] attached to %s (%s)", s.target.Path, mode)

	return nil
}

// Detach drops the handle, the file watch and any partial line.
func (s *Subscription) Detach(reason string) {
	if s.file == nil {
		s.release()
		return
	}

	s.release()
	metrics.DetachesTotal.WithLabelValues(s.target.Path, reason).Inc()
	metrics.Attached.WithLabelValues(s.target.Path).Set(0)
	log.Printf("[tailer] detached from %s (%s)", s.target.Path, reason)
}

// Close detaches and drops the directory watch.
func (s *Subscription) Close() {
	s.Detach(ReasonShutdown)
	if s.dirWatch != 0 {
		s.removeWatch(s.dirWatch)
		s.dirWatch = 0
	}
}

// release tears down the current incarnation without bookkeeping.
func (s *Subscription) release() {
	s.framer.Reset()
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
	if s.fileWatch != 0 {
		s.removeWatch(s.fileWatch)
		s.fileWatch = 0
	}
}

func (s *Subscription) removeWatch(id watch.ID) {
	if err := s.watcher.Remove(id); err != nil {
		s.logf("failed to remove watch %d: %v", id, err)
	}
}

func (s *Subscription) deliver(line string) {
	metrics.LinesTotal.WithLabelValues(s.target.Path).Inc()
	s.sink.Deliver(line)
}

func (s *Subscription) logf(format string, args ...any) {
	if s.verbose {
		log.Printf("[tailer] "+format, args...)
	}
}
