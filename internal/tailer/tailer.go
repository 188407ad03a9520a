// Package tailer follows a single log file across truncation, deletion,
// recreation and renames, delivering every complete line exactly once.
//
// A directory watch reports the target appearing and disappearing; a file
// watch, present only while the file is open, reports content and attribute
// changes. Both feed one Subscription, which reconciles each event against
// the actual file.
package tailer

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/spf13/afero"

	"github.com/good-yellow-bee/tailguard/internal/watch"
)

// ErrSourceClosed is returned by Run when the watch source stops delivering events.
var ErrSourceClosed = errors.New("watch source closed")

// Options contains options for configuring a Tailer.
type Options struct {
	// Backend selects the watch backend (fsnotify or inotify).
	Backend string
	// Encoding is the WHATWG label of the file's text encoding.
	Encoding string
	// StartAtBeginning reads existing content on startup instead of seeking to the end.
	StartAtBeginning bool
	// Verbose enables per-event logging.
	Verbose bool
	// Fs is the filesystem the target is opened from.
	Fs afero.Fs
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() *Options {
	return &Options{
		Backend:  watch.BackendFsnotify,
		Encoding: "utf-8",
		Fs:       afero.NewOsFs(),
	}
}

// Tailer runs the event loop for one Subscription.
type Tailer struct {
	sub   *Subscription
	src   watch.Source
	opts  *Options
	ready chan struct{}
}

// NewTailer creates a Tailer for path using the configured watch backend.
func NewTailer(path string, sink Sink, opts *Options) (*Tailer, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	src, err := watch.Open(opts.Backend)
	if err != nil {
		return nil, fmt.Errorf("failed to open watch backend: %w", err)
	}

	t, err := NewTailerWithSource(path, sink, src, opts)
	if err != nil {
		src.Close()
		return nil, err
	}
	return t, nil
}

// NewTailerWithSource creates a Tailer fed by src. The Tailer owns src.
func NewTailerWithSource(path string, sink Sink, src watch.Source, opts *Options) (*Tailer, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}

	enc, err := LookupEncoding(opts.Encoding)
	if err != nil {
		return nil, err
	}

	target, err := NewTarget(opts.Fs, path)
	if err != nil {
		return nil, err
	}

	sub := NewSubscription(target, src, sink, SubscriptionOptions{
		Fs:       opts.Fs,
		Encoding: enc,
		Verbose:  opts.Verbose,
	})

	return &Tailer{sub: sub, src: src, opts: opts, ready: make(chan struct{})}, nil
}

// Subscription returns the underlying subscription. It must only be touched
// from the goroutine running Run, or after Run has returned.
func (t *Tailer) Subscription() *Subscription {
	return t.sub
}

// Ready is closed once Run has registered the watches and made the initial
// attach attempt.
func (t *Tailer) Ready() <-chan struct{} {
	return t.ready
}

// Run registers the watches, attaches to the file if it exists and then
// handles events one at a time until ctx is cancelled or the watch source
// fails. It returns nil on cancellation.
func (t *Tailer) Run(ctx context.Context) error {
	if err := t.sub.Start(!t.opts.StartAtBeginning); err != nil {
		return err
	}
	close(t.ready)

	errs := t.src.Errors()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-t.src.Events():
			if !ok {
				return ErrSourceClosed
			}
			t.sub.Handle(ev)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			// Lost events are not recovered by polling; the next event resyncs.
			log.Printf("[tailer] watcher error: %v", err)
		}
	}
}

// Close releases the file handle and the watch source. Call it after Run returns.
func (t *Tailer) Close() error {
	t.sub.Close()
	return t.src.Close()
}
