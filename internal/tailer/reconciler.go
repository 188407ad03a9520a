package tailer

import (
	"log"

	"github.com/good-yellow-bee/tailguard/internal/metrics"
	"github.com/good-yellow-bee/tailguard/internal/watch"
)

// Handle applies one filesystem event to the subscription.
//
// File-scoped events count only when they come from the current file watch;
// events still queued for a previous incarnation of the file are dropped.
// Directory-scoped events count only for the target's base name, since the
// directory watch sees every entry in the parent directory.
func (s *Subscription) Handle(ev watch.Event) {
	s.logf("event %s", ev)

	handled := false

	if s.file != nil && s.fileWatch != 0 && ev.Watch == s.fileWatch {
		handled = true
		metrics.EventsTotal.WithLabelValues(s.target.Path, "file").Inc()

		switch {
		case ev.Op.Has(watch.Modify):
			s.read()
		case ev.Op.Has(watch.Attrib):
			s.checkLinks()
		case ev.Op.Has(watch.MoveSelf):
			s.Detach(ReasonMoved)
		}
	}

	if s.dirWatch != 0 && ev.Watch == s.dirWatch && ev.Name == s.target.Name {
		handled = true
		metrics.EventsTotal.WithLabelValues(s.target.Path, "dir").Inc()

		switch {
		case ev.Op.Has(watch.Create | watch.MovedTo):
			// Failure here is expected when the file is removed again right
			// after being created; the next creation event retries.
			if err := s.Attach(false); err != nil {
				log.Printf("[tailer] re-attach failed: %v", err)
				return
			}
			s.read()
		case ev.Op.Has(watch.Delete):
			s.Detach(ReasonDeleted)
		}
	}

	if !handled {
		metrics.EventsTotal.WithLabelValues(s.target.Path, "ignored").Inc()
	}
}

// read runs ReadOnce and reports failures without stopping the loop. An
// unreadable file fails again on its next modify event.
func (s *Subscription) read() {
	if err := s.ReadOnce(); err != nil {
		metrics.ReadErrorsTotal.WithLabelValues(s.target.Path).Inc()
		log.Printf("[tailer] %v", err)
	}
}

// checkLinks detaches when the open file has been unlinked.
func (s *Subscription) checkLinks() {
	n, err := linkCount(s.file)
	if err != nil {
		log.Printf("[tailer] failed to read metadata of %s: %v", s.target.Path, err)
		return
	}
	if n == 0 {
		s.Detach(ReasonUnlinked)
		return
	}
	s.logf("attribute change on %s, %d links", s.target.Path, n)
}
