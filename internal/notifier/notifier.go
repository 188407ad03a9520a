// Package notifier delivers alerts over e-mail and chat webhooks.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/good-yellow-bee/tailguard/internal/alerting"
	"github.com/good-yellow-bee/tailguard/internal/metrics"
)

// Notifier is the interface for all notification channels.
type Notifier interface {
	// Name returns the notifier name (e.g., "email", "slack").
	Name() string
	// Send sends an alert notification.
	Send(ctx context.Context, alert *alerting.Alert) error
	// Close releases any resources.
	Close() error
}

// Dispatcher manages multiple notifiers and routes alerts.
type Dispatcher struct {
	mu          sync.RWMutex
	notifiers   map[string]Notifier
	rateLimiter *RateLimiter
}

// NewDispatcher creates a new notification dispatcher with default rate limiting.
func NewDispatcher() *Dispatcher {
	return NewDispatcherWithRateLimit(DefaultRateLimitConfig())
}

// NewDispatcherWithRateLimit creates a dispatcher with custom rate limit configuration.
func NewDispatcherWithRateLimit(config RateLimitConfig) *Dispatcher {
	return &Dispatcher{
		notifiers:   make(map[string]Notifier),
		rateLimiter: NewRateLimiter(config),
	}
}

// Register adds a notifier to the dispatcher.
func (d *Dispatcher) Register(n Notifier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifiers[n.Name()] = n
}

// Unregister removes a notifier from the dispatcher.
func (d *Dispatcher) Unregister(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.notifiers, name)
}

// Get returns a notifier by name.
func (d *Dispatcher) Get(name string) (Notifier, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.notifiers[name]
	return n, ok
}

// Names returns the registered notifier names in sorted order.
func (d *Dispatcher) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.notifiers))
	for name := range d.notifiers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ErrRateLimited is returned when a notification is dropped due to rate limiting.
var ErrRateLimited = errors.New("notification rate limited")

// ErrNoNotifiers is returned when an alert has nowhere to go.
var ErrNoNotifiers = errors.New("no matching notifiers registered")

// Dispatch sends an alert to the notifiers named in alert.Notify, or to every
// registered notifier when alert.Notify is empty. A failing notifier does not
// prevent delivery through the others; all failures are returned joined.
// Returns ErrRateLimited if the notification is dropped due to rate limiting.
func (d *Dispatcher) Dispatch(ctx context.Context, alert *alerting.Alert) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	targets := d.targets(alert)
	if len(targets) == 0 {
		return ErrNoNotifiers
	}

	var res Reservation
	if d.rateLimiter != nil {
		r, wait, ok := d.rateLimiter.Reserve()
		if !ok {
			metrics.NotificationsRateLimitedTotal.Inc()
			return fmt.Errorf("%w: next slot in %s", ErrRateLimited, wait.Round(time.Second))
		}
		res = r
	}

	var errs []error
	for _, n := range targets {
		if err := n.Send(ctx, alert); err != nil {
			metrics.NotificationsTotal.WithLabelValues(n.Name(), "failure").Inc()
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
			continue
		}
		metrics.NotificationsTotal.WithLabelValues(n.Name(), "success").Inc()
	}

	// Nothing was delivered; do not let the attempt count against the limit.
	if len(errs) == len(targets) {
		res.Cancel()
	}

	return errors.Join(errs...)
}

// targets resolves the notifiers for alert. Must be called with d.mu held.
func (d *Dispatcher) targets(alert *alerting.Alert) []Notifier {
	var out []Notifier

	if len(alert.Notify) == 0 {
		names := make([]string, 0, len(d.notifiers))
		for name := range d.notifiers {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			out = append(out, d.notifiers[name])
		}
		return out
	}

	for _, name := range alert.Notify {
		if n, ok := d.notifiers[name]; ok {
			out = append(out, n)
		}
	}
	return out
}

// RateLimitStats returns the rate limiter statistics.
func (d *Dispatcher) RateLimitStats() RateLimitStats {
	if d.rateLimiter == nil {
		return RateLimitStats{}
	}
	return d.rateLimiter.Stats()
}

// Close closes all registered notifiers.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for name, n := range d.notifiers {
		if err := n.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	d.notifiers = make(map[string]Notifier)

	return errors.Join(errs...)
}
