// Package monitor turns tailed lines into delivered, journaled alerts.
//
// Deliver runs on the tailer's goroutine and evaluates each line there.
// Raised alerts are queued for the single dispatch worker started by Run.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/term"

	"github.com/good-yellow-bee/tailguard/internal/alerting"
	"github.com/good-yellow-bee/tailguard/internal/notifier"
	"github.com/good-yellow-bee/tailguard/internal/storage"
)

// ANSI color codes for echoed lines.
const (
	colorReset = "\033[0m"
	colorRed   = "\033[31m"
	colorGray  = "\033[90m"
)

// Evaluator raises alerts for a line. *alerting.Engine satisfies it.
type Evaluator interface {
	Evaluate(line, file string) []*alerting.Alert
}

// Dispatcher delivers an alert. *notifier.Dispatcher satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, alert *alerting.Alert) error
}

// Config contains monitor configuration.
type Config struct {
	// Path is the followed file, attached to every alert.
	Path string
	// Echo writes every line to Output.
	Echo bool
	// Output receives echoed lines (default: os.Stdout).
	Output io.Writer
	// QueueSize bounds the alerts waiting for dispatch (default: 64).
	QueueSize int
	// SendTimeout bounds one dispatch (default: 1m).
	SendTimeout time.Duration
	// Verbose enables per-line logging.
	Verbose bool
}

// Stats is a snapshot of monitor counters.
type Stats struct {
	Lines       int64 `json:"lines"`
	Alerts      int64 `json:"alerts"`
	Delivered   int64 `json:"delivered"`
	Failed      int64 `json:"failed"`
	RateLimited int64 `json:"rate_limited"`
	Dropped     int64 `json:"dropped"`
}

// Monitor implements tailer.Sink.
type Monitor struct {
	cfg        Config
	engine     Evaluator
	dispatcher Dispatcher
	history    storage.AlertHistoryRepository
	colored    bool

	queue    chan *alerting.Alert
	done     chan struct{}
	stopOnce sync.Once

	lines       atomic.Int64
	alerts      atomic.Int64
	delivered   atomic.Int64
	failed      atomic.Int64
	rateLimited atomic.Int64
	dropped     atomic.Int64
}

// New creates a Monitor. history may be nil, in which case alerts are not
// journaled.
func New(cfg Config, engine Evaluator, dispatcher Dispatcher, history storage.AlertHistoryRepository) *Monitor {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = time.Minute
	}

	colored := false
	if f, ok := cfg.Output.(*os.File); ok {
		colored = term.IsTerminal(int(f.Fd()))
	}

	return &Monitor{
		cfg:        cfg,
		engine:     engine,
		dispatcher: dispatcher,
		history:    history,
		colored:    colored,
		queue:      make(chan *alerting.Alert, cfg.QueueSize),
		done:       make(chan struct{}),
	}
}

// Deliver evaluates one completed line and queues the alerts it raises.
// It blocks while the dispatch queue is full and drops alerts once Run has
// returned.
func (m *Monitor) Deliver(line string) {
	m.lines.Add(1)

	alerts := m.engine.Evaluate(line, m.cfg.Path)

	if m.cfg.Echo {
		m.echo(line, len(alerts) > 0)
	}
	if m.cfg.Verbose {
		log.Printf("[monitor] line from %s (%d bytes, %d alerts)", m.cfg.Path, len(line), len(alerts))
	}

	for _, alert := range alerts {
		m.alerts.Add(1)
		select {
		case <-m.done:
			m.dropped.Add(1)
			log.Printf("[monitor] dropping alert %s: monitor stopped", alert.RuleName)
			continue
		default:
		}
		select {
		case m.queue <- alert:
		case <-m.done:
			m.dropped.Add(1)
			log.Printf("[monitor] dropping alert %s: monitor stopped", alert.RuleName)
		}
	}
}

// Run dispatches queued alerts until ctx is cancelled. Alerts still queued
// at that point are dropped.
func (m *Monitor) Run(ctx context.Context) error {
	defer m.stop()

	for {
		select {
		case <-ctx.Done():
			if n := len(m.queue); n > 0 {
				m.dropped.Add(int64(n))
				log.Printf("[monitor] dropping %d queued alerts on shutdown", n)
			}
			return nil
		case alert := <-m.queue:
			m.handle(ctx, alert)
		}
	}
}

func (m *Monitor) stop() {
	m.stopOnce.Do(func() { close(m.done) })
}

// handle dispatches one alert and journals the outcome. Failures are logged,
// never returned: a broken notifier must not stop the tail.
func (m *Monitor) handle(ctx context.Context, alert *alerting.Alert) {
	sendCtx, cancel := context.WithTimeout(ctx, m.cfg.SendTimeout)
	err := m.dispatcher.Dispatch(sendCtx, alert)
	cancel()

	switch {
	case err == nil:
		m.delivered.Add(1)
		log.Printf("[monitor] alert %s delivered (%s)", alert.RuleName, alert.ID)
	case errors.Is(err, notifier.ErrRateLimited):
		m.rateLimited.Add(1)
		log.Printf("[monitor] alert %s dropped: %v", alert.RuleName, err)
	default:
		m.failed.Add(1)
		log.Printf("[monitor] alert %s delivery failed: %v", alert.RuleName, err)
	}

	m.record(ctx, alert, err)
}

func (m *Monitor) record(ctx context.Context, alert *alerting.Alert, dispatchErr error) {
	if m.history == nil {
		return
	}

	rec := &storage.AlertRecord{
		ID:        alert.ID,
		RuleName:  alert.RuleName,
		Severity:  string(alert.Severity),
		Subject:   alert.Subject,
		Line:      alert.Line,
		FilePath:  alert.FilePath,
		Hostname:  alert.Host.Hostname,
		Count:     alert.Count,
		Delivered: dispatchErr == nil,
		CreatedAt: alert.Timestamp,
	}
	if dispatchErr != nil {
		rec.Error = dispatchErr.Error()
	}

	if err := m.history.Create(context.WithoutCancel(ctx), rec); err != nil {
		log.Printf("[monitor] failed to record alert %s: %v", alert.ID, err)
	}
}

// echo writes a line to Output, marking lines that raised an alert.
func (m *Monitor) echo(line string, alerted bool) {
	tag, color := "[LINE] ", colorGray
	if alerted {
		tag, color = "[ALERT]", colorRed
	}
	if m.colored {
		tag = color + tag + colorReset
	}

	var sb strings.Builder
	sb.WriteString(time.Now().Format(time.DateTime))
	sb.WriteString(" ")
	sb.WriteString(tag)
	sb.WriteString(" ")
	sb.WriteString(fmt.Sprintf("%-15s", filepath.Base(m.cfg.Path)))
	sb.WriteString(" ")
	sb.WriteString(strings.TrimRight(line, "\r\n"))
	sb.WriteString("\n")

	io.WriteString(m.cfg.Output, sb.String()) //nolint:errcheck
}

// Stats returns a snapshot of the monitor counters.
func (m *Monitor) Stats() Stats {
	return Stats{
		Lines:       m.lines.Load(),
		Alerts:      m.alerts.Load(),
		Delivered:   m.delivered.Load(),
		Failed:      m.failed.Load(),
		RateLimited: m.rateLimited.Load(),
		Dropped:     m.dropped.Load(),
	}
}
