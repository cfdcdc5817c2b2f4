package summary

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Nathan-Asif/AegisMedix/events"
	"github.com/Nathan-Asif/AegisMedix/logger"
	"github.com/Nathan-Asif/AegisMedix/metrics"
)

// Defaults for Config.
const (
	DefaultWindow    = 45 * time.Second
	DefaultInterval  = 3 * time.Second
	DefaultStaleness = 5 * time.Minute
)

// ErrNotAvailable is returned by Poll when the window ran out before a fresh
// summary appeared.
var ErrNotAvailable = errors.New("summary not available")

// Config controls the polling cadence.
type Config struct {
	// Window is the total time spent polling after a session ends.
	Window time.Duration

	// Interval is the wait between attempts.
	Interval time.Duration

	// Staleness rejects rows that started longer ago than this, so a
	// previous session's summary is never reported for the current one.
	Staleness time.Duration
}

func (c *Config) defaults() {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Staleness <= 0 {
		c.Staleness = DefaultStaleness
	}
}

// Result is the outcome of a background lookup started from a session ended event.
type Result struct {
	SessionID string
	SubjectID string
	Record    *Record
	Err       error
}

// Poller retrieves persisted summaries for sessions that ended without one.
type Poller struct {
	client   *Client
	cfg      Config
	onResult func(Result)
	now      func() time.Time

	ctx    context.Context //nolint:containedctx // bounds background lookups
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewPoller creates a Poller. onResult receives the outcome of every
// background lookup and may be nil.
func NewPoller(client *Client, cfg Config, onResult func(Result)) *Poller {
	cfg.defaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		client:   client,
		cfg:      cfg,
		onResult: onResult,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Poll asks for the subject's latest session every Interval until a fresh row
// carrying a summary appears or Window elapses. Failed attempts are retried
// within the window; if the last attempt failed its error is returned.
func (p *Poller) Poll(ctx context.Context, subjectID string) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Window)
	defer cancel()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	var lastErr error
	for attempt := 1; ; attempt++ {
		rec, err := p.client.Latest(ctx, subjectID)
		switch {
		case err == nil && p.fresh(rec):
			logger.Debug("summary found", "component", "summary",
				"subject_id", subjectID, "attempt", attempt, "row", rec.ID)
			return rec, nil
		case err == nil, errors.Is(err, ErrNotFound):
			lastErr = nil
		case ctx.Err() != nil:
		default:
			lastErr = err
			logger.Debug("summary lookup attempt failed", "component", "summary",
				"subject_id", subjectID, "attempt", attempt, "error", err)
		}

		select {
		case <-ctx.Done():
			if parent := context.Cause(ctx); parent != nil && !errors.Is(parent, context.DeadlineExceeded) {
				return nil, parent
			}
			if lastErr != nil {
				return nil, fmt.Errorf("summary lookup failed: %w", lastErr)
			}
			return nil, ErrNotAvailable
		case <-ticker.C:
		}
	}
}

// fresh reports whether rec belongs to a recent session and has been summarized.
func (p *Poller) fresh(rec *Record) bool {
	if rec == nil || rec.Summary == "" {
		return false
	}
	return !rec.StartedAt.Before(p.now().Add(-p.cfg.Staleness))
}

// Handle starts a background lookup for a session ended event that needs
// the fallback. Other events are ignored.
func (p *Poller) Handle(e *events.Event) {
	if e.Type != events.EventSessionEnded {
		return
	}
	data, ok := e.Data.(events.SessionEndedData)
	if !ok || !data.NeedsSummaryFallback {
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.wg.Add(1)
	p.mu.Unlock()

	logger.Info("no summary received, checking backend", "component", "summary",
		"session_id", e.SessionID, "subject_id", e.SubjectID, "window", p.cfg.Window)

	go func() {
		defer p.wg.Done()
		rec, err := p.Poll(p.ctx, e.SubjectID)
		switch {
		case err == nil:
			metrics.RecordSummaryFallback(metrics.FallbackFound)
		case errors.Is(err, ErrNotAvailable):
			metrics.RecordSummaryFallback(metrics.FallbackNotFound)
			logger.Warn("summary not available", "component", "summary",
				"session_id", e.SessionID, "window", p.cfg.Window)
		case errors.Is(err, context.Canceled):
			return
		default:
			metrics.RecordSummaryFallback(metrics.FallbackError)
			logger.Warn("summary lookup failed", "component", "summary",
				"session_id", e.SessionID, "error", err)
		}
		if p.onResult != nil {
			p.onResult(Result{SessionID: e.SessionID, SubjectID: e.SubjectID, Record: rec, Err: err})
		}
	}()
}

// Listener returns Handle as an events.Listener.
func (p *Poller) Listener() events.Listener {
	return p.Handle
}

// Wait blocks until every background lookup has finished.
func (p *Poller) Wait() {
	p.wg.Wait()
}

// Close cancels background lookups and waits for them.
func (p *Poller) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cancel()
	p.wg.Wait()
}
