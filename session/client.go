package session

import (
	"context"
	"sync"
)

// Client runs sessions one at a time. A new session is not created until the
// previous one has released all of its resources.
type Client struct {
	deps Deps

	mu      sync.Mutex
	current *Session
}

// NewClient creates a Client that builds sessions from deps.
func NewClient(deps Deps) *Client {
	return &Client{deps: deps}
}

// Start creates and starts a session. It fails with ErrSessionActive while
// the previous session is still live, and waits for a terminated session's
// teardown to finish before acquiring anything. The returned session is
// non-nil whenever it was created, even if starting it failed.
func (c *Client) Start(ctx context.Context, cfg Config) (*Session, error) {
	c.mu.Lock()
	prev := c.current
	if prev != nil && !prev.Phase().Terminal() {
		c.mu.Unlock()
		return nil, ErrSessionActive
	}
	s, err := New(cfg, c.deps)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.current = s
	c.mu.Unlock()

	if prev != nil {
		select {
		case <-prev.Done():
		case <-ctx.Done():
			_ = s.End()
			return s, ctx.Err()
		}
	}
	return s, s.Start(ctx)
}

// Current returns the most recent session, or nil.
func (c *Client) Current() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// End ends the current session and waits for its teardown, or for ctx.
func (c *Client) End(ctx context.Context) error {
	s := c.Current()
	if s == nil {
		return ErrNotStarted
	}
	if err := s.End(); err != nil {
		return err
	}
	select {
	case <-s.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
