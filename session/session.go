// Package session coordinates one live consultation: it acquires capture
// devices, opens the channel to the inference peer, streams encoded audio and
// camera frames out, plays synthesized speech back, and drives the session
// phase from idle to ended or error.
//
// All session state is owned by a single run goroutine. Device, network, and
// playback callbacks only post events to it, so outbound frames keep capture
// order and the phase has exactly one writer.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Nathan-Asif/AegisMedix/audio"
	"github.com/Nathan-Asif/AegisMedix/capture"
	"github.com/Nathan-Asif/AegisMedix/events"
	"github.com/Nathan-Asif/AegisMedix/logger"
	"github.com/Nathan-Asif/AegisMedix/metrics"
	"github.com/Nathan-Asif/AegisMedix/playback"
	"github.com/Nathan-Asif/AegisMedix/transport"
)

// DefaultEventBuffer is the capacity of the session's event queue.
const DefaultEventBuffer = 64

// End reasons reported in phase change and ended events.
const (
	ReasonUser            = "user"
	ReasonPeerStatus      = "peer_status"
	ReasonTransportClosed = "transport_closed"
	ReasonTransportError  = "transport_error"
	ReasonPeerError       = "peer_error"
	ReasonDeviceError     = "device_error"
	ReasonStartFailed     = "start_failed"
)

// Config configures one session.
type Config struct {
	// SubjectID scopes the channel to the person being consulted.
	SubjectID string

	// Capture selects devices and cadence. Capture.Video.Enabled fixes
	// whether the session streams video.
	Capture capture.Config

	// GateThreshold is the encoder RMS gate. Zero means audio.DefaultGateThreshold.
	GateThreshold float64

	Playback playback.Config

	// EventBuffer sizes the internal event queue. Zero means DefaultEventBuffer.
	EventBuffer int
}

// Deps are the session's collaborators.
type Deps struct {
	Capture capture.Opener
	Dialer  transport.Dialer
	Output  playback.OutputOpener

	// Bus receives lifecycle events. Optional.
	Bus *events.EventBus
}

// Session is one live conversation. It is single use: once it reaches ended
// or error a new Session is required.
type Session struct {
	id        string
	cfg       Config
	deps      Deps
	encoder   *audio.Encoder
	emitter   *events.Emitter
	logCtx    context.Context //nolint:containedctx // carries logging fields only
	startedAt time.Time

	// alive is cleared before any teardown so producers and the run loop
	// stop sending immediately.
	alive   atomic.Bool
	events  chan event
	endCh   chan struct{}
	endOnce sync.Once
	stopped chan struct{}
	done    chan struct{}
	result  chan error

	lifeMu        sync.Mutex
	started       bool
	connectCancel context.CancelFunc

	mu      sync.RWMutex
	phase   Phase
	err     error
	summary *transport.Summary
	report  ReapReport

	// Owned by the run goroutine.
	reaper reaper
	runCtx context.Context //nolint:containedctx // lifetime of streaming goroutines
	cancel context.CancelFunc
}

// New creates an idle session.
func New(cfg Config, deps Deps) (*Session, error) {
	if cfg.SubjectID == "" {
		return nil, errors.New("session: subject ID is required")
	}
	if deps.Capture == nil || deps.Dialer == nil || deps.Output == nil {
		return nil, errors.New("session: capture, dialer, and output are required")
	}
	if err := cfg.Capture.Validate(); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	if cfg.GateThreshold == 0 {
		cfg.GateThreshold = audio.DefaultGateThreshold
	}
	encoder, err := audio.NewEncoder(cfg.GateThreshold)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultEventBuffer
	}
	if cfg.Playback.SampleRate <= 0 {
		cfg.Playback.SampleRate = playback.DefaultSampleRate
	}

	id := uuid.NewString()
	logCtx := logger.WithComponent(
		logger.WithSubjectID(logger.WithSessionID(context.Background(), id), cfg.SubjectID),
		"session",
	)
	runCtx, cancel := context.WithCancel(context.Background())

	return &Session{
		id:      id,
		cfg:     cfg,
		deps:    deps,
		encoder: encoder,
		emitter: events.NewEmitter(deps.Bus, id, cfg.SubjectID),
		logCtx:  logCtx,
		events:  make(chan event, cfg.EventBuffer),
		endCh:   make(chan struct{}),
		stopped: make(chan struct{}),
		done:    make(chan struct{}),
		result:  make(chan error, 1),
		phase:   PhaseIdle,
		runCtx:  runCtx,
		cancel:  cancel,
	}, nil
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// SubjectID returns the subject the session is scoped to.
func (s *Session) SubjectID() string { return s.cfg.SubjectID }

// VideoEnabled reports whether the session streams camera frames.
func (s *Session) VideoEnabled() bool { return s.cfg.Capture.Video.Enabled }

// StartedAt returns when Start was called, or the zero time.
func (s *Session) StartedAt() time.Time {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	return s.startedAt
}

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// Err returns the cause of the error phase, or nil.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Summary returns the in-band summary, or nil if none arrived.
func (s *Session) Summary() *transport.Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.summary
}

// ReapReport returns what teardown released. It is meaningful after Done.
func (s *Session) ReapReport() ReapReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.report
}

// Done is closed once the session is terminal and every resource is released.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Start acquires the capture devices, dials the peer, and sends the config
// frame. It returns once the channel is open; the session becomes connected
// when the peer acknowledges. ctx bounds acquisition and dialing only. On
// failure the session is already in the error phase and released.
func (s *Session) Start(ctx context.Context) error {
	s.lifeMu.Lock()
	if s.started {
		s.lifeMu.Unlock()
		return ErrTerminal
	}
	s.started = true
	s.startedAt = time.Now()
	connectCtx, cancel := context.WithCancel(ctx)
	s.connectCancel = cancel
	s.alive.Store(true)
	s.lifeMu.Unlock()

	go s.run(connectCtx, cancel)
	return <-s.result
}

// End asks the session to finish. Outbound frames stop immediately; the end
// frame is sent and resources are released on the run goroutine. Wait on
// Done for teardown to complete. End returns ErrTerminal if the session had
// already finished.
func (s *Session) End() error {
	s.lifeMu.Lock()
	if !s.started {
		s.started = true
		s.lifeMu.Unlock()
		s.endIdle()
		return nil
	}
	cancel := s.connectCancel
	s.lifeMu.Unlock()

	if s.Phase().Terminal() {
		return ErrTerminal
	}
	s.alive.Store(false)
	s.endOnce.Do(func() {
		close(s.endCh)
		cancel()
	})
	return nil
}

// endIdle finishes a session that was never started.
func (s *Session) endIdle() {
	s.setPhase(PhaseEnded, ReasonUser, nil)
	close(s.stopped)
	s.cancel()
	s.emitter.SessionEnded(&events.SessionEndedData{Phase: string(PhaseEnded), Reason: ReasonUser})
	close(s.done)
}

func (s *Session) run(connectCtx context.Context, cancel context.CancelFunc) {
	defer close(s.done)

	err := s.connect(connectCtx)
	cancel()
	if err != nil {
		if s.endRequested() {
			s.finish(PhaseEnded, ReasonUser, nil)
			s.result <- fmt.Errorf("session ended during start: %w", ErrTerminal)
			return
		}
		s.finish(PhaseError, failureReason(err), err)
		s.result <- err
		return
	}
	s.result <- nil
	s.loop()
}

// connect performs idle → connecting: capture devices first so a permission
// failure never opens a channel, then the channel, then the config frame.
func (s *Session) connect(ctx context.Context) error {
	s.transition(PhaseConnecting, "")

	handles, err := s.deps.Capture.Open(ctx, s.cfg.Capture)
	if err != nil {
		return err
	}
	s.reaper.capture = capture.NewManager(s.cfg.Capture, handles, func(err error) {
		s.post(captureFailed{err: err})
	})
	if s.endRequested() {
		return context.Canceled
	}

	ch, err := s.deps.Dialer.Dial(ctx, s.cfg.SubjectID)
	if err != nil {
		return err
	}
	s.reaper.channel = ch

	s.reaper.queue = playback.NewQueue(s.cfg.Playback, s.deps.Output, playback.Hooks{
		OnUnitDone: func(u playback.Unit, err error) {
			metrics.RecordPlaybackUnit(err != nil, float64(u.Samples)/float64(s.cfg.Playback.SampleRate))
		},
		OnDrained: func() { s.post(playbackDrained{}) },
	})

	ch.OnMessage(func(msg transport.Message) { s.post(inbound{msg: msg}) })
	ch.OnError(func(err error) { s.post(channelFailed{err: err}) })
	ch.OnClose(func() { s.post(channelClosed{}) })
	ch.Start(s.runCtx)

	if s.endRequested() {
		return context.Canceled
	}
	if err := ch.Send(transport.ConfigMessage(s.VideoEnabled())); err != nil {
		return err
	}
	logger.InfoContext(s.logCtx, "session channel open", "video", s.VideoEnabled())
	return nil
}

func failureReason(err error) string {
	if _, ok := capture.AsDeviceError(err); ok {
		return ReasonDeviceError
	}
	if _, ok := transport.AsTransportError(err); ok {
		return ReasonTransportError
	}
	return ReasonStartFailed
}

func (s *Session) endRequested() bool {
	select {
	case <-s.endCh:
		return true
	default:
		return false
	}
}

// post hands an event to the run loop. Events posted after the session
// stopped being live are dropped.
func (s *Session) post(ev event) {
	if !s.alive.Load() {
		return
	}
	select {
	case s.events <- ev:
	case <-s.stopped:
	}
}

func (s *Session) loop() {
	for {
		select {
		case <-s.endCh:
			s.finish(PhaseEnded, ReasonUser, nil)
			return
		case ev := <-s.events:
			if !s.alive.Load() {
				continue
			}
			ev.apply(s)
			if s.Phase().Terminal() {
				return
			}
		}
	}
}

// transition moves to a new phase. Callers on the run goroutine only.
func (s *Session) transition(to Phase, reason string) bool {
	from := s.Phase()
	if !ValidTransition(from, to) {
		logger.WarnContext(s.logCtx, "ignored invalid transition", "from", from, "to", to)
		return false
	}
	s.setPhase(to, reason, nil)
	return true
}

func (s *Session) setPhase(to Phase, reason string, cause error) {
	s.mu.Lock()
	from := s.phase
	s.phase = to
	if cause != nil {
		s.err = cause
	}
	s.mu.Unlock()

	logger.InfoContext(logger.WithPhase(s.logCtx, string(to)), "phase changed",
		"from", from, "reason", reason)
	s.emitter.PhaseChanged(string(from), string(to), reason)
}

// finish moves to a terminal phase and releases everything exactly once.
func (s *Session) finish(to Phase, reason string, cause error) {
	if s.Phase().Terminal() {
		return
	}
	s.alive.Store(false)
	close(s.stopped)

	if reason == ReasonUser && s.reaper.channel != nil {
		if err := s.reaper.channel.Send(transport.EndMessage()); err != nil {
			logger.DebugContext(s.logCtx, "end frame not sent", "error", err)
		}
	}

	if cause != nil {
		logger.ErrorContext(s.logCtx, "session failed", "reason", reason, "error", cause)
	}
	s.setPhase(to, reason, cause)

	report, err := s.reaper.reap()
	s.cancel()
	if err != nil {
		logger.WarnContext(s.logCtx, "release incomplete", "error", err)
	}
	logger.DebugContext(s.logCtx, "session released",
		"devices", report.Devices(), "channel", report.ReleasedChannel,
		"dropped_segments", report.DroppedSegments)

	s.mu.Lock()
	s.report = report
	summary := s.summary
	s.mu.Unlock()

	s.emitter.SessionEnded(&events.SessionEndedData{
		Phase:                string(to),
		Reason:               reason,
		Err:                  cause,
		SummaryReceived:      summary != nil,
		NeedsSummaryFallback: to == PhaseEnded && summary == nil,
		StartedAt:            s.StartedAt(),
		Duration:             time.Since(s.StartedAt()),
	})
}

// send writes one frame unless the session stopped being live. A write
// failure is fatal.
func (s *Session) send(msg transport.Message) bool {
	if !s.alive.Load() {
		return false
	}
	if err := s.reaper.channel.Send(msg); err != nil {
		if errors.Is(err, transport.ErrClosed) {
			// The close event follows.
			return false
		}
		s.finish(PhaseError, ReasonTransportError, err)
		return false
	}
	return true
}
