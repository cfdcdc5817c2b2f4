package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/Nathan-Asif/AegisMedix/logger"
)

// ReleaseReport records which devices Close released.
type ReleaseReport struct {
	Audio bool
	Video bool
}

// Count returns the number of devices released.
func (r ReleaseReport) Count() int {
	n := 0
	if r.Audio {
		n++
	}
	if r.Video {
		n++
	}
	return n
}

// Manager drives acquired capture handles. Audio windows are delivered in
// capture order on one goroutine; video snapshots run on their own timer.
type Manager struct {
	cfg     Config
	handles *Handles
	onError func(error)

	ctx    context.Context
	cancel context.CancelFunc
	group  errgroup.Group

	mu           sync.Mutex
	audioStarted bool
	videoStarted bool
	closed       bool
}

// NewManager wraps handles returned by an Opener. onError receives device
// failures that occur after streaming started; it may be nil.
func NewManager(cfg Config, handles *Handles, onError func(error)) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	if handles == nil {
		handles = &Handles{}
	}
	return &Manager{
		cfg:     cfg,
		handles: handles,
		onError: onError,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// StartAudio begins delivering audio windows to onWindow. Canceling ctx or
// calling Close stops delivery.
func (m *Manager) StartAudio(ctx context.Context, onWindow func([]float32)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.handles.Audio == nil {
		return &DeviceError{Device: DeviceAudio, Op: "start", Cause: ErrNoDevice}
	}
	if m.audioStarted {
		return fmt.Errorf("audio capture already started")
	}
	m.audioStarted = true
	context.AfterFunc(ctx, m.cancel)

	if m.cfg.EchoCancellation || m.cfg.NoiseSuppression {
		logger.Debug("voice processing requested", "component", "capture",
			"echo_cancellation", m.cfg.EchoCancellation,
			"noise_suppression", m.cfg.NoiseSuppression,
			"device", m.handles.Audio.Name())
	}

	src := m.handles.Audio
	m.group.Go(func() error {
		return m.audioLoop(src, onWindow)
	})
	return nil
}

func (m *Manager) audioLoop(src AudioSource, onWindow func([]float32)) error {
	for {
		window, err := src.Read(m.ctx)
		if m.ctx.Err() != nil {
			return nil
		}
		if err != nil {
			dErr := &DeviceError{Device: DeviceAudio, Op: "read", Cause: classify(err)}
			m.fail(dErr)
			return dErr
		}
		onWindow(window)
	}
}

// StartVideo begins taking snapshots at TargetFPS, throttled to MaxFPS.
// It is a no-op when video is disabled.
func (m *Manager) StartVideo(ctx context.Context, onFrame func(*VideoFrame)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if !m.cfg.Video.Enabled || m.handles.Video == nil {
		return nil
	}
	if m.videoStarted {
		return fmt.Errorf("video capture already started")
	}
	m.videoStarted = true
	context.AfterFunc(ctx, m.cancel)

	src := m.handles.Video
	interval := time.Duration(float64(time.Second) / m.cfg.Video.TargetFPS)
	limiter := rate.NewLimiter(rate.Limit(m.cfg.Video.MaxFPS), 1)

	m.group.Go(func() error {
		m.videoLoop(src, interval, limiter, onFrame)
		return nil
	})
	return nil
}

func (m *Manager) videoLoop(src VideoSource, interval time.Duration, limiter *rate.Limiter, onFrame func(*VideoFrame)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
		}
		if !limiter.Allow() {
			continue
		}
		frame, err := src.Snapshot(m.ctx)
		if m.ctx.Err() != nil {
			return
		}
		if err != nil {
			// A missed snapshot only thins the video stream.
			failures++
			if failures == 1 || failures%30 == 0 {
				logger.Warn("video snapshot failed", "component", "capture",
					"failures", failures, "error", err)
			}
			continue
		}
		onFrame(frame)
	}
}

func (m *Manager) fail(err error) {
	logger.Error("capture failed", "component", "capture", "error", err)
	if m.onError != nil {
		m.onError(err)
	}
}

// Close stops streaming, waits for the capture goroutines, and releases the
// devices. Only the first call releases anything.
func (m *Manager) Close() (ReleaseReport, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ReleaseReport{}, nil
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	// Loop errors were already reported through onError.
	_ = m.group.Wait()

	var report ReleaseReport
	var errs []error
	if m.handles.Audio != nil {
		report.Audio = true
		if err := m.handles.Audio.Close(); err != nil {
			errs = append(errs, &DeviceError{Device: DeviceAudio, Op: "close", Cause: err})
		}
	}
	if m.handles.Video != nil {
		report.Video = true
		if err := m.handles.Video.Close(); err != nil {
			errs = append(errs, &DeviceError{Device: DeviceVideo, Op: "close", Cause: err})
		}
	}
	return report, errors.Join(errs...)
}
