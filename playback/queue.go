// Package playback buffers inbound speech segments and renders them through a
// single output device without overlap.
//
// Segments arriving within the debounce window of the first segment of a
// burst are coalesced into one playback unit so chunk seams do not produce
// audible gaps. Segments that arrive while a unit is rendering are queued and
// start the next unit as soon as the current one completes.
package playback

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Nathan-Asif/AegisMedix/audio"
	"github.com/Nathan-Asif/AegisMedix/logger"
)

// Defaults for Config.
const (
	DefaultDebounce   = 150 * time.Millisecond
	DefaultSampleRate = audio.OutputSampleRate
)

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("playback queue is closed")

// Config configures a Queue.
type Config struct {
	// SampleRate of inbound PCM. Defaults to DefaultSampleRate.
	SampleRate int

	// Debounce is the wait from the first segment of a burst to the start of
	// playback. Defaults to DefaultDebounce.
	Debounce time.Duration
}

func (c *Config) defaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.Debounce <= 0 {
		c.Debounce = DefaultDebounce
	}
}

// Unit describes one playback unit handed to the output device.
type Unit struct {
	Seq      int
	Segments int
	Samples  int
	Started  time.Time
}

// Hooks observe queue activity. All hooks are optional and are called from
// the queue's render goroutine.
type Hooks struct {
	// OnUnitStart fires before a unit is submitted to the device.
	OnUnitStart func(Unit)

	// OnUnitDone fires after the device returns, with the playback error if any.
	OnUnitDone func(Unit, error)

	// OnDrained fires when a unit completes and nothing is queued behind it.
	OnDrained func()
}

// ShutdownReport records what Shutdown released.
type ShutdownReport struct {
	// StoppedUnit is true when a unit was rendering and was cut off.
	StoppedUnit bool

	// DroppedSegments counts queued segments discarded without playback.
	DroppedSegments int

	// ReleasedDevice is true when an output device had been acquired and was closed.
	ReleasedDevice bool
}

// Queue coalesces inbound segments into playback units and renders them in
// arrival order, one at a time.
type Queue struct {
	cfg    Config
	opener OutputOpener
	hooks  Hooks

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	pending  [][]byte
	timer    *time.Timer
	playing  bool
	closed   bool
	device   OutputDevice
	unitSeq  int
	openOnce bool
}

// NewQueue creates a Queue that lazily opens its output device through opener
// on the first unit.
func NewQueue(cfg Config, opener OutputOpener, hooks Hooks) *Queue {
	cfg.defaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		cfg:    cfg,
		opener: opener,
		hooks:  hooks,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Enqueue appends one raw int16 LE segment. The first segment of a burst arms
// the debounce timer; segments arriving during playback wait for the current
// unit to finish.
func (q *Queue) Enqueue(segment []byte) error {
	if len(segment) == 0 {
		return nil
	}
	buf := make([]byte, len(segment))
	copy(buf, segment)

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	q.pending = append(q.pending, buf)
	if !q.playing && q.timer == nil {
		q.timer = time.AfterFunc(q.cfg.Debounce, q.onDebounce)
	}
	return nil
}

// Idle reports whether nothing is rendering, queued, or waiting on the debounce timer.
func (q *Queue) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.playing && q.timer == nil && len(q.pending) == 0
}

// Pending returns the number of queued segments not yet part of a unit.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) onDebounce() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.timer = nil
	if q.closed || q.playing || len(q.pending) == 0 {
		return
	}
	q.startUnitLocked()
}

// startUnitLocked moves all pending segments into one unit and starts
// rendering it. Callers hold q.mu.
func (q *Queue) startUnitLocked() {
	size := 0
	for _, seg := range q.pending {
		size += len(seg)
	}
	data := make([]byte, 0, size)
	for _, seg := range q.pending {
		data = append(data, seg...)
	}

	q.unitSeq++
	unit := Unit{Seq: q.unitSeq, Segments: len(q.pending)}
	q.pending = nil
	q.playing = true

	q.wg.Add(1)
	go q.render(unit, data)
}

func (q *Queue) render(unit Unit, data []byte) {
	defer q.wg.Done()

	samples := audio.DecodePCM16(data)
	unit.Samples = len(samples)
	unit.Started = time.Now()

	q.play(unit, samples)

	q.mu.Lock()
	q.playing = false
	if q.closed {
		q.mu.Unlock()
		return
	}
	next := len(q.pending) > 0
	if next {
		q.startUnitLocked()
	}
	q.mu.Unlock()

	if !next && q.hooks.OnDrained != nil {
		q.hooks.OnDrained()
	}
}

// play renders one unit. Failures reach OnUnitDone and the log only.
func (q *Queue) play(unit Unit, samples []float32) {
	if q.hooks.OnUnitStart != nil {
		q.hooks.OnUnitStart(unit)
	}

	var err error
	defer func() {
		if q.hooks.OnUnitDone != nil {
			q.hooks.OnUnitDone(unit, err)
		}
	}()

	device, err := q.outputDevice()
	if err != nil {
		err = &PlaybackError{Op: "open", Cause: err}
		logger.Warn("output device unavailable", "component", "playback", "error", err)
		return
	}

	logger.Debug("playing unit", "component", "playback",
		"seq", unit.Seq, "segments", unit.Segments, "samples", unit.Samples)

	if playErr := device.Play(q.ctx, samples); playErr != nil {
		if q.ctx.Err() != nil {
			// Hard stop from Shutdown.
			return
		}
		err = &PlaybackError{Op: "play", Cause: playErr}
		logger.Warn("playback failed", "component", "playback", "seq", unit.Seq, "error", err)
	}
}

// outputDevice returns the session's output device, opening it on first use.
// Only the render goroutine calls it and renders never overlap.
func (q *Queue) outputDevice() (OutputDevice, error) {
	q.mu.Lock()
	if q.device != nil {
		d := q.device
		q.mu.Unlock()
		return d, nil
	}
	q.mu.Unlock()

	d, err := q.opener.OpenOutput(q.ctx, q.cfg.SampleRate)
	if err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		_ = d.Close()
		return nil, ErrClosed
	}
	q.device = d
	if !q.openOnce {
		q.openOnce = true
		logger.Info("output device acquired", "component", "playback", "device", d.Name())
	}
	return d, nil
}

// Shutdown hard-stops any rendering unit, discards queued segments, and
// releases the output device. It blocks until the render goroutine exits.
// Calling it again is a no-op that returns an empty report.
func (q *Queue) Shutdown() (ShutdownReport, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ShutdownReport{}, nil
	}
	q.closed = true
	report := ShutdownReport{
		StoppedUnit:     q.playing,
		DroppedSegments: len(q.pending),
	}
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	q.pending = nil
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()

	q.mu.Lock()
	device := q.device
	q.device = nil
	q.mu.Unlock()

	if device == nil {
		return report, nil
	}
	report.ReleasedDevice = true
	if err := device.Close(); err != nil {
		return report, &PlaybackError{Op: "close", Cause: err}
	}
	return report, nil
}

// Close implements io.Closer on top of Shutdown.
func (q *Queue) Close() error {
	_, err := q.Shutdown()
	return err
}
