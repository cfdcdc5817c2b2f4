package playback

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nathan-Asif/AegisMedix/audio"
)

// fakeOutput records every Play call. Each call blocks for playFor or until
// ctx is canceled.
type fakeOutput struct {
	playFor time.Duration
	failN   int32

	mu       sync.Mutex
	units    [][]float32
	active   int32
	overlaps int32
	calls    int32
	closed   int32
}

func (f *fakeOutput) Name() string { return "fake" }

func (f *fakeOutput) Play(ctx context.Context, samples []float32) error {
	if atomic.AddInt32(&f.active, 1) > 1 {
		atomic.AddInt32(&f.overlaps, 1)
	}
	defer atomic.AddInt32(&f.active, -1)
	n := atomic.AddInt32(&f.calls, 1)

	f.mu.Lock()
	f.units = append(f.units, samples)
	f.mu.Unlock()

	if n <= atomic.LoadInt32(&f.failN) {
		return errors.New("device busy")
	}

	select {
	case <-time.After(f.playFor):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeOutput) Close() error {
	atomic.AddInt32(&f.closed, 1)
	return nil
}

func (f *fakeOutput) Units() [][]float32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]float32(nil), f.units...)
}

// countingOpener hands out the same fakeOutput and counts acquisitions.
type countingOpener struct {
	out   *fakeOutput
	opens int32
	err   error
}

func (o *countingOpener) OpenOutput(_ context.Context, rate int) (OutputDevice, error) {
	atomic.AddInt32(&o.opens, 1)
	if o.err != nil {
		return nil, o.err
	}
	return o.out, nil
}

func pcm(samples ...int16) []byte {
	return audio.Frame{Samples: samples}.Bytes()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 3*time.Second, 5*time.Millisecond)
}

func TestQueue_BurstCoalescesIntoOneUnit(t *testing.T) {
	out := &fakeOutput{playFor: 20 * time.Millisecond}
	opener := &countingOpener{out: out}
	drained := make(chan struct{}, 4)
	q := NewQueue(Config{}, opener, Hooks{OnDrained: func() { drained <- struct{}{} }})
	defer q.Close()

	// Three segments within 100ms of each other.
	require.NoError(t, q.Enqueue(pcm(1, 2)))
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, q.Enqueue(pcm(3)))
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, q.Enqueue(pcm(4, 5, 6)))

	select {
	case <-drained:
	case <-time.After(2 * time.Second):
		t.Fatal("queue never drained")
	}

	units := out.Units()
	require.Len(t, units, 1)
	want := make([]float32, 0, 6)
	for _, s := range []int16{1, 2, 3, 4, 5, 6} {
		want = append(want, audio.PCM16ToFloat(s))
	}
	assert.Equal(t, want, units[0])
	assert.True(t, q.Idle())
}

func TestQueue_DebounceDelaysFirstUnit(t *testing.T) {
	out := &fakeOutput{}
	q := NewQueue(Config{Debounce: 80 * time.Millisecond}, &countingOpener{out: out}, Hooks{})
	defer q.Close()

	require.NoError(t, q.Enqueue(pcm(1)))
	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, out.Units())
	assert.False(t, q.Idle())

	waitFor(t, func() bool { return len(out.Units()) == 1 })
}

func TestQueue_UnitsNeverOverlap(t *testing.T) {
	out := &fakeOutput{playFor: 15 * time.Millisecond}
	var starts, dones []time.Time
	var mu sync.Mutex
	q := NewQueue(Config{Debounce: 5 * time.Millisecond}, &countingOpener{out: out}, Hooks{
		OnUnitStart: func(Unit) {
			mu.Lock()
			starts = append(starts, time.Now())
			mu.Unlock()
		},
		OnUnitDone: func(Unit, error) {
			mu.Lock()
			dones = append(dones, time.Now())
			mu.Unlock()
		},
	})
	defer q.Close()

	for i := 0; i < 40; i++ {
		require.NoError(t, q.Enqueue(pcm(int16(i))))
		time.Sleep(3 * time.Millisecond)
	}
	waitFor(t, q.Idle)

	assert.Zero(t, atomic.LoadInt32(&out.overlaps))

	mu.Lock()
	defer mu.Unlock()
	require.Greater(t, len(starts), 1)
	require.Len(t, dones, len(starts))
	for i := 1; i < len(starts); i++ {
		assert.False(t, starts[i].Before(dones[i-1]), "unit %d started before unit %d completed", i, i-1)
	}

	// Arrival order is preserved across units.
	var got []float32
	for _, u := range out.Units() {
		got = append(got, u...)
	}
	require.Len(t, got, 40)
	for i := range got {
		assert.Equal(t, audio.PCM16ToFloat(int16(i)), got[i])
	}
}

func TestQueue_ArrivalsDuringPlaybackStartNextUnitImmediately(t *testing.T) {
	out := &fakeOutput{playFor: 60 * time.Millisecond}
	var drains int32
	q := NewQueue(Config{Debounce: 10 * time.Millisecond}, &countingOpener{out: out}, Hooks{
		OnDrained: func() { atomic.AddInt32(&drains, 1) },
	})
	defer q.Close()

	require.NoError(t, q.Enqueue(pcm(1)))
	waitFor(t, func() bool { return len(out.Units()) == 1 })

	require.NoError(t, q.Enqueue(pcm(2)))
	require.NoError(t, q.Enqueue(pcm(3)))
	assert.Equal(t, 2, q.Pending())

	waitFor(t, func() bool { return len(out.Units()) == 2 })
	waitFor(t, q.Idle)

	units := out.Units()
	assert.Len(t, units[1], 2)
	// Only the final completion drains.
	assert.Equal(t, int32(1), atomic.LoadInt32(&drains))
}

func TestQueue_DeviceAcquiredOnceAndReused(t *testing.T) {
	out := &fakeOutput{}
	opener := &countingOpener{out: out}
	q := NewQueue(Config{Debounce: 5 * time.Millisecond}, opener, Hooks{})

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue(pcm(1)))
		waitFor(t, func() bool { return len(out.Units()) == i+1 })
		waitFor(t, q.Idle)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&opener.opens))
	assert.Zero(t, atomic.LoadInt32(&out.closed))

	report, err := q.Shutdown()
	require.NoError(t, err)
	assert.True(t, report.ReleasedDevice)
	assert.Equal(t, int32(1), atomic.LoadInt32(&out.closed))
}

func TestQueue_PlaybackErrorIsAbsorbed(t *testing.T) {
	out := &fakeOutput{failN: 1}
	var unitErrs []error
	var mu sync.Mutex
	drained := make(chan struct{}, 4)
	q := NewQueue(Config{Debounce: 5 * time.Millisecond}, &countingOpener{out: out}, Hooks{
		OnUnitDone: func(_ Unit, err error) {
			mu.Lock()
			unitErrs = append(unitErrs, err)
			mu.Unlock()
		},
		OnDrained: func() { drained <- struct{}{} },
	})
	defer q.Close()

	require.NoError(t, q.Enqueue(pcm(1)))
	<-drained
	assert.True(t, q.Idle())

	require.NoError(t, q.Enqueue(pcm(2)))
	<-drained

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, unitErrs, 2)
	var pErr *PlaybackError
	require.ErrorAs(t, unitErrs[0], &pErr)
	assert.Equal(t, "play", pErr.Op)
	assert.NoError(t, unitErrs[1])
}

func TestQueue_OpenFailureRetriesOnNextUnit(t *testing.T) {
	opener := &countingOpener{out: &fakeOutput{}, err: errors.New("no device")}
	drained := make(chan struct{}, 4)
	unitErrs := make(chan error, 4)
	q := NewQueue(Config{Debounce: 5 * time.Millisecond}, opener, Hooks{
		OnUnitDone: func(_ Unit, err error) { unitErrs <- err },
		OnDrained:  func() { drained <- struct{}{} },
	})
	defer q.Close()

	require.NoError(t, q.Enqueue(pcm(1)))
	<-drained
	require.NoError(t, q.Enqueue(pcm(1)))
	<-drained
	assert.Equal(t, int32(2), atomic.LoadInt32(&opener.opens))

	var pErr *PlaybackError
	require.ErrorAs(t, <-unitErrs, &pErr)
	assert.Equal(t, "open", pErr.Op)
}

func TestQueue_ShutdownHardStopsAndIsIdempotent(t *testing.T) {
	out := &fakeOutput{playFor: 10 * time.Second}
	var drains int32
	q := NewQueue(Config{Debounce: 5 * time.Millisecond}, &countingOpener{out: out}, Hooks{
		OnDrained: func() { atomic.AddInt32(&drains, 1) },
	})

	require.NoError(t, q.Enqueue(pcm(1)))
	waitFor(t, func() bool { return len(out.Units()) == 1 })
	require.NoError(t, q.Enqueue(pcm(2)))

	start := time.Now()
	report, err := q.Shutdown()
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, report.StoppedUnit)
	assert.Equal(t, 1, report.DroppedSegments)
	assert.True(t, report.ReleasedDevice)

	again, err := q.Shutdown()
	require.NoError(t, err)
	assert.Equal(t, ShutdownReport{}, again)
	assert.Equal(t, int32(1), atomic.LoadInt32(&out.closed))
	assert.Zero(t, atomic.LoadInt32(&drains))

	assert.ErrorIs(t, q.Enqueue(pcm(3)), ErrClosed)
}

func TestQueue_ShutdownBeforeAnyPlayback(t *testing.T) {
	opener := &countingOpener{out: &fakeOutput{}}
	q := NewQueue(Config{}, opener, Hooks{})
	require.NoError(t, q.Enqueue(pcm(1)))

	report, err := q.Shutdown()
	require.NoError(t, err)
	assert.False(t, report.ReleasedDevice)
	assert.False(t, report.StoppedUnit)
	assert.Equal(t, 1, report.DroppedSegments)

	time.Sleep(2 * DefaultDebounce)
	assert.Zero(t, atomic.LoadInt32(&opener.opens))
}

func TestQueue_EmptySegmentIgnored(t *testing.T) {
	q := NewQueue(Config{}, &countingOpener{out: &fakeOutput{}}, Hooks{})
	defer q.Close()

	require.NoError(t, q.Enqueue(nil))
	assert.True(t, q.Idle())
}
