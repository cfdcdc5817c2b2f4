package session

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nathan-Asif/AegisMedix/audio"
	"github.com/Nathan-Asif/AegisMedix/capture"
	"github.com/Nathan-Asif/AegisMedix/events"
	"github.com/Nathan-Asif/AegisMedix/playback"
	"github.com/Nathan-Asif/AegisMedix/transport"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type harness struct {
	mic     *fakeMic
	cam     *fakeCam
	dialer  *fakeDialer
	out     *fakeOutput
	bus     *events.EventBus
	rec     *recorder
	openErr error
	s       *Session
}

func newHarness(t *testing.T, video bool) *harness {
	t.Helper()
	h := &harness{
		mic:    newFakeMic(),
		cam:    &fakeCam{},
		dialer: &fakeDialer{},
		out:    &fakeOutput{playFor: 10 * time.Millisecond},
		bus:    events.NewEventBus(),
		rec:    &recorder{},
	}
	h.bus.SubscribeAll(h.rec.listen)

	opener := capture.OpenerFunc(func(_ context.Context, cfg capture.Config) (*capture.Handles, error) {
		if h.openErr != nil {
			return nil, h.openErr
		}
		handles := &capture.Handles{Audio: h.mic}
		if cfg.Video.Enabled {
			handles.Video = h.cam
		}
		return handles, nil
	})

	cfg := Config{
		SubjectID: "patient-1",
		Capture:   capture.DefaultConfig(),
		Playback:  playback.Config{Debounce: 20 * time.Millisecond},
	}
	if video {
		cfg.Capture.Video.Enabled = true
		cfg.Capture.Video.TargetFPS = 20
		cfg.Capture.Video.MaxFPS = 20
	}

	s, err := New(cfg, Deps{Capture: opener, Dialer: h.dialer, Output: h.out, Bus: h.bus})
	require.NoError(t, err)
	h.s = s

	t.Cleanup(func() {
		_ = s.End()
		select {
		case <-s.Done():
		case <-time.After(waitFor):
			t.Error("session did not finish")
		}
		h.bus.Close()
	})
	return h
}

// connect starts the session and acknowledges it from the peer side.
func (h *harness) connect(t *testing.T) *fakeChannel {
	t.Helper()
	require.NoError(t, h.s.Start(context.Background()))
	ch := h.dialer.last()
	require.NotNil(t, ch)
	ch.deliver(transport.Message{Type: transport.TypeStatus, Status: transport.StatusConnected})
	waitPhase(t, h.s, PhaseListening)
	return ch
}

// finished waits for teardown and flushes the event bus.
func (h *harness) finished(t *testing.T) {
	t.Helper()
	waitDone(t, h.s)
	h.bus.Close()
}

func (h *harness) ended(t *testing.T) events.SessionEndedData {
	t.Helper()
	ended := h.rec.ofType(events.EventSessionEnded)
	require.Len(t, ended, 1)
	return ended[0].Data.(events.SessionEndedData)
}

func waitPhase(t *testing.T, s *Session, want Phase) {
	t.Helper()
	require.Eventually(t, func() bool { return s.Phase() == want }, waitFor, tick,
		"session never reached %s", want)
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(waitFor):
		t.Fatalf("session not done, phase %s", s.Phase())
	}
}

func window(v float32) []float32 {
	w := make([]float32, capture.DefaultWindowSize)
	for i := range w {
		w[i] = v
	}
	return w
}

func pcm(v int16, n int) []byte {
	b := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(v))
	}
	return b
}

func TestNew_Validation(t *testing.T) {
	deps := Deps{Capture: capture.OpenerFunc(nil), Dialer: &fakeDialer{}, Output: &fakeOutput{}}

	_, err := New(Config{Capture: capture.DefaultConfig()}, deps)
	assert.ErrorContains(t, err, "subject ID")

	_, err = New(Config{SubjectID: "p", Capture: capture.DefaultConfig()}, Deps{})
	assert.ErrorContains(t, err, "required")

	_, err = New(Config{SubjectID: "p", Capture: capture.DefaultConfig(), GateThreshold: 1.5}, deps)
	assert.Error(t, err)

	s, err := New(Config{SubjectID: "p", Capture: capture.DefaultConfig()}, deps)
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID())
	assert.Equal(t, PhaseIdle, s.Phase())
	assert.False(t, s.VideoEnabled())
}

func TestSession_FullConversation(t *testing.T) {
	h := newHarness(t, false)

	require.NoError(t, h.s.Start(context.Background()))
	assert.Equal(t, PhaseConnecting, h.s.Phase())
	ch := h.dialer.last()
	require.Equal(t, []transport.MessageType{transport.TypeConfig}, ch.types())
	assert.False(t, ch.messages()[0].EnableVideo)

	ch.deliver(transport.Message{Type: transport.TypeStatus, Status: transport.StatusConnected})
	waitPhase(t, h.s, PhaseListening)

	// Loud window, then one under the gate.
	h.mic.windows <- window(0.5)
	h.mic.windows <- window(0.001)
	require.Eventually(t, func() bool { return len(ch.messages()) == 3 }, waitFor, tick)

	msgs := ch.messages()
	for _, m := range msgs[1:] {
		assert.Equal(t, transport.TypeAudio, m.Type)
		assert.Equal(t, audio.InputSampleRate, m.SampleRate)
		assert.Len(t, m.Audio, capture.DefaultWindowSize*2)
	}
	assert.Equal(t, int16(16383), int16(binary.LittleEndian.Uint16(msgs[1].Audio)))
	assert.Equal(t, make([]byte, capture.DefaultWindowSize*2), msgs[2].Audio)

	ch.deliver(transport.Message{Type: transport.TypeAudio, Audio: pcm(800, 480)})
	require.Eventually(t, func() bool { return len(h.out.played()) == 1 }, waitFor, tick)
	waitPhase(t, h.s, PhaseListening)

	ch.deliver(transport.Message{Type: transport.TypeText, Content: "How are you feeling today?"})
	ch.deliver(transport.Message{Type: transport.TypeSummary, Summary: &transport.Summary{Summary: "Stable."}})
	require.Eventually(t, func() bool { return h.s.Summary() != nil }, waitFor, tick)

	require.NoError(t, h.s.End())
	h.finished(t)

	assert.Equal(t, PhaseEnded, h.s.Phase())
	assert.NoError(t, h.s.Err())
	types := ch.types()
	assert.Equal(t, transport.TypeEnd, types[len(types)-1])

	report := h.s.ReapReport()
	assert.True(t, report.ReleasedAudio)
	assert.True(t, report.ReleasedOutput)
	assert.True(t, report.ReleasedChannel)
	assert.False(t, report.ReleasedVideo)
	assert.Equal(t, 1, h.mic.closed())
	assert.Equal(t, 1, ch.closed())
	assert.Equal(t, 1, h.out.opens)
	assert.Equal(t, 1, h.out.closes)

	assert.Equal(t, []string{"connecting", "connected", "listening", "speaking", "listening", "ended"}, h.rec.phases())
	texts := h.rec.ofType(events.EventTextReceived)
	require.Len(t, texts, 1)
	assert.Equal(t, "How are you feeling today?", texts[0].Data.(events.TextReceivedData).Content)

	ended := h.ended(t)
	assert.Equal(t, ReasonUser, ended.Reason)
	assert.True(t, ended.SummaryReceived)
	assert.False(t, ended.NeedsSummaryFallback)
}

func TestSession_BurstCoalescesIntoOneUnit(t *testing.T) {
	h := newHarness(t, false)
	h.s.cfg.Playback.Debounce = playback.DefaultDebounce
	ch := h.connect(t)

	for _, v := range []int16{1000, 2000, 3000} {
		ch.deliver(transport.Message{Type: transport.TypeAudio, Audio: pcm(v, 240)})
	}

	require.Eventually(t, func() bool { return len(h.out.played()) == 1 }, waitFor, tick)
	time.Sleep(2 * playback.DefaultDebounce)

	units := h.out.played()
	require.Len(t, units, 1)
	unit := units[0]
	require.Len(t, unit, 720)
	assert.Equal(t, audio.PCM16ToFloat(1000), unit[0])
	assert.Equal(t, audio.PCM16ToFloat(2000), unit[240])
	assert.Equal(t, audio.PCM16ToFloat(3000), unit[719])
}

func TestSession_PermissionDeniedNeverDials(t *testing.T) {
	h := newHarness(t, true)
	h.openErr = &capture.DeviceError{Device: capture.DeviceAudio, Op: "open", Cause: capture.ErrPermissionDenied}

	err := h.s.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, capture.ErrPermissionDenied)
	h.finished(t)

	assert.Equal(t, PhaseError, h.s.Phase())
	assert.ErrorIs(t, h.s.Err(), capture.ErrPermissionDenied)
	assert.Zero(t, h.dialer.dialCount())

	report := h.s.ReapReport()
	assert.Zero(t, report.Devices())
	assert.False(t, report.ReleasedChannel)

	assert.Equal(t, []string{"connecting", "error"}, h.rec.phases())
	ended := h.ended(t)
	assert.Equal(t, ReasonDeviceError, ended.Reason)
	assert.False(t, ended.NeedsSummaryFallback)
}

func TestSession_DialFailure(t *testing.T) {
	h := newHarness(t, false)
	h.dialer.err = &transport.TransportError{Op: transport.OpDial, Cause: errors.New("connection refused")}

	err := h.s.Start(context.Background())
	_, ok := transport.AsTransportError(err)
	require.True(t, ok)
	h.finished(t)

	assert.Equal(t, PhaseError, h.s.Phase())
	assert.Equal(t, 1, h.mic.closed(), "microphone acquired before dialing must be released")
	assert.Equal(t, ReasonTransportError, h.ended(t).Reason)
}

func TestSession_CloseWithoutSummarySignalsFallback(t *testing.T) {
	h := newHarness(t, false)
	ch := h.connect(t)

	ch.peerClose()
	h.finished(t)

	assert.Equal(t, PhaseEnded, h.s.Phase())
	assert.NoError(t, h.s.Err())
	assert.NotContains(t, ch.types(), transport.TypeEnd)

	ended := h.ended(t)
	assert.Equal(t, "ended", ended.Phase)
	assert.Equal(t, ReasonTransportClosed, ended.Reason)
	assert.False(t, ended.SummaryReceived)
	assert.True(t, ended.NeedsSummaryFallback)
}

func TestSession_CloseWhileConnectingEnds(t *testing.T) {
	h := newHarness(t, false)
	require.NoError(t, h.s.Start(context.Background()))

	h.dialer.last().peerClose()
	h.finished(t)

	assert.Equal(t, PhaseEnded, h.s.Phase())
	assert.NoError(t, h.s.Err())
	assert.Equal(t, []string{"connecting", "ended"}, h.rec.phases())

	ended := h.ended(t)
	assert.Equal(t, ReasonTransportClosed, ended.Reason)
	assert.True(t, ended.NeedsSummaryFallback)
}

func TestSession_PeerStatusEnded(t *testing.T) {
	h := newHarness(t, false)
	ch := h.connect(t)

	ch.deliver(transport.Message{Type: transport.TypeStatus, Status: transport.StatusEnded})
	h.finished(t)

	assert.Equal(t, PhaseEnded, h.s.Phase())
	assert.Equal(t, ReasonPeerStatus, h.ended(t).Reason)
}

func TestSession_PeerErrorMessage(t *testing.T) {
	h := newHarness(t, false)
	ch := h.connect(t)

	ch.deliver(transport.Message{Type: transport.TypeError, ErrorMessage: "model overloaded"})
	h.finished(t)

	assert.Equal(t, PhaseError, h.s.Phase())
	pe, ok := AsPeerError(h.s.Err())
	require.True(t, ok)
	assert.Equal(t, "model overloaded", pe.Message)
	assert.Equal(t, "peer error: model overloaded", pe.Error())
}

func TestSession_TransportErrorAfterConnect(t *testing.T) {
	h := newHarness(t, false)
	ch := h.connect(t)

	ch.peerFail(&transport.TransportError{Op: transport.OpRead, Cause: errPeerGone})
	h.finished(t)

	assert.Equal(t, PhaseError, h.s.Phase())
	assert.ErrorIs(t, h.s.Err(), errPeerGone)
	assert.Equal(t, 1, h.mic.closed())
}

func TestSession_WriteFailureIsFatal(t *testing.T) {
	h := newHarness(t, false)
	ch := h.connect(t)

	ch.failSends(&transport.TransportError{Op: transport.OpWrite, Cause: errPeerGone})
	h.mic.windows <- window(0.3)
	h.finished(t)

	assert.Equal(t, PhaseError, h.s.Phase())
	assert.ErrorIs(t, h.s.Err(), errPeerGone)
}

func TestSession_CaptureFailureMidSession(t *testing.T) {
	h := newHarness(t, false)
	h.connect(t)

	h.mic.fail <- errors.New("device unplugged")
	h.finished(t)

	assert.Equal(t, PhaseError, h.s.Phase())
	dErr, ok := capture.AsDeviceError(h.s.Err())
	require.True(t, ok)
	assert.Equal(t, "read", dErr.Op)
	assert.Equal(t, ReasonDeviceError, h.ended(t).Reason)
}

func TestSession_AudioBeforeConnectedIsDropped(t *testing.T) {
	h := newHarness(t, false)
	require.NoError(t, h.s.Start(context.Background()))
	ch := h.dialer.last()

	ch.deliver(transport.Message{Type: transport.TypeAudio, Audio: pcm(500, 240)})
	ch.deliver(transport.Message{Type: transport.TypeStatus, Status: transport.StatusConnected})
	waitPhase(t, h.s, PhaseListening)

	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, h.out.played())
}

func TestSession_NoFramesAfterEnd(t *testing.T) {
	h := newHarness(t, false)
	ch := h.connect(t)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case h.mic.windows <- window(0.4):
			case <-stop:
				return
			}
		}
	}()

	require.Eventually(t, func() bool { return len(ch.messages()) > 3 }, waitFor, tick)
	require.NoError(t, h.s.End())
	h.finished(t)
	close(stop)
	wg.Wait()

	types := ch.types()
	assert.Equal(t, transport.TypeEnd, types[len(types)-1])
	for _, typ := range types[:len(types)-1] {
		assert.NotEqual(t, transport.TypeEnd, typ)
	}
	assert.ErrorIs(t, h.s.End(), ErrTerminal)
}

func TestSession_VideoFrames(t *testing.T) {
	h := newHarness(t, true)
	ch := h.connect(t)

	assert.True(t, ch.messages()[0].EnableVideo)
	require.Eventually(t, func() bool {
		for _, m := range ch.messages() {
			if m.Type == transport.TypeVideo {
				return m.MIMEType == "image/jpeg" && len(m.Image) > 0
			}
		}
		return false
	}, waitFor, tick)

	require.NoError(t, h.s.End())
	h.finished(t)
	assert.True(t, h.s.ReapReport().ReleasedVideo)
	assert.Equal(t, 2, h.s.ReapReport().Devices())
}

func TestSession_EndBeforeStart(t *testing.T) {
	h := newHarness(t, false)

	require.NoError(t, h.s.End())
	h.finished(t)

	assert.Equal(t, PhaseEnded, h.s.Phase())
	assert.ErrorIs(t, h.s.Start(context.Background()), ErrTerminal)
	assert.Zero(t, h.dialer.dialCount())
}

func TestSession_EndWhileConnecting(t *testing.T) {
	h := newHarness(t, false)
	h.dialer.block = true

	go func() {
		assert.Eventually(t, func() bool { return h.dialer.dialCount() == 1 }, waitFor, tick)
		_ = h.s.End()
	}()

	err := h.s.Start(context.Background())
	assert.ErrorIs(t, err, ErrTerminal)
	h.finished(t)

	assert.Equal(t, PhaseEnded, h.s.Phase())
	report := h.s.ReapReport()
	assert.True(t, report.ReleasedAudio)
	assert.False(t, report.ReleasedChannel)
}

func TestSession_StartTwice(t *testing.T) {
	h := newHarness(t, false)
	h.connect(t)
	assert.ErrorIs(t, h.s.Start(context.Background()), ErrTerminal)
}

func TestSession_DuplicateSummaryKeepsFirst(t *testing.T) {
	h := newHarness(t, false)
	ch := h.connect(t)

	ch.deliver(transport.Message{Type: transport.TypeSummary, Summary: &transport.Summary{Summary: "first"}})
	ch.deliver(transport.Message{Type: transport.TypeSummary, Summary: &transport.Summary{Summary: "second"}})
	ch.deliver(transport.Message{Type: transport.TypeStatus, Status: transport.StatusEnded})
	h.finished(t)

	require.NotNil(t, h.s.Summary())
	assert.Equal(t, "first", h.s.Summary().Summary)
	assert.Len(t, h.rec.ofType(events.EventSummaryReceived), 1)
}
