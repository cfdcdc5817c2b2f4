package session

import (
	"github.com/Nathan-Asif/AegisMedix/capture"
	"github.com/Nathan-Asif/AegisMedix/logger"
	"github.com/Nathan-Asif/AegisMedix/metrics"
	"github.com/Nathan-Asif/AegisMedix/transport"
)

// event is something that happened outside the run goroutine. apply runs on
// the run goroutine.
type event interface {
	apply(s *Session)
}

type (
	inbound         struct{ msg transport.Message }
	audioWindow     struct{ samples []float32 }
	videoFrame      struct{ frame *capture.VideoFrame }
	playbackDrained struct{}
	channelClosed   struct{}
	channelFailed   struct{ err error }
	captureFailed   struct{ err error }
)

func (e inbound) apply(s *Session) { s.handleMessage(e.msg) }

func (e audioWindow) apply(s *Session) {
	if !s.Phase().Established() {
		return
	}
	frame := s.encoder.Encode(e.samples)
	if s.send(transport.AudioMessage(frame.Bytes(), s.cfg.Capture.SampleRate)) {
		metrics.RecordAudioFrame(frame.Silent)
	}
}

func (e videoFrame) apply(s *Session) {
	if !s.Phase().Established() {
		return
	}
	if s.send(transport.VideoMessage(e.frame.Data, e.frame.MIMEType)) {
		metrics.RecordVideoFrame()
	}
}

// playbackDrained moves speaking → listening only if nothing arrived between
// the drain and this event.
func (playbackDrained) apply(s *Session) {
	if s.Phase() == PhaseSpeaking && s.reaper.queue.Idle() {
		s.transition(PhaseListening, "playback_drained")
	}
}

// channelClosed ends the session in any phase. A peer that fails to start a
// session sends an error message first, which already moved it to error.
func (channelClosed) apply(s *Session) {
	s.finish(PhaseEnded, ReasonTransportClosed, nil)
}

func (e channelFailed) apply(s *Session) {
	s.finish(PhaseError, ReasonTransportError, e.err)
}

func (e captureFailed) apply(s *Session) {
	s.finish(PhaseError, ReasonDeviceError, e.err)
}

func (s *Session) handleMessage(msg transport.Message) {
	//exhaustive:ignore
	switch msg.Type {
	case transport.TypeStatus:
		s.handleStatus(msg.Status)
	case transport.TypeAudio:
		s.handleAudio(msg.Audio)
	case transport.TypeText:
		logger.InfoContext(s.logCtx, "transcript", "content", msg.Content)
		s.emitter.TextReceived(msg.Content)
	case transport.TypeSummary:
		s.handleSummary(msg.Summary)
	case transport.TypeError:
		s.finish(PhaseError, ReasonPeerError, &PeerError{Message: msg.ErrorMessage})
	default:
		logger.DebugContext(s.logCtx, "ignoring unexpected message", "type", msg.Type)
	}
}

func (s *Session) handleStatus(status string) {
	switch status {
	case transport.StatusConnected:
		if s.Phase() != PhaseConnecting {
			logger.DebugContext(s.logCtx, "duplicate connected status", "phase", s.Phase())
			return
		}
		s.transition(PhaseConnected, ReasonPeerStatus)
		s.startCapture()
	case transport.StatusEnded:
		s.finish(PhaseEnded, ReasonPeerStatus, nil)
	default:
		logger.DebugContext(s.logCtx, "ignoring unknown status", "status", status)
	}
}

// startCapture performs connected → listening.
func (s *Session) startCapture() {
	err := s.reaper.capture.StartAudio(s.runCtx, func(samples []float32) {
		s.post(audioWindow{samples: samples})
	})
	if err == nil {
		err = s.reaper.capture.StartVideo(s.runCtx, func(f *capture.VideoFrame) {
			s.post(videoFrame{frame: f})
		})
	}
	if err != nil {
		s.finish(PhaseError, ReasonDeviceError, err)
		return
	}
	s.transition(PhaseListening, "capture_started")
}

func (s *Session) handleAudio(segment []byte) {
	switch s.Phase() {
	case PhaseListening:
		s.transition(PhaseSpeaking, "reply_audio")
	case PhaseSpeaking:
	default:
		logger.DebugContext(s.logCtx, "dropping audio before capture started", "bytes", len(segment))
		return
	}
	if err := s.reaper.queue.Enqueue(segment); err != nil {
		logger.WarnContext(s.logCtx, "segment not queued", "error", err)
		return
	}
	metrics.RecordPlaybackSegment()
}

// handleSummary keeps the first summary; the peer sends at most one.
func (s *Session) handleSummary(summary *transport.Summary) {
	if summary == nil {
		return
	}
	s.mu.Lock()
	if s.summary != nil {
		s.mu.Unlock()
		logger.WarnContext(s.logCtx, "dropping duplicate summary")
		return
	}
	s.summary = summary
	s.mu.Unlock()

	logger.InfoContext(s.logCtx, "summary received")
	s.emitter.SummaryReceived(summary)
}
