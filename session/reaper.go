package session

import (
	"errors"

	"github.com/Nathan-Asif/AegisMedix/capture"
	"github.com/Nathan-Asif/AegisMedix/playback"
	"github.com/Nathan-Asif/AegisMedix/transport"
)

// ReapReport records what a reap released.
type ReapReport struct {
	// StoppedPlayback is true when a playback unit was cut off mid-render.
	StoppedPlayback bool
	// DroppedSegments counts inbound segments discarded unplayed.
	DroppedSegments int
	ReleasedOutput  bool
	ReleasedAudio   bool
	ReleasedVideo   bool
	ReleasedChannel bool
}

// Devices returns the number of devices (microphone, camera, output) released.
func (r ReapReport) Devices() int {
	n := 0
	for _, released := range []bool{r.ReleasedOutput, r.ReleasedAudio, r.ReleasedVideo} {
		if released {
			n++
		}
	}
	return n
}

// reaper tears down whatever a session acquired. Fields are filled in as
// resources are acquired so a partially started session releases only
// what it holds. It is owned by the session's run goroutine.
type reaper struct {
	queue   *playback.Queue
	capture *capture.Manager
	channel transport.Channel
	done    bool
}

// reap hard-stops playback and releases the output device, then capture,
// then the channel. Only the first call releases anything; later calls
// return an empty report.
func (r *reaper) reap() (ReapReport, error) {
	var report ReapReport
	if r.done {
		return report, nil
	}
	r.done = true

	var errs []error
	if r.queue != nil {
		pr, err := r.queue.Shutdown()
		report.StoppedPlayback = pr.StoppedUnit
		report.DroppedSegments = pr.DroppedSegments
		report.ReleasedOutput = pr.ReleasedDevice
		if err != nil {
			errs = append(errs, err)
		}
	}
	if r.capture != nil {
		cr, err := r.capture.Close()
		report.ReleasedAudio = cr.Audio
		report.ReleasedVideo = cr.Video
		if err != nil {
			errs = append(errs, err)
		}
	}
	if r.channel != nil {
		report.ReleasedChannel = true
		if err := r.channel.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return report, errors.Join(errs...)
}
