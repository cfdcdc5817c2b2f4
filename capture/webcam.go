package capture

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/Nathan-Asif/AegisMedix/transport"
)

// probeTimeout bounds the acquisition snapshot taken by OpenWebcam.
const probeTimeout = 5 * time.Second

// commandRunner runs ffmpeg and returns stdout. Replaced in tests.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := bytes.TrimSpace(stderr.Bytes()); len(msg) > 0 {
			// ffmpeg prints its diagnosis last.
			if i := bytes.LastIndexByte(msg, '\n'); i >= 0 {
				msg = msg[i+1:]
			}
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return out, nil
}

// Webcam takes single JPEG snapshots from a camera through ffmpeg.
type Webcam struct {
	cfg  VideoConfig
	goos string
	run  commandRunner

	mu     sync.Mutex
	closed bool
}

// OpenWebcam checks that ffmpeg is installed and that the camera yields a
// frame. Failures are returned as *DeviceError.
func OpenWebcam(ctx context.Context, cfg VideoConfig) (*Webcam, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, &DeviceError{Device: DeviceVideo, Op: "open",
			Cause: fmt.Errorf("%w: ffmpeg not found (install with: brew install ffmpeg)", ErrNoDevice)}
	}
	return openWebcam(ctx, cfg, runtime.GOOS, execRunner)
}

func openWebcam(ctx context.Context, cfg VideoConfig, goos string, run commandRunner) (*Webcam, error) {
	w := &Webcam{cfg: cfg, goos: goos, run: run}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if _, err := w.Snapshot(probeCtx); err != nil {
		if dErr, ok := AsDeviceError(err); ok {
			dErr.Op = "open"
			return nil, dErr
		}
		return nil, &DeviceError{Device: DeviceVideo, Op: "open", Cause: err}
	}
	return w, nil
}

// Name returns the platform device identifier.
func (w *Webcam) Name() string {
	return w.inputName()
}

// Snapshot captures one frame and fits it to the configured resolution.
func (w *Webcam) Snapshot(ctx context.Context) (*VideoFrame, error) {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	raw, err := w.run(ctx, "ffmpeg", w.args()...)
	if err != nil {
		return nil, &DeviceError{Device: DeviceVideo, Op: "snapshot", Cause: classify(err)}
	}
	data, width, height, err := FitJPEG(raw, w.cfg.Width, w.cfg.Height, DefaultJPEGQuality)
	if err != nil {
		return nil, &DeviceError{Device: DeviceVideo, Op: "snapshot", Cause: err}
	}
	return &VideoFrame{
		Data:       data,
		MIMEType:   transport.DefaultImageMIMEType,
		Width:      width,
		Height:     height,
		CapturedAt: time.Now(),
	}, nil
}

// Close marks the webcam released. Snapshots run one ffmpeg process each, so
// nothing stays open between calls.
func (w *Webcam) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *Webcam) inputName() string {
	idx := strconv.Itoa(w.cfg.DeviceIndex)
	switch w.goos {
	case "linux":
		return "/dev/video" + idx
	case "windows":
		return "video=" + idx
	default:
		return idx
	}
}

// args builds a single-frame MJPEG capture for the platform's camera API.
func (w *Webcam) args() []string {
	var format string
	switch w.goos {
	case "darwin":
		format = "avfoundation"
	case "windows":
		format = "dshow"
	default:
		format = "v4l2"
	}
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", format,
		"-framerate", "30", // camera requirement; only one frame is kept
		"-video_size", fmt.Sprintf("%dx%d", w.cfg.Width, w.cfg.Height),
		"-i", w.inputName(),
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "5",
		"-",
	}
}
