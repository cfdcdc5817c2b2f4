package capture

import (
	"errors"
	"strings"
)

// Sentinel causes carried by DeviceError.
var (
	// ErrPermissionDenied is returned when the OS refused access to a device.
	ErrPermissionDenied = errors.New("device permission denied")

	// ErrNoDevice is returned when no usable device exists.
	ErrNoDevice = errors.New("no capture device available")

	// ErrBackendUnavailable is returned when the binary was built without a capture backend.
	ErrBackendUnavailable = errors.New("capture backend not available in this build")

	// ErrClosed is returned when starting a stream on a closed Manager.
	ErrClosed = errors.New("capture manager is closed")
)

// Device kinds reported in DeviceError.Device.
const (
	DeviceAudio = "audio"
	DeviceVideo = "video"
)

// DeviceError is a capture device failure. It is fatal to the session and is
// never retried within it.
type DeviceError struct {
	// Device is DeviceAudio or DeviceVideo.
	Device string

	// Op is the failing step ("open", "start", "read", "snapshot").
	Op string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *DeviceError) Error() string {
	return e.Device + " device " + e.Op + " failed: " + e.Cause.Error()
}

// Unwrap returns the underlying error.
func (e *DeviceError) Unwrap() error {
	return e.Cause
}

// AsDeviceError checks if an error is a DeviceError and returns it.
func AsDeviceError(err error) (*DeviceError, bool) {
	var dErr *DeviceError
	if errors.As(err, &dErr) {
		return dErr, true
	}
	return nil, false
}

// classifiedError keeps the backend message while matching a sentinel with errors.Is.
type classifiedError struct {
	kind  error
	cause error
}

func (e *classifiedError) Error() string   { return e.kind.Error() + ": " + e.cause.Error() }
func (e *classifiedError) Unwrap() []error { return []error{e.kind, e.cause} }

var (
	permissionMarkers = []string{"permission denied", "not authorized", "not permitted", "access denied"}
	noDeviceMarkers   = []string{
		"no such file or directory", "no default input device", "device unavailable",
		"could not find", "invalid device", "no such device",
	}
)

// classify maps backend error text onto ErrPermissionDenied or ErrNoDevice
// when it recognizes the failure.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrNoDevice) {
		return err
	}
	msg := strings.ToLower(err.Error())
	for _, m := range permissionMarkers {
		if strings.Contains(msg, m) {
			return &classifiedError{kind: ErrPermissionDenied, cause: err}
		}
	}
	for _, m := range noDeviceMarkers {
		if strings.Contains(msg, m) {
			return &classifiedError{kind: ErrNoDevice, cause: err}
		}
	}
	return err
}
