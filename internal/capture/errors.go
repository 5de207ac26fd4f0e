package capture

import "errors"

var (
	// ErrPermissionDenied is returned when the camera refuses access.
	ErrPermissionDenied = errors.New("camera permission denied")
	// ErrDeviceNotFound is returned when no camera answers at the configured address.
	ErrDeviceNotFound = errors.New("camera not found")
	// ErrDeviceUnsupported is returned when the camera does not speak a supported stream format.
	ErrDeviceUnsupported = errors.New("camera not supported")
	// ErrDeviceBusy is returned when the camera is in use or cannot be read.
	ErrDeviceBusy = errors.New("camera busy")
	// ErrCaptureUnavailable is returned when capturing without a ready preview.
	ErrCaptureUnavailable = errors.New("capture unavailable")

	// ErrOverconstrained is returned by a Device that cannot satisfy the
	// requested constraints. The session retries with looser constraints.
	ErrOverconstrained = errors.New("camera constraints not satisfiable")
)
