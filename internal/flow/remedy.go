package flow

import (
	"context"
	"errors"

	"github.com/franckalain/foodlens/internal/analysis"
	"github.com/franckalain/foodlens/internal/capture"
	"github.com/franckalain/foodlens/internal/imaging"
	"github.com/franckalain/foodlens/internal/session"
)

var remedies = []struct {
	err error
	msg string
}{
	{capture.ErrPermissionDenied, "Camera access was denied. Grant camera permission and try again."},
	{capture.ErrDeviceNotFound, "No camera was found. Check that the camera is connected and its address is correct."},
	{capture.ErrDeviceUnsupported, "This camera is not supported. Use an MJPEG camera or upload a photo instead."},
	{capture.ErrDeviceBusy, "The camera is in use by another application. Close it and try again."},
	{capture.ErrOverconstrained, "The camera rejected the requested resolution. Try a lower resolution."},
	{capture.ErrCaptureUnavailable, "The camera is not ready yet. Wait for the preview and capture again."},
	{analysis.ErrUnauthorized, "Your session has expired. Log in again."},
	{session.ErrNotAuthenticated, "Your session has expired. Log in again."},
	{analysis.ErrInvalidRequest, "The image or account details are incomplete. Select an image and check your profile."},
	{analysis.ErrMalformedResponse, "The analysis service returned an unexpected answer. Try again later."},
	{analysis.ErrNetworkUnreachable, "Could not reach the analysis service. Check your connection and try again."},
	{imaging.ErrEmptyImage, "The image is empty. Capture or select another photo."},
	{ErrNoImage, "Capture or upload a photo first."},
	{ErrNoResult, "Analyze a photo before saving it."},
	{ErrBusy, "Please wait for the current action to finish."},
}

// Remedy returns the message shown to the user for err.
func Remedy(err error) string {
	if err == nil {
		return ""
	}
	var upstream *analysis.UpstreamError
	if errors.As(err, &upstream) {
		switch {
		case upstream.Status == 401 || upstream.Status == 403:
			return "Your session has expired. Log in again."
		case upstream.Status >= 500:
			return "The analysis service is having trouble. Try again in a moment."
		default:
			return "The analysis service rejected the image. Try a clearer photo of the food."
		}
	}
	for _, r := range remedies {
		if errors.Is(err, r.err) {
			return r.msg
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "The request took too long. Check your connection and try again."
	}
	if errors.Is(err, context.Canceled) {
		return "The action was cancelled."
	}
	return "Something went wrong. Try again."
}
