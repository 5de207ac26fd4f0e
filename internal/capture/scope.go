package capture

import "context"

// WithCamera acquires a stream, waits for the preview and runs fn with the
// ready handle. The handle is released on every exit path, including panics
// in fn.
func (s *Session) WithCamera(ctx context.Context, c Constraints, fn func(h *Handle) error) error {
	h, err := s.Acquire(ctx, c)
	if err != nil {
		return err
	}
	defer s.Release(h)

	if err := s.AttachPreview(ctx, h); err != nil {
		return err
	}
	return fn(h)
}

// Snapshot acquires the camera, captures a single frame and releases it.
func (s *Session) Snapshot(ctx context.Context, c Constraints) (*Image, error) {
	var img *Image
	err := s.WithCamera(ctx, c, func(h *Handle) error {
		var err error
		img, err = s.Capture(h)
		return err
	})
	return img, err
}
