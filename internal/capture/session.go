// Package capture acquires a camera stream, waits for a live preview and
// copies single frames out of it.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// State is the lifecycle state of a capture session.
type State int

const (
	Idle State = iota
	Acquiring
	Ready
	Capturing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Acquiring:
		return "acquiring"
	case Ready:
		return "ready"
	case Capturing:
		return "capturing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Image is a still frame copied out of a stream.
type Image struct {
	Width      int
	Height     int
	Pixels     *image.RGBA
	CapturedAt time.Time
}

// Handle is an active camera stream owned by one Session.
type Handle struct {
	ID string

	stream Stream
	cancel context.CancelFunc

	mu      sync.RWMutex
	latest  image.Image
	frames  int
	pumpErr error

	pumpOnce    sync.Once
	ready       chan struct{}
	done        chan struct{}
	releaseOnce sync.Once
}

func newHandle(stream Stream, cancel context.CancelFunc) *Handle {
	return &Handle{
		ID:     uuid.New().String(),
		stream: stream,
		cancel: cancel,
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Frames returns the number of frames received so far.
func (h *Handle) Frames() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.frames
}

// pump copies frames into latest until the stream fails or is closed.
func (h *Handle) pump() {
	defer close(h.done)
	first := true
	for {
		img, err := h.stream.NextFrame()
		if err != nil {
			h.mu.Lock()
			h.pumpErr = err
			h.mu.Unlock()
			return
		}
		h.mu.Lock()
		h.latest = img
		h.frames++
		h.mu.Unlock()
		if first {
			close(h.ready)
			first = false
		}
	}
}

// release stops the stream. Safe to call any number of times.
func (h *Handle) release() {
	if h == nil {
		return
	}
	h.releaseOnce.Do(func() {
		h.cancel()
		h.stream.Close()
	})
}

// Session owns at most one camera handle at a time.
type Session struct {
	dev Device
	log zerolog.Logger

	mu     sync.Mutex
	state  State
	handle *Handle
	err    error
}

// NewSession creates an idle session for dev.
func NewSession(dev Device, log zerolog.Logger) *Session {
	return &Session{
		dev: dev,
		log: log.With().Str("component", "capture").Logger(),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error of the last failed acquisition, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Acquire opens a camera stream. Any handle still held by the session is
// released first. If the camera rejects c, one retry is made with
// c.Loose(). ctx bounds the acquisition only; the stream itself lives
// until Release.
func (s *Session) Acquire(ctx context.Context, c Constraints) (*Handle, error) {
	s.mu.Lock()
	prev := s.handle
	s.handle = nil
	s.state = Acquiring
	s.err = nil
	s.mu.Unlock()

	if prev != nil {
		s.log.Debug().Str("handle", prev.ID).Msg("Releasing previous camera handle")
		prev.release()
	}

	sctx, cancel := context.WithCancel(context.Background())
	stop := context.AfterFunc(ctx, cancel)

	stream, err := s.dev.Open(sctx, c)
	if errors.Is(err, ErrOverconstrained) {
		s.log.Debug().Err(err).Msg("Camera rejected ideal constraints, retrying with looser ones")
		stream, err = s.dev.Open(sctx, c.Loose())
		if errors.Is(err, ErrOverconstrained) {
			err = fmt.Errorf("%w: %v", ErrDeviceUnsupported, err)
		}
	}
	if !stop() {
		// ctx ended while the stream was being opened
		if err == nil {
			stream.Close()
		}
		err = ctx.Err()
	}
	if err != nil {
		cancel()
		s.fail(err)
		return nil, err
	}

	h := newHandle(stream, cancel)
	s.mu.Lock()
	if s.state != Acquiring {
		// stopped while the stream was being opened
		s.mu.Unlock()
		h.release()
		return nil, fmt.Errorf("%w: acquisition was stopped", ErrCaptureUnavailable)
	}
	s.handle = h
	s.mu.Unlock()
	s.log.Debug().Str("handle", h.ID).Msg("Camera stream acquired")
	return h, nil
}

// AttachPreview starts receiving frames on h and returns once the first
// frame has been decoded, moving the session to Ready. On failure the handle
// is released.
func (s *Session) AttachPreview(ctx context.Context, h *Handle) error {
	s.mu.Lock()
	if h == nil || s.handle != h || s.state != Acquiring {
		s.mu.Unlock()
		return fmt.Errorf("%w: handle is not being acquired", ErrCaptureUnavailable)
	}
	s.mu.Unlock()

	h.pumpOnce.Do(func() { go h.pump() })

	select {
	case <-h.ready:
	case <-h.done:
		h.mu.RLock()
		perr := h.pumpErr
		h.mu.RUnlock()
		err := fmt.Errorf("%w: stream ended before the first frame: %v", ErrDeviceBusy, perr)
		s.Release(h)
		s.fail(err)
		return err
	case <-ctx.Done():
		s.Release(h)
		return ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle != h {
		return fmt.Errorf("%w: handle was released", ErrCaptureUnavailable)
	}
	s.state = Ready
	s.log.Debug().Str("handle", h.ID).Msg("Camera preview ready")
	return nil
}

// Capture copies the latest preview frame and releases the stream. It fails
// with ErrCaptureUnavailable unless the session is Ready on h.
func (s *Session) Capture(h *Handle) (*Image, error) {
	s.mu.Lock()
	if h == nil || s.handle != h || s.state != Ready {
		state := s.state
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: session is %s", ErrCaptureUnavailable, state)
	}
	s.state = Capturing
	s.mu.Unlock()

	h.mu.RLock()
	frame := h.latest
	h.mu.RUnlock()

	img := copyFrame(frame)
	s.Release(h)
	s.log.Debug().Str("handle", h.ID).Int("width", img.Width).Int("height", img.Height).Msg("Frame captured")
	return img, nil
}

// Release stops h and returns the session to Idle if h is its current
// handle. Releasing nil, or a handle twice, is a no-op.
func (s *Session) Release(h *Handle) {
	if h == nil {
		return
	}
	h.release()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == h {
		s.handle = nil
		s.state = Idle
	}
}

// Stop releases the current handle, if any.
func (s *Session) Stop() {
	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()
	if h != nil {
		s.Release(h)
		return
	}
	s.mu.Lock()
	s.state = Idle
	s.mu.Unlock()
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	s.state = Idle
	s.err = err
	s.mu.Unlock()
	s.log.Warn().Err(err).Msg("Camera acquisition failed")
}

func copyFrame(frame image.Image) *Image {
	w, h := DefaultWidth, DefaultHeight
	var b image.Rectangle
	if frame != nil {
		b = frame.Bounds()
		if !b.Empty() {
			w, h = b.Dx(), b.Dy()
		}
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if frame != nil && !b.Empty() {
		draw.Draw(dst, dst.Bounds(), frame, b.Min, draw.Src)
	}
	return &Image{
		Width:      w,
		Height:     h,
		Pixels:     dst,
		CapturedAt: time.Now(),
	}
}
