package capture

import (
	"context"
	"image"
	"net/url"
	"strconv"
)

// Default frame size used when a frame reports no dimensions.
const (
	DefaultWidth  = 640
	DefaultHeight = 480
)

// Constraints are the stream preferences sent to a camera.
type Constraints struct {
	Width      int    // ideal width
	Height     int    // ideal height
	MaxWidth   int
	MaxHeight  int
	FacingMode string // "environment" or "user"
}

// DefaultConstraints mirrors a rear camera at 720p, capped at 1080p.
func DefaultConstraints() Constraints {
	return Constraints{
		Width:      1280,
		Height:     720,
		MaxWidth:   1920,
		MaxHeight:  1080,
		FacingMode: "environment",
	}
}

// Loose drops the ideal size and facing mode, keeping only the upper bounds.
func (c Constraints) Loose() Constraints {
	return Constraints{MaxWidth: c.MaxWidth, MaxHeight: c.MaxHeight}
}

// Values encodes the constraints as query parameters.
func (c Constraints) Values() url.Values {
	v := url.Values{}
	setInt := func(key string, n int) {
		if n > 0 {
			v.Set(key, strconv.Itoa(n))
		}
	}
	setInt("width", c.Width)
	setInt("height", c.Height)
	setInt("max_width", c.MaxWidth)
	setInt("max_height", c.MaxHeight)
	if c.FacingMode != "" {
		v.Set("facing", c.FacingMode)
	}
	return v
}

// Device opens camera streams.
type Device interface {
	// Open starts a stream. Implementations return one of the package
	// errors so callers can tell failure causes apart. The stream lives
	// until ctx is cancelled or Close is called.
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// Stream is a live sequence of frames from one camera.
type Stream interface {
	// NextFrame blocks until the next frame is decoded.
	NextFrame() (image.Image, error)
	// Close stops the stream and frees the underlying connection.
	Close() error
}
