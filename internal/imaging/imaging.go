// Package imaging encodes captured frames and uploaded files into the JPEG
// payload that is submitted for analysis.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"math"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// DefaultQuality is used when no quality is configured.
const DefaultQuality = 0.8

// MIMEJPEG is the MIME type of every payload produced here.
const MIMEJPEG = "image/jpeg"

// ErrEmptyImage is returned for nil images or images without pixels.
var ErrEmptyImage = errors.New("empty image")

// Payload is a byte-encoded image ready for transmission.
type Payload struct {
	Data     []byte
	MIMEType string
	Filename string
}

// Size returns the payload length in bytes.
func (p *Payload) Size() int {
	if p == nil {
		return 0
	}
	return len(p.Data)
}

// Encode serialises img as JPEG. quality is clamped to [0,1] and mapped onto
// the 1..100 JPEG scale.
func Encode(img image.Image, quality float64) (*Payload, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, ErrEmptyImage
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality(quality)}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return &Payload{
		Data:     buf.Bytes(),
		MIMEType: MIMEJPEG,
		Filename: "capture.jpg",
	}, nil
}

func jpegQuality(q float64) int {
	if math.IsNaN(q) {
		q = DefaultQuality
	}
	q = math.Max(0, math.Min(1, q))
	return max(1, int(math.Round(q*100)))
}

// Decode sniffs the format of data and decodes it.
func Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", ErrEmptyImage
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}
	return img, format, nil
}

// FromFile turns an uploaded file into a payload. Images whose longest side
// exceeds maxDim are scaled down first; maxDim <= 0 disables scaling.
func FromFile(name string, data []byte, maxDim int, quality float64) (*Payload, error) {
	img, _, err := Decode(data)
	if err != nil {
		return nil, err
	}
	img = Fit(img, maxDim)

	p, err := Encode(img, quality)
	if err != nil {
		return nil, err
	}
	p.Filename = jpegName(name)
	return p, nil
}

// Fit scales img down so its longest side is at most maxDim, keeping the
// aspect ratio. Smaller images are returned unchanged.
func Fit(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return img
	}
	scale := float64(maxDim) / float64(max(w, h))
	nw := max(1, int(math.Round(float64(w)*scale)))
	nh := max(1, int(math.Round(float64(h)*scale)))

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

func jpegName(name string) string {
	base := filepath.Base(name)
	if base == "." || base == "/" || base == "" {
		return "upload.jpg"
	}
	return strings.TrimSuffix(base, filepath.Ext(base)) + ".jpg"
}
