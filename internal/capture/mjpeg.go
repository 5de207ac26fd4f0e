package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

// MJPEGDevice is a network camera serving multipart/x-mixed-replace JPEG
// frames over HTTP.
type MJPEGDevice struct {
	URL    string
	Client *http.Client
}

// NewMJPEGDevice creates a device for the stream at rawURL.
func NewMJPEGDevice(rawURL string) *MJPEGDevice {
	return &MJPEGDevice{URL: rawURL}
}

// Open requests the stream with the given constraints as query parameters.
func (d *MJPEGDevice) Open(ctx context.Context, c Constraints) (Stream, error) {
	u, err := url.Parse(d.URL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid camera url %q", ErrDeviceNotFound, d.URL)
	}
	q := u.Query()
	for k, vs := range c.Values() {
		q[k] = vs
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "multipart/x-mixed-replace")
	req.Header.Set("Cache-Control", "no-cache")

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrDeviceNotFound, err)
	}

	if err := statusError(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/x-mixed-replace" || params["boundary"] == "" {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: unexpected content type %q", ErrDeviceUnsupported, resp.Header.Get("Content-Type"))
	}

	return &mjpegStream{
		body: resp.Body,
		mr:   multipart.NewReader(resp.Body, strings.Trim(params["boundary"], `"`)),
	}, nil
}

func statusError(resp *http.Response) error {
	switch code := resp.StatusCode; {
	case code == http.StatusOK:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrPermissionDenied, resp.Status)
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, resp.Status)
	case code == http.StatusBadRequest || code == http.StatusRequestedRangeNotSatisfiable ||
		code == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", ErrOverconstrained, resp.Status)
	case code == http.StatusConflict || code == http.StatusLocked || code >= 500:
		return fmt.Errorf("%w: %s", ErrDeviceBusy, resp.Status)
	default:
		return fmt.Errorf("%w: bad status %s", ErrDeviceUnsupported, resp.Status)
	}
}

type mjpegStream struct {
	body io.ReadCloser
	mr   *multipart.Reader
	buf  bytes.Buffer

	closeOnce sync.Once
	closeErr  error
}

// NextFrame reads parts until one decodes as JPEG.
func (s *mjpegStream) NextFrame() (image.Image, error) {
	for {
		part, err := s.mr.NextPart()
		if err != nil {
			return nil, err
		}

		s.buf.Reset()
		_, err = io.Copy(&s.buf, part)
		part.Close()
		if err != nil {
			return nil, fmt.Errorf("error reading part: %w", err)
		}

		img, err := jpeg.Decode(bytes.NewReader(s.buf.Bytes()))
		if err != nil {
			// Skip frames that fail to decode
			continue
		}
		return img, nil
	}
}

func (s *mjpegStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}
