package flow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franckalain/foodlens/internal/analysis"
	"github.com/franckalain/foodlens/internal/capture"
	"github.com/franckalain/foodlens/internal/history"
	"github.com/franckalain/foodlens/internal/imaging"
	"github.com/franckalain/foodlens/internal/models"
	"github.com/franckalain/foodlens/internal/session"
)

type fakeCamera struct {
	img *capture.Image
	err error
}

func (c *fakeCamera) Snapshot(ctx context.Context, _ capture.Constraints) (*capture.Image, error) {
	return c.img, c.err
}

type fakeSubmitter struct {
	mu      sync.Mutex
	result  *models.AnalysisResult
	err     error
	gate    chan struct{}
	started chan struct{}
	got     analysis.Request
}

func (s *fakeSubmitter) Submit(ctx context.Context, req analysis.Request) (*models.AnalysisResult, error) {
	s.mu.Lock()
	s.got = req
	s.mu.Unlock()
	if s.started != nil {
		close(s.started)
	}
	if s.gate != nil {
		<-s.gate
	}
	return s.result, s.err
}

type fakeIdentity struct {
	user models.User
	err  error
}

func (i *fakeIdentity) Identity() analysis.Identity {
	return analysis.Identity{Email: i.user.Email, Name: i.user.Name, Token: "tok"}
}

func (i *fakeIdentity) User() (models.User, error) { return i.user, i.err }

type fakeStorage struct {
	url string
	err error
}

func (s *fakeStorage) Put(ctx context.Context, name string, p *imaging.Payload) (string, error) {
	return s.url, s.err
}

type fakeHistory struct {
	req  history.SaveRequest
	user models.User
	err  error
}

func (h *fakeHistory) Save(ctx context.Context, user models.User, req history.SaveRequest) (json.RawMessage, error) {
	h.user, h.req = user, req
	return nil, h.err
}

type fakeMirror struct {
	saved  []*models.StoredAnalysis
	synced map[string]string
}

func (m *fakeMirror) SaveAnalysis(ctx context.Context, a *models.StoredAnalysis) error {
	m.saved = append(m.saved, a)
	return nil
}

func (m *fakeMirror) MarkSynced(ctx context.Context, id, url string) error {
	if m.synced == nil {
		m.synced = map[string]string{}
	}
	m.synced[id] = url
	return nil
}

func frame(w, h int) *capture.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	return &capture.Image{Width: w, Height: h, Pixels: img, CapturedAt: time.Now()}
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 120, G: 80, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func salmonResult() *models.AnalysisResult {
	return &models.AnalysisResult{
		ID: "r1",
		Prediction: models.Prediction{
			Label:           "grilled_salmon",
			Confidence:      0.91,
			Nutrition:       models.Nutrition{Protein: 30, Karbohidrat: 10, Lemak: 10, Kalori: 320},
			NutritionStatus: "Seimbang",
		},
		Balance: models.Balanced,
	}
}

func sari() *fakeIdentity {
	return &fakeIdentity{user: models.User{ID: "1", Email: "sari@example.com", Name: "Sari"}}
}

func TestFlow_CaptureAnalyze(t *testing.T) {
	sub := &fakeSubmitter{result: salmonResult()}
	f := New(Deps{Camera: &fakeCamera{img: frame(64, 48)}, Submitter: sub, Identity: sari()},
		Options{Recommendations: 2}, zerolog.Nop())
	assert.Equal(t, Idle, f.State())

	require.NoError(t, f.Capture(context.Background()))
	assert.Equal(t, Ready, f.State())
	require.NotNil(t, f.Payload())
	assert.Equal(t, imaging.MIMEJPEG, f.Payload().MIMEType)

	display, err := f.Analyze(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Ready, f.State())
	assert.Equal(t, "Grilled Salmon", display.Label)
	assert.Equal(t, 91, display.ConfidencePercent)
	assert.Len(t, display.Recommendations, 2)
	assert.Equal(t, "tok", sub.got.Identity.Token)
	assert.Same(t, f.Payload(), sub.got.Payload)
	assert.Equal(t, "r1", f.Result().ID)
}

func TestFlow_CaptureError(t *testing.T) {
	f := New(Deps{Camera: &fakeCamera{err: capture.ErrPermissionDenied}, Submitter: &fakeSubmitter{}},
		Options{}, zerolog.Nop())

	err := f.Capture(context.Background())
	assert.ErrorIs(t, err, capture.ErrPermissionDenied)
	assert.Equal(t, Error, f.State())
	assert.ErrorIs(t, f.Err(), capture.ErrPermissionDenied)
	assert.Contains(t, Remedy(f.Err()), "permission")
}

func TestFlow_NoCamera(t *testing.T) {
	f := New(Deps{Submitter: &fakeSubmitter{}}, Options{}, zerolog.Nop())
	assert.ErrorIs(t, f.Capture(context.Background()), capture.ErrDeviceNotFound)
	assert.Equal(t, Error, f.State())
}

func TestFlow_AnalyzeWithoutImage(t *testing.T) {
	f := New(Deps{Submitter: &fakeSubmitter{}}, Options{}, zerolog.Nop())
	_, err := f.Analyze(context.Background())
	assert.ErrorIs(t, err, ErrNoImage)
	assert.Equal(t, Idle, f.State())
}

func TestFlow_AnalyzeErrorKeepsImage(t *testing.T) {
	sub := &fakeSubmitter{err: &analysis.UpstreamError{Status: 502}}
	f := New(Deps{Submitter: sub, Identity: sari()}, Options{}, zerolog.Nop())
	require.NoError(t, f.Upload("meal.png", pngBytes(t, 20, 10)))

	_, err := f.Analyze(context.Background())
	assert.ErrorIs(t, err, analysis.ErrUpstream)
	assert.Equal(t, Error, f.State())
	assert.NotNil(t, f.Payload(), "the image stays selected so the user can retry")
	assert.True(t, analysis.Retryable(f.Err()))

	sub.err, sub.result = nil, salmonResult()
	_, err = f.Analyze(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Ready, f.State())
	assert.Nil(t, f.Err())
}

func TestFlow_UploadClearsResult(t *testing.T) {
	f := New(Deps{Submitter: &fakeSubmitter{result: salmonResult()}, Identity: sari()}, Options{MaxDimension: 8}, zerolog.Nop())
	require.NoError(t, f.Upload("a.png", pngBytes(t, 20, 10)))
	_, err := f.Analyze(context.Background())
	require.NoError(t, err)
	require.NotNil(t, f.Result())

	require.NoError(t, f.Upload("b.png", pngBytes(t, 20, 10)))
	assert.Nil(t, f.Result())
	assert.Nil(t, f.Display())
	assert.Equal(t, "b.jpg", f.Payload().Filename)

	err = f.Upload("bad.png", []byte("not an image"))
	assert.Error(t, err)
	assert.Equal(t, Error, f.State())
	assert.Nil(t, f.Payload())
}

func TestFlow_StaleResponseDiscarded(t *testing.T) {
	sub := &fakeSubmitter{result: salmonResult(), gate: make(chan struct{}), started: make(chan struct{})}
	f := New(Deps{Submitter: sub, Identity: sari()}, Options{}, zerolog.Nop())
	require.NoError(t, f.Upload("a.png", pngBytes(t, 4, 4)))

	done := make(chan error, 1)
	go func() {
		_, err := f.Analyze(context.Background())
		done <- err
	}()
	<-sub.started
	assert.Equal(t, Analyzing, f.State())

	_, err := f.Analyze(context.Background())
	assert.ErrorIs(t, err, ErrBusy)

	f.Reset()
	close(sub.gate)
	assert.ErrorIs(t, <-done, ErrSuperseded)
	assert.Equal(t, Idle, f.State())
	assert.Nil(t, f.Result())
}

func TestFlow_Save(t *testing.T) {
	hist := &fakeHistory{}
	mirror := &fakeMirror{}
	f := New(Deps{
		Submitter: &fakeSubmitter{result: salmonResult()},
		Identity:  sari(),
		Storage:   &fakeStorage{url: "https://cdn.example.com/a.jpg"},
		History:   hist,
		Mirror:    mirror,
	}, Options{Recommendations: 1}, zerolog.Nop())

	_, err := f.Save(context.Background())
	assert.ErrorIs(t, err, ErrNoResult)

	require.NoError(t, f.Upload("a.png", pngBytes(t, 4, 4)))
	_, err = f.Analyze(context.Background())
	require.NoError(t, err)

	url, err := f.Save(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/a.jpg", url)
	assert.Equal(t, "sari@example.com", hist.user.Email)
	assert.Equal(t, url, hist.req.ImageURL)
	assert.Len(t, hist.req.Recommendations, 1)

	require.Len(t, mirror.saved, 1)
	assert.Equal(t, "sari@example.com", mirror.saved[0].UserID)
	assert.NotEmpty(t, mirror.saved[0].ImageData)
	assert.Equal(t, url, mirror.synced["r1"])
}

func TestFlow_SaveFailures(t *testing.T) {
	newFlow := func(deps Deps) *Flow {
		deps.Submitter = &fakeSubmitter{result: salmonResult()}
		f := New(deps, Options{}, zerolog.Nop())
		require.NoError(t, f.Upload("a.png", pngBytes(t, 4, 4)))
		_, err := f.Analyze(context.Background())
		require.NoError(t, err)
		return f
	}

	f := newFlow(Deps{Identity: &fakeIdentity{err: session.ErrNotAuthenticated}})
	_, err := f.Save(context.Background())
	assert.ErrorIs(t, err, analysis.ErrUnauthorized)

	f = newFlow(Deps{Identity: sari(), Storage: &fakeStorage{err: errors.New("denied")}})
	_, err = f.Save(context.Background())
	assert.ErrorContains(t, err, "denied")

	mirror := &fakeMirror{}
	f = newFlow(Deps{Identity: sari(), History: &fakeHistory{err: errors.New("down")}, Mirror: mirror})
	_, err = f.Save(context.Background())
	assert.Error(t, err)
	assert.Len(t, mirror.saved, 1, "kept locally even when the remote save fails")
	assert.Empty(t, mirror.synced)
}

func TestRemedy(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{capture.ErrPermissionDenied, "permission"},
		{capture.ErrDeviceNotFound, "No camera"},
		{capture.ErrDeviceUnsupported, "not supported"},
		{capture.ErrDeviceBusy, "in use"},
		{capture.ErrCaptureUnavailable, "not ready"},
		{fmt.Errorf("submit: %w", analysis.ErrUnauthorized), "Log in again"},
		{analysis.ErrInvalidRequest, "incomplete"},
		{&analysis.UpstreamError{Status: 503}, "having trouble"},
		{&analysis.UpstreamError{Status: 401}, "Log in again"},
		{&analysis.UpstreamError{Status: 422}, "rejected"},
		{analysis.ErrMalformedResponse, "unexpected answer"},
		{analysis.ErrNetworkUnreachable, "connection"},
		{context.DeadlineExceeded, "too long"},
		{errors.New("mystery"), "Something went wrong"},
	}
	for _, tt := range tests {
		assert.Contains(t, Remedy(tt.err), tt.want, "%v", tt.err)
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "analyzing", Analyzing.String())
	assert.Equal(t, "state(9)", State(9).String())
}
