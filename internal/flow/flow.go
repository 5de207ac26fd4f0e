// Package flow drives one capture, analyze and display cycle and exposes
// its state to the view layer.
package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/franckalain/foodlens/internal/analysis"
	"github.com/franckalain/foodlens/internal/capture"
	"github.com/franckalain/foodlens/internal/history"
	"github.com/franckalain/foodlens/internal/imaging"
	"github.com/franckalain/foodlens/internal/models"
	"github.com/franckalain/foodlens/internal/nutrition"
	"github.com/franckalain/foodlens/internal/storage"
)

// State is what the view renders.
type State int

const (
	Idle State = iota
	Acquiring
	Ready
	Analyzing
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Acquiring:
		return "acquiring"
	case Ready:
		return "ready"
	case Analyzing:
		return "analyzing"
	case Error:
		return "error"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var (
	ErrNoImage    = errors.New("no image selected")
	ErrNoResult   = errors.New("no analysis result to save")
	ErrBusy       = errors.New("another action is in progress")
	ErrSuperseded = errors.New("result discarded because a new image was selected")
)

// Camera takes a single frame. *capture.Session satisfies it.
type Camera interface {
	Snapshot(ctx context.Context, c capture.Constraints) (*capture.Image, error)
}

// Submitter sends an image for analysis. *analysis.Client satisfies it.
type Submitter interface {
	Submit(ctx context.Context, req analysis.Request) (*models.AnalysisResult, error)
}

// Identity supplies the signed-in user. *session.Store satisfies it.
type Identity interface {
	Identity() analysis.Identity
	User() (models.User, error)
}

// HistorySaver appends to the remote history. *history.Client satisfies it.
type HistorySaver interface {
	Save(ctx context.Context, user models.User, req history.SaveRequest) (json.RawMessage, error)
}

// Mirror keeps the local copy of saved analyses. database.DB satisfies it.
type Mirror interface {
	SaveAnalysis(ctx context.Context, a *models.StoredAnalysis) error
	MarkSynced(ctx context.Context, id, imageURL string) error
}

// Deps are the collaborators of a Flow. Camera, Storage, History and Mirror
// are optional.
type Deps struct {
	Camera    Camera
	Submitter Submitter
	Identity  Identity
	Storage   storage.Store
	History   HistorySaver
	Mirror    Mirror
}

// Options tune encoding and presentation.
type Options struct {
	Constraints     capture.Constraints
	Quality         float64
	MaxDimension    int
	Recommendations int
}

// Flow holds the image, result and error of the current cycle. Methods are
// safe for concurrent use; a response that arrives after a newer image was
// selected is discarded.
type Flow struct {
	deps Deps
	opts Options
	log  zerolog.Logger

	mu      sync.Mutex
	state   State
	gen     uint64
	payload *imaging.Payload
	result  *models.AnalysisResult
	display *nutrition.Display
	err     error
}

func New(deps Deps, opts Options, log zerolog.Logger) *Flow {
	if opts.Quality <= 0 {
		opts.Quality = imaging.DefaultQuality
	}
	if opts.Constraints == (capture.Constraints{}) {
		opts.Constraints = capture.DefaultConstraints()
	}
	return &Flow{
		deps: deps,
		opts: opts,
		log:  log.With().Str("component", "flow").Logger(),
	}
}

// Capture takes a frame from the camera and makes it the current image.
func (f *Flow) Capture(ctx context.Context) error {
	if f.deps.Camera == nil {
		return f.failNow(capture.ErrDeviceNotFound)
	}
	f.mu.Lock()
	if f.state == Acquiring {
		f.mu.Unlock()
		return ErrBusy
	}
	gen := f.newImageLocked(Acquiring)
	f.mu.Unlock()

	img, err := f.deps.Camera.Snapshot(ctx, f.opts.Constraints)
	var payload *imaging.Payload
	if err == nil {
		payload, err = imaging.Encode(img.Pixels, f.opts.Quality)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if gen != f.gen {
		return ErrSuperseded
	}
	if err != nil {
		f.failLocked(err)
		return err
	}
	f.payload = payload
	f.state = Ready
	f.log.Debug().Int("bytes", payload.Size()).Int("width", img.Width).Int("height", img.Height).Msg("Frame captured")
	return nil
}

// Upload makes a file the current image, downscaling it if needed.
func (f *Flow) Upload(name string, data []byte) error {
	payload, err := imaging.FromFile(name, data, f.opts.MaxDimension, f.opts.Quality)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.newImageLocked(Idle)
	if err != nil {
		f.failLocked(err)
		return err
	}
	f.payload = payload
	f.state = Ready
	return nil
}

// Analyze submits the current image. On success the result and its display
// form replace any previous ones and the state returns to Ready.
func (f *Flow) Analyze(ctx context.Context) (*nutrition.Display, error) {
	f.mu.Lock()
	if f.state == Analyzing {
		f.mu.Unlock()
		return nil, ErrBusy
	}
	if f.payload == nil {
		f.mu.Unlock()
		return nil, ErrNoImage
	}
	payload, gen := f.payload, f.gen
	f.state = Analyzing
	f.err = nil
	f.mu.Unlock()

	req := analysis.Request{Payload: payload}
	if f.deps.Identity != nil {
		req.Identity = f.deps.Identity.Identity()
	}
	result, err := f.deps.Submitter.Submit(ctx, req)
	var display *nutrition.Display
	if err == nil {
		display, err = nutrition.Present(result, f.opts.Recommendations)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if gen != f.gen {
		f.log.Debug().Msg("Discarding stale analysis response")
		return nil, ErrSuperseded
	}
	if err != nil {
		f.failLocked(err)
		return nil, err
	}
	f.result, f.display = result, display
	f.state = Ready
	return display, nil
}

// Save uploads the image, appends the result to the remote history and
// records it locally. It returns the stored image URL, which is empty when
// no storage is configured.
func (f *Flow) Save(ctx context.Context) (string, error) {
	f.mu.Lock()
	payload, result, display := f.payload, f.result, f.display
	f.mu.Unlock()
	if result == nil {
		return "", ErrNoResult
	}
	if f.deps.Identity == nil {
		return "", analysis.ErrUnauthorized
	}
	user, err := f.deps.Identity.User()
	if err != nil {
		return "", fmt.Errorf("%w: %v", analysis.ErrUnauthorized, err)
	}

	var imageURL string
	if f.deps.Storage != nil {
		imageURL, err = f.deps.Storage.Put(ctx, result.Label, payload)
		if err != nil {
			return "", fmt.Errorf("failed to store image: %w", err)
		}
	}

	if f.deps.Mirror != nil {
		stored := &models.StoredAnalysis{
			ID:        result.ID,
			UserID:    user.Email,
			Result:    result,
			ImageURL:  imageURL,
			CreatedAt: time.Now(),
		}
		if payload != nil {
			stored.ImageData = payload.Data
		}
		if err := f.deps.Mirror.SaveAnalysis(ctx, stored); err != nil {
			f.log.Warn().Err(err).Msg("Failed to record analysis locally")
		}
	}

	if f.deps.History != nil {
		var recs []models.Recommendation
		if display != nil {
			recs = display.Recommendations
		}
		if _, err := f.deps.History.Save(ctx, user, history.SaveRequest{
			ImageURL:        imageURL,
			Result:          result,
			Recommendations: recs,
		}); err != nil {
			return imageURL, err
		}
		if f.deps.Mirror != nil {
			if err := f.deps.Mirror.MarkSynced(ctx, result.ID, imageURL); err != nil {
				f.log.Warn().Err(err).Msg("Failed to mark analysis synced")
			}
		}
	}
	return imageURL, nil
}

// Reset discards the image, result and error.
func (f *Flow) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.newImageLocked(Idle)
}

func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Err is the failure that moved the flow into Error.
func (f *Flow) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *Flow) Result() *models.AnalysisResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result
}

func (f *Flow) Display() *nutrition.Display {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.display
}

// Payload is the current encoded image.
func (f *Flow) Payload() *imaging.Payload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.payload
}

// newImageLocked clears the cycle and invalidates in-flight work.
func (f *Flow) newImageLocked(state State) uint64 {
	f.gen++
	f.payload, f.result, f.display, f.err = nil, nil, nil, nil
	f.state = state
	return f.gen
}

func (f *Flow) failLocked(err error) {
	f.state = Error
	f.err = err
	f.log.Warn().Err(err).Msg(Remedy(err))
}

func (f *Flow) failNow(err error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failLocked(err)
	return err
}
