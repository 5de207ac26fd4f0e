// Package ml holds the prediction backends the proxy relays images to.
package ml

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/franckalain/foodlens/internal/models"
)

// ErrNotLoaded is returned by Predict before Load succeeded.
var ErrNotLoaded = errors.New("model not loaded")

// PredictRequest is one image relayed by the proxy.
type PredictRequest struct {
	Image         []byte
	MIMEType      string
	Filename      string
	Authorization string // forwarded verbatim to remote backends
	UserEmail     string
	UserName      string
}

// Model represents a prediction backend that can process images
type Model interface {
	// Load initializes the model with its configuration
	Load(ctx context.Context) error
	// Predict returns the upstream envelope for one image
	Predict(ctx context.Context, req *PredictRequest) (*models.PredictionEnvelope, error)
}

// ModelFactory creates a new model instance based on configuration
type ModelFactory interface {
	// CreateModel creates a new model instance
	CreateModel() (Model, error)
}

// UpstreamStatusError is a non-2xx answer from a remote backend.
type UpstreamStatusError struct {
	Status int
	Body   string
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("prediction service returned status %d", e.Status)
}

// Options selects and configures a backend.
type Options struct {
	Type       string // "remote" or "google"
	Endpoint   string
	Timeout    time.Duration
	ConfigPath string
}

// NewModel creates a new model instance based on the model type
func NewModel(opts Options, log zerolog.Logger) (Model, error) {
	var factory ModelFactory
	log = log.With().Str("component", "ml").Str("backend", opts.Type).Logger()

	switch opts.Type {
	case "remote", "":
		config := RemoteConfig{
			BaseConfig: BaseConfig{ConfigPath: opts.ConfigPath},
			Endpoint:   opts.Endpoint,
			Timeout:    opts.Timeout,
		}
		if err := config.Load(log); err != nil {
			return nil, fmt.Errorf("failed to load remote config: %w", err)
		}
		factory = NewRemoteModelFactory(config, log)
	case "google":
		config := GoogleConfig{
			BaseConfig: BaseConfig{ConfigPath: opts.ConfigPath},
		}
		if err := config.Load(log); err != nil {
			return nil, fmt.Errorf("failed to load Google config: %w", err)
		}
		factory = NewGoogleModelFactory(config, log)
	default:
		return nil, fmt.Errorf("unsupported model type: %s", opts.Type)
	}
	return factory.CreateModel()
}
