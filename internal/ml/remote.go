package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/franckalain/foodlens/internal/models"
)

const defaultRemoteTimeout = 30 * time.Second

// RemoteConfig holds configuration for the hosted prediction service
type RemoteConfig struct {
	BaseConfig
	Endpoint string        `json:"endpoint"`
	Timeout  time.Duration `json:"-"`
	// TimeoutSeconds is the file form of Timeout.
	TimeoutSeconds int `json:"timeout_seconds"`
}

// Load fills unset fields from the config file, then the environment.
func (c *RemoteConfig) Load(log zerolog.Logger) error {
	endpoint, timeout := c.Endpoint, c.Timeout
	if err := c.LoadConfig("remote", c, log); err != nil {
		return err
	}
	// explicit options win over the file
	if endpoint != "" {
		c.Endpoint = endpoint
	}
	if c.Endpoint == "" {
		c.Endpoint = os.Getenv("ML_ENDPOINT")
	}
	if c.Endpoint == "" {
		return errors.New("remote model requires an endpoint")
	}

	switch {
	case timeout > 0:
		c.Timeout = timeout
	case c.TimeoutSeconds > 0:
		c.Timeout = time.Duration(c.TimeoutSeconds) * time.Second
	default:
		c.Timeout = defaultRemoteTimeout
	}
	return nil
}

// RemoteModel relays images to the hosted prediction service
type RemoteModel struct {
	config     RemoteConfig
	httpClient *http.Client
	log        zerolog.Logger
}

// RemoteModelFactory implements ModelFactory for remote models
type RemoteModelFactory struct {
	config RemoteConfig
	log    zerolog.Logger
}

// NewRemoteModelFactory creates a new remote model factory
func NewRemoteModelFactory(config RemoteConfig, log zerolog.Logger) *RemoteModelFactory {
	return &RemoteModelFactory{config: config, log: log}
}

// CreateModel creates a new remote model instance
func (f *RemoteModelFactory) CreateModel() (Model, error) {
	return NewRemoteModel(f.config, nil, f.log), nil
}

// NewRemoteModel creates a relay. A nil httpClient gets the configured
// timeout.
func NewRemoteModel(config RemoteConfig, httpClient *http.Client, log zerolog.Logger) *RemoteModel {
	if httpClient == nil {
		timeout := config.Timeout
		if timeout <= 0 {
			timeout = defaultRemoteTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &RemoteModel{config: config, httpClient: httpClient, log: log}
}

// Load has nothing to initialise for a remote service.
func (m *RemoteModel) Load(ctx context.Context) error {
	if m.config.Endpoint == "" {
		return errors.New("remote model requires an endpoint")
	}
	m.log.Info().Str("endpoint", m.config.Endpoint).Msg("Relaying predictions to remote service")
	return nil
}

// Predict forwards the image as multipart field "image" together with the
// caller's Authorization header.
func (m *RemoteModel) Predict(ctx context.Context, req *PredictRequest) (*models.PredictionEnvelope, error) {
	if m.config.Endpoint == "" {
		return nil, ErrNotLoaded
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	filename := req.Filename
	if filename == "" {
		filename = "image.jpg"
	}
	mimeType := req.MIMEType
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, filename))
	h.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(req.Image); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.config.Endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to build prediction request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	if req.Authorization != "" {
		httpReq.Header.Set("Authorization", req.Authorization)
	}

	start := time.Now()
	resp, err := m.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to reach prediction service: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read prediction response: %w", err)
	}
	m.log.Debug().
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("Prediction service responded")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UpstreamStatusError{Status: resp.StatusCode, Body: string(raw)}
	}

	var env models.PredictionEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to parse prediction response: %w", err)
	}
	return &env, nil
}
