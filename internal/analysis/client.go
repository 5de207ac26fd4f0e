// Package analysis submits encoded images to the analysis proxy.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/franckalain/foodlens/internal/imaging"
	"github.com/franckalain/foodlens/internal/models"
	"github.com/franckalain/foodlens/internal/nutrition"
)

// PredictPath is the proxy route that accepts analysis requests.
const PredictPath = "/api/predict"

// Identity header names sent alongside the bearer credential.
const (
	HeaderUserEmail = "X-User-Email"
	HeaderUserName  = "X-User-Name"
)

const maxBodyBytes = 1 << 20

// Identity is the user on whose behalf an image is analysed.
type Identity struct {
	Email string
	Name  string
	Token string
}

// Request is one analyze action.
type Request struct {
	Payload  *imaging.Payload
	Identity Identity
}

// Client talks to the analysis proxy.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates a client for the proxy at baseURL. A nil httpClient gets
// a 60 second timeout.
func NewClient(baseURL string, httpClient *http.Client, log zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		log:        log.With().Str("component", "analysis").Logger(),
	}
}

// Submit posts the payload and returns the parsed result. Credentials and
// identity are validated before any network call. Submissions are not
// idempotent upstream, so Submit never retries.
func (c *Client) Submit(ctx context.Context, req Request) (*models.AnalysisResult, error) {
	if strings.TrimSpace(req.Identity.Token) == "" {
		return nil, fmt.Errorf("%w: no bearer credential", ErrUnauthorized)
	}
	if strings.TrimSpace(req.Identity.Email) == "" || strings.TrimSpace(req.Identity.Name) == "" {
		return nil, fmt.Errorf("%w: user email and name are required", ErrInvalidRequest)
	}
	if req.Payload.Size() == 0 {
		return nil, fmt.Errorf("%w: empty image payload", ErrInvalidRequest)
	}

	body, contentType, err := multipartBody(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+PredictPath, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.Identity.Token)
	httpReq.Header.Set(HeaderUserEmail, req.Identity.Email)
	httpReq.Header.Set(HeaderUserName, req.Identity.Name)

	c.log.Debug().Int("bytes", req.Payload.Size()).Str("email", req.Identity.Email).Msg("Submitting image for analysis")
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrNetworkUnreachable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrNetworkUnreachable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{Status: resp.StatusCode, Body: string(raw)}
	}

	result, err := ParseEnvelope(raw)
	if err != nil {
		return nil, err
	}
	c.log.Info().Str("label", result.Label).Float64("confidence", result.Confidence).Msg("Analysis completed")
	return result, nil
}

// ParseEnvelope decodes a success envelope into an AnalysisResult.
func ParseEnvelope(raw []byte) (*models.AnalysisResult, error) {
	var env models.PredictionEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if env.Prediction == nil {
		return nil, fmt.Errorf("%w: missing prediction", ErrMalformedResponse)
	}
	if env.Prediction.Label == "" {
		return nil, fmt.Errorf("%w: missing prediction label", ErrMalformedResponse)
	}
	return NewResult(*env.Prediction), nil
}

// NewResult stamps a prediction with an id, its balance and the current time.
func NewResult(p models.Prediction) *models.AnalysisResult {
	return &models.AnalysisResult{
		ID:         uuid.New().String(),
		Prediction: p,
		Balance:    nutrition.ClassifyBalance(p.NutritionStatus),
		AnalyzedAt: time.Now(),
	}
}

func multipartBody(p *imaging.Payload) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	name := p.Filename
	if name == "" {
		name = "image.jpg"
	}
	mimeType := p.MIMEType
	if mimeType == "" {
		mimeType = imaging.MIMEJPEG
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, name))
	h.Set("Content-Type", mimeType)

	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(p.Data); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}
