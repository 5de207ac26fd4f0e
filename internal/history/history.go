// Package history reads and writes the remote upload history of a user.
package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/franckalain/foodlens/internal/models"
)

var ErrNoUser = errors.New("history requires a signed-in user")

// Authorizer attaches credentials to outgoing requests.
type Authorizer interface {
	Authorize(req *http.Request)
}

// Client talks to the history REST backend.
type Client struct {
	baseURL    string
	auth       Authorizer
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates a history client. A nil httpClient gets a 15 second
// timeout.
func NewClient(baseURL string, auth Authorizer, httpClient *http.Client, log zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		auth:       auth,
		httpClient: httpClient,
		log:        log.With().Str("component", "history").Logger(),
	}
}

type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

// Fetch returns the user's history, newest as ordered by the backend. A user
// without history (404) gets an empty list.
func (c *Client) Fetch(ctx context.Context, userID string) ([]models.HistoryEntry, error) {
	if userID == "" {
		return nil, ErrNoUser
	}
	endpoint := c.baseURL + "/upload-history/user/" + url.PathEscape(userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		c.log.Debug().Str("user", userID).Msg("No history found for user")
		return []models.HistoryEntry{}, nil
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("history service returned status %d", resp.StatusCode)
	}

	items, err := decodeItems(raw)
	if err != nil {
		return nil, err
	}
	entries := make([]models.HistoryEntry, 0, len(items))
	for i, item := range items {
		entries = append(entries, Normalize(item, i))
	}
	return entries, nil
}

// decodeItems accepts {status:"success", data:[...]}, {status, data:{...}}
// and a bare array.
func decodeItems(raw []byte) ([]map[string]any, error) {
	var list []map[string]any
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to decode history: %w", err)
	}
	if env.Status != "success" || len(env.Data) == 0 || string(env.Data) == "null" {
		return []map[string]any{}, nil
	}
	if err := json.Unmarshal(env.Data, &list); err == nil {
		return list, nil
	}
	var single map[string]any
	if err := json.Unmarshal(env.Data, &single); err != nil {
		return nil, fmt.Errorf("failed to decode history data: %w", err)
	}
	return []map[string]any{single}, nil
}

// SaveRequest is one analysis to append to the history.
type SaveRequest struct {
	ImageURL        string
	Result          *models.AnalysisResult
	Recommendations []models.Recommendation
}

type savePayload struct {
	Name           string  `json:"name"`
	Email          string  `json:"email"`
	ImageURL       *string `json:"imageUrl"`
	AnalysisResult string  `json:"analysisResult"`
	Recommendation string  `json:"recommendation"`
}

// Save posts an analysis. The result and recommendations travel as
// JSON-encoded strings. The saved item echoed by the backend is returned raw;
// a 2xx reply that echoes nothing readable yields an empty, non-nil message.
func (c *Client) Save(ctx context.Context, user models.User, sr SaveRequest) (json.RawMessage, error) {
	if user.Email == "" {
		return nil, ErrNoUser
	}
	if sr.Result == nil {
		return nil, errors.New("history save requires an analysis result")
	}
	resultJSON, err := json.Marshal(sr.Result)
	if err != nil {
		return nil, err
	}
	recs := sr.Recommendations
	if recs == nil {
		recs = []models.Recommendation{}
	}
	recsJSON, err := json.Marshal(recs)
	if err != nil {
		return nil, err
	}

	payload := savePayload{
		Name:           user.Name,
		Email:          user.Email,
		AnalysisResult: string(resultJSON),
		Recommendation: string(recsJSON),
	}
	if sr.ImageURL != "" {
		payload.ImageURL = &sr.ImageURL
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload-history", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to save history: %w", err)
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("history service returned status %d", resp.StatusCode)
	}
	if readErr != nil {
		return nil, fmt.Errorf("failed to read history response: %w", readErr)
	}
	c.log.Info().Str("result", sr.Result.ID).Msg("Analysis saved to history")

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || len(env.Data) == 0 {
		c.log.Debug().Int("status", resp.StatusCode).Msg("History service echoed no saved item")
		return json.RawMessage{}, nil
	}
	return env.Data, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.auth != nil {
		c.auth.Authorize(req)
	}
}
