package models

import "time"

// StoredAnalysis is the local mirror of an analysis that was submitted and
// saved to the remote history service.
type StoredAnalysis struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Result    *AnalysisResult `json:"result"`
	ImageURL  string          `json:"image_url"`
	ImageData []byte          `json:"-"`
	Synced    bool            `json:"synced"`
	CreatedAt time.Time       `json:"created_at"`
}
