package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/franckalain/foodlens/internal/analysis"
	"github.com/franckalain/foodlens/internal/ml"
	"github.com/franckalain/foodlens/internal/models"
)

const (
	analyzeFailed  = "Failed to analyze image"
	storedPerOwner = 100
)

func (s *Server) setCORS(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", s.opts.AllowedOrigin)
	h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+analysis.HeaderUserEmail+", "+analysis.HeaderUserName)
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	s.setCORS(w)
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
		return
	case http.MethodPost:
	default:
		w.Header().Set("Allow", "POST, OPTIONS")
		writeJSON(w, http.StatusMethodNotAllowed, models.ErrorEnvelope{Error: "Method not allowed"})
		return
	}

	auth := r.Header.Get("Authorization")
	if bearerToken(auth) == "" {
		writeJSON(w, http.StatusUnauthorized, models.ErrorEnvelope{
			Error:   analyzeFailed,
			Details: "missing bearer credential",
		})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.opts.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		status := http.StatusBadRequest
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, status, models.ErrorEnvelope{Error: analyzeFailed, Details: err.Error()})
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("image")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorEnvelope{Error: analyzeFailed, Details: "missing image field"})
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil || len(data) == 0 {
		writeJSON(w, http.StatusBadRequest, models.ErrorEnvelope{Error: analyzeFailed, Details: "empty image"})
		return
	}

	req := &ml.PredictRequest{
		Image:         data,
		MIMEType:      header.Header.Get("Content-Type"),
		Filename:      header.Filename,
		Authorization: auth,
		UserEmail:     r.Header.Get(analysis.HeaderUserEmail),
		UserName:      r.Header.Get(analysis.HeaderUserName),
	}
	env, err := s.model.Predict(r.Context(), req)
	if err != nil {
		s.log.Error().Err(err).Msg("Error in predict route")
		status := http.StatusInternalServerError
		var upstream *ml.UpstreamStatusError
		if errors.As(err, &upstream) {
			status = http.StatusBadGateway
		}
		writeJSON(w, status, models.ErrorEnvelope{Error: analyzeFailed, Details: err.Error()})
		return
	}

	s.record(r.Context(), s.ownerOf(bearerToken(auth)), env)
	writeJSON(w, http.StatusOK, env)
}

// record mirrors a successful prediction into the local database under
// owner so the websocket history can serve it. Only the result is kept, and
// each owner keeps at most storedPerOwner rows. Failures are logged and never
// fail the request.
func (s *Server) record(ctx context.Context, owner string, env *models.PredictionEnvelope) *models.AnalysisResult {
	if env == nil || env.Prediction == nil || env.Prediction.Label == "" {
		return nil
	}
	result := analysis.NewResult(*env.Prediction)
	if s.db == nil || owner == "" {
		return result
	}
	stored := &models.StoredAnalysis{
		ID:        result.ID,
		UserID:    owner,
		Result:    result,
		CreatedAt: time.Now(),
	}
	if err := s.db.SaveAnalysis(ctx, stored); err != nil {
		s.log.Warn().Err(err).Str("user", owner).Msg("Failed to record analysis")
		return result
	}
	if err := s.db.PruneAnalyses(ctx, owner, storedPerOwner); err != nil {
		s.log.Warn().Err(err).Str("user", owner).Msg("Failed to prune analyses")
	}
	return result
}

// ownerOf is historyOwner for callers that only record: an unverifiable
// token records nothing.
func (s *Server) ownerOf(token string) string {
	owner, err := s.historyOwner(token)
	if err != nil && !errors.Is(err, errHistoryDisabled) {
		s.log.Debug().Err(err).Msg("Not recording analysis")
	}
	return owner
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
