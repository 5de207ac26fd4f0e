package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/franckalain/foodlens/internal/history"
	"github.com/franckalain/foodlens/internal/imaging"
	"github.com/franckalain/foodlens/internal/ml"
	"github.com/franckalain/foodlens/internal/models"
	"github.com/franckalain/foodlens/internal/nutrition"
)

const (
	historyLimit   = 20
	analyzeTimeout = 60 * time.Second
	recommendCount = 3
)

type inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type analyzeRequest struct {
	Image string `json:"image"` // base64 or data URL
	Token string `json:"token"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type historyRequest struct {
	Token string `json:"token"`
}

type analysisReply struct {
	Result  *models.AnalysisResult `json:"result"`
	Display *nutrition.Display     `json:"display"`
}

type macroTotal struct {
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
	Carbs    float64 `json:"carbs"`
	Fat      float64 `json:"fat"`
}

func (t *macroTotal) add(n models.Nutrition) {
	t.Calories += n.Kalori
	t.Protein += n.Protein
	t.Carbs += n.Karbohidrat
	t.Fat += n.Lemak
}

type historyReply struct {
	Items     []models.HistoryEntry `json:"items"`
	DayTotal  macroTotal            `json:"day_total"`
	WeekTotal macroTotal            `json:"week_total"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	clientID := uuid.New().String()
	s.clients.Store(clientID, conn)
	defer s.clients.Delete(clientID)
	log := s.log.With().Str("client", clientID).Logger()
	log.Debug().Msg("Client connected")

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("Error reading message")
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(message, &msg); err != nil {
			s.sendError(conn, "Invalid message format")
			continue
		}

		ctx, cancel := context.WithTimeout(r.Context(), analyzeTimeout)
		s.handleWebSocketMessage(ctx, conn, msg)
		cancel()
	}
}

func (s *Server) handleWebSocketMessage(ctx context.Context, conn *websocket.Conn, msg inbound) {
	switch msg.Type {
	case "analyze":
		var req analyzeRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			s.sendError(conn, "Invalid analyze request")
			return
		}
		s.handleAnalyze(ctx, conn, req)
	case "get_history":
		var req historyRequest
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &req); err != nil {
				s.sendError(conn, "Invalid history request")
				return
			}
		}
		s.handleGetHistory(ctx, conn, req)
	default:
		s.sendError(conn, "Unknown message type")
	}
}

func (s *Server) handleAnalyze(ctx context.Context, conn *websocket.Conn, req analyzeRequest) {
	if req.Token == "" {
		s.sendError(conn, "Missing bearer credential")
		return
	}
	payload, err := imaging.ParseDataURL(req.Image)
	if err != nil {
		s.sendError(conn, "Invalid image data")
		return
	}

	env, err := s.model.Predict(ctx, &ml.PredictRequest{
		Image:         payload.Data,
		MIMEType:      payload.MIMEType,
		Filename:      payload.Filename,
		Authorization: "Bearer " + req.Token,
		UserEmail:     req.Email,
		UserName:      req.Name,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("Error processing image")
		s.sendError(conn, analyzeFailed)
		return
	}

	result := s.record(ctx, s.ownerOf(req.Token), env)
	if result == nil {
		s.sendError(conn, "Prediction service returned no label")
		return
	}
	display, err := nutrition.Present(result, recommendCount)
	if err != nil {
		s.sendError(conn, analyzeFailed)
		return
	}
	s.log.Info().
		Str("label", result.Label).
		Float64("kalori", result.Nutrition.Kalori).
		Str("balance", string(result.Balance)).
		Msg("Successfully processed image")
	s.sendMessage(conn, "analysis_result", analysisReply{Result: result, Display: display})
}

func (s *Server) handleGetHistory(ctx context.Context, conn *websocket.Conn, req historyRequest) {
	if req.Token == "" {
		s.sendError(conn, "Missing bearer credential")
		return
	}
	if s.db == nil {
		s.sendError(conn, "History is not available")
		return
	}
	owner, err := s.historyOwner(req.Token)
	if errors.Is(err, errHistoryDisabled) {
		s.sendError(conn, "History is not available")
		return
	}
	if err != nil {
		s.log.Debug().Err(err).Msg("Rejected history request")
		s.sendError(conn, "Invalid bearer credential")
		return
	}
	stored, err := s.db.GetRecentAnalyses(ctx, owner, historyLimit)
	if err != nil {
		s.log.Error().Err(err).Msg("Error retrieving history")
		s.sendError(conn, "Failed to retrieve history")
		return
	}
	s.sendMessage(conn, "history", summarize(stored, time.Now()))
}

// summarize renders stored analyses with calendar-day and week totals.
// Weeks start on Sunday.
func summarize(stored []*models.StoredAnalysis, now time.Time) historyReply {
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	startOfWeek := startOfDay.AddDate(0, 0, -int(now.Weekday()))

	reply := historyReply{Items: make([]models.HistoryEntry, 0, len(stored))}
	for _, a := range stored {
		reply.Items = append(reply.Items, history.FromStored(a))
		if a.Result == nil || a.CreatedAt.Before(startOfWeek) {
			continue
		}
		reply.WeekTotal.add(a.Result.Nutrition)
		if !a.CreatedAt.Before(startOfDay) {
			reply.DayTotal.add(a.Result.Nutrition)
		}
	}
	return reply
}

func (s *Server) sendMessage(conn *websocket.Conn, messageType string, data any) {
	msg := map[string]any{
		"type": messageType,
		"data": data,
	}
	if err := conn.WriteJSON(msg); err != nil {
		s.log.Warn().Err(err).Str("type", messageType).Msg("Error sending message")
	}
}

func (s *Server) sendError(conn *websocket.Conn, message string) {
	msg := map[string]any{
		"type":    "error",
		"message": message,
	}
	if err := conn.WriteJSON(msg); err != nil {
		s.log.Warn().Err(err).Msg("Error sending error message")
	}
}
