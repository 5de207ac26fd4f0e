package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franckalain/foodlens/internal/ml"
	"github.com/franckalain/foodlens/internal/models"
	"github.com/franckalain/foodlens/internal/nutrition"
	"github.com/franckalain/foodlens/internal/server"
)

type stubModel struct{}

func (stubModel) Load(ctx context.Context) error { return nil }

func (stubModel) Predict(ctx context.Context, req *ml.PredictRequest) (*models.PredictionEnvelope, error) {
	return &models.PredictionEnvelope{
		Status: "success",
		Prediction: &models.Prediction{
			Label:           "grilled_salmon",
			Confidence:      0.91,
			Nutrition:       models.Nutrition{Protein: 30, Karbohidrat: 10, Lemak: 10, Kalori: 320},
			NutritionStatus: "Seimbang",
		},
	}, nil
}

type backend struct {
	configPath string
	imagePath  string
	saves      atomic.Int32
}

func newBackend(t *testing.T) *backend {
	t.Helper()
	dir := t.TempDir()
	b := &backend{}

	auth := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["password"] != "password1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"token": "opaque",
			"user":  map[string]any{"id": 7, "email": body["email"], "name": "Sari"},
		})
	}))
	t.Cleanup(auth.Close)

	hist := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer opaque" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Method == http.MethodPost {
			b.saves.Add(1)
			w.WriteHeader(http.StatusCreated)
			io.WriteString(w, `{"status":"success","data":{"id":"h1"}}`)
			return
		}
		io.WriteString(w, `{"status":"success","data":[{"id":"h1","createdAt":"2026-10-01","analysisResult":"{\"label\":\"rendang\",\"confidence\":0.5,\"nutrition\":{\"kalori\":500}}"}]}`)
	}))
	t.Cleanup(hist.Close)

	proxy := httptest.NewServer(server.New(nil, stubModel{}, server.Options{}, zerolog.Nop()).Handler())
	t.Cleanup(proxy.Close)

	cfg := map[string]any{
		"server":   map[string]any{"port": "8080"},
		"database": map[string]any{"path": filepath.Join(dir, "client.db")},
		"auth":     map[string]any{"base_url": auth.URL},
		"history":  map[string]any{"base_url": hist.URL},
		"client":   map[string]any{"proxy_url": proxy.URL},
		"storage":  map[string]any{"type": "local", "dir": filepath.Join(dir, "uploads")},
		"logging":  map[string]any{"level": "error"},
	}
	raw, err := json.Marshal(cfg)
	require.NoError(t, err)
	b.configPath = filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(b.configPath, raw, 0o644))

	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	for i := 0; i < 32; i++ {
		img.Set(i, i%24, color.RGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	b.imagePath = filepath.Join(dir, "lunch.png")
	require.NoError(t, os.WriteFile(b.imagePath, buf.Bytes(), 0o644))
	return b
}

func (b *backend) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"--config", b.configPath}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCLI_EndToEnd(t *testing.T) {
	b := newBackend(t)

	_, err := b.run(t, "history")
	assert.Error(t, err, "history requires a session")

	_, err = b.run(t, "login", "--email", "sari@example.com", "--password", "wrong")
	assert.ErrorContains(t, err, "incorrect")

	out, err := b.run(t, "login", "--email", "sari@example.com", "--password", "password1")
	require.NoError(t, err)
	assert.Contains(t, out, "Signed in as Sari")

	out, err = b.run(t, "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "sari@example.com")

	out, err = b.run(t, "analyze", b.imagePath, "--save")
	require.NoError(t, err)
	assert.Contains(t, out, "Grilled Salmon (91% confidence)")
	assert.Contains(t, out, "Protein 60% | Carbs 20% | Fat 20%")
	assert.Contains(t, out, "Nutrition: Balanced")
	assert.Contains(t, out, "Saved to history (file://")
	assert.Equal(t, int32(1), b.saves.Load())

	out, err = b.run(t, "history", "--local")
	require.NoError(t, err)
	assert.Contains(t, out, "Grilled Salmon")
	assert.Contains(t, out, "320")

	out, err = b.run(t, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "Rendang")
	assert.Contains(t, out, "50%")

	out, err = b.run(t, "logout")
	require.NoError(t, err)
	assert.Contains(t, out, "Signed out")

	_, err = b.run(t, "whoami")
	assert.ErrorContains(t, err, "Log in again")
}

func TestCLI_SnapWithoutCamera(t *testing.T) {
	b := newBackend(t)
	t.Setenv("FOODLENS_CAMERA_URL", "")
	_, err := b.run(t, "snap")
	assert.ErrorContains(t, err, "No camera")
}

func TestPrintDisplay(t *testing.T) {
	var buf bytes.Buffer
	printDisplay(&buf, &nutrition.Display{
		Label:             "Gado Gado",
		ConfidencePercent: 70,
		Calories:          340.4,
		Macros:            nutrition.Macros{Protein: 20, Carbs: 50, Fat: 30},
		Balance:           models.NeedsAttention,
		Recommendations:   []models.Recommendation{{Name: "Tofu Salad", Description: "Light and high in protein"}},
	})
	out := buf.String()
	assert.Contains(t, out, "Gado Gado (70% confidence)")
	assert.Contains(t, out, "Calories: 340 kcal")
	assert.Contains(t, out, "Needs attention")
	assert.Contains(t, out, "- Tofu Salad: Light and high in protein")
}

func TestPrintHistory(t *testing.T) {
	var buf bytes.Buffer
	printHistory(&buf, nil)
	assert.Equal(t, "No history yet\n", buf.String())

	buf.Reset()
	pct := 88
	printHistory(&buf, []models.HistoryEntry{{Name: "soto_ayam", Confidence: &pct, Status: models.Balanced}})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "Soto Ayam")
	assert.Contains(t, lines[1], "88%")
	assert.Contains(t, lines[1], "balanced")
}
