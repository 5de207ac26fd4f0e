package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franckalain/foodlens/internal/models"
)

func newTestDB(t *testing.T) *SQLiteDB {
	t.Helper()
	db, err := NewSQLiteDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSession_RoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	loaded, err := db.LoadSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, loaded)

	exp := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, db.SaveSession(ctx, &models.Session{
		Token:     "tok",
		User:      models.User{ID: "42", Email: "sari@example.com", Name: "Sari"},
		ExpiresAt: exp,
	}))

	loaded, err = db.LoadSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "tok", loaded.Token)
	assert.Equal(t, "Sari", loaded.User.Name)
	assert.True(t, exp.Equal(loaded.ExpiresAt))
	assert.False(t, loaded.CreatedAt.IsZero())

	// saving again replaces the single slot
	require.NoError(t, db.SaveSession(ctx, &models.Session{Token: "tok2", User: models.User{ID: "7"}}))
	loaded, err = db.LoadSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok2", loaded.Token)
	assert.True(t, loaded.ExpiresAt.IsZero())

	require.NoError(t, db.ClearSession(ctx))
	loaded, err = db.LoadSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestLoadSession_Corrupt(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.db.ExecContext(ctx,
		`INSERT INTO sessions (slot, token, user_json, created_at) VALUES (?, ?, ?, ?)`,
		currentSlot, "tok", "{not json", formatTime(time.Now()))
	require.NoError(t, err)

	_, err = db.LoadSession(ctx)
	assert.ErrorIs(t, err, ErrCorruptSession)
}

func sampleAnalysis(id, user string, at time.Time) *models.StoredAnalysis {
	return &models.StoredAnalysis{
		ID:     id,
		UserID: user,
		Result: &models.AnalysisResult{
			ID: id,
			Prediction: models.Prediction{
				Label:      "nasi_goreng",
				Confidence: 0.8,
				Nutrition:  models.Nutrition{Protein: 10, Karbohidrat: 50, Lemak: 20, Kalori: 450},
			},
			Balance: models.NeedsAttention,
		},
		ImageData: []byte{1, 2, 3},
		CreatedAt: at,
	}
}

func TestAnalyses(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 1, 12, 0, 0, 100_000_000, time.UTC)

	require.NoError(t, db.SaveAnalysis(ctx, sampleAnalysis("a", "u1", base)))
	require.NoError(t, db.SaveAnalysis(ctx, sampleAnalysis("b", "u1", base.Add(20*time.Millisecond))))
	require.NoError(t, db.SaveAnalysis(ctx, sampleAnalysis("c", "u2", base.Add(time.Hour))))

	got, err := db.GetAnalysis(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "nasi_goreng", got.Result.Label)
	assert.Equal(t, 450.0, got.Result.Nutrition.Kalori)
	assert.Equal(t, models.NeedsAttention, got.Result.Balance)
	assert.Equal(t, []byte{1, 2, 3}, got.ImageData)
	assert.False(t, got.Synced)

	missing, err := db.GetAnalysis(ctx, "zzz")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, db.MarkSynced(ctx, "a", "https://cdn.example.com/a.jpg"))
	got, err = db.GetAnalysis(ctx, "a")
	require.NoError(t, err)
	assert.True(t, got.Synced)
	assert.Equal(t, "https://cdn.example.com/a.jpg", got.ImageURL)
	assert.Error(t, db.MarkSynced(ctx, "zzz", ""))

	recent, err := db.GetRecentAnalyses(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "b", recent[0].ID)
	assert.Equal(t, "a", recent[1].ID)

	limited, err := db.GetRecentAnalyses(ctx, "u1", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSaveAnalysis_NoResult(t *testing.T) {
	db := newTestDB(t)
	err := db.SaveAnalysis(context.Background(), &models.StoredAnalysis{ID: "x"})
	assert.Error(t, err)
}

func TestPruneAnalyses(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, db.SaveAnalysis(ctx, sampleAnalysis(id, "u1", base.Add(time.Duration(i)*time.Minute))))
	}
	require.NoError(t, db.SaveAnalysis(ctx, sampleAnalysis("other", "u2", base)))

	require.NoError(t, db.PruneAnalyses(ctx, "u1", 2))

	recent, err := db.GetRecentAnalyses(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "d", recent[0].ID)
	assert.Equal(t, "c", recent[1].ID)

	kept, err := db.GetAnalysis(ctx, "other")
	require.NoError(t, err)
	assert.NotNil(t, kept, "other users are untouched")
}
