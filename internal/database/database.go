package database

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/franckalain/foodlens/internal/models"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaFS embed.FS

// currentSlot is the key of the single persisted session row.
const currentSlot = "current"

// timeLayout has a fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// ErrCorruptSession is returned when a stored session cannot be decoded.
var ErrCorruptSession = errors.New("stored session is corrupt")

// DB interface defines the methods our database should implement
type DB interface {
	SaveSession(ctx context.Context, session *models.Session) error
	LoadSession(ctx context.Context) (*models.Session, error)
	ClearSession(ctx context.Context) error
	SaveAnalysis(ctx context.Context, analysis *models.StoredAnalysis) error
	GetAnalysis(ctx context.Context, id string) (*models.StoredAnalysis, error)
	MarkSynced(ctx context.Context, id, imageURL string) error
	GetRecentAnalyses(ctx context.Context, userID string, limit int) ([]*models.StoredAnalysis, error)
	PruneAnalyses(ctx context.Context, userID string, keep int) error
	Close() error
}

// SQLiteDB implements the DB interface
type SQLiteDB struct {
	db *sql.DB
}

// NewSQLiteDB creates a new SQLite database connection
func NewSQLiteDB(dbPath string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("error enabling WAL mode: %w", err)
	}

	if err := initializeSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing schema: %w", err)
	}

	return &SQLiteDB{db: db}, nil
}

func initializeSchema(db *sql.DB) error {
	schemaBytes, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("error reading schema file: %w", err)
	}

	if _, err := db.Exec(string(schemaBytes)); err != nil {
		return fmt.Errorf("error executing schema: %w", err)
	}
	return nil
}

// SaveSession replaces the persisted session
func (s *SQLiteDB) SaveSession(ctx context.Context, session *models.Session) error {
	userJSON, err := json.Marshal(session.User)
	if err != nil {
		return fmt.Errorf("error encoding session user: %w", err)
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO sessions (slot, token, user_json, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(slot) DO UPDATE SET
			token = excluded.token,
			user_json = excluded.user_json,
			expires_at = excluded.expires_at,
			created_at = excluded.created_at
	`
	_, err = s.db.ExecContext(ctx, query,
		currentSlot, session.Token, string(userJSON),
		formatTime(session.ExpiresAt), formatTime(session.CreatedAt),
	)
	return err
}

// LoadSession returns the persisted session, or nil if there is none.
// A row whose user cannot be decoded yields ErrCorruptSession.
func (s *SQLiteDB) LoadSession(ctx context.Context) (*models.Session, error) {
	query := `SELECT token, user_json, expires_at, created_at FROM sessions WHERE slot = ?`

	var token, userJSON, expiresAt, createdAt string
	err := s.db.QueryRowContext(ctx, query, currentSlot).Scan(&token, &userJSON, &expiresAt, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	session := &models.Session{Token: token}
	if err := json.Unmarshal([]byte(userJSON), &session.User); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSession, err)
	}
	session.ExpiresAt = parseTime(expiresAt)
	session.CreatedAt = parseTime(createdAt)
	return session, nil
}

// ClearSession removes the persisted session
func (s *SQLiteDB) ClearSession(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE slot = ?`, currentSlot)
	return err
}

// SaveAnalysis saves an analysis to the local mirror
func (s *SQLiteDB) SaveAnalysis(ctx context.Context, analysis *models.StoredAnalysis) error {
	if analysis.Result == nil {
		return fmt.Errorf("analysis %s has no result", analysis.ID)
	}
	resultJSON, err := json.Marshal(analysis.Result)
	if err != nil {
		return fmt.Errorf("error encoding analysis result: %w", err)
	}
	if analysis.CreatedAt.IsZero() {
		analysis.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO analyses (id, user_id, result_json, image_url, image_data, synced, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			result_json = excluded.result_json,
			image_url = excluded.image_url,
			image_data = excluded.image_data,
			synced = excluded.synced
	`
	_, err = s.db.ExecContext(ctx, query,
		analysis.ID, analysis.UserID, string(resultJSON), analysis.ImageURL,
		analysis.ImageData, boolToInt(analysis.Synced), formatTime(analysis.CreatedAt),
	)
	return err
}

// GetAnalysis retrieves a single analysis, or nil if it does not exist
func (s *SQLiteDB) GetAnalysis(ctx context.Context, id string) (*models.StoredAnalysis, error) {
	query := `
		SELECT id, user_id, result_json, image_url, image_data, synced, created_at
		FROM analyses WHERE id = ?
	`
	analysis, err := scanAnalysis(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return analysis, err
}

// MarkSynced records that an analysis was saved to the remote history
func (s *SQLiteDB) MarkSynced(ctx context.Context, id, imageURL string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE analyses SET synced = 1, image_url = ? WHERE id = ?`, imageURL, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("analysis %s not found", id)
	}
	return nil
}

// GetRecentAnalyses retrieves the most recent analyses of a user
func (s *SQLiteDB) GetRecentAnalyses(ctx context.Context, userID string, limit int) ([]*models.StoredAnalysis, error) {
	query := `
		SELECT id, user_id, result_json, image_url, image_data, synced, created_at
		FROM analyses
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*models.StoredAnalysis
	for rows.Next() {
		analysis, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, analysis)
	}
	return results, rows.Err()
}

// PruneAnalyses deletes all but the keep most recent analyses of a user
func (s *SQLiteDB) PruneAnalyses(ctx context.Context, userID string, keep int) error {
	if keep < 0 {
		keep = 0
	}
	query := `
		DELETE FROM analyses
		WHERE user_id = ? AND id NOT IN (
			SELECT id FROM analyses
			WHERE user_id = ?
			ORDER BY created_at DESC
			LIMIT ?
		)
	`
	_, err := s.db.ExecContext(ctx, query, userID, userID, keep)
	return err
}

// Close closes the database connection
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(row scanner) (*models.StoredAnalysis, error) {
	var (
		a          models.StoredAnalysis
		resultJSON string
		synced     int
		createdAt  string
	)
	if err := row.Scan(&a.ID, &a.UserID, &resultJSON, &a.ImageURL, &a.ImageData, &synced, &createdAt); err != nil {
		return nil, err
	}
	a.Result = &models.AnalysisResult{}
	if err := json.Unmarshal([]byte(resultJSON), a.Result); err != nil {
		return nil, fmt.Errorf("error decoding analysis %s: %w", a.ID, err)
	}
	a.Synced = synced != 0
	a.CreatedAt = parseTime(createdAt)
	return &a, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(timeLayout, s)
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
