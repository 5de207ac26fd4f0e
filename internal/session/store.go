// Package session keeps the authenticated user and credential for the
// lifetime of the client, persisting them between runs.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/franckalain/foodlens/internal/analysis"
	"github.com/franckalain/foodlens/internal/database"
	"github.com/franckalain/foodlens/internal/models"
)

// Persister is the storage the store hydrates from and writes to.
type Persister interface {
	SaveSession(ctx context.Context, session *models.Session) error
	LoadSession(ctx context.Context) (*models.Session, error)
	ClearSession(ctx context.Context) error
}

// Authenticator performs login and registration against the auth backend.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*models.Session, error)
	Register(ctx context.Context, name, email, password string) (*models.Session, error)
}

// Store owns the current session. The zero session means logged out.
type Store struct {
	persist Persister
	auth    Authenticator
	log     zerolog.Logger
	now     func() time.Time

	mu      sync.RWMutex
	current *models.Session
}

// NewStore creates an empty store. Call Hydrate to restore a saved session.
func NewStore(persist Persister, auth Authenticator, log zerolog.Logger) *Store {
	return &Store{
		persist: persist,
		auth:    auth,
		log:     log.With().Str("component", "session").Logger(),
		now:     time.Now,
	}
}

// Hydrate restores the persisted session. Corrupt or expired sessions are
// removed from storage and leave the store logged out.
func (s *Store) Hydrate(ctx context.Context) error {
	sess, err := s.persist.LoadSession(ctx)
	if errors.Is(err, database.ErrCorruptSession) {
		s.log.Warn().Err(err).Msg("Discarding unreadable saved session")
		return s.clear(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	if sess == nil {
		return nil
	}
	if sess.Token == "" || sess.Expired(s.now()) {
		s.log.Info().Time("expired_at", sess.ExpiresAt).Msg("Saved session expired")
		return s.clear(ctx)
	}

	s.mu.Lock()
	s.current = sess
	s.mu.Unlock()
	s.log.Debug().Str("user", sess.User.Email).Msg("Session restored")
	return nil
}

// Login authenticates and persists the new session.
func (s *Store) Login(ctx context.Context, email, password string) (*models.User, error) {
	sess, err := s.auth.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return s.adopt(ctx, sess)
}

// Register creates an account, then behaves like Login.
func (s *Store) Register(ctx context.Context, name, email, password string) (*models.User, error) {
	sess, err := s.auth.Register(ctx, name, email, password)
	if err != nil {
		return nil, err
	}
	return s.adopt(ctx, sess)
}

// Logout clears the session from memory and storage.
func (s *Store) Logout(ctx context.Context) error {
	return s.clear(ctx)
}

// Authenticated reports whether a session is held.
func (s *Store) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current != nil
}

// User returns a copy of the signed-in user.
func (s *Store) User() (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return models.User{}, ErrNotAuthenticated
	}
	return s.current.User, nil
}

// Token returns the bearer credential, or "" when logged out.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return ""
	}
	return s.current.Token
}

// Identity returns the identity attached to analysis submissions. When
// logged out the identity is empty and submission fails as unauthorized.
func (s *Store) Identity() analysis.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return analysis.Identity{}
	}
	return analysis.Identity{
		Email: s.current.User.Email,
		Name:  s.current.User.Name,
		Token: s.current.Token,
	}
}

// Authorize sets the bearer header on req if a session is held.
func (s *Store) Authorize(req *http.Request) {
	if token := s.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func (s *Store) adopt(ctx context.Context, sess *models.Session) (*models.User, error) {
	if err := s.persist.SaveSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	s.mu.Lock()
	s.current = sess
	s.mu.Unlock()
	s.log.Info().Str("user", sess.User.Email).Msg("Signed in")
	u := sess.User
	return &u, nil
}

func (s *Store) clear(ctx context.Context) error {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
	if err := s.persist.ClearSession(ctx); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}
