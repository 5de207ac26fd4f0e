package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/franckalain/foodlens/internal/models"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrRejected           = errors.New("request rejected by auth service")
	ErrAuthUnavailable    = errors.New("auth service unavailable")
	ErrValidation         = errors.New("invalid registration data")
	ErrNotAuthenticated   = errors.New("not authenticated")
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// MinPasswordLength is enforced on registration.
const MinPasswordLength = 8

// AuthClient talks to the external REST auth backend.
type AuthClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewAuthClient creates a client for the backend at baseURL.
func NewAuthClient(baseURL string, httpClient *http.Client) *AuthClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &AuthClient{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

// Login exchanges credentials for a session.
func (c *AuthClient) Login(ctx context.Context, email, password string) (*models.Session, error) {
	body := map[string]string{"email": email, "password": password}
	resp, err := c.post(ctx, "/login", body)
	if err != nil {
		return nil, err
	}
	return newSession(resp, models.User{Email: email, Name: localPart(email)})
}

// Register creates an account and returns its session.
func (c *AuthClient) Register(ctx context.Context, name, email, password string) (*models.Session, error) {
	if err := ValidateRegistration(name, email, password); err != nil {
		return nil, err
	}
	body := map[string]string{"name": name, "email": email, "password": password}
	resp, err := c.post(ctx, "/register", body)
	if err != nil {
		return nil, err
	}
	return newSession(resp, models.User{Email: email, Name: name})
}

// ValidateRegistration checks the fields the registration form requires.
func ValidateRegistration(name, email, password string) error {
	if strings.TrimSpace(name) == "" || strings.TrimSpace(email) == "" || password == "" {
		return fmt.Errorf("%w: all fields are required", ErrValidation)
	}
	if !emailPattern.MatchString(email) {
		return fmt.Errorf("%w: please enter a valid email address", ErrValidation)
	}
	if len(password) < MinPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters long", ErrValidation, MinPasswordLength)
	}
	return nil
}

// flexID accepts both numeric and string ids.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

type authUser struct {
	ID    flexID `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type authResponse struct {
	Token   string    `json:"token"`
	Message string    `json:"message"`
	User    *authUser `json:"user"`
	authUser
}

func (c *AuthClient) post(ctx context.Context, path string, body any) (*authResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrAuthUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthUnavailable, err)
	}

	var out authResponse
	decodeErr := json.Unmarshal(raw, &out)

	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		if decodeErr != nil {
			return nil, fmt.Errorf("%w: unreadable response: %v", ErrAuthUnavailable, decodeErr)
		}
		return &out, nil
	case code == http.StatusUnauthorized:
		return nil, ErrInvalidCredentials
	case code == http.StatusConflict:
		return nil, ErrEmailTaken
	case code >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrAuthUnavailable, code)
	default:
		msg := out.Message
		if msg == "" {
			msg = "status " + strconv.Itoa(code)
		}
		return nil, fmt.Errorf("%w: %s", ErrRejected, msg)
	}
}

// newSession builds a session from the backend response. Missing user fields
// fall back to the top-level fields, then to token claims, then to fallback.
func newSession(resp *authResponse, fallback models.User) (*models.Session, error) {
	if resp.Token == "" {
		return nil, fmt.Errorf("%w: response carries no token", ErrAuthUnavailable)
	}
	u := resp.authUser
	if resp.User != nil {
		u = pick(*resp.User, u)
	}

	claims := tokenClaims(resp.Token)
	user := models.User{ID: string(u.ID), Email: u.Email, Name: u.Name}
	if user.ID == "" {
		user.ID = claims.userID
	}
	if user.Email == "" {
		user.Email = firstNonEmpty(claims.email, fallback.Email)
	}
	if user.Name == "" {
		user.Name = fallback.Name
	}

	return &models.Session{
		Token:     resp.Token,
		User:      user,
		ExpiresAt: claims.expiresAt,
		CreatedAt: time.Now(),
	}, nil
}

func pick(primary, secondary authUser) authUser {
	if primary.ID == "" {
		primary.ID = secondary.ID
	}
	if primary.Email == "" {
		primary.Email = secondary.Email
	}
	if primary.Name == "" {
		primary.Name = secondary.Name
	}
	return primary
}

type claimInfo struct {
	userID    string
	email     string
	expiresAt time.Time
}

// tokenClaims reads claims without verifying the signature; the backend is
// the one that verifies. Opaque tokens yield empty claims.
func tokenClaims(token string) claimInfo {
	var info claimInfo
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return info
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		info.expiresAt = exp.Time
	}
	for _, key := range []string{"userId", "id", "sub"} {
		switch v := claims[key].(type) {
		case string:
			info.userID = v
		case float64:
			info.userID = strconv.FormatInt(int64(v), 10)
		}
		if info.userID != "" {
			break
		}
	}
	info.email, _ = claims["email"].(string)
	return info
}

func localPart(email string) string {
	if i := strings.Index(email, "@"); i > 0 {
		return email[:i]
	}
	return email
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
