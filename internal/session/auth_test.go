package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return tok
}

func authServer(t *testing.T, status int, body any) (*httptest.Server, *map[string]string) {
	t.Helper()
	received := map[string]string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
		received["path"] = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &received
}

func TestLogin_UserObject(t *testing.T) {
	srv, received := authServer(t, http.StatusOK, map[string]any{
		"token": "opaque",
		"user":  map[string]any{"id": 12, "email": "sari@example.com", "name": "Sari"},
	})
	c := NewAuthClient(srv.URL+"/", nil)

	sess, err := c.Login(context.Background(), "sari@example.com", "password1")
	require.NoError(t, err)
	assert.Equal(t, "/login", (*received)["path"])
	assert.Equal(t, "password1", (*received)["password"])
	assert.Equal(t, "opaque", sess.Token)
	assert.Equal(t, "12", sess.User.ID)
	assert.Equal(t, "Sari", sess.User.Name)
	assert.True(t, sess.ExpiresAt.IsZero())
}

func TestLogin_FallsBackToTopLevelAndClaims(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := signedToken(t, jwt.MapClaims{"userId": "u-9", "exp": exp.Unix()})
	srv, _ := authServer(t, http.StatusOK, map[string]any{"token": token})
	c := NewAuthClient(srv.URL, nil)

	sess, err := c.Login(context.Background(), "budi@example.com", "password1")
	require.NoError(t, err)
	assert.Equal(t, "u-9", sess.User.ID)
	assert.Equal(t, "budi@example.com", sess.User.Email)
	assert.Equal(t, "budi", sess.User.Name)
	assert.True(t, exp.Equal(sess.ExpiresAt))
}

func TestLogin_TopLevelFields(t *testing.T) {
	srv, _ := authServer(t, http.StatusOK, map[string]any{
		"token": "opaque", "id": "x1", "name": "Dewi",
	})
	sess, err := NewAuthClient(srv.URL, nil).Login(context.Background(), "dewi@example.com", "password1")
	require.NoError(t, err)
	assert.Equal(t, "x1", sess.User.ID)
	assert.Equal(t, "Dewi", sess.User.Name)
}

func TestLogin_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   any
		want   error
		msg    string
	}{
		{"unauthorized", http.StatusUnauthorized, map[string]string{}, ErrInvalidCredentials, ""},
		{"conflict", http.StatusConflict, map[string]string{}, ErrEmailTaken, ""},
		{"bad request", http.StatusBadRequest, map[string]string{"message": "email required"}, ErrRejected, "email required"},
		{"server error", http.StatusBadGateway, map[string]string{}, ErrAuthUnavailable, ""},
		{"no token", http.StatusOK, map[string]string{}, ErrAuthUnavailable, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := authServer(t, tt.status, tt.body)
			_, err := NewAuthClient(srv.URL, nil).Login(context.Background(), "a@b.co", "password1")
			assert.ErrorIs(t, err, tt.want)
			if tt.msg != "" {
				assert.Contains(t, err.Error(), tt.msg)
			}
		})
	}
}

func TestLogin_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewAuthClient(url, nil).Login(context.Background(), "a@b.co", "password1")
	assert.ErrorIs(t, err, ErrAuthUnavailable)
}

func TestRegister_ValidatesBeforeRequest(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	_, err := NewAuthClient(srv.URL, nil).Register(context.Background(), "Sari", "not-an-email", "password1")
	assert.ErrorIs(t, err, ErrValidation)
	assert.Zero(t, calls)
}

func TestRegister_Success(t *testing.T) {
	srv, received := authServer(t, http.StatusCreated, map[string]any{"token": "opaque"})
	sess, err := NewAuthClient(srv.URL, nil).Register(context.Background(), "Sari", "sari@example.com", "password1")
	require.NoError(t, err)
	assert.Equal(t, "/register", (*received)["path"])
	assert.Equal(t, "Sari", (*received)["name"])
	assert.Equal(t, "Sari", sess.User.Name)
}

func TestValidateRegistration(t *testing.T) {
	tests := []struct {
		name, user, email, password string
		ok                          bool
	}{
		{"valid", "Sari", "sari@example.com", "12345678", true},
		{"missing name", " ", "sari@example.com", "12345678", false},
		{"missing password", "Sari", "sari@example.com", "", false},
		{"bad email", "Sari", "sari@example", "12345678", false},
		{"email with space", "Sari", "sa ri@example.com", "12345678", false},
		{"short password", "Sari", "sari@example.com", "1234567", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRegistration(tt.user, tt.email, tt.password)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrValidation)
			}
		})
	}
}

func TestTokenClaims_NumericSubject(t *testing.T) {
	info := tokenClaims(signedToken(t, jwt.MapClaims{"sub": float64(77), "email": "c@d.io"}))
	assert.Equal(t, "77", info.userID)
	assert.Equal(t, "c@d.io", info.email)

	assert.Equal(t, claimInfo{}, tokenClaims("opaque-token"))
}
