package server

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
)

var (
	errHistoryDisabled = errors.New("history is disabled")
	errNoOwner         = errors.New("token does not identify a user")
)

// historyOwner verifies token against the configured secret and returns the
// key its history is filed under: the email claim, else the user id.
func (s *Server) historyOwner(token string) (string, error) {
	if s.opts.TokenSecret == "" {
		return "", errHistoryDisabled
	}
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.opts.TokenSecret), nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}

	if email, _ := claims["email"].(string); email != "" {
		return email, nil
	}
	for _, key := range []string{"userId", "id", "sub"} {
		switch v := claims[key].(type) {
		case string:
			if v != "" {
				return v, nil
			}
		case float64:
			return strconv.FormatInt(int64(v), 10), nil
		}
	}
	return "", errNoOwner
}
