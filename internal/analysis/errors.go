package analysis

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrUpstream           = errors.New("upstream error")
	ErrMalformedResponse  = errors.New("malformed response")
	ErrNetworkUnreachable = errors.New("network unreachable")
)

// UpstreamError keeps the status and body of a non-success response.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream responded with status %d %s: %s", e.Status, http.StatusText(e.Status), e.Body)
}

func (e *UpstreamError) Unwrap() error { return ErrUpstream }

// Retryable reports whether the user may retry the same action.
func Retryable(err error) bool {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Status >= 500
	}
	return errors.Is(err, ErrNetworkUnreachable)
}
