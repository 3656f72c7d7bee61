package models

import (
	"errors"
	"fmt"
)

// UpstreamError carries the HTTP status a provider returned so callers can
// tell rejections apart from outages.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s api error %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("upstream error %d: %s", e.StatusCode, e.Message)
}

// AsUpstreamError unwraps err into an UpstreamError when one is present.
func AsUpstreamError(err error) (*UpstreamError, bool) {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}
