package executor

import (
	"errors"
	"time"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/openai/openai-go/v3"

	"github.com/modelrelay/modelrelay/internal/models"
)

const (
	// maxAttempts bounds one initial call plus up to two retries.
	maxAttempts    = 3
	backoffBase    = 100 * time.Millisecond
	backoffCap     = time.Second
	attemptTimeout = 2 * time.Minute
)

// backoff returns the pause before retry n (0-based): 100ms, 200ms, ...
// capped at one second.
func backoff(n int) time.Duration {
	d := backoffBase << n
	if d > backoffCap {
		d = backoffCap
	}
	return d
}

// upstreamStatus extracts the HTTP status from a provider error. Each
// adapter family surfaces a different typed error.
func upstreamStatus(err error) (int, bool) {
	if ue, ok := models.AsUpstreamError(err); ok {
		return ue.StatusCode, true
	}
	var oaiErr *openai.Error
	if errors.As(err, &oaiErr) {
		return oaiErr.StatusCode, true
	}
	var awsErr *awshttp.ResponseError
	if errors.As(err, &awsErr) {
		return awsErr.HTTPStatusCode(), true
	}
	return 0, false
}
