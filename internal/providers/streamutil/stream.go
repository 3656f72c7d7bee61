package streamutil

import (
	"context"
	"sync"

	"github.com/modelrelay/modelrelay/internal/models"
)

// YieldFunc receives converted chat chunks. Returning false stops forwarding.
type YieldFunc func(models.ChatChunk) bool

// Forward gives adapters a shared channel lifecycle for streaming chat. The
// forward callback calls yield for each chunk until the stream ends or yield
// returns false; the returned cancel func closes the upstream exactly once.
func Forward(ctx context.Context, closer func() error, forward func(ctx context.Context, yield YieldFunc)) (<-chan models.ChatChunk, func() error) {
	chunks := make(chan models.ChatChunk)
	var once sync.Once
	closeUpstream := func() {
		if closer == nil {
			return
		}
		once.Do(func() {
			_ = closer()
		})
	}

	go func() {
		defer close(chunks)
		defer closeUpstream()

		forward(ctx, func(chunk models.ChatChunk) bool {
			select {
			case <-ctx.Done():
				return false
			case chunks <- chunk:
				return true
			}
		})
	}()

	return chunks, func() error {
		closeUpstream()
		return nil
	}
}
