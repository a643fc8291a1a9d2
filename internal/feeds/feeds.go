package feeds

import (
	"context"
	"fmt"

	"castkeep/internal/domain"
)

// Fetcher returns the raw, unordered episode candidates for a podcast. May be
// slow or unreliable; callers own timeouts and coalescing.
type Fetcher interface {
	Fetch(ctx context.Context, podcastID string) ([]domain.EpisodeRecord, error)
}

// FetchError reports a failed feed retrieval. Callers fall back to the last
// good cache entry and surface Reason through the cache status.
type FetchError struct {
	PodcastID string
	Reason    string
	Err       error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %s", e.PodcastID, e.Reason)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
