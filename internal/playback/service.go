package playback

import (
	"context"
	"log"
	"time"

	"castkeep/internal/domain"
	"castkeep/internal/merge"
	"castkeep/internal/repository"
)

// Service is the durable per-episode playback state store. The cache layer
// only reads it; writes happen through the explicit MarkPlayed and
// SetPosition pass-throughs.
type Service struct {
	store *repository.Store
}

func NewService(store *repository.Store) *Service {
	return &Service{store: store}
}

func (s *Service) Get(ctx context.Context, episodeID string) (domain.PlaybackState, bool, error) {
	return s.store.GetPlayback(ctx, episodeID)
}

func (s *Service) MarkPlayed(ctx context.Context, episodeID string) error {
	return s.store.MarkPlayed(ctx, episodeID)
}

func (s *Service) SetPosition(ctx context.Context, episodeID string, position time.Duration) error {
	return s.store.SetResumePosition(ctx, episodeID, position)
}

// LookupFunc adapts the store into the merge overlay callback. Read failures
// are treated as absent state so a storage hiccup cannot fail an otherwise
// good fetch.
func (s *Service) LookupFunc(ctx context.Context) merge.Lookup {
	return func(episodeID string) (domain.PlaybackState, bool) {
		state, ok, err := s.store.GetPlayback(ctx, episodeID)
		if err != nil {
			log.Printf("playback lookup %s: %v", episodeID, err)
			return domain.PlaybackState{}, false
		}
		return state, ok
	}
}
