package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"castkeep/internal/domain"
	"castkeep/internal/feeds"
	"castkeep/internal/itunes"
	"castkeep/internal/opml"
	"castkeep/internal/repository"
)

var (
	ErrMissingPodcastID        = errors.New("podcast ID cannot be empty")
	ErrMissingFeedURL          = errors.New("podcast feed URL missing")
	ErrAlreadySubscribed       = errors.New("already subscribed")
	ErrNoSubscriptionsToExport = errors.New("no subscriptions to export")
	ErrNoSubscriptionsInOPML   = errors.New("no subscriptions found in OPML file")
)

type SubscribeResult struct {
	Title string
}

type ImportResult struct {
	Imported int
	Skipped  int
	Errors   []string
}

type Service struct {
	store      *repository.Store
	httpClient *http.Client
	itunes     *itunes.Client
	userAgent  string
}

func NewService(store *repository.Store, client *http.Client, itunesClient *itunes.Client, userAgent string) *Service {
	return &Service{store: store, httpClient: client, itunes: itunesClient, userAgent: userAgent}
}

func (s *Service) List(ctx context.Context) ([]domain.Podcast, error) {
	return s.store.ListPodcasts(ctx)
}

func (s *Service) IsSubscribed(ctx context.Context, podcastID string) (bool, string, error) {
	return s.store.PodcastExists(ctx, podcastID)
}

// Subscribe stores a podcast subscription. The feed URL is resolved through
// the iTunes lookup when the caller only has a catalogue id, and the feed is
// fetched once to validate it and pick up the canonical title and artwork.
// Episodes are not stored here; they belong to the episode cache.
func (s *Service) Subscribe(ctx context.Context, podcast itunes.Podcast) (SubscribeResult, error) {
	podcastID := strings.TrimSpace(podcast.ID)
	if podcastID == "" {
		return SubscribeResult{}, ErrMissingPodcastID
	}

	exists, title, err := s.store.PodcastExists(ctx, podcastID)
	if err != nil {
		return SubscribeResult{}, err
	}
	if exists {
		if title == "" {
			title = fallbackTitle(podcast.Title, podcastID)
		}
		return SubscribeResult{Title: title}, ErrAlreadySubscribed
	}

	meta := podcast
	if strings.TrimSpace(meta.FeedURL) == "" {
		if s.itunes == nil {
			return SubscribeResult{}, ErrMissingFeedURL
		}
		meta, err = s.itunes.LookupPodcast(ctx, podcastID)
		if err != nil {
			return SubscribeResult{}, err
		}
	}

	feedURL := strings.TrimSpace(meta.FeedURL)
	if feedURL == "" {
		return SubscribeResult{}, ErrMissingFeedURL
	}

	channel, _, err := feeds.FetchURL(ctx, s.httpClient, feedURL, s.userAgent)
	if err != nil {
		return SubscribeResult{}, err
	}

	title = fallbackTitle(channel.Title, fallbackTitle(meta.Title, podcastID))
	artwork := channel.ArtworkRef
	if artwork == "" {
		artwork = meta.Artwork
	}

	if err := s.store.SavePodcast(ctx, domain.Podcast{
		ID:           podcastID,
		Title:        title,
		FeedURL:      feedURL,
		ArtworkRef:   artwork,
		SubscribedAt: time.Now().UTC(),
	}); err != nil {
		return SubscribeResult{}, err
	}
	return SubscribeResult{Title: title}, nil
}

func (s *Service) Unsubscribe(ctx context.Context, podcastID string) (bool, error) {
	podcastID = strings.TrimSpace(podcastID)
	if podcastID == "" {
		return false, ErrMissingPodcastID
	}
	return s.store.DeletePodcast(ctx, podcastID)
}

func (s *Service) ExportOPML(ctx context.Context, filePath string) (int, error) {
	filePath = strings.TrimSpace(filePath)
	if filePath == "" {
		return 0, errors.New("file path cannot be empty")
	}

	exports, err := s.store.ListPodcastExports(ctx)
	if err != nil {
		return 0, err
	}
	if len(exports) == 0 {
		return 0, ErrNoSubscriptionsToExport
	}

	file, err := os.Create(filePath)
	if err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}
	defer file.Close()

	subs := make([]opml.Subscription, len(exports))
	for i, export := range exports {
		subs[i] = opml.Subscription{Title: export.Title, FeedURL: export.FeedURL}
	}

	if err := opml.Export(file, subs); err != nil {
		return 0, err
	}

	return len(subs), nil
}

// ImportOPML subscribes to every feed in the file, probing feeds concurrently
// with a small bound so a large export does not import one feed at a time.
func (s *Service) ImportOPML(ctx context.Context, filePath string) (ImportResult, error) {
	filePath = strings.TrimSpace(filePath)
	if filePath == "" {
		return ImportResult{}, errors.New("file path cannot be empty")
	}

	file, err := os.Open(filePath)
	if err != nil {
		return ImportResult{}, fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	subs, err := opml.Import(file)
	if err != nil {
		return ImportResult{}, err
	}
	if len(subs) == 0 {
		return ImportResult{}, ErrNoSubscriptionsInOPML
	}

	var (
		mu     sync.Mutex
		result ImportResult
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(4)

	for _, sub := range subs {
		sub := sub
		group.Go(func() error {
			has, err := s.store.HasPodcastByFeedURL(groupCtx, sub.FeedURL)
			if err != nil {
				mu.Lock()
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", sub.Title, err))
				mu.Unlock()
				return nil
			}
			if has {
				mu.Lock()
				result.Skipped++
				mu.Unlock()
				return nil
			}

			channel, _, err := feeds.FetchURL(groupCtx, s.httpClient, sub.FeedURL, s.userAgent)
			if err != nil {
				mu.Lock()
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", sub.Title, err))
				mu.Unlock()
				return nil
			}

			title := fallbackTitle(channel.Title, fallbackTitle(sub.Title, "Untitled Podcast"))
			podcast := domain.Podcast{
				ID:           uuid.NewString(),
				Title:        title,
				FeedURL:      sub.FeedURL,
				ArtworkRef:   channel.ArtworkRef,
				SubscribedAt: time.Now().UTC(),
			}

			if err := s.store.SavePodcast(groupCtx, podcast); err != nil {
				mu.Lock()
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", title, err))
				mu.Unlock()
				return nil
			}

			mu.Lock()
			result.Imported++
			mu.Unlock()
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return result, err
	}
	return result, nil
}

func fallbackTitle(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return "Untitled Podcast"
}
