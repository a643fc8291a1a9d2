package app

import (
	"context"
	"crypto/tls"
	"database/sql"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"castkeep/internal/cache"
	"castkeep/internal/config"
	"castkeep/internal/domain"
	"castkeep/internal/feeds"
	"castkeep/internal/itunes"
	"castkeep/internal/playback"
	"castkeep/internal/queue"
	"castkeep/internal/repository"
	"castkeep/internal/subscriptions"
)

// App wires one episode cache and one play queue per process, with the
// dependencies injected explicitly rather than reached through globals.
type App struct {
	config        config.Config
	db            *sql.DB
	httpClient    *http.Client
	itunes        *itunes.Client
	store         *repository.Store
	playback      *playback.Service
	subscriptions *subscriptions.Service
	cache         *cache.Cache
	queue         *queue.Queue
}

// Dependencies override collaborators, primarily for tests.
type Dependencies struct {
	HTTPClient *http.Client
	ITunes     *itunes.Client
	Fetcher    feeds.Fetcher
}

type SubscribeResult = subscriptions.SubscribeResult

type OPMLImportResult = subscriptions.ImportResult

var (
	ErrNoSubscriptionsToExport = subscriptions.ErrNoSubscriptionsToExport
	ErrNoSubscriptionsInOPML   = subscriptions.ErrNoSubscriptionsInOPML
)

func New(cfg config.Config, db *sql.DB) *App {
	return NewWithDependencies(cfg, db, Dependencies{})
}

func NewWithDependencies(cfg config.Config, db *sql.DB, deps Dependencies) *App {
	httpClient := deps.HTTPClient
	if httpClient == nil {
		transport := &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: !cfg.TLSVerify},
		}
		if proxyURL := strings.TrimSpace(cfg.Proxy); proxyURL != "" {
			if parsed, err := url.Parse(proxyURL); err == nil {
				transport.Proxy = http.ProxyURL(parsed)
			}
		}
		httpClient = &http.Client{Timeout: 15 * time.Second, Transport: transport}
	}

	itunesClient := deps.ITunes
	if itunesClient == nil {
		itunesClient = itunes.NewClient(httpClient, "")
	}

	store := repository.New(db)
	playbackSvc := playback.NewService(store)
	subsSvc := subscriptions.NewService(store, httpClient, itunesClient, cfg.UserAgent)

	fetcher := deps.Fetcher
	if fetcher == nil {
		fetcher = feeds.NewRSS(httpClient, store, cfg.UserAgent)
	}

	episodeCache := cache.New(fetcher, playbackSvc, cache.Options{
		FreshFor:     cfg.FreshFor(),
		ExpireAfter:  cfg.ExpireAfter(),
		SweepEvery:   cfg.SweepEvery(),
		FetchTimeout: cfg.FetchTimeout(),
	})

	playQueue := queue.New(queue.Options{
		ConsumeOnAdvance: cfg.ConsumeOnAdvance,
		Marker:           playbackSvc,
	})

	return &App{
		config:        cfg,
		db:            db,
		httpClient:    httpClient,
		itunes:        itunesClient,
		store:         store,
		playback:      playbackSvc,
		subscriptions: subsSvc,
		cache:         episodeCache,
		queue:         playQueue,
	}
}

func (a *App) Config() config.Config {
	return a.config
}

// Close persists the play queue, stops the cache sweeper and closes the
// database.
func (a *App) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.SaveQueue(ctx); err != nil {
		log.Printf("save queue on close: %v", err)
	}
	a.cache.Stop()
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// Episodes returns the merged episode list for a podcast, served from cache
// when fresh.
func (a *App) Episodes(ctx context.Context, podcastID string, forceRefresh bool) ([]domain.EpisodeRecord, bool, error) {
	return a.cache.Episodes(ctx, podcastID, forceRefresh)
}

func (a *App) Refresh(ctx context.Context, podcastID string) error {
	return a.cache.Refresh(ctx, podcastID)
}

func (a *App) CacheStatus(podcastID string) domain.CacheStatus {
	return a.cache.Status(podcastID)
}

// CancelRefresh discards any in-flight fetch for the podcast, e.g. when the
// user navigates away.
func (a *App) CancelRefresh(podcastID string) {
	a.cache.Invalidate(podcastID)
}

func (a *App) Subscriptions(ctx context.Context) ([]domain.Podcast, error) {
	return a.subscriptions.List(ctx)
}

func (a *App) Subscribe(ctx context.Context, podcast itunes.Podcast) (SubscribeResult, error) {
	return a.subscriptions.Subscribe(ctx, podcast)
}

func (a *App) Unsubscribe(ctx context.Context, podcastID string) (bool, error) {
	removed, err := a.subscriptions.Unsubscribe(ctx, podcastID)
	if err != nil {
		return false, err
	}
	if removed {
		a.cache.Remove(podcastID)
	}
	return removed, nil
}

func (a *App) MarkPlayed(ctx context.Context, episodeID string) error {
	return a.playback.MarkPlayed(ctx, episodeID)
}

func (a *App) SetResumePosition(ctx context.Context, episodeID string, position time.Duration) error {
	return a.playback.SetPosition(ctx, episodeID, position)
}

func (a *App) PlaybackState(ctx context.Context, episodeID string) (domain.PlaybackState, bool, error) {
	return a.playback.Get(ctx, episodeID)
}

// Queue exposes the process-wide play queue.
func (a *App) Queue() *queue.Queue {
	return a.queue
}

// SaveQueue persists the queue as an ordered id list plus cursor.
func (a *App) SaveQueue(ctx context.Context) error {
	return a.store.SaveQueue(ctx, a.queue.Snapshot())
}

// RestoreQueue rebuilds the play queue from its persisted snapshot, resolving
// each episode id through the cache. Identifiers that no longer resolve are
// dropped silently; when the cursor's entry is gone the cursor lands on the
// next surviving one.
func (a *App) RestoreQueue(ctx context.Context) error {
	snapshot, err := a.store.LoadQueue(ctx)
	if err != nil {
		return err
	}
	if len(snapshot.EpisodeIDs) == 0 {
		return nil
	}

	podcasts, err := a.subscriptions.List(ctx)
	if err != nil {
		return err
	}

	byID := make(map[string]domain.EpisodeRecord)
	for _, podcast := range podcasts {
		episodes, _, err := a.cache.Episodes(ctx, podcast.ID, false)
		if err != nil {
			log.Printf("restore queue: resolve podcast %s: %v", podcast.ID, err)
			continue
		}
		for _, episode := range episodes {
			byID[episode.ID] = episode
		}
	}

	records := make([]domain.EpisodeRecord, 0, len(snapshot.EpisodeIDs))
	cursor := -1
	for i, episodeID := range snapshot.EpisodeIDs {
		record, ok := byID[episodeID]
		if !ok {
			continue
		}
		if cursor < 0 && snapshot.Cursor >= 0 && i >= snapshot.Cursor {
			cursor = len(records)
		}
		records = append(records, record)
	}

	a.queue.Restore(records, cursor)
	return nil
}

func (a *App) ExportOPML(ctx context.Context, filePath string) (int, error) {
	return a.subscriptions.ExportOPML(ctx, filePath)
}

func (a *App) ImportOPML(ctx context.Context, filePath string) (OPMLImportResult, error) {
	return a.subscriptions.ImportOPML(ctx, filePath)
}
