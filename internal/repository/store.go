package repository

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"castkeep/internal/domain"
)

var ErrUnknownPodcast = errors.New("unknown podcast")

const cursorKey = "queue_cursor"

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) SavePodcast(ctx context.Context, podcast domain.Podcast) error {
	title := strings.TrimSpace(podcast.Title)
	if title == "" {
		title = "Untitled Podcast"
	}
	subscribedAt := podcast.SubscribedAt
	if subscribedAt.IsZero() {
		subscribedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO podcasts (id, title, feed_url, artwork_ref, subscribed_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET title=excluded.title, feed_url=excluded.feed_url, artwork_ref=excluded.artwork_ref`,
		podcast.ID, title, podcast.FeedURL, podcast.ArtworkRef, subscribedAt.Format(time.RFC3339Nano))
	return err
}

func (s *Store) DeletePodcast(ctx context.Context, podcastID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM podcasts WHERE id = ?", podcastID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *Store) PodcastExists(ctx context.Context, podcastID string) (bool, string, error) {
	var title string
	err := s.db.QueryRowContext(ctx, "SELECT title FROM podcasts WHERE id = ?", podcastID).Scan(&title)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, "", nil
		}
		return false, "", err
	}
	return true, title, nil
}

// FeedURL resolves a podcast id to its subscribed feed URL. Returns
// ErrUnknownPodcast when no subscription exists.
func (s *Store) FeedURL(ctx context.Context, podcastID string) (string, error) {
	var feedURL string
	err := s.db.QueryRowContext(ctx, "SELECT feed_url FROM podcasts WHERE id = ?", podcastID).Scan(&feedURL)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrUnknownPodcast
		}
		return "", err
	}
	return feedURL, nil
}

func (s *Store) ListPodcasts(ctx context.Context) ([]domain.Podcast, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title, feed_url, COALESCE(artwork_ref, ''), subscribed_at
FROM podcasts ORDER BY LOWER(title)`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	podcasts := make([]domain.Podcast, 0, 16)
	for rows.Next() {
		var podcast domain.Podcast
		var subscribedAt string
		if err := rows.Scan(&podcast.ID, &podcast.Title, &podcast.FeedURL, &podcast.ArtworkRef, &subscribedAt); err != nil {
			return nil, err
		}
		if parsed, err := time.Parse(time.RFC3339Nano, subscribedAt); err == nil {
			podcast.SubscribedAt = parsed
		} else if parsed, err := time.Parse(time.RFC3339, subscribedAt); err == nil {
			podcast.SubscribedAt = parsed
		}
		podcasts = append(podcasts, podcast)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return podcasts, nil
}

func (s *Store) HasPodcastByFeedURL(ctx context.Context, feedURL string) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM podcasts WHERE feed_url = ?", feedURL).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Store) ListPodcastExports(ctx context.Context) ([]domain.PodcastExport, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT title, feed_url FROM podcasts ORDER BY LOWER(title)")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	exports := make([]domain.PodcastExport, 0, 16)
	for rows.Next() {
		var export domain.PodcastExport
		if err := rows.Scan(&export.Title, &export.FeedURL); err != nil {
			return nil, err
		}
		exports = append(exports, export)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return exports, nil
}

// GetPlayback returns the stored playback state for an episode. The second
// return reports whether any state has ever been stored.
func (s *Store) GetPlayback(ctx context.Context, episodeID string) (domain.PlaybackState, bool, error) {
	var played int
	var resumeMs int64
	err := s.db.QueryRowContext(ctx, "SELECT played, resume_position_ms FROM playback WHERE episode_id = ?", episodeID).
		Scan(&played, &resumeMs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.PlaybackState{}, false, nil
		}
		return domain.PlaybackState{}, false, err
	}
	return domain.PlaybackState{
		Played:         played != 0,
		ResumePosition: time.Duration(resumeMs) * time.Millisecond,
	}, true, nil
}

// MarkPlayed records an episode as played. The played flag is never cleared
// here; resume position is left untouched.
func (s *Store) MarkPlayed(ctx context.Context, episodeID string) error {
	return s.withRetry(ctx, func() error {
		now := time.Now().UTC().Format(time.RFC3339Nano)
		_, err := s.db.ExecContext(ctx, `INSERT INTO playback (episode_id, played, resume_position_ms, updated_at)
VALUES (?, 1, 0, ?)
ON CONFLICT(episode_id) DO UPDATE SET played = 1, updated_at = excluded.updated_at`, episodeID, now)
		return err
	})
}

// SetResumePosition stores playback progress without touching the played flag.
func (s *Store) SetResumePosition(ctx context.Context, episodeID string, position time.Duration) error {
	if position < 0 {
		position = 0
	}
	return s.withRetry(ctx, func() error {
		now := time.Now().UTC().Format(time.RFC3339Nano)
		_, err := s.db.ExecContext(ctx, `INSERT INTO playback (episode_id, played, resume_position_ms, updated_at)
VALUES (?, 0, ?, ?)
ON CONFLICT(episode_id) DO UPDATE SET resume_position_ms = excluded.resume_position_ms, updated_at = excluded.updated_at`,
			episodeID, position.Milliseconds(), now)
		return err
	})
}

// SaveQueue replaces the persisted play queue with the given snapshot.
func (s *Store) SaveQueue(ctx context.Context, snapshot domain.QueueSnapshot) error {
	return s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		committed := false
		defer func() {
			if !committed {
				tx.Rollback()
			}
		}()

		if _, err := tx.ExecContext(ctx, "DELETE FROM play_queue"); err != nil {
			return err
		}
		for i, episodeID := range snapshot.EpisodeIDs {
			if _, err := tx.ExecContext(ctx, "INSERT INTO play_queue (position, episode_id) VALUES (?, ?)", i, episodeID); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO metadata (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value`, cursorKey, strconv.Itoa(snapshot.Cursor)); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		committed = true
		return nil
	})
}

// LoadQueue returns the persisted queue snapshot. An absent queue yields an
// empty snapshot with cursor -1.
func (s *Store) LoadQueue(ctx context.Context) (domain.QueueSnapshot, error) {
	snapshot := domain.QueueSnapshot{Cursor: -1}

	rows, err := s.db.QueryContext(ctx, "SELECT episode_id FROM play_queue ORDER BY position")
	if err != nil {
		return snapshot, err
	}
	defer rows.Close()

	for rows.Next() {
		var episodeID string
		if err := rows.Scan(&episodeID); err != nil {
			return snapshot, err
		}
		snapshot.EpisodeIDs = append(snapshot.EpisodeIDs, episodeID)
	}
	if err := rows.Err(); err != nil {
		return snapshot, err
	}

	var value string
	err = s.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", cursorKey).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return snapshot, nil
		}
		return snapshot, err
	}
	if cursor, err := strconv.Atoi(value); err == nil {
		snapshot.Cursor = cursor
	}
	return snapshot, nil
}

func (s *Store) withRetry(ctx context.Context, fn func() error) error {
	const attempts = 5
	var err error
	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err = fn()
		if err == nil {
			return nil
		}
		if !isSQLiteBusy(err) {
			return err
		}
		backoff := 50 * time.Millisecond * time.Duration(1<<i)
		if err := waitWithContext(ctx, backoff); err != nil {
			return err
		}
	}
	return err
}

func waitWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
