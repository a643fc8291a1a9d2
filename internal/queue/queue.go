package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"castkeep/internal/domain"
)

var ErrIndexOutOfRange = errors.New("queue index out of range")

// PlayedMarker records an episode as finished in the playback store.
type PlayedMarker interface {
	MarkPlayed(ctx context.Context, episodeID string) error
}

// Entry is one queued episode. Position is implicit in the ordered sequence.
type Entry struct {
	Episode domain.EpisodeRecord
	AddedAt time.Time
}

// Options configure queue behaviour.
type Options struct {
	// ConsumeOnAdvance removes the finished entry from the queue. When false
	// the entry stays in place flagged played.
	ConsumeOnAdvance bool
	// Marker, if set, is told about finished episodes on Advance.
	Marker PlayedMarker
}

// Queue is an ordered, mutable sequence of episodes to play with a movable
// cursor marking the entry currently playing. All mutations are serialized by
// a single mutex; every operation either completes fully or, on an invalid
// index, leaves the queue unmodified. Indices shift on mutation, so callers
// must re-resolve them rather than caching them across calls.
type Queue struct {
	mu      sync.Mutex
	entries []Entry
	cursor  int
	opts    Options
	now     func() time.Time
}

func New(opts Options) *Queue {
	return &Queue{cursor: -1, opts: opts, now: time.Now}
}

// Enqueue appends the episode to the end of the queue. Enqueueing an episode
// already present anywhere in the queue is a no-op.
func (q *Queue) Enqueue(episode domain.EpisodeRecord) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.indexOfLocked(episode.ID) >= 0 {
		return
	}
	q.entries = append(q.entries, Entry{Episode: episode, AddedAt: q.now()})
}

// EnqueueNext inserts the episode immediately after the current cursor
// position, or at the front when nothing is playing. An episode already
// queued elsewhere is moved to that position rather than duplicated.
func (q *Queue) EnqueueNext(episode domain.EpisodeRecord) {
	q.mu.Lock()
	defer q.mu.Unlock()

	target := 0
	if q.cursor >= 0 {
		target = q.cursor + 1
	}

	if existing := q.indexOfLocked(episode.ID); existing >= 0 {
		if existing == q.cursor {
			return
		}
		if existing < target {
			// Removal shifts the slot after the cursor down by one.
			target--
		}
		q.relocateLocked(existing, target)
		return
	}

	currentID := q.currentIDLocked()
	q.entries = append(q.entries, Entry{})
	copy(q.entries[target+1:], q.entries[target:])
	q.entries[target] = Entry{Episode: episode, AddedAt: q.now()}
	q.cursor = q.indexOfLocked(currentID)
}

// Remove deletes the entry at index. Removing the current entry advances the
// cursor to the next one, or to none when the queue is exhausted.
func (q *Queue) Remove(index int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if index < 0 || index >= len(q.entries) {
		return ErrIndexOutOfRange
	}

	q.entries = append(q.entries[:index], q.entries[index+1:]...)
	switch {
	case index < q.cursor:
		q.cursor--
	case index == q.cursor:
		if q.cursor >= len(q.entries) {
			q.cursor = -1
		}
	}
	return nil
}

// Move reorders the entry at from to position to. The cursor follows the
// entry it was pointing at, not the raw index.
func (q *Queue) Move(from, to int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if from < 0 || from >= len(q.entries) || to < 0 || to >= len(q.entries) {
		return ErrIndexOutOfRange
	}
	q.relocateLocked(from, to)
	return nil
}

// MoveToEnd relocates the entry at index to the tail, for "play later".
func (q *Queue) MoveToEnd(index int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if index < 0 || index >= len(q.entries) {
		return ErrIndexOutOfRange
	}
	q.relocateLocked(index, len(q.entries)-1)
	return nil
}

// Play sets the cursor onto the entry at index.
func (q *Queue) Play(index int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if index < 0 || index >= len(q.entries) {
		return ErrIndexOutOfRange
	}
	q.cursor = index
	return nil
}

// Current returns the entry the cursor points at, if any.
func (q *Queue) Current() (domain.EpisodeRecord, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cursor < 0 {
		return domain.EpisodeRecord{}, false
	}
	return q.entries[q.cursor].Episode, true
}

// Advance is invoked on playback completion: the current entry is consumed
// (removed, or flagged played in place, per Options) and the cursor moves to
// the next entry. With nothing playing it starts at the head. The returned
// record is the new current entry; ok is false once the queue is exhausted.
// A marker failure is reported after the queue mutation has been applied.
func (q *Queue) Advance(ctx context.Context) (domain.EpisodeRecord, bool, error) {
	q.mu.Lock()

	if q.cursor < 0 {
		if len(q.entries) == 0 {
			q.mu.Unlock()
			return domain.EpisodeRecord{}, false, nil
		}
		q.cursor = 0
		episode := q.entries[0].Episode
		q.mu.Unlock()
		return episode, true, nil
	}

	finishedID := q.entries[q.cursor].Episode.ID
	if q.opts.ConsumeOnAdvance {
		q.entries = append(q.entries[:q.cursor], q.entries[q.cursor+1:]...)
		if q.cursor >= len(q.entries) {
			q.cursor = -1
		}
	} else {
		q.entries[q.cursor].Episode.Played = true
		q.cursor++
		if q.cursor >= len(q.entries) {
			q.cursor = -1
		}
	}

	var next domain.EpisodeRecord
	ok := q.cursor >= 0
	if ok {
		next = q.entries[q.cursor].Episode
	}
	q.mu.Unlock()

	if q.opts.Marker != nil {
		if err := q.opts.Marker.MarkPlayed(ctx, finishedID); err != nil {
			return next, ok, err
		}
	}
	return next, ok, nil
}

// Entries returns a copy of the queue in order.
func (q *Queue) Entries() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Entry, len(q.entries))
	copy(out, q.entries)
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// CursorIndex returns the current cursor position, -1 when nothing plays.
func (q *Queue) CursorIndex() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cursor
}

// Snapshot captures the persisted queue layout.
func (q *Queue) Snapshot() domain.QueueSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	ids := make([]string, len(q.entries))
	for i, entry := range q.entries {
		ids[i] = entry.Episode.ID
	}
	return domain.QueueSnapshot{EpisodeIDs: ids, Cursor: q.cursor}
}

// Restore replaces the queue contents wholesale, used when reloading a
// persisted queue at startup.
func (q *Queue) Restore(episodes []domain.EpisodeRecord, cursor int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	q.entries = make([]Entry, 0, len(episodes))
	seen := make(map[string]struct{}, len(episodes))
	for _, episode := range episodes {
		if _, dup := seen[episode.ID]; dup {
			continue
		}
		seen[episode.ID] = struct{}{}
		q.entries = append(q.entries, Entry{Episode: episode, AddedAt: now})
	}
	if cursor < 0 || cursor >= len(q.entries) {
		cursor = -1
	}
	q.cursor = cursor
}

// relocateLocked moves the entry at from to position to, keeping the cursor
// on the entry it pointed at.
func (q *Queue) relocateLocked(from, to int) {
	if from == to {
		return
	}
	currentID := q.currentIDLocked()
	entry := q.entries[from]
	rest := append(q.entries[:from], q.entries[from+1:]...)
	if to > len(rest) {
		to = len(rest)
	}
	rest = append(rest, Entry{})
	copy(rest[to+1:], rest[to:])
	rest[to] = entry
	q.entries = rest
	q.cursor = q.indexOfLocked(currentID)
}

func (q *Queue) currentIDLocked() string {
	if q.cursor < 0 {
		return ""
	}
	return q.entries[q.cursor].Episode.ID
}

func (q *Queue) indexOfLocked(episodeID string) int {
	if episodeID == "" {
		return -1
	}
	for i, entry := range q.entries {
		if entry.Episode.ID == episodeID {
			return i
		}
	}
	return -1
}
