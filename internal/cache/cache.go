package cache

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"castkeep/internal/domain"
	"castkeep/internal/feeds"
	"castkeep/internal/merge"
)

// PlaybackReader supplies the merge overlay with stored playback state.
type PlaybackReader interface {
	LookupFunc(ctx context.Context) merge.Lookup
}

// Options tune the freshness policy. Zero values fall back to the defaults
// below.
type Options struct {
	// FreshFor is the window after a successful fetch during which the entry
	// is served without a network call.
	FreshFor time.Duration
	// ExpireAfter is the age past which an entry is evicted wholesale.
	ExpireAfter time.Duration
	// SweepEvery is the interval of the background expiry sweep.
	SweepEvery time.Duration
	// FetchTimeout bounds a single feed fetch.
	FetchTimeout time.Duration
}

const (
	defaultFreshFor     = 30 * time.Minute
	defaultExpireAfter  = 2 * time.Hour
	defaultSweepEvery   = 10 * time.Minute
	defaultFetchTimeout = 15 * time.Second
)

func (o Options) withDefaults() Options {
	if o.FreshFor <= 0 {
		o.FreshFor = defaultFreshFor
	}
	if o.ExpireAfter <= 0 {
		o.ExpireAfter = defaultExpireAfter
	}
	if o.SweepEvery <= 0 {
		o.SweepEvery = defaultSweepEvery
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = defaultFetchTimeout
	}
	return o
}

type entry struct {
	episodes  []domain.EpisodeRecord
	fetchedAt time.Time
	loading   bool
	failed    bool
	reason    string
}

func (e *entry) hasData() bool {
	return e != nil && !e.fetchedAt.IsZero()
}

// Cache holds one freshness-stamped episode list per podcast. Reads are
// coalesced so that at most one feed fetch per podcast is ever in flight;
// stale entries are served immediately while a refresh runs in the
// background, and entries past the expiry age are evicted wholesale.
//
// All state transitions happen under a single mutex; the network fetch itself
// runs outside the lock.
type Cache struct {
	fetcher  feeds.Fetcher
	playback PlaybackReader
	opts     Options
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	gen     map[string]uint64

	flight singleflight.Group

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(fetcher feeds.Fetcher, playback PlaybackReader, opts Options) *Cache {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		fetcher:  fetcher,
		playback: playback,
		opts:     opts.withDefaults(),
		now:      time.Now,
		entries:  make(map[string]*entry),
		gen:      make(map[string]uint64),
		cancel:   cancel,
	}
	c.wg.Add(1)
	go c.sweeper(ctx)
	return c
}

// Stop terminates the expiry sweeper and waits for it to exit.
func (c *Cache) Stop() {
	c.cancel()
	c.wg.Wait()
}

// Episodes returns the canonical episode list for a podcast. fromCache is true
// when the list was served from a previously fetched entry. The call fails
// only when no cached data exists and the fetch fails; stale or failed
// entries still return their last good list, with Status reporting the state.
func (c *Cache) Episodes(ctx context.Context, podcastID string, forceRefresh bool) ([]domain.EpisodeRecord, bool, error) {
	c.mu.Lock()
	c.evictExpiredLocked(podcastID)
	e := c.entries[podcastID]

	if e.hasData() && !forceRefresh {
		age := c.now().Sub(e.fetchedAt)
		if age < c.opts.FreshFor {
			episodes := cloneRecords(e.episodes)
			c.mu.Unlock()
			return episodes, true, nil
		}
		// Stale: serve immediately, refresh in the background.
		c.beginFetchLocked(podcastID)
		episodes := cloneRecords(e.episodes)
		c.mu.Unlock()
		return episodes, true, nil
	}

	ch := c.beginFetchLocked(podcastID)
	c.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			c.mu.Lock()
			fallback := c.entries[podcastID]
			if fallback.hasData() {
				episodes := cloneRecords(fallback.episodes)
				c.mu.Unlock()
				return episodes, true, nil
			}
			c.mu.Unlock()
			return nil, false, res.Err
		}
		episodes := res.Val.([]domain.EpisodeRecord)
		return cloneRecords(episodes), false, nil
	}
}

// Refresh forces a fetch for the podcast, coalescing with any refresh already
// in flight.
func (c *Cache) Refresh(ctx context.Context, podcastID string) error {
	_, _, err := c.Episodes(ctx, podcastID, true)
	return err
}

// Status reports the entry state for display. Staleness and expiry are
// computed at read time; no background timer mutates entry state.
func (c *Cache) Status(podcastID string) domain.CacheStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.evictExpiredLocked(podcastID)
	e := c.entries[podcastID]
	if e == nil {
		return domain.CacheStatus{State: domain.CacheStateEmpty}
	}
	status := domain.CacheStatus{LastUpdated: e.fetchedAt}
	switch {
	case e.loading:
		status.State = domain.CacheStateLoading
	case e.failed:
		status.State = domain.CacheStateFailed
		status.Reason = e.reason
	case !e.hasData():
		status.State = domain.CacheStateEmpty
	case c.now().Sub(e.fetchedAt) < c.opts.FreshFor:
		status.State = domain.CacheStateFresh
	default:
		status.State = domain.CacheStateStale
	}
	return status
}

// Invalidate cancels any pending fetch for the podcast: the in-flight
// operation's eventual completion is discarded instead of overwriting newer
// data. Cached episodes are kept.
func (c *Cache) Invalidate(podcastID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen[podcastID]++
	c.flight.Forget(podcastID)
	if e := c.entries[podcastID]; e != nil {
		e.loading = false
	}
}

// Remove drops the podcast's entry entirely, used on unsubscribe.
func (c *Cache) Remove(podcastID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen[podcastID]++
	c.flight.Forget(podcastID)
	delete(c.entries, podcastID)
}

// beginFetchLocked starts a fetch for the podcast or attaches to the one
// already in flight. Callers hold c.mu; the fetch itself runs outside it.
func (c *Cache) beginFetchLocked(podcastID string) <-chan singleflight.Result {
	e := c.entries[podcastID]
	if e == nil {
		e = &entry{}
		c.entries[podcastID] = e
	}
	e.loading = true
	gen := c.gen[podcastID]
	return c.flight.DoChan(podcastID, func() (interface{}, error) {
		return c.fetch(podcastID, gen)
	})
}

func (c *Cache) fetch(podcastID string, gen uint64) (interface{}, error) {
	// Detached from any single caller so one caller cancelling cannot fail
	// the shared flight.
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.FetchTimeout)
	defer cancel()

	raw, err := c.fetcher.Fetch(ctx, podcastID)
	if err != nil {
		c.completeFailure(podcastID, gen, err)
		return nil, err
	}

	merged := merge.Episodes(raw, c.playback.LookupFunc(ctx))
	c.completeSuccess(podcastID, gen, merged)
	return merged, nil
}

func (c *Cache) completeSuccess(podcastID string, gen uint64, episodes []domain.EpisodeRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gen[podcastID] != gen {
		return
	}
	e := c.entries[podcastID]
	if e == nil {
		e = &entry{}
		c.entries[podcastID] = e
	}
	e.episodes = episodes
	e.fetchedAt = c.now()
	e.loading = false
	e.failed = false
	e.reason = ""
}

func (c *Cache) completeFailure(podcastID string, gen uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gen[podcastID] != gen {
		return
	}
	e := c.entries[podcastID]
	if e == nil {
		e = &entry{}
		c.entries[podcastID] = e
	}
	// Previous episodes and fetchedAt are preserved; a failed fetch never
	// discards usable cached data.
	e.loading = false
	e.failed = true
	e.reason = err.Error()
	log.Printf("episode fetch %s failed: %v", podcastID, err)
}

func (c *Cache) evictExpiredLocked(podcastID string) {
	e := c.entries[podcastID]
	if e == nil || e.loading {
		return
	}
	if e.hasData() && c.now().Sub(e.fetchedAt) >= c.opts.ExpireAfter {
		delete(c.entries, podcastID)
	}
}

func (c *Cache) sweeper(ctx context.Context) {
	defer c.wg.Done()
	for {
		if err := waitWithContext(ctx, c.opts.SweepEvery); err != nil {
			return
		}
		c.sweep()
	}
}

func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for podcastID, e := range c.entries {
		if e.loading {
			continue
		}
		if e.hasData() && c.now().Sub(e.fetchedAt) >= c.opts.ExpireAfter {
			delete(c.entries, podcastID)
		}
	}
}

func cloneRecords(records []domain.EpisodeRecord) []domain.EpisodeRecord {
	out := make([]domain.EpisodeRecord, len(records))
	copy(out, records)
	return out
}

func waitWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
