// Package scheduler implements the bounded-concurrency tile download
// queue with a size-bounded persistent disk cache.
//
// Concurrency model: one tick goroutine owns every job table and all
// cache bookkeeping. Fetches and disk writes run on worker goroutines
// that post immutable completion payloads onto a channel drained by
// Tick. Nothing here needs a lock.
package scheduler

import (
	"context"
	"fmt"

	"github.com/jaennil/tilekit/internal/source"
	"github.com/jaennil/tilekit/pkg/logger"
	"github.com/jaennil/tilekit/pkg/metrics"
)

type JobState int

const (
	StateQueued JobState = iota
	StateInFlight
	StateDone
	StateCancelled
	StateFailed
)

func (s JobState) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateInFlight:
		return "in_flight"
	case StateDone:
		return "done"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the tagged outcome of a request. Exactly one of the
// terminal states; cancelled jobs produce no Result at all.
type Result struct {
	Key   string
	State JobState
	Data  []byte
	Err   error
}

// Callback receives a job's terminal Result on the tick goroutine.
type Callback func(Result)

type completionKind int

const (
	fetchCompleted completionKind = iota
	writeCompleted
)

// completion is the immutable payload a worker goroutine posts back to
// the tick goroutine.
type completion struct {
	kind completionKind
	key  string
	gen  uint64
	data []byte
	err  error
}

type job struct {
	key       string
	locator   string
	state     JobState
	fromDisk  bool
	retried   bool
	gen       uint64
	cancel    context.CancelFunc
	callbacks []Callback
}

type Scheduler struct {
	limit   int
	fetcher source.Fetcher
	cache   *DiskCache
	index   *Index
	logger  logger.Logger

	jobs     map[string]*job
	queue    []*job
	inFlight int
	paused   bool
	nextGen  uint64

	completions chan completion
}

// New builds a scheduler over the given fetcher and disk cache. When an
// index is supplied, the previous run's entry list is restored so the
// running total and LRU ordering survive restarts.
func New(concurrencyLimit int, fetcher source.Fetcher, cache *DiskCache, index *Index, l logger.Logger) (*Scheduler, error) {
	s := &Scheduler{
		limit:       concurrencyLimit,
		fetcher:     fetcher,
		cache:       cache,
		index:       index,
		logger:      l,
		jobs:        make(map[string]*job),
		completions: make(chan completion, 1024),
	}

	if index != nil {
		entries, err := index.Load()
		if err != nil {
			return nil, fmt.Errorf("failed to load cache index: %w", err)
		}
		cache.Restore(entries)
		l.Info("cache index restored", "entries", len(entries), "total_bytes", cache.Total())
	}

	return s, nil
}

// Request subscribes a caller to the tile for key. Idempotent while a
// job for key is queued or in flight: a duplicate call only adds the
// callback. A request after a terminal state starts a fresh job. When
// the key is already on disk the job reads the cache file instead of
// the network.
func (s *Scheduler) Request(key, locator string, cb Callback) {
	if j, ok := s.jobs[key]; ok {
		if cb != nil {
			j.callbacks = append(j.callbacks, cb)
		}
		return
	}

	s.nextGen++
	j := &job{
		key:      key,
		locator:  locator,
		state:    StateQueued,
		fromDisk: s.cache.OnDisk(key),
		gen:      s.nextGen,
	}
	if cb != nil {
		j.callbacks = append(j.callbacks, cb)
	}
	if !j.fromDisk {
		metrics.CacheMisses.Inc()
	}

	s.jobs[key] = j
	s.queue = append(s.queue, j)

	s.logger.Debug("tile requested", "key", key, "from_disk", j.fromDisk)
}

// Cancel removes the job for key. Queued jobs disappear immediately;
// in-flight jobs get their fetch context cancelled and any late result
// is dropped. Cancellation is silent: no callback fires.
func (s *Scheduler) Cancel(key string) {
	j, ok := s.jobs[key]
	if !ok {
		return
	}

	switch j.state {
	case StateQueued:
		for i, q := range s.queue {
			if q == j {
				s.queue = append(s.queue[:i], s.queue[i+1:]...)
				break
			}
		}
	case StateInFlight:
		if j.cancel != nil {
			j.cancel()
		}
		s.inFlight--
		metrics.DownloadsInFlight.Dec()
	}

	j.state = StateCancelled
	delete(s.jobs, key)
	metrics.DownloadsCancelled.Inc()

	s.logger.Debug("tile request cancelled", "key", key)
}

// PauseAll suspends the scheduler: no queued job is started until
// ResumeAll. In-flight fetches are left to finish; their results are
// kept, since the bytes already crossed the wire.
func (s *Scheduler) PauseAll() {
	s.paused = true
}

func (s *Scheduler) ResumeAll() {
	s.paused = false
}

// Tick drains pending completions and starts queued jobs up to the
// concurrency limit. Must be called from the single tick goroutine.
func (s *Scheduler) Tick(ctx context.Context) {
	s.drainCompletions()
	s.startQueued(ctx)
}

// QueuedCount returns the number of jobs waiting to start.
func (s *Scheduler) QueuedCount() int {
	return len(s.queue)
}

// InFlightCount returns the number of jobs currently fetching.
func (s *Scheduler) InFlightCount() int {
	return s.inFlight
}

// State looks up the live job state for key.
func (s *Scheduler) State(key string) (JobState, bool) {
	j, ok := s.jobs[key]
	if !ok {
		return 0, false
	}
	return j.state, true
}

// Cache exposes the disk cache for the controller and debug surface.
func (s *Scheduler) Cache() *DiskCache {
	return s.cache
}

// Close persists the cache index. Call after the last Tick.
func (s *Scheduler) Close() error {
	if s.index == nil {
		return nil
	}
	if err := s.index.Save(s.cache.Entries()); err != nil {
		return fmt.Errorf("failed to persist cache index: %w", err)
	}
	return s.index.Close()
}

func (s *Scheduler) startQueued(ctx context.Context) {
	for !s.paused && len(s.queue) > 0 && s.inFlight < s.limit {
		j := s.queue[0]
		s.queue = s.queue[1:]
		s.start(ctx, j)
	}
}

func (s *Scheduler) start(ctx context.Context, j *job) {
	j.state = StateInFlight
	s.inFlight++
	metrics.DownloadsStarted.Inc()
	metrics.DownloadsInFlight.Inc()

	jobCtx, cancel := context.WithCancel(ctx)
	j.cancel = cancel

	key, locator, gen, fromDisk := j.key, j.locator, j.gen, j.fromDisk

	go func() {
		defer cancel()

		var data []byte
		var err error
		if fromDisk {
			data, err = s.cache.Read(key)
		} else {
			data, err = s.fetcher.Fetch(jobCtx, locator)
		}

		select {
		case s.completions <- completion{kind: fetchCompleted, key: key, gen: gen, data: data, err: err}:
		case <-ctx.Done():
		}
	}()
}

func (s *Scheduler) drainCompletions() {
	for {
		select {
		case c := <-s.completions:
			switch c.kind {
			case fetchCompleted:
				s.handleFetch(c)
			case writeCompleted:
				s.handleWrite(c)
			}
		default:
			return
		}
	}
}

func (s *Scheduler) handleFetch(c completion) {
	j, ok := s.jobs[c.key]
	if !ok || j.gen != c.gen {
		// The job was cancelled or superseded; the late result is
		// dropped without a cache write or callback.
		s.logger.Debug("dropping completion for dead job", "key", c.key)
		return
	}

	s.inFlight--
	metrics.DownloadsInFlight.Dec()

	if c.err != nil {
		s.handleFetchError(j, c.err)
		return
	}

	j.state = StateDone
	delete(s.jobs, j.key)

	if j.fromDisk {
		s.cache.Touch(j.key)
		metrics.CacheHits.Inc()
	} else {
		metrics.DownloadsCompleted.Inc()
		s.cache.Record(j.key, int64(len(c.data)))
		s.writeAsync(j.key, j.gen, c.data)
		s.cache.EvictOverBudget(j.key)
	}

	s.deliver(j, Result{Key: j.key, State: StateDone, Data: c.data})
}

func (s *Scheduler) handleFetchError(j *job, err error) {
	if j.fromDisk && !j.retried {
		// The cache file could not be read: forget the disk copy and
		// re-issue the same job against the network, once.
		s.logger.Warn("cache read failed, retrying over network", "key", j.key, "error", err)
		s.cache.InvalidateDisk(j.key)
		j.fromDisk = false
		j.retried = true
		j.state = StateQueued
		j.cancel = nil
		s.queue = append(s.queue, j)
		return
	}

	j.state = StateFailed
	delete(s.jobs, j.key)
	s.cache.MarkFailed(j.key)
	metrics.DownloadsFailed.Inc()

	s.logger.Error("tile fetch failed", "key", j.key, "error", err)
	s.deliver(j, Result{Key: j.key, State: StateFailed, Err: err})
}

func (s *Scheduler) handleWrite(c completion) {
	if c.err != nil {
		s.logger.Warn("tile disk write failed", "key", c.key, "error", c.err)
		return
	}
	if !s.cache.MarkOnDisk(c.key) {
		// The entry was evicted while the write was pending; the file
		// it just created is outside the budget accounting.
		s.cache.RemoveFile(c.key)
	}
}

// writeAsync persists the tile bytes off the tick goroutine. The write
// completion is what flips the entry's on-disk flag.
func (s *Scheduler) writeAsync(key string, gen uint64, data []byte) {
	go func() {
		err := s.cache.Write(key, data)
		s.completions <- completion{kind: writeCompleted, key: key, gen: gen, err: err}
	}()
}

func (s *Scheduler) deliver(j *job, res Result) {
	for _, cb := range j.callbacks {
		cb(res)
	}
}
