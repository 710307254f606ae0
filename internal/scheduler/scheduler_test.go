package scheduler

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/jaennil/tilekit/pkg/logger"
)

type fetchOutcome struct {
	data []byte
	err  error
}

// blockingFetcher holds every fetch until the test releases it, so
// tests control completion order deterministically.
type blockingFetcher struct {
	mu      sync.Mutex
	started chan string
	gates   map[string]chan fetchOutcome
}

func newBlockingFetcher() *blockingFetcher {
	return &blockingFetcher{
		started: make(chan string, 64),
		gates:   make(map[string]chan fetchOutcome),
	}
}

func (f *blockingFetcher) gate(locator string) chan fetchOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.gates[locator]
	if !ok {
		g = make(chan fetchOutcome, 1)
		f.gates[locator] = g
	}
	return g
}

func (f *blockingFetcher) Fetch(ctx context.Context, locator string) ([]byte, error) {
	f.started <- locator
	select {
	case out := <-f.gate(locator):
		return out.data, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *blockingFetcher) release(locator string, data []byte, err error) {
	f.gate(locator) <- fetchOutcome{data: data, err: err}
}

func newTestScheduler(t *testing.T, limit int, budget int64, f *blockingFetcher) *Scheduler {
	t.Helper()
	cache, err := OpenDiskCache(t.TempDir(), budget, logger.NewNop())
	if err != nil {
		t.Fatalf("failed to open disk cache: %v", err)
	}
	s, err := New(limit, f, cache, nil, logger.NewNop())
	if err != nil {
		t.Fatalf("failed to create scheduler: %v", err)
	}
	return s
}

// pump ticks the scheduler until cond holds or the deadline passes.
func pump(t *testing.T, s *Scheduler, cond func() bool) {
	t.Helper()
	ctx := context.Background()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.Tick(ctx)
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func recvStarted(t *testing.T, f *blockingFetcher) string {
	t.Helper()
	select {
	case loc := <-f.started:
		return loc
	case <-time.After(2 * time.Second):
		t.Fatal("no fetch started before deadline")
		return ""
	}
}

func assertNoStart(t *testing.T, f *blockingFetcher) {
	t.Helper()
	select {
	case loc := <-f.started:
		t.Fatalf("unexpected fetch started for %q", loc)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestConcurrencyLimitAndFIFO(t *testing.T) {
	f := newBlockingFetcher()
	s := newTestScheduler(t, 2, 1<<20, f)
	ctx := context.Background()

	keys := []string{"k1", "k2", "k3", "k4", "k5"}
	done := make(map[string]bool)
	for _, k := range keys {
		key := k
		s.Request(key, key, func(res Result) {
			done[key] = res.State == StateDone
		})
	}

	s.Tick(ctx)

	if got := s.InFlightCount(); got != 2 {
		t.Fatalf("in flight = %d, want 2", got)
	}
	if got := s.QueuedCount(); got != 3 {
		t.Fatalf("queued = %d, want 3", got)
	}

	// The first two queued jobs start; their goroutines race to report,
	// so compare as a set.
	first := map[string]bool{recvStarted(t, f): true, recvStarted(t, f): true}
	if !first["k1"] || !first["k2"] {
		t.Fatalf("first batch = %v, want k1 and k2", first)
	}

	// Completing one job starts exactly the next queued job, in FIFO
	// order.
	f.release("k1", []byte("t1"), nil)
	pump(t, s, func() bool { return done["k1"] })

	if got := recvStarted(t, f); got != "k3" {
		t.Fatalf("next started = %q, want k3", got)
	}
	if got := s.InFlightCount(); got != 2 {
		t.Fatalf("in flight after refill = %d, want 2", got)
	}
	if got := s.QueuedCount(); got != 2 {
		t.Fatalf("queued after refill = %d, want 2", got)
	}

	f.release("k2", []byte("t2"), nil)
	pump(t, s, func() bool { return done["k2"] })
	if got := recvStarted(t, f); got != "k4" {
		t.Fatalf("next started = %q, want k4", got)
	}
}

func TestRequestCoalescing(t *testing.T) {
	f := newBlockingFetcher()
	s := newTestScheduler(t, 2, 1<<20, f)

	var first, second []byte
	s.Request("k1", "k1", func(res Result) { first = res.Data })
	s.Request("k1", "k1", func(res Result) { second = res.Data })

	if got := s.QueuedCount(); got != 1 {
		t.Fatalf("queued = %d, want 1 (duplicate request must coalesce)", got)
	}

	s.Tick(context.Background())
	recvStarted(t, f)
	f.release("k1", []byte("tile"), nil)

	pump(t, s, func() bool { return first != nil && second != nil })

	if string(first) != "tile" || string(second) != "tile" {
		t.Errorf("both subscribers must receive the single completion, got %q and %q", first, second)
	}
	assertNoStart(t, f)
}

func TestCancelQueued(t *testing.T) {
	f := newBlockingFetcher()
	s := newTestScheduler(t, 1, 1<<20, f)

	cancelled := false
	s.Request("k1", "k1", nil)
	s.Request("k2", "k2", func(Result) { cancelled = true })

	s.Tick(context.Background())
	recvStarted(t, f)

	s.Cancel("k2")
	if got := s.QueuedCount(); got != 0 {
		t.Fatalf("queued = %d, want 0 after cancel", got)
	}
	if _, ok := s.State("k2"); ok {
		t.Error("cancelled job still tracked")
	}

	f.release("k1", []byte("t"), nil)
	pump(t, s, func() bool { return s.InFlightCount() == 0 })

	if cancelled {
		t.Error("cancellation must be silent, callback fired")
	}
	assertNoStart(t, f)
}

func TestCancelInFlightIsSilent(t *testing.T) {
	f := newBlockingFetcher()
	s := newTestScheduler(t, 1, 1<<20, f)

	fired := false
	s.Request("k1", "k1", func(Result) { fired = true })

	s.Tick(context.Background())
	recvStarted(t, f)

	s.Cancel("k1")

	// The underlying fetch completes successfully anyway; the late
	// result must be dropped without a cache write or callback.
	f.release("k1", []byte("tile"), nil)

	deadline := time.Now().Add(100 * time.Millisecond)
	for time.Now().Before(deadline) {
		s.Tick(context.Background())
		time.Sleep(time.Millisecond)
	}

	if fired {
		t.Error("callback fired for a cancelled job")
	}
	if got := s.Cache().Len(); got != 0 {
		t.Errorf("cache entries = %d, want 0 (no cache write after cancel)", got)
	}
}

func TestDiskReadFailureFallsBackToNetworkOnce(t *testing.T) {
	f := newBlockingFetcher()
	s := newTestScheduler(t, 2, 1<<20, f)

	// Index claims the tile is on disk, but the file is missing.
	s.Cache().Record("k1", 4)
	s.Cache().MarkOnDisk("k1")

	var got Result
	s.Request("k1", "k1", func(res Result) { got = res })

	// The disk read fails and the job is re-issued against the
	// network; only then does the fetcher see it.
	pump(t, s, func() bool {
		select {
		case loc := <-f.started:
			if loc != "k1" {
				t.Fatalf("unexpected fetch %q", loc)
			}
			return true
		default:
			return false
		}
	})

	f.release("k1", []byte("net"), nil)
	pump(t, s, func() bool { return got.State == StateDone })

	if string(got.Data) != "net" {
		t.Errorf("data = %q, want network bytes", got.Data)
	}

	// The async rewrite eventually flips the on-disk flag back.
	pump(t, s, func() bool { return s.Cache().OnDisk("k1") })
}

func TestDiskReadFailureThenNetworkFailureIsTerminal(t *testing.T) {
	f := newBlockingFetcher()
	s := newTestScheduler(t, 2, 1<<20, f)

	s.Cache().Record("k1", 4)
	s.Cache().MarkOnDisk("k1")

	var got Result
	s.Request("k1", "k1", func(res Result) { got = res })

	pump(t, s, func() bool {
		select {
		case <-f.started:
			return true
		default:
			return false
		}
	})

	f.release("k1", nil, errors.New("boom"))
	pump(t, s, func() bool { return got.State == StateFailed })

	if got.Err == nil {
		t.Error("terminal failure must carry the error")
	}
	if _, ok := s.State("k1"); ok {
		t.Error("failed job still tracked")
	}
}

func TestDiskHitSkipsNetwork(t *testing.T) {
	f := newBlockingFetcher()
	s := newTestScheduler(t, 2, 1<<20, f)

	if err := s.Cache().Write("k1", []byte("cached")); err != nil {
		t.Fatal(err)
	}
	s.Cache().Record("k1", 6)
	s.Cache().MarkOnDisk("k1")

	var got Result
	s.Request("k1", "k1", func(res Result) { got = res })

	pump(t, s, func() bool { return got.State == StateDone })

	if string(got.Data) != "cached" {
		t.Errorf("data = %q, want cached bytes", got.Data)
	}
	assertNoStart(t, f)
}

func TestNetworkFailureSurfacesAsFailed(t *testing.T) {
	f := newBlockingFetcher()
	s := newTestScheduler(t, 1, 1<<20, f)

	var got Result
	s.Request("k1", "k1", func(res Result) { got = res })

	s.Tick(context.Background())
	recvStarted(t, f)
	f.release("k1", nil, errors.New("upstream returned status 503"))

	pump(t, s, func() bool { return got.State == StateFailed })

	if got.Err == nil {
		t.Error("failed result must carry the error")
	}
}

func TestEvictionRespectsBudget(t *testing.T) {
	f := newBlockingFetcher()
	s := newTestScheduler(t, 1, 250, f)

	payload := make([]byte, 100)
	keys := []string{"k1", "k2", "k3", "k4"}

	for _, k := range keys {
		key := k
		done := false
		s.Request(key, key, func(Result) { done = true })
		s.Tick(context.Background())
		recvStarted(t, f)
		f.release(key, payload, nil)
		pump(t, s, func() bool { return done })
	}

	if got := s.Cache().Total(); got > 250 {
		t.Errorf("cache total = %d, exceeds budget 250", got)
	}

	// The survivors are exactly the most recently fetched entries.
	var surviving []string
	for _, e := range s.Cache().Entries() {
		surviving = append(surviving, e.Key)
	}
	want := []string{"k3", "k4"}
	if diff := cmp.Diff(want, surviving, cmpopts.SortSlices(func(a, b string) bool { return a < b })); diff != "" {
		t.Errorf("surviving entries mismatch (-want +got):\n%s", diff)
	}
}

func TestEvictionNeverRemovesJustAddedEntry(t *testing.T) {
	f := newBlockingFetcher()
	// Budget smaller than one tile: the fresh entry still survives.
	s := newTestScheduler(t, 1, 50, f)

	done := false
	s.Request("k1", "k1", func(Result) { done = true })
	s.Tick(context.Background())
	recvStarted(t, f)
	f.release("k1", make([]byte, 100), nil)
	pump(t, s, func() bool { return done })

	if got := s.Cache().Len(); got != 1 {
		t.Errorf("entries = %d, the just-added entry must not be evicted", got)
	}
}

func TestWriteLandingAfterEvictionRemovesOrphanFile(t *testing.T) {
	f := newBlockingFetcher()
	s := newTestScheduler(t, 1, 1<<20, f)

	// The entry was evicted while its disk write was still pending: the
	// write completion arrives for a key with no entry. The file it
	// created sits outside the budget accounting and must be removed.
	if err := s.Cache().Write("k1", []byte("tile")); err != nil {
		t.Fatal(err)
	}
	s.handleWrite(completion{kind: writeCompleted, key: "k1"})

	if _, err := os.Stat(CachePath(s.Cache().Dir(), "k1")); !os.IsNotExist(err) {
		t.Error("orphaned tile file left on disk after its entry was evicted")
	}
}

func TestPauseAllDefersStarts(t *testing.T) {
	f := newBlockingFetcher()
	s := newTestScheduler(t, 2, 1<<20, f)

	s.Request("k1", "k1", nil)
	s.Request("k2", "k2", nil)

	s.PauseAll()
	s.Tick(context.Background())

	if got := s.InFlightCount(); got != 0 {
		t.Fatalf("in flight = %d while paused, want 0", got)
	}
	assertNoStart(t, f)

	s.ResumeAll()
	s.Tick(context.Background())

	if got := s.InFlightCount(); got != 2 {
		t.Fatalf("in flight = %d after resume, want 2", got)
	}
}

func TestRequestAfterTerminalStateStartsFreshJob(t *testing.T) {
	f := newBlockingFetcher()
	s := newTestScheduler(t, 1, 1<<20, f)

	var first Result
	s.Request("k1", "k1", func(res Result) { first = res })
	s.Tick(context.Background())
	recvStarted(t, f)
	f.release("k1", nil, errors.New("boom"))
	pump(t, s, func() bool { return first.State == StateFailed })

	// A fresh request for the same key after terminal failure makes a
	// new job; the disk flag was never set, so it goes to the network.
	var second Result
	s.Request("k1", "k1", func(res Result) { second = res })
	s.Tick(context.Background())
	recvStarted(t, f)
	f.release("k1", []byte("ok"), nil)
	pump(t, s, func() bool { return second.State == StateDone })

	if string(second.Data) != "ok" {
		t.Errorf("data = %q, want fresh fetch result", second.Data)
	}
}
