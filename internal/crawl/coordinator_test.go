package crawl

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const chartPageHTML = `<html><body>
<div class="song_title">
  <div class="right">
    <h3 class="textfix">Test Song</h3>
    <h2 class="sub">artist - ID:c555</h2>
  </div>
</div>
<ul class="list">
  <li title="950/30/2/0">
    <span class="rank"><i class="label top-1"></i></span>
    <span class="name"><a href="/accounts/user/1001">alpha</a></span>
    <span class="score">998877</span>
    <span class="combo">982</span>
    <span class="acc"><em>99.21%</em></span>
  </li>
</ul>
</body></html>`

type countingFetcher struct {
	mu    sync.Mutex
	calls int
	body  []byte
	err   error
	// gate, when set, blocks every Fetch until released.
	gate chan struct{}
}

func (f *countingFetcher) Fetch(ctx context.Context, rawURL string) (RawPage, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return RawPage{}, ctx.Err()
		}
	}
	if f.err != nil {
		return RawPage{}, f.err
	}
	return RawPage{URL: rawURL, StatusCode: 200, Body: f.body}, nil
}

func (f *countingFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingSink struct {
	mu      sync.Mutex
	records []RecordSet
	done    chan struct{}
}

func (s *recordingSink) Persist(_ context.Context, records RecordSet) error {
	s.mu.Lock()
	s.records = append(s.records, records)
	s.mu.Unlock()
	if s.done != nil {
		close(s.done)
	}
	return nil
}

func newTestCoordinator(fetcher Fetcher, sink Sink, clock Clock) *Coordinator {
	return NewCoordinator(CoordinatorConfig{
		BaseURL:     "https://rank.example.net",
		FetchBudget: 5 * time.Second,
	}, fetcher, NewCache(5*time.Minute, clock), sink, clock, zap.NewNop())
}

func TestCoordinator_FetchAndExtract(t *testing.T) {
	t.Parallel()
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	fetcher := &countingFetcher{body: []byte(chartPageHTML)}
	c := newTestCoordinator(fetcher, nil, clock)

	records, err := c.GetOrFetch(context.Background(), "chart:42")
	require.NoError(t, err)
	require.Equal(t, int64(42), records.Resource.ID)
	require.Len(t, records.Rankings, 1)
	require.Equal(t, "alpha", records.Rankings[0].PlayerName)
	require.Equal(t, clock.Now(), records.ObservedAt)
}

func TestCoordinator_CacheHitSkipsFetcher(t *testing.T) {
	t.Parallel()
	clock := newFakeClock(time.Now())
	fetcher := &countingFetcher{body: []byte(chartPageHTML)}
	c := newTestCoordinator(fetcher, nil, clock)

	_, err := c.GetOrFetch(context.Background(), "chart:42")
	require.NoError(t, err)
	_, err = c.GetOrFetch(context.Background(), "chart:42")
	require.NoError(t, err)
	require.Equal(t, 1, fetcher.Calls())
}

func TestCoordinator_ExpiredEntryRefetches(t *testing.T) {
	t.Parallel()
	clock := newFakeClock(time.Now())
	fetcher := &countingFetcher{body: []byte(chartPageHTML)}
	c := newTestCoordinator(fetcher, nil, clock)

	_, err := c.GetOrFetch(context.Background(), "chart:42")
	require.NoError(t, err)

	clock.Advance(6 * time.Minute)
	_, err = c.GetOrFetch(context.Background(), "chart:42")
	require.NoError(t, err)
	require.Equal(t, 2, fetcher.Calls())
}

func TestCoordinator_ConcurrentCallersCollapse(t *testing.T) {
	t.Parallel()
	clock := newFakeClock(time.Now())
	gate := make(chan struct{})
	fetcher := &countingFetcher{body: []byte(chartPageHTML), gate: gate}
	c := newTestCoordinator(fetcher, nil, clock)

	const callers = 20
	var (
		started sync.WaitGroup
		wg      sync.WaitGroup
		errs    atomic.Int32
	)
	for i := 0; i < callers; i++ {
		started.Add(1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			started.Done()
			if _, err := c.GetOrFetch(context.Background(), "chart:42"); err != nil {
				errs.Add(1)
			}
		}()
	}
	started.Wait()
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	require.Zero(t, errs.Load())
	require.Equal(t, 1, fetcher.Calls())
}

func TestCoordinator_SharedErrorReachesAllWaiters(t *testing.T) {
	t.Parallel()
	clock := newFakeClock(time.Now())
	fetchErr := &FetchError{URL: "https://rank.example.net/chart/42", StatusCode: 503}
	gate := make(chan struct{})
	fetcher := &countingFetcher{err: fetchErr, gate: gate}
	c := newTestCoordinator(fetcher, nil, clock)

	const callers = 5
	var (
		started sync.WaitGroup
		wg      sync.WaitGroup
	)
	errors := make([]error, callers)
	for i := 0; i < callers; i++ {
		started.Add(1)
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			started.Done()
			_, errors[idx] = c.GetOrFetch(context.Background(), "chart:42")
		}(i)
	}
	started.Wait()
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	for _, err := range errors {
		require.Error(t, err)
	}
	require.Equal(t, 1, fetcher.Calls())

	// A failed fetch leaves no cache entry behind.
	_, ok := c.cache.Get("chart:42")
	require.False(t, ok)
}

func TestCoordinator_StructureMismatchNotCached(t *testing.T) {
	t.Parallel()
	clock := newFakeClock(time.Now())
	fetcher := &countingFetcher{body: []byte("<html><body><p>maintenance</p></body></html>")}
	c := newTestCoordinator(fetcher, nil, clock)

	_, err := c.GetOrFetch(context.Background(), "chart:42")
	var mismatch *StructureMismatch
	require.ErrorAs(t, err, &mismatch)

	_, err = c.GetOrFetch(context.Background(), "chart:42")
	require.Error(t, err)
	require.Equal(t, 2, fetcher.Calls())
}

func TestCoordinator_CallerDeadlineAbandonsWait(t *testing.T) {
	t.Parallel()
	clock := newFakeClock(time.Now())
	gate := make(chan struct{})
	defer close(gate)
	fetcher := &countingFetcher{body: []byte(chartPageHTML), gate: gate}
	c := newTestCoordinator(fetcher, nil, clock)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := c.GetOrFetch(ctx, "chart:42")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCoordinator_PersistsNonEmptyResults(t *testing.T) {
	t.Parallel()
	clock := newFakeClock(time.Now())
	fetcher := &countingFetcher{body: []byte(chartPageHTML)}
	sink := &recordingSink{done: make(chan struct{})}
	c := newTestCoordinator(fetcher, sink, clock)

	_, err := c.GetOrFetch(context.Background(), "chart:42")
	require.NoError(t, err)

	select {
	case <-sink.done:
	case <-time.After(2 * time.Second):
		t.Fatal("sink was never invoked")
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.records, 1)
	require.Equal(t, int64(42), sink.records[0].Resource.ID)
}

func TestCoordinator_MalformedResourceID(t *testing.T) {
	t.Parallel()
	clock := newFakeClock(time.Now())
	c := newTestCoordinator(&countingFetcher{}, nil, clock)

	for _, bad := range []string{"", "chart", "chart:", "chart:0", "chart:-5", "level:9", "chart:abc"} {
		_, err := c.GetOrFetch(context.Background(), bad)
		require.Error(t, err, "resource %q", bad)
	}
}
