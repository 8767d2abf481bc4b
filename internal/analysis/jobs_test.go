package analysis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coder895/car-market-analyzer/internal/model"
	"github.com/coder895/car-market-analyzer/internal/store"
)

// gatedStore blocks the first page fetch until its context is canceled, so a
// test can hold one job mid-scan while starting another.
type gatedStore struct {
	store.Store
	mu    sync.Mutex
	calls int
}

func (g *gatedStore) ListListings(ctx context.Context, f model.ListingFilter, sortBy string, order model.SortOrder, limit, offset int) ([]model.Listing, error) {
	g.mu.Lock()
	first := g.calls == 0
	g.calls++
	g.mu.Unlock()

	if first {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return g.Store.ListListings(ctx, f, sortBy, order, limit, offset)
}

// waitFirstCall blocks until the gated fetch has been entered, so the next
// job started cannot race for the gate.
func (g *gatedStore) waitFirstCall(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		g.mu.Lock()
		defer g.mu.Unlock()
		return g.calls >= 1
	}, time.Second, 5*time.Millisecond)
}

func newTestRunner(t *testing.T) (*Runner, *gatedStore) {
	t.Helper()
	e, st := newTestEngine(t, Config{})
	seedCivicTrend(t, st)

	gated := &gatedStore{Store: st}
	e.store = gated
	return NewRunner(e, 50*time.Millisecond), gated
}

func TestRunnerCompletesJob(t *testing.T) {
	e, st := newTestEngine(t, Config{})
	seedCivicTrend(t, st)
	r := NewRunner(e, 50*time.Millisecond)
	ctx := context.Background()

	id, err := r.Start(ctx, model.AnalysisPriceTrends, model.AnalysisParams{
		Filter:     model.ListingFilter{Make: "Honda", Model: "Civic"},
		TimePeriod: model.PeriodAll,
	})
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	info, err := r.Wait(waitCtx, id)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, info.Status)
	assert.Equal(t, 1.0, info.Progress)
	require.NotNil(t, info.EndTime)

	result, _, err := r.Result(id)
	require.NoError(t, err)
	trend, ok := result.(*model.PriceTrendResult)
	require.True(t, ok)
	assert.Equal(t, "up", trend.Trend.Direction)
}

func TestRunnerSecondStartCancelsFirst(t *testing.T) {
	r, gated := newTestRunner(t)
	ctx := context.Background()

	j1, err := r.Start(ctx, model.AnalysisPriceTrends, model.AnalysisParams{
		Filter: model.ListingFilter{Make: "Honda"}, TimePeriod: model.PeriodAll,
	})
	require.NoError(t, err)
	gated.waitFirstCall(t)

	// J1 is parked inside its first page fetch. Starting J2 must cancel it.
	j2, err := r.Start(ctx, model.AnalysisPriceDistribution, model.AnalysisParams{
		Filter: model.ListingFilter{Make: "Honda"},
	})
	require.NoError(t, err)
	require.NotEqual(t, j1, j2)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	info1, err := r.Wait(waitCtx, j1)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCanceled, info1.Status)

	info2, err := r.Wait(waitCtx, j2)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, info2.Status)

	// The current-job pointer refers only to J2 now.
	current, ok := r.Current()
	require.True(t, ok)
	assert.Equal(t, j2, current.ID)
}

// blockingStore parks every page fetch until its context is canceled, so
// jobs stay running until explicitly canceled.
type blockingStore struct {
	store.Store
	mu    sync.Mutex
	calls int
}

func (b *blockingStore) ListListings(ctx context.Context, f model.ListingFilter, sortBy string, order model.SortOrder, limit, offset int) ([]model.Listing, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (b *blockingStore) waitCalls(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.calls >= n
	}, time.Second, 5*time.Millisecond)
}

func TestRunnerConcurrentStartsKeepOneActive(t *testing.T) {
	e, st := newTestEngine(t, Config{})
	seedCivicTrend(t, st)
	blocked := &blockingStore{Store: st}
	e.store = blocked
	r := NewRunner(e, 50*time.Millisecond)
	ctx := context.Background()

	j1, err := r.Start(ctx, model.AnalysisPriceTrends, model.AnalysisParams{
		Filter: model.ListingFilter{Make: "Honda"}, TimePeriod: model.PeriodAll,
	})
	require.NoError(t, err)
	blocked.waitCalls(t, 1)

	// Two replacement starts race against each other while J1 is parked.
	var wg sync.WaitGroup
	ids := make([]string, 2)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := r.Start(ctx, model.AnalysisPriceDistribution, model.AnalysisParams{
				Filter: model.ListingFilter{Make: "Honda"},
			})
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	// Every loser must have had cancellation requested: the slot settles
	// on exactly one running job.
	all := append([]string{j1}, ids...)
	require.Eventually(t, func() bool {
		running := 0
		for _, id := range all {
			info, err := r.Poll(id)
			if err != nil || !info.Status.Terminal() {
				running++
			}
		}
		return running == 1
	}, 2*time.Second, 10*time.Millisecond)

	current, ok := r.Current()
	require.True(t, ok)
	assert.Equal(t, model.JobStatusRunning, current.Status)
	require.NoError(t, r.Cancel(current.ID))
}

func TestRunnerCancel(t *testing.T) {
	r, _ := newTestRunner(t)
	ctx := context.Background()

	id, err := r.Start(ctx, model.AnalysisPriceTrends, model.AnalysisParams{
		Filter: model.ListingFilter{Make: "Honda"}, TimePeriod: model.PeriodAll,
	})
	require.NoError(t, err)

	require.NoError(t, r.Cancel(id))

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	info, err := r.Wait(waitCtx, id)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCanceled, info.Status)
}

func TestRunnerUnknownJob(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	r := NewRunner(e, 0)

	_, err := r.Poll("missing")
	require.ErrorIs(t, err, ErrJobNotFound)

	require.ErrorIs(t, r.Cancel("missing"), ErrJobNotFound)

	_, _, err = r.Result("missing")
	require.ErrorIs(t, err, ErrJobNotFound)

	_, ok := r.Current()
	assert.False(t, ok)
}

func TestRunnerResultBeforeCompletion(t *testing.T) {
	r, _ := newTestRunner(t)
	ctx := context.Background()

	id, err := r.Start(ctx, model.AnalysisPriceTrends, model.AnalysisParams{
		Filter: model.ListingFilter{Make: "Honda"}, TimePeriod: model.PeriodAll,
	})
	require.NoError(t, err)

	// Still parked in the first page fetch: progress, not a result.
	result, info, err := r.Result(id)
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Equal(t, model.JobStatusRunning, info.Status)

	require.NoError(t, r.Cancel(id))
}
