package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gilchrisn/edge-significance/pkg/checkpoint"
	"github.com/gilchrisn/edge-significance/pkg/fisher"
	"github.com/gilchrisn/edge-significance/pkg/graph"
	"github.com/gilchrisn/edge-significance/pkg/metrics"
	"github.com/gilchrisn/edge-significance/pkg/models"
)

func sixEdgeGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g, err := graph.FromEdges([]models.Edge{
		{Source: "a", Target: "b", Weight: 3},
		{Source: "a", Target: "c", Weight: 1},
		{Source: "b", Target: "c", Weight: 4},
		{Source: "c", Target: "a", Weight: 2},
		{Source: "b", Target: "a", Weight: 1},
		{Source: "c", Target: "b", Weight: 5},
	})
	require.NoError(t, err)
	return g
}

func chainGraph(t *testing.T, n int) *graph.Graph {
	t.Helper()
	b := graph.NewBuilder()
	for i := 0; i < n; i++ {
		require.NoError(t, b.AddEdge(fmt.Sprintf("n%d", i), fmt.Sprintf("n%d", i+1), float64(i+1)))
	}
	return b.Build()
}

func dirStore(t *testing.T) (*checkpoint.DirStore, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "chunks")
	s, err := checkpoint.NewDirStore(dir)
	require.NoError(t, err)
	return s, dir
}

func okCompute(g fisher.Graph, source, target string) (models.EdgeResult, error) {
	return models.EdgeResult{Source: source, Target: target, OddsRatio: 1, PValue: 0.5, Phi: 0}, nil
}

func TestRunSixEdgesTwoChunks(t *testing.T) {
	store, dir := dirStore(t)
	cfg := DefaultConfig()
	cfg.Chunks = 2
	cfg.Workers = 3

	var progress []int
	r, err := New(sixEdgeGraph(t), store, cfg, WithProgress(func(done, total int) {
		assert.Equal(t, 2, total)
		progress = append(progress, done)
	}))
	require.NoError(t, err)

	summary, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Chunks)
	assert.Equal(t, 6, summary.EdgesComputed)
	assert.Equal(t, []int{1, 2}, progress)

	ctx := context.Background()
	seen := make(map[models.EdgeKey]bool)
	for i := 0; i < 2; i++ {
		_, err := os.Stat(filepath.Join(dir, checkpoint.ChunkFileName(i)))
		require.NoError(t, err)
		tbl, err := store.ReadChunk(ctx, i)
		require.NoError(t, err)
		assert.Len(t, tbl.Results, 3)
		for _, res := range tbl.Results {
			assert.False(t, seen[res.Key()], "duplicate %s", res.Key())
			seen[res.Key()] = true
		}
	}
	assert.Len(t, seen, 6)

	m, err := store.ReadManifest(ctx)
	require.NoError(t, err)
	assert.True(t, m.Complete())
	assert.Equal(t, summary.RunID, m.RunID)
	assert.Equal(t, 6, m.NumEdges)
	assert.Equal(t, 2, m.NumChunks)
	assert.Equal(t, 16.0, m.TotalWeight)
}

func TestRunChunkBarrierAndPoolBound(t *testing.T) {
	g := chainGraph(t, 24)
	store, _ := dirStore(t)
	cfg := Config{Chunks: 4, Workers: 2}

	chunkOf := make(map[string]int)
	for i, e := range g.Edges() {
		chunkOf[e.Source] = i / 6
	}

	var (
		mu       sync.Mutex
		order    []int
		inFlight atomic.Int32
		peak     atomic.Int32
	)
	compute := func(fg fisher.Graph, source, target string) (models.EdgeResult, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		mu.Lock()
		order = append(order, chunkOf[source])
		mu.Unlock()
		time.Sleep(2 * time.Millisecond)
		return okCompute(fg, source, target)
	}

	r, err := New(g, store, cfg, WithCompute(compute))
	require.NoError(t, err)
	_, err = r.Run(context.Background())
	require.NoError(t, err)

	assert.LessOrEqual(t, peak.Load(), int32(2))
	require.Len(t, order, 24)
	for i := 1; i < len(order); i++ {
		assert.LessOrEqual(t, order[i-1], order[i], "chunk %d started before chunk %d finished", order[i], order[i-1])
	}
}

func degenerateOn(bad models.EdgeKey) ComputeFunc {
	return func(g fisher.Graph, source, target string) (models.EdgeResult, error) {
		res, _ := okCompute(g, source, target)
		if source == bad.Source && target == bad.Target {
			res.Degenerate = models.DegeneratePhi
			return res, &fisher.DegenerateError{Source: source, Target: target, Flags: models.DegeneratePhi}
		}
		return res, nil
	}
}

func TestRunDegeneratePolicies(t *testing.T) {
	bad := models.EdgeKey{Source: "b", Target: "c"}
	ctx := context.Background()

	t.Run("Record", func(t *testing.T) {
		store, _ := dirStore(t)
		r, err := New(sixEdgeGraph(t), store, Config{Chunks: 2, Workers: 2, Policy: PolicyRecord}, WithCompute(degenerateOn(bad)))
		require.NoError(t, err)
		summary, err := r.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.EdgesDegenerate)
		assert.Equal(t, 0, summary.EdgesSkipped)

		tbl, err := store.ReadChunk(ctx, 0)
		require.NoError(t, err)
		assert.Len(t, tbl.Results, 3)
	})

	t.Run("Skip", func(t *testing.T) {
		store, _ := dirStore(t)
		r, err := New(sixEdgeGraph(t), store, Config{Chunks: 2, Workers: 2, Policy: PolicySkip}, WithCompute(degenerateOn(bad)))
		require.NoError(t, err)
		summary, err := r.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.EdgesSkipped)
		assert.Equal(t, 5, summary.EdgesComputed)

		tbl, err := store.ReadChunk(ctx, 0)
		require.NoError(t, err)
		require.Len(t, tbl.Results, 2)
		for _, res := range tbl.Results {
			assert.NotEqual(t, bad, res.Key())
		}
		m, err := store.ReadManifest(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, m.Skipped)
		assert.Equal(t, 5, m.ExpectedRows())
	})

	t.Run("Abort", func(t *testing.T) {
		store, _ := dirStore(t)
		r, err := New(sixEdgeGraph(t), store, Config{Chunks: 2, Workers: 2, Policy: PolicyAbort}, WithCompute(degenerateOn(bad)))
		require.NoError(t, err)
		_, err = r.Run(ctx)
		require.Error(t, err)
		assert.ErrorIs(t, err, fisher.ErrDegenerateDegree)
		assert.Contains(t, err.Error(), "chunk 0")
		assert.Contains(t, err.Error(), "b->c")

		has, err := store.HasChunk(ctx, 0)
		require.NoError(t, err)
		assert.False(t, has)
	})
}

func TestRunMissingEdgeIsFatal(t *testing.T) {
	store, _ := dirStore(t)
	compute := func(g fisher.Graph, source, target string) (models.EdgeResult, error) {
		return models.EdgeResult{}, fmt.Errorf("%w: %s->%s", graph.ErrMissingEdge, source, target)
	}
	r, err := New(sixEdgeGraph(t), store, Config{Chunks: 2, Workers: 2, Policy: PolicyRecord}, WithCompute(compute))
	require.NoError(t, err)

	_, err = r.Run(context.Background())
	assert.ErrorIs(t, err, graph.ErrMissingEdge)
	assert.Contains(t, err.Error(), "chunk 0")
}

func TestRunRefusesPopulatedStore(t *testing.T) {
	store, _ := dirStore(t)
	ctx := context.Background()
	require.NoError(t, store.WriteChunk(ctx, models.ChunkTable{Index: 0}))

	r, err := New(sixEdgeGraph(t), store, Config{Chunks: 2, Workers: 2})
	require.NoError(t, err)
	_, err = r.Run(ctx)
	assert.ErrorIs(t, err, checkpoint.ErrChunkExists)
}

func TestRunResume(t *testing.T) {
	g := chainGraph(t, 8)
	store, _ := dirStore(t)
	ctx := context.Background()
	cfg := Config{Chunks: 4, Workers: 2}

	failing := func(fg fisher.Graph, source, target string) (models.EdgeResult, error) {
		if source == "n5" {
			return models.EdgeResult{}, errors.New("worker crashed")
		}
		return okCompute(fg, source, target)
	}
	r, err := New(g, store, cfg, WithCompute(failing))
	require.NoError(t, err)
	_, err = r.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk 2")

	idx, err := store.ListChunks(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{0, 1}, idx)

	var calls atomic.Int32
	counting := func(fg fisher.Graph, source, target string) (models.EdgeResult, error) {
		calls.Add(1)
		return okCompute(fg, source, target)
	}
	cfg.Resume = true
	r, err = New(g, store, cfg, WithCompute(counting))
	require.NoError(t, err)
	summary, err := r.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, int32(4), calls.Load())
	assert.Equal(t, 2, summary.ChunksResumed)
	assert.Equal(t, 4, summary.EdgesComputed)

	idx, err = store.ListChunks(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{0, 1, 2, 3}, idx)

	m, err := store.ReadManifest(ctx)
	require.NoError(t, err)
	assert.True(t, m.Complete())
}

func TestRunResumeMismatch(t *testing.T) {
	g := chainGraph(t, 8)
	store, _ := dirStore(t)
	ctx := context.Background()

	r, err := New(g, store, Config{Chunks: 4, Workers: 2}, WithCompute(okCompute))
	require.NoError(t, err)
	_, err = r.Run(ctx)
	require.NoError(t, err)

	r, err = New(g, store, Config{Chunks: 3, Workers: 2, Resume: true}, WithCompute(okCompute))
	require.NoError(t, err)
	_, err = r.Run(ctx)
	assert.ErrorIs(t, err, ErrResumeMismatch)
}

func TestRunChunkTimeout(t *testing.T) {
	store, _ := dirStore(t)
	slow := func(g fisher.Graph, source, target string) (models.EdgeResult, error) {
		time.Sleep(50 * time.Millisecond)
		return okCompute(g, source, target)
	}
	r, err := New(sixEdgeGraph(t), store, Config{Chunks: 1, Workers: 1, ChunkTimeout: 5 * time.Millisecond}, WithCompute(slow))
	require.NoError(t, err)

	_, err = r.Run(context.Background())
	assert.ErrorIs(t, err, ErrChunkTimeout)

	has, err := store.HasChunk(context.Background(), 0)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestRunCancelled(t *testing.T) {
	store, _ := dirStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r, err := New(sixEdgeGraph(t), store, Config{Chunks: 2, Workers: 2}, WithCompute(okCompute))
	require.NoError(t, err)
	_, err = r.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrChunkTimeout)
}

func TestRunWithFisherAndMetrics(t *testing.T) {
	store, err := checkpoint.NewInMemoryBadgerStore()
	require.NoError(t, err)
	defer store.Close()

	m := metrics.New()
	g := sixEdgeGraph(t)
	r, err := New(g, store, Config{Chunks: 4, Workers: 4}, WithMetrics(m), WithRunID("fixed-run"))
	require.NoError(t, err)

	summary, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fixed-run", summary.RunID)

	total := testutil.ToFloat64(m.EdgesTotal.WithLabelValues(metrics.OutcomeOK)) +
		testutil.ToFloat64(m.EdgesTotal.WithLabelValues(metrics.OutcomeDegenerate))
	assert.Equal(t, 6.0, total)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.ChunksTotal.WithLabelValues("written")))

	rows := 0
	for i := 0; i < 4; i++ {
		tbl, err := store.ReadChunk(context.Background(), i)
		require.NoError(t, err)
		for _, res := range tbl.Results {
			want, _ := fisher.Compute(g, res.Source, res.Target)
			assert.Equal(t, want.PValue, res.PValue)
		}
		rows += len(tbl.Results)
	}
	assert.Equal(t, 6, rows)
}

func TestNewValidatesConfig(t *testing.T) {
	store, _ := dirStore(t)
	g := sixEdgeGraph(t)

	for _, cfg := range []Config{
		{Chunks: 0, Workers: 1},
		{Chunks: 1, Workers: 0},
		{Chunks: 1, Workers: 1, Policy: "ignore"},
		{Chunks: 1, Workers: 1, ChunkTimeout: -time.Second},
	} {
		_, err := New(g, store, cfg)
		assert.ErrorIs(t, err, ErrConfig, "%+v", cfg)
	}

	_, err := ParsePolicy("skip")
	assert.NoError(t, err)
}
