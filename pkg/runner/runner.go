// Package runner drives the statistic calculator over every edge of a graph.
//
// The edge list is split into ordered chunks. Chunks run one after another;
// the edges of a chunk run concurrently on a bounded errgroup pool. Workers
// hand their results back over a channel and the runner assembles the chunk
// table in arrival order, persists it, and only then starts the next chunk.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/gilchrisn/edge-significance/pkg/checkpoint"
	"github.com/gilchrisn/edge-significance/pkg/fisher"
	"github.com/gilchrisn/edge-significance/pkg/metrics"
	"github.com/gilchrisn/edge-significance/pkg/models"
	"github.com/gilchrisn/edge-significance/pkg/partition"
)

var (
	// ErrChunkTimeout is returned when a chunk exceeds Config.ChunkTimeout.
	ErrChunkTimeout = errors.New("runner: chunk timed out")
	// ErrResumeMismatch is returned when the stored manifest describes a
	// different graph or partitioning than the current run.
	ErrResumeMismatch = errors.New("runner: checkpoint does not match this run")
)

// Graph is what the runner reads: the calculator's view plus the edge list
type Graph interface {
	fisher.Graph
	Edges() []models.EdgeKey
}

// ComputeFunc computes one edge; fisher.Compute in production
type ComputeFunc func(g fisher.Graph, source, target string) (models.EdgeResult, error)

// ProgressFunc is called after each chunk with the chunks finished so far
type ProgressFunc func(done, total int)

// Option customizes a Runner
type Option func(*Runner)

func WithLogger(log zerolog.Logger) Option {
	return func(r *Runner) { r.log = log }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

func WithProgress(fn ProgressFunc) Option {
	return func(r *Runner) { r.progress = fn }
}

// WithRunID fixes the run ID instead of generating one
func WithRunID(id string) Option {
	return func(r *Runner) { r.runID = id }
}

// WithCompute replaces the per-edge calculator
func WithCompute(fn ComputeFunc) Option {
	return func(r *Runner) { r.compute = fn }
}

// Runner computes and checkpoints every chunk of one graph. A Runner is
// used for a single Run.
type Runner struct {
	graph    Graph
	store    checkpoint.Store
	cfg      Config
	log      zerolog.Logger
	metrics  *metrics.Metrics
	progress ProgressFunc
	compute  ComputeFunc
	runID    string
	now      func() time.Time
}

// New validates cfg and builds a runner
func New(g Graph, store checkpoint.Store, cfg Config, opts ...Option) (*Runner, error) {
	if g == nil || store == nil {
		return nil, fmt.Errorf("%w: graph and store are required", ErrConfig)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyRecord
	}
	r := &Runner{
		graph:   g,
		store:   store,
		cfg:     cfg,
		log:     zerolog.Nop(),
		compute: fisher.Compute,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.runID == "" {
		r.runID = uuid.NewString()
	}
	return r, nil
}

// outcome is what a worker sends back for one edge
type outcome struct {
	result  models.EdgeResult
	skipped bool
}

type chunkStats struct {
	computed   int
	degenerate int
	skipped    int
}

// Run processes every chunk in order. On failure the chunks already
// persisted stay in the store and the error names the failing chunk.
func (r *Runner) Run(ctx context.Context) (models.RunSummary, error) {
	start := r.now()
	edges := r.graph.Edges()
	chunks, err := partition.Split(edges, r.cfg.Chunks)
	if err != nil {
		return models.RunSummary{}, err
	}

	manifest, done, skippedBefore, err := r.prepare(ctx, len(edges))
	if err != nil {
		return models.RunSummary{}, err
	}
	r.log = r.log.With().Str("run_id", manifest.RunID).Logger()
	log := r.log

	summary := models.RunSummary{
		RunID:         manifest.RunID,
		Chunks:        len(chunks),
		ChunksResumed: len(done),
		EdgesSkipped:  skippedBefore,
	}
	log.Info().
		Int("edges", len(edges)).
		Int("chunks", len(chunks)).
		Int("workers", r.cfg.Workers).
		Int("resumed", len(done)).
		Str("policy", string(r.cfg.Policy)).
		Msg("starting run")

	finished := 0
	for i, chunk := range chunks {
		if done[i] {
			finished++
			if r.metrics != nil {
				r.metrics.ChunksTotal.WithLabelValues("resumed").Inc()
			}
			r.report(finished, len(chunks))
			continue
		}

		chunkStart := r.now()
		log.Debug().Int("chunk", i).Int("edges", len(chunk)).Msg("chunk started")
		if r.metrics != nil {
			r.metrics.InFlightChunk.Set(float64(i))
		}
		table, stats, err := r.runChunk(ctx, i, chunk)
		if err != nil {
			if r.metrics != nil {
				r.metrics.ChunksTotal.WithLabelValues("failed").Inc()
			}
			log.Error().Err(err).Int("chunk", i).Msg("chunk failed")
			return summary, fmt.Errorf("chunk %d: %w", i, err)
		}
		if err := r.store.WriteChunk(ctx, table); err != nil {
			log.Error().Err(err).Int("chunk", i).Msg("chunk not persisted")
			return summary, fmt.Errorf("chunk %d: %w", i, err)
		}

		summary.EdgesComputed += stats.computed
		summary.EdgesDegenerate += stats.degenerate
		summary.EdgesSkipped += stats.skipped
		manifest.Skipped = summary.EdgesSkipped
		if err := r.store.WriteManifest(ctx, manifest); err != nil {
			return summary, fmt.Errorf("chunk %d: %w", i, err)
		}

		elapsed := r.now().Sub(chunkStart)
		if r.metrics != nil {
			r.metrics.ChunksTotal.WithLabelValues("written").Inc()
			r.metrics.ChunkDuration.Observe(elapsed.Seconds())
			r.metrics.ChunkEdges.Observe(float64(len(chunk)))
		}
		log.Info().
			Int("chunk", i).
			Int("edges", len(chunk)).
			Int("rows", len(table.Results)).
			Int("degenerate", stats.degenerate).
			Dur("elapsed", elapsed).
			Msg("chunk written")

		finished++
		r.report(finished, len(chunks))
	}

	manifest.CompletedAt = r.now().UTC()
	if err := r.store.WriteManifest(ctx, manifest); err != nil {
		return summary, err
	}
	summary.RuntimeMS = r.now().Sub(start).Milliseconds()
	log.Info().
		Int("computed", summary.EdgesComputed).
		Int("degenerate", summary.EdgesDegenerate).
		Int("skipped", summary.EdgesSkipped).
		Int64("runtime_ms", summary.RuntimeMS).
		Msg("run complete")
	return summary, nil
}

func (r *Runner) report(done, total int) {
	if r.progress != nil {
		r.progress(done, total)
	}
}

// prepare writes a fresh manifest, or on resume checks the stored one and
// returns the chunk indexes already persisted with the edges they skipped.
func (r *Runner) prepare(ctx context.Context, numEdges int) (models.Manifest, map[int]bool, int, error) {
	existing, err := r.store.ListChunks(ctx)
	if err != nil {
		return models.Manifest{}, nil, 0, err
	}
	fresh := models.Manifest{
		RunID:            r.runID,
		NumChunks:        r.cfg.Chunks,
		NumEdges:         numEdges,
		TotalWeight:      r.graph.TotalWeight(),
		DegeneratePolicy: string(r.cfg.Policy),
		CreatedAt:        r.now().UTC(),
	}

	if !r.cfg.Resume {
		if len(existing) > 0 {
			return models.Manifest{}, nil, 0, fmt.Errorf(
				"%w: store already holds %d chunk artifacts; resume or use a fresh checkpoint location",
				checkpoint.ErrChunkExists, len(existing))
		}
		if err := r.store.WriteManifest(ctx, fresh); err != nil {
			return models.Manifest{}, nil, 0, err
		}
		return fresh, map[int]bool{}, 0, nil
	}

	stored, err := r.store.ReadManifest(ctx)
	if errors.Is(err, checkpoint.ErrManifestNotFound) {
		if len(existing) > 0 {
			return models.Manifest{}, nil, 0, fmt.Errorf("%w: %d chunk artifacts without a manifest", ErrResumeMismatch, len(existing))
		}
		if err := r.store.WriteManifest(ctx, fresh); err != nil {
			return models.Manifest{}, nil, 0, err
		}
		return fresh, map[int]bool{}, 0, nil
	}
	if err != nil {
		return models.Manifest{}, nil, 0, err
	}
	if stored.NumChunks != fresh.NumChunks || stored.NumEdges != fresh.NumEdges ||
		stored.TotalWeight != fresh.TotalWeight || stored.DegeneratePolicy != fresh.DegeneratePolicy {
		return models.Manifest{}, nil, 0, fmt.Errorf(
			"%w: stored chunks=%d edges=%d S=%g policy=%s, current chunks=%d edges=%d S=%g policy=%s",
			ErrResumeMismatch,
			stored.NumChunks, stored.NumEdges, stored.TotalWeight, stored.DegeneratePolicy,
			fresh.NumChunks, fresh.NumEdges, fresh.TotalWeight, fresh.DegeneratePolicy)
	}

	done := make(map[int]bool, len(existing))
	skipped := 0
	for _, idx := range existing {
		if idx >= r.cfg.Chunks {
			return models.Manifest{}, nil, 0, fmt.Errorf("%w: chunk %d outside 0..%d", ErrResumeMismatch, idx, r.cfg.Chunks-1)
		}
		// Decode each one so a corrupt artifact fails now, not at aggregation.
		tbl, err := r.store.ReadChunk(ctx, idx)
		if err != nil {
			return models.Manifest{}, nil, 0, err
		}
		start, end := partition.Bounds(numEdges, r.cfg.Chunks, idx)
		if len(tbl.Results) > end-start {
			return models.Manifest{}, nil, 0, fmt.Errorf("%w: chunk %d has %d rows, expected at most %d",
				ErrResumeMismatch, idx, len(tbl.Results), end-start)
		}
		skipped += end - start - len(tbl.Results)
		done[idx] = true
	}
	stored.CompletedAt = time.Time{}
	stored.Skipped = skipped
	r.log.Info().Str("run_id", stored.RunID).Int("chunks", len(done)).Msg("resuming from checkpoint")
	return stored, done, skipped, nil
}

// runChunk computes every edge of one chunk and returns its table
func (r *Runner) runChunk(ctx context.Context, index int, edges []models.EdgeKey) (models.ChunkTable, chunkStats, error) {
	cctx := ctx
	if r.cfg.ChunkTimeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, r.cfg.ChunkTimeout)
		defer cancel()
	}

	g, gctx := errgroup.WithContext(cctx)
	g.SetLimit(r.cfg.Workers)

	results := make(chan outcome, r.cfg.Workers)
	table := models.ChunkTable{Index: index, Results: make([]models.EdgeResult, 0, len(edges))}
	var stats chunkStats
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for o := range results {
			if o.skipped {
				stats.skipped++
				continue
			}
			stats.computed++
			if o.result.Degenerate != 0 {
				stats.degenerate++
			}
			table.Results = append(table.Results, o.result)
		}
	}()

	for _, e := range edges {
		if gctx.Err() != nil {
			break
		}
		e := e
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			o, err := r.computeEdge(e)
			if err != nil {
				return err
			}
			select {
			case results <- o:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}

	err := g.Wait()
	close(results)
	<-collected

	if err == nil {
		err = cctx.Err()
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w after %s", ErrChunkTimeout, r.cfg.ChunkTimeout)
		}
		return models.ChunkTable{}, chunkStats{}, err
	}
	return table, stats, nil
}

// computeEdge applies the calculator and the degenerate policy
func (r *Runner) computeEdge(e models.EdgeKey) (outcome, error) {
	res, err := r.compute(r.graph, e.Source, e.Target)
	if err == nil {
		r.count(metrics.OutcomeOK)
		return outcome{result: res}, nil
	}

	var de *fisher.DegenerateError
	if !errors.As(err, &de) {
		r.count(metrics.OutcomeFailed)
		return outcome{}, fmt.Errorf("edge %s: %w", e, err)
	}

	switch r.cfg.Policy {
	case PolicyAbort:
		r.count(metrics.OutcomeFailed)
		return outcome{}, fmt.Errorf("edge %s: %w", e, err)
	case PolicySkip:
		r.count(metrics.OutcomeSkipped)
		r.log.Warn().Str("source", e.Source).Str("target", e.Target).
			Str("undefined", de.Flags.String()).Msg("skipping degenerate edge")
		return outcome{result: res, skipped: true}, nil
	default:
		r.count(metrics.OutcomeDegenerate)
		r.log.Debug().Str("source", e.Source).Str("target", e.Target).
			Str("undefined", de.Flags.String()).Msg("recording degenerate edge")
		return outcome{result: res}, nil
	}
}

func (r *Runner) count(outcome string) {
	if r.metrics != nil {
		r.metrics.EdgesTotal.WithLabelValues(outcome).Inc()
	}
}
