// Package pipeline runs the whole edge significance workflow: load the
// edge table, build the graph, compute every chunk and aggregate the
// final table.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/gilchrisn/edge-significance/pkg/aggregate"
	"github.com/gilchrisn/edge-significance/pkg/checkpoint"
	"github.com/gilchrisn/edge-significance/pkg/config"
	"github.com/gilchrisn/edge-significance/pkg/graph"
	"github.com/gilchrisn/edge-significance/pkg/loader"
	"github.com/gilchrisn/edge-significance/pkg/metrics"
	"github.com/gilchrisn/edge-significance/pkg/models"
	"github.com/gilchrisn/edge-significance/pkg/runner"
	"github.com/gilchrisn/edge-significance/pkg/validation"
)

// Pipeline holds what a run needs besides its configuration
type Pipeline struct {
	Config   config.Config
	Log      zerolog.Logger
	Metrics  *metrics.Metrics
	Progress runner.ProgressFunc
}

// LoadReport is the network summary printed after loading
type LoadReport struct {
	Rows        int     `json:"rows"`
	Nodes       int     `json:"nodes"`
	Edges       int     `json:"edges"`
	TotalWeight float64 `json:"total_weight"`
}

// Result contains the complete pipeline output
type Result struct {
	Load           LoadReport        `json:"load"`
	Run            models.RunSummary `json:"run"`
	Aggregate      aggregate.Summary `json:"aggregate"`
	TotalRuntimeMS int64             `json:"total_runtime_ms"`
}

func New(cfg config.Config, log zerolog.Logger) *Pipeline {
	return &Pipeline{Config: cfg, Log: log}
}

// Run executes load, compute and aggregate against one checkpoint store
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	if err := p.Config.Validate(); err != nil {
		return nil, err
	}
	if p.Config.Input == "" {
		return nil, fmt.Errorf("%w: input is required", config.ErrInvalid)
	}
	if err := validation.ValidatePaths(validation.Paths{
		Input:         p.Config.Input,
		CheckpointDir: p.Config.Checkpoint.Dir,
		Output:        p.Config.Output,
	}); err != nil {
		return nil, err
	}

	g, report, err := p.Load()
	if err != nil {
		return nil, p.fail(err)
	}

	store, err := p.openStore()
	if err != nil {
		return nil, p.fail(err)
	}
	defer store.Close()

	result := &Result{Load: report}
	p.Log.Info().Msg("Step 2: computing chunk tables")
	if result.Run, err = p.compute(ctx, g, store); err != nil {
		return nil, p.fail(fmt.Errorf("compute: %w", err))
	}

	p.Log.Info().Msg("Step 3: aggregating final table")
	if result.Aggregate, err = p.aggregate(ctx, store); err != nil {
		return nil, p.fail(fmt.Errorf("aggregate: %w", err))
	}
	p.stage(metrics.StageDone)

	result.TotalRuntimeMS = time.Since(start).Milliseconds()
	p.Log.Info().
		Int64("runtime_ms", result.TotalRuntimeMS).
		Int("rows", result.Aggregate.Rows).
		Int("rejected", result.Aggregate.Rejected).
		Msg("pipeline complete")
	return result, nil
}

// Compute loads the graph and writes every chunk table without aggregating
func (p *Pipeline) Compute(ctx context.Context) (models.RunSummary, error) {
	if err := p.Config.Validate(); err != nil {
		return models.RunSummary{}, err
	}
	if p.Config.Input == "" {
		return models.RunSummary{}, fmt.Errorf("%w: input is required", config.ErrInvalid)
	}
	if err := validation.ValidatePaths(validation.Paths{
		Input:         p.Config.Input,
		CheckpointDir: p.Config.Checkpoint.Dir,
	}); err != nil {
		return models.RunSummary{}, err
	}
	g, _, err := p.Load()
	if err != nil {
		return models.RunSummary{}, p.fail(err)
	}
	store, err := p.openStore()
	if err != nil {
		return models.RunSummary{}, p.fail(err)
	}
	defer store.Close()
	summary, err := p.compute(ctx, g, store)
	if err != nil {
		return summary, p.fail(err)
	}
	p.stage(metrics.StageDone)
	return summary, nil
}

// Aggregate builds the final table from a completed checkpoint store
func (p *Pipeline) Aggregate(ctx context.Context) (aggregate.Summary, error) {
	if err := p.Config.Validate(); err != nil {
		return aggregate.Summary{}, err
	}
	if err := validation.ValidateOutputFile(p.Config.Output); err != nil {
		return aggregate.Summary{}, err
	}
	store, err := p.openStore()
	if err != nil {
		return aggregate.Summary{}, p.fail(err)
	}
	defer store.Close()
	summary, err := p.aggregate(ctx, store)
	if err != nil {
		return summary, p.fail(err)
	}
	p.stage(metrics.StageDone)
	return summary, nil
}

// Load reads the edge table and builds the graph
func (p *Pipeline) Load() (*graph.Graph, LoadReport, error) {
	p.stage(metrics.StageLoading)
	p.Log.Info().Str("input", p.Config.Input).Msg("Step 1: loading network")
	edges, err := loader.Load(p.Config.Input, p.Config.Loader())
	if err != nil {
		return nil, LoadReport{}, fmt.Errorf("load edge table: %w", err)
	}
	g, err := graph.FromEdges(edges)
	if err != nil {
		return nil, LoadReport{}, fmt.Errorf("build graph: %w", err)
	}
	report := LoadReport{
		Rows:        len(edges),
		Nodes:       g.NumNodes(),
		Edges:       g.NumEdges(),
		TotalWeight: g.TotalWeight(),
	}
	p.Log.Info().
		Int("nodes", report.Nodes).
		Int("edges", report.Edges).
		Int("rows", report.Rows).
		Float64("total_weight", report.TotalWeight).
		Msg("network loaded")
	if report.Edges == 0 {
		return nil, report, fmt.Errorf("%w: edge table has no rows", loader.ErrInputFormat)
	}
	return g, report, nil
}

func (p *Pipeline) openStore() (checkpoint.Store, error) {
	store, err := checkpoint.Open(p.Config.Checkpoint.Backend, p.Config.Checkpoint.Dir)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store: %w", err)
	}
	return store, nil
}

func (p *Pipeline) compute(ctx context.Context, g *graph.Graph, store checkpoint.Store) (models.RunSummary, error) {
	p.stage(metrics.StageComputing)
	progress := func(done, total int) {
		if p.Metrics != nil {
			p.Metrics.Status.Progress(done, total)
		}
		if p.Progress != nil {
			p.Progress(done, total)
			return
		}
		p.Log.Info().Int("done", done).Int("total", total).Msgf("progress %d/%d chunks", done, total)
	}
	opts := []runner.Option{runner.WithLogger(p.Log), runner.WithProgress(progress)}
	if p.Metrics != nil {
		opts = append(opts, runner.WithMetrics(p.Metrics))
	}
	r, err := runner.New(g, store, p.Config.Runner(), opts...)
	if err != nil {
		return models.RunSummary{}, err
	}
	summary, err := r.Run(ctx)
	if p.Metrics != nil && summary.RunID != "" {
		p.Metrics.Status.SetRunID(summary.RunID)
	}
	return summary, err
}

func (p *Pipeline) aggregate(ctx context.Context, store checkpoint.Store) (aggregate.Summary, error) {
	p.stage(metrics.StageAggregate)
	opts := []aggregate.Option{aggregate.WithAlpha(p.Config.Alpha), aggregate.WithLogger(p.Log)}
	if p.Metrics != nil {
		opts = append(opts, aggregate.WithMetrics(p.Metrics))
	}
	return aggregate.New(store, opts...).Run(ctx, p.Config.Output)
}

func (p *Pipeline) stage(name string) {
	if p.Metrics != nil {
		p.Metrics.Status.SetStage(name)
	}
}

func (p *Pipeline) fail(err error) error {
	if p.Metrics != nil {
		p.Metrics.Status.Fail(err)
	}
	return err
}

// WriteSummary writes the result as indented JSON
func WriteSummary(result *Result, path string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}
