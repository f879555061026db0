package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/gilchrisn/edge-significance/pkg/config"
	"github.com/gilchrisn/edge-significance/pkg/logging"
	"github.com/gilchrisn/edge-significance/pkg/metrics"
	"github.com/gilchrisn/edge-significance/pkg/paths"
	"github.com/gilchrisn/edge-significance/pkg/pipeline"
	"github.com/gilchrisn/edge-significance/pkg/table"
)

// app carries the resolved settings from the root command to subcommands
type app struct {
	configPath string
	cfg        config.Config
	log        zerolog.Logger
	metrics    *metrics.Metrics
	flags      flagValues
}

// flagValues are only applied to the config when their flag was set
type flagValues struct {
	input        string
	checkpoint   string
	output       string
	workers      int
	chunks       int
	alpha        float64
	weightColumn string
	delimiter    string
	backend      string
	policy       string
	resume       bool
	chunkTimeout time.Duration
	logLevel     string
	logFormat    string
	metricsAddr  string
	summary      string
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "fisherphi",
		Short:         "Phi coefficient and Fisher's exact test for every edge of a weighted digraph",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "YAML config file")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "debug, info, warn or error")
	pf.StringVar(&a.flags.logFormat, "log-format", "", "console or json")
	pf.StringVar(&a.flags.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")

	root.AddCommand(a.runCmd(), a.computeCmd(), a.aggregateCmd(), a.pathsCmd(), a.configCmd())
	return root
}

func (a *app) inputFlags(fs *pflag.FlagSet) {
	fs.StringVar(&a.flags.input, "infile", "", "edge table with source, target and weight columns")
	fs.StringVar(&a.flags.weightColumn, "weight-column", "", "weight column name (default counts)")
	fs.StringVar(&a.flags.delimiter, "delimiter", "", "field separator (default by extension)")
}

func (a *app) computeFlags(fs *pflag.FlagSet) {
	fs.IntVar(&a.flags.workers, "ncpus", 0, "worker pool size (default 10)")
	fs.IntVar(&a.flags.chunks, "chunks", 0, "number of chunks (default 100)")
	fs.StringVar(&a.flags.policy, "degenerate-policy", "", "record, skip or abort")
	fs.BoolVar(&a.flags.resume, "resume", false, "skip chunks already in the checkpoint store")
	fs.DurationVar(&a.flags.chunkTimeout, "chunk-timeout", 0, "abort a chunk after this duration")
}

func (a *app) checkpointFlags(fs *pflag.FlagSet) {
	fs.StringVar(&a.flags.checkpoint, "tmp_dir", "", "checkpoint location")
	fs.StringVar(&a.flags.backend, "backend", "", "checkpoint backend: dir or badger")
}

func (a *app) outputFlags(fs *pflag.FlagSet) {
	fs.StringVar(&a.flags.output, "outfile", "", "final table (default out.csv)")
	fs.Float64Var(&a.flags.alpha, "alpha", 0, "FDR level (default 0.05)")
}

func (a *app) runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Compute every chunk and write the FDR corrected table",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := a.setup(cmd)
			if err != nil {
				return err
			}
			p := a.pipeline()
			res, err := p.Run(ctx)
			if err != nil {
				return err
			}
			if a.flags.summary != "" {
				return pipeline.WriteSummary(res, a.flags.summary)
			}
			return nil
		},
	}
	a.inputFlags(cmd.Flags())
	a.computeFlags(cmd.Flags())
	a.checkpointFlags(cmd.Flags())
	a.outputFlags(cmd.Flags())
	cmd.Flags().StringVar(&a.flags.summary, "summary", "", "write a JSON run summary here")
	return cmd
}

func (a *app) computeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compute",
		Short: "Compute the chunk tables only",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := a.setup(cmd)
			if err != nil {
				return err
			}
			summary, err := a.pipeline().Compute(ctx)
			if err != nil {
				return err
			}
			a.log.Info().
				Int("chunks", summary.Chunks).
				Int("resumed", summary.ChunksResumed).
				Int("computed", summary.EdgesComputed).
				Msg("chunk tables ready for aggregation")
			return nil
		},
	}
	a.inputFlags(cmd.Flags())
	a.computeFlags(cmd.Flags())
	a.checkpointFlags(cmd.Flags())
	return cmd
}

func (a *app) aggregateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Merge the chunk tables of a completed run and apply Benjamini-Hochberg",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := a.setup(cmd)
			if err != nil {
				return err
			}
			_, err = a.pipeline().Aggregate(ctx)
			return err
		},
	}
	a.checkpointFlags(cmd.Flags())
	a.outputFlags(cmd.Flags())
	return cmd
}

func (a *app) pathsCmd() *cobra.Command {
	var infile, bigram, trigram string
	cmd := &cobra.Command{
		Use:   "paths",
		Short: "Build bigram and trigram edge tables from dash separated paths",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.setup(cmd); err != nil {
				return err
			}
			res, err := paths.CountFile(infile, trigram != "")
			if err != nil {
				return err
			}
			a.log.Info().
				Int("lines", res.Lines).
				Int("bigrams", len(res.Bigram)).
				Int("repeated_steps", res.RepeatedSteps).
				Msg("paths counted")
			if err := writeEdgeTable(bigram, res.Bigram); err != nil {
				return err
			}
			if trigram != "" {
				a.log.Info().
					Int("trigrams", len(res.Trigram)).
					Int("repeated_transitions", res.RepeatedTransitions).
					Msg("trigram states counted")
				return writeEdgeTable(trigram, res.Trigram)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&infile, "infile", "", "path file, one a-b-c sequence per line")
	cmd.Flags().StringVarP(&bigram, "bigram", "b", "", "bigram edge table output")
	cmd.Flags().StringVarP(&trigram, "trigram", "t", "", "trigram edge table output (optional)")
	cmd.MarkFlagRequired("infile")
	cmd.MarkFlagRequired("bigram")
	return cmd
}

func (a *app) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			a.applyFlags(cmd, &cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return cfg.WriteYAML(cmd.OutOrStdout())
		},
	}
	a.inputFlags(cmd.Flags())
	a.computeFlags(cmd.Flags())
	a.checkpointFlags(cmd.Flags())
	a.outputFlags(cmd.Flags())
	return cmd
}

func writeEdgeTable(path string, counts paths.Counts) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := table.WriteEdges(f, counts.Edges()); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// setup resolves the config, builds the logger and starts the metrics
// endpoint when one is configured.
func (a *app) setup(cmd *cobra.Command) (context.Context, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, err
	}
	a.applyFlags(cmd, &cfg)
	a.cfg = cfg

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	a.log = log

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.MetricsAddr != "" {
		a.metrics = metrics.New()
		go func() {
			if err := a.metrics.Serve(ctx, cfg.MetricsAddr, a.log); err != nil {
				a.log.Error().Err(err).Msg("metrics endpoint stopped")
			}
		}()
	}
	return ctx, nil
}

func (a *app) applyFlags(cmd *cobra.Command, cfg *config.Config) {
	fs := cmd.Flags()
	set := func(name string, apply func()) {
		if fs.Changed(name) {
			apply()
		}
	}
	set("infile", func() { cfg.Input = a.flags.input })
	set("weight-column", func() { cfg.WeightColumn = a.flags.weightColumn })
	set("delimiter", func() { cfg.Delimiter = a.flags.delimiter })
	set("tmp_dir", func() { cfg.Checkpoint.Dir = a.flags.checkpoint })
	set("backend", func() { cfg.Checkpoint.Backend = a.flags.backend })
	set("outfile", func() { cfg.Output = a.flags.output })
	set("alpha", func() { cfg.Alpha = a.flags.alpha })
	set("ncpus", func() { cfg.Workers = a.flags.workers })
	set("chunks", func() { cfg.Chunks = a.flags.chunks })
	set("degenerate-policy", func() { cfg.DegeneratePolicy = a.flags.policy })
	set("resume", func() { cfg.Resume = a.flags.resume })
	set("log-level", func() { cfg.Log.Level = a.flags.logLevel })
	set("log-format", func() { cfg.Log.Format = a.flags.logFormat })
	set("metrics-addr", func() { cfg.MetricsAddr = a.flags.metricsAddr })
	set("chunk-timeout", func() { cfg.ChunkTimeout = a.flags.chunkTimeout })
}

func (a *app) pipeline() *pipeline.Pipeline {
	p := pipeline.New(a.cfg, a.log)
	p.Metrics = a.metrics
	return p
}
