// Package aggregate assembles the final significance table. It loads every
// chunk table of a completed run, applies Benjamini-Hochberg over the whole
// p-value column and writes the result once.
package aggregate

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/gilchrisn/edge-significance/pkg/checkpoint"
	"github.com/gilchrisn/edge-significance/pkg/metrics"
	"github.com/gilchrisn/edge-significance/pkg/models"
	"github.com/gilchrisn/edge-significance/pkg/multitest"
	"github.com/gilchrisn/edge-significance/pkg/table"
)

var (
	// ErrIncompleteRun is returned when the manifest shows unfinished chunks.
	ErrIncompleteRun = errors.New("aggregate: run not complete")
	// ErrChunkSet is returned when the stored chunks are not exactly 0..N-1.
	ErrChunkSet = errors.New("aggregate: chunk set does not match manifest")
	// ErrRowCount is returned when the chunk rows do not add up to the edge count.
	ErrRowCount = errors.New("aggregate: row count does not match manifest")
)

// Summary reports what an aggregation produced
type Summary struct {
	RunID       string  `json:"run_id"`
	Chunks      int     `json:"chunks"`
	Rows        int     `json:"rows"`
	Rejected    int     `json:"rejected"`
	MinAdjusted float64 `json:"min_adjusted"`
	Alpha       float64 `json:"alpha"`
	Output      string  `json:"output"`
	RuntimeMS   int64   `json:"runtime_ms"`
}

type Option func(*Aggregator)

func WithAlpha(alpha float64) Option {
	return func(a *Aggregator) { a.alpha = alpha }
}

func WithLogger(log zerolog.Logger) Option {
	return func(a *Aggregator) { a.log = log }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

// Aggregator reads chunk tables from a store
type Aggregator struct {
	store   checkpoint.Store
	alpha   float64
	log     zerolog.Logger
	metrics *metrics.Metrics
}

func New(store checkpoint.Store, opts ...Option) *Aggregator {
	a := &Aggregator{
		store: store,
		alpha: multitest.DefaultAlpha,
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Collect loads and concatenates every chunk table in discovery order after
// checking the chunk set and row count against the manifest.
func (a *Aggregator) Collect(ctx context.Context) ([]models.EdgeResult, models.Manifest, error) {
	m, err := a.store.ReadManifest(ctx)
	if err != nil {
		return nil, models.Manifest{}, err
	}
	if !m.Complete() {
		return nil, m, fmt.Errorf("%w: run %s has no completion time", ErrIncompleteRun, m.RunID)
	}

	indexes, err := a.store.ListChunks(ctx)
	if err != nil {
		return nil, m, err
	}
	if err := checkChunkSet(indexes, m.NumChunks); err != nil {
		return nil, m, err
	}

	rows := make([]models.EdgeResult, 0, m.ExpectedRows())
	for _, idx := range indexes {
		if err := ctx.Err(); err != nil {
			return nil, m, err
		}
		tbl, err := a.store.ReadChunk(ctx, idx)
		if err != nil {
			return nil, m, fmt.Errorf("chunk %d: %w", idx, err)
		}
		rows = append(rows, tbl.Results...)
	}
	if len(rows) != m.ExpectedRows() {
		return nil, m, fmt.Errorf("%w: %d rows, manifest expects %d (%d edges, %d skipped)",
			ErrRowCount, len(rows), m.ExpectedRows(), m.NumEdges, m.Skipped)
	}
	return rows, m, nil
}

func checkChunkSet(indexes []int, n int) error {
	seen := make([]bool, n)
	for _, idx := range indexes {
		if idx < 0 || idx >= n {
			return fmt.Errorf("%w: unexpected chunk %d, manifest has %d chunks", ErrChunkSet, idx, n)
		}
		if seen[idx] {
			return fmt.Errorf("%w: chunk %d listed twice", ErrChunkSet, idx)
		}
		seen[idx] = true
	}
	for i, ok := range seen {
		if !ok {
			return fmt.Errorf("%w: chunk %d: %w", ErrChunkSet, i, checkpoint.ErrChunkNotFound)
		}
	}
	return nil
}

// Adjust attaches the Benjamini-Hochberg adjusted p-value to every row
func Adjust(rows []models.EdgeResult, alpha float64) ([]models.FinalRow, multitest.Result, error) {
	pvalues := make([]float64, len(rows))
	for i, r := range rows {
		pvalues[i] = r.PValue
	}
	res, err := multitest.BenjaminiHochberg(pvalues, alpha)
	if err != nil {
		return nil, multitest.Result{}, err
	}
	final := make([]models.FinalRow, len(rows))
	for i, r := range rows {
		final[i] = models.FinalRow{EdgeResult: r, AdjustedPValue: res.Adjusted[i]}
	}
	return final, res, nil
}

// Run collects, adjusts and writes the final table to output. Nothing is
// written at output unless every step succeeds.
func (a *Aggregator) Run(ctx context.Context, output string) (Summary, error) {
	start := time.Now()
	rows, m, err := a.Collect(ctx)
	if err != nil {
		return Summary{}, err
	}
	log := a.log.With().Str("run_id", m.RunID).Logger()
	log.Info().Int("chunks", m.NumChunks).Int("rows", len(rows)).Msg("chunk tables loaded")

	final, res, err := Adjust(rows, a.alpha)
	if err != nil {
		return Summary{}, err
	}
	if err := WriteFile(output, final); err != nil {
		return Summary{}, err
	}

	s := Summary{
		RunID:       m.RunID,
		Chunks:      m.NumChunks,
		Rows:        len(final),
		Rejected:    res.Rejected(),
		MinAdjusted: res.MinAdjusted(),
		Alpha:       a.alpha,
		Output:      output,
		RuntimeMS:   time.Since(start).Milliseconds(),
	}
	if a.metrics != nil {
		a.metrics.FinalRows.Set(float64(s.Rows))
		a.metrics.Rejected.Set(float64(s.Rejected))
	}
	log.Info().
		Int("rows", s.Rows).
		Int("rejected", s.Rejected).
		Float64("alpha", s.Alpha).
		Str("output", output).
		Msg("final table written")
	return s, nil
}

// WriteFile encodes rows to a temporary file in the target directory and
// renames it to path.
func WriteFile(path string, rows []models.FinalRow) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create final table: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	w := bufio.NewWriter(tmp)
	if err = table.WriteFinal(w, rows); err != nil {
		return fmt.Errorf("encode final table: %w", err)
	}
	if err = w.Flush(); err != nil {
		return fmt.Errorf("write final table: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync final table: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close final table: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename final table: %w", err)
	}
	return nil
}
