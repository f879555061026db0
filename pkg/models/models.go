// Package models holds the records shared across the run: edges, per-edge
// results with their degeneracy flags, chunk tables, final rows and the run
// manifest.
package models

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Edge is one row of the input edge table
type Edge struct {
	Source string  `json:"source"`
	Target string  `json:"target"`
	Weight float64 `json:"weight"` // co-occurrence count, never negative
}

// EdgeKey identifies a directed edge
type EdgeKey struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

func (k EdgeKey) String() string {
	return fmt.Sprintf("%s->%s", k.Source, k.Target)
}

// Degeneracy flags statistics that are undefined for an edge
type Degeneracy uint8

const (
	// DegeneratePhi marks a zero factor under the phi square root
	DegeneratePhi Degeneracy = 1 << iota
	// DegenerateOddsRatio marks a zero margin or zero off-diagonal cell
	DegenerateOddsRatio
)

func (d Degeneracy) Has(flag Degeneracy) bool {
	return d&flag != 0
}

func (d Degeneracy) String() string {
	if d == 0 {
		return "none"
	}
	var parts []string
	if d.Has(DegeneratePhi) {
		parts = append(parts, "phi")
	}
	if d.Has(DegenerateOddsRatio) {
		parts = append(parts, "odds_ratio")
	}
	return strings.Join(parts, "|")
}

// EdgeResult holds the statistics computed for a single edge
type EdgeResult struct {
	Source     string     `json:"source"`
	Target     string     `json:"target"`
	OddsRatio  float64    `json:"odds_ratio"`
	PValue     float64    `json:"pvalue"`
	Phi        float64    `json:"phi_ij"`
	Degenerate Degeneracy `json:"-"`
}

// Key returns the edge the result belongs to
func (r EdgeResult) Key() EdgeKey {
	return EdgeKey{Source: r.Source, Target: r.Target}
}

// DetectDegeneracy derives flags from stored values. Used when a result is
// read back from a checkpoint, where the flags are not persisted.
func DetectDegeneracy(oddsRatio, phi float64) Degeneracy {
	var d Degeneracy
	if math.IsNaN(phi) || math.IsInf(phi, 0) {
		d |= DegeneratePhi
	}
	if math.IsNaN(oddsRatio) || math.IsInf(oddsRatio, 0) {
		d |= DegenerateOddsRatio
	}
	return d
}

// ChunkTable is the ordered set of results for one chunk
type ChunkTable struct {
	Index   int          `json:"index"`
	Results []EdgeResult `json:"results"`
}

// FinalRow is an edge result with its FDR adjusted p-value
type FinalRow struct {
	EdgeResult
	AdjustedPValue float64 `json:"fdr_bh_pvalue_adj"`
}

// Manifest describes a run so later stages can check the checkpoint set
type Manifest struct {
	RunID            string    `json:"run_id"`
	NumChunks        int       `json:"num_chunks"`
	NumEdges         int       `json:"num_edges"`
	TotalWeight      float64   `json:"total_weight"`
	Skipped          int       `json:"skipped"`
	DegeneratePolicy string    `json:"degenerate_policy"`
	CreatedAt        time.Time `json:"created_at"`
	CompletedAt      time.Time `json:"completed_at,omitempty"`
}

// ExpectedRows is the number of rows the chunk tables must hold in total
func (m Manifest) ExpectedRows() int {
	return m.NumEdges - m.Skipped
}

// Complete reports whether every chunk was written
func (m Manifest) Complete() bool {
	return !m.CompletedAt.IsZero()
}

// RunSummary reports what a run did
type RunSummary struct {
	RunID           string `json:"run_id"`
	Chunks          int    `json:"chunks"`
	ChunksResumed   int    `json:"chunks_resumed"`
	EdgesComputed   int    `json:"edges_computed"`
	EdgesDegenerate int    `json:"edges_degenerate"`
	EdgesSkipped    int    `json:"edges_skipped"`
	RuntimeMS       int64  `json:"runtime_ms"`
}
