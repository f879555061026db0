// Package graph holds the read-only weighted directed graph the statistics
// are computed over. Storage is a gonum simple.WeightedDirectedGraph; the
// opaque node IDs of the edge table are mapped onto gonum int64 IDs.
package graph

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/graph/simple"

	"github.com/gilchrisn/edge-significance/pkg/models"
)

var (
	// ErrMissingEdge is returned when an edge lookup does not resolve.
	ErrMissingEdge = errors.New("graph: missing edge")
	// ErrSelfLoop is returned when source and target are the same node.
	ErrSelfLoop = errors.New("graph: self-loop not supported")
	// ErrNegativeWeight is returned for a weight below zero or NaN.
	ErrNegativeWeight = errors.New("graph: weight must be a non-negative number")
	// ErrEmptyNodeID is returned for an empty source or target.
	ErrEmptyNodeID = errors.New("graph: empty node id")
	// ErrBuilt is returned when a Builder is used after Build.
	ErrBuilt = errors.New("graph: builder already built")
)

// Builder accumulates edges. A later weight for the same ordered pair
// overwrites the earlier one.
type Builder struct {
	g     *simple.WeightedDirectedGraph
	ids   map[string]int64
	names []string
	order []models.EdgeKey
	seen  map[models.EdgeKey]struct{}
}

// NewBuilder creates an empty builder
func NewBuilder() *Builder {
	return &Builder{
		g:    simple.NewWeightedDirectedGraph(0, math.Inf(1)),
		ids:  make(map[string]int64),
		seen: make(map[models.EdgeKey]struct{}),
	}
}

func (b *Builder) node(name string) int64 {
	if id, ok := b.ids[name]; ok {
		return id
	}
	id := int64(len(b.names))
	b.ids[name] = id
	b.names = append(b.names, name)
	b.g.AddNode(simple.Node(id))
	return id
}

// AddEdge sets the weight of source->target
func (b *Builder) AddEdge(source, target string, weight float64) error {
	if b.g == nil {
		return ErrBuilt
	}
	if source == "" || target == "" {
		return fmt.Errorf("%w: %q->%q", ErrEmptyNodeID, source, target)
	}
	if source == target {
		return fmt.Errorf("%w: %s", ErrSelfLoop, source)
	}
	if math.IsNaN(weight) || math.IsInf(weight, 0) || weight < 0 {
		return fmt.Errorf("%w: %s->%s has weight %v", ErrNegativeWeight, source, target, weight)
	}

	from := b.node(source)
	to := b.node(target)
	b.g.SetWeightedEdge(b.g.NewWeightedEdge(simple.Node(from), simple.Node(to), weight))

	key := models.EdgeKey{Source: source, Target: target}
	if _, ok := b.seen[key]; !ok {
		b.seen[key] = struct{}{}
		b.order = append(b.order, key)
	}
	return nil
}

// AddEdges adds every edge in order, stopping at the first invalid one
func (b *Builder) AddEdges(edges []models.Edge) error {
	for i, e := range edges {
		if err := b.AddEdge(e.Source, e.Target, e.Weight); err != nil {
			return fmt.Errorf("edge %d: %w", i, err)
		}
	}
	return nil
}

// Build freezes the graph and computes the weighted degrees and S.
// The builder cannot be used afterwards.
func (b *Builder) Build() *Graph {
	g := &Graph{
		g:     b.g,
		ids:   b.ids,
		names: b.names,
		edges: b.order,
		out:   make([]float64, len(b.names)),
		in:    make([]float64, len(b.names)),
	}

	// Sums follow edge insertion order so repeated builds are bit-identical.
	for _, key := range g.edges {
		from, to := g.ids[key.Source], g.ids[key.Target]
		w, _ := g.g.Weight(from, to)
		g.out[from] += w
		g.in[to] += w
		g.total += w
	}

	b.g = nil
	b.ids = nil
	b.seen = nil
	return g
}

// FromEdges builds a graph from an edge table
func FromEdges(edges []models.Edge) (*Graph, error) {
	b := NewBuilder()
	if err := b.AddEdges(edges); err != nil {
		return nil, err
	}
	return b.Build(), nil
}

// Graph is a weighted directed graph that does not change after Build.
// It is safe for concurrent readers.
type Graph struct {
	g     *simple.WeightedDirectedGraph
	ids   map[string]int64
	names []string
	edges []models.EdgeKey
	out   []float64
	in    []float64
	total float64
}

// Weight returns the weight of source->target or ErrMissingEdge
func (g *Graph) Weight(source, target string) (float64, error) {
	from, ok := g.ids[source]
	if !ok {
		return 0, fmt.Errorf("%w: %s->%s (unknown source)", ErrMissingEdge, source, target)
	}
	to, ok := g.ids[target]
	if !ok {
		return 0, fmt.Errorf("%w: %s->%s (unknown target)", ErrMissingEdge, source, target)
	}
	if from == to {
		return 0, fmt.Errorf("%w: %s->%s", ErrMissingEdge, source, target)
	}
	w, ok := g.g.Weight(from, to)
	if !ok {
		return 0, fmt.Errorf("%w: %s->%s", ErrMissingEdge, source, target)
	}
	return w, nil
}

// OutDegree is the summed weight of the node's outgoing edges
func (g *Graph) OutDegree(node string) float64 {
	if id, ok := g.ids[node]; ok {
		return g.out[id]
	}
	return 0
}

// InDegree is the summed weight of the node's incoming edges
func (g *Graph) InDegree(node string) float64 {
	if id, ok := g.ids[node]; ok {
		return g.in[id]
	}
	return 0
}

// TotalWeight returns S, the sum of all edge weights
func (g *Graph) TotalWeight() float64 {
	return g.total
}

// Edges returns the edges in insertion order
func (g *Graph) Edges() []models.EdgeKey {
	out := make([]models.EdgeKey, len(g.edges))
	copy(out, g.edges)
	return out
}

func (g *Graph) NumNodes() int { return len(g.names) }

func (g *Graph) NumEdges() int { return len(g.edges) }
