// Package paths turns sequences of visited nodes into edge tables.
//
// Each input line is a "-" separated path such as "a-b-c". The bigram table
// counts every consecutive step a->b. The trigram table treats each step as
// a state named "a;b" and counts consecutive states "a;b"->"b;c".
//
// A node repeated back to back ("a-a-b") would be a self loop, which the
// edge table loader rejects. Such steps are dropped, together with every
// trigram transition that touches one, and counted in Result.
package paths

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/gilchrisn/edge-significance/pkg/models"
)

const (
	StepSeparator  = "-"
	StateSeparator = ";"
)

// ErrEmptyNode is returned for a path with an empty element such as "a--b".
var ErrEmptyNode = errors.New("paths: empty node in path")

// Counts accumulates edge multiplicities
type Counts map[models.EdgeKey]int

func (c Counts) add(source, target string) {
	c[models.EdgeKey{Source: source, Target: target}]++
}

// Edges returns the counted edges sorted by source then target
func (c Counts) Edges() []models.Edge {
	edges := make([]models.Edge, 0, len(c))
	for k, n := range c {
		edges = append(edges, models.Edge{Source: k.Source, Target: k.Target, Weight: float64(n)})
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Source != edges[j].Source {
			return edges[i].Source < edges[j].Source
		}
		return edges[i].Target < edges[j].Target
	})
	return edges
}

// Result holds both tables; Trigram is nil unless requested
type Result struct {
	Bigram  Counts
	Trigram Counts
	Lines   int

	// RepeatedSteps counts a->a steps left out of Bigram.
	RepeatedSteps int
	// RepeatedTransitions counts trigram transitions left out because one
	// of their two steps repeats a node.
	RepeatedTransitions int
}

// Count scans r line by line. Blank lines are skipped and a single-node
// line contributes no edges.
func Count(r io.Reader, trigram bool) (Result, error) {
	res := Result{Bigram: make(Counts)}
	if trigram {
		res.Trigram = make(Counts)
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		seq := strings.Split(text, StepSeparator)
		for _, node := range seq {
			if node == "" {
				return Result{}, fmt.Errorf("line %d: %w: %q", line, ErrEmptyNode, text)
			}
		}
		res.Lines++

		for i := 1; i < len(seq); i++ {
			repeat := seq[i-1] == seq[i]
			if repeat {
				res.RepeatedSteps++
			} else {
				res.Bigram.add(seq[i-1], seq[i])
			}
			if !trigram || i < 2 {
				continue
			}
			if repeat || seq[i-2] == seq[i-1] {
				res.RepeatedTransitions++
				continue
			}
			res.Trigram.add(state(seq[i-2], seq[i-1]), state(seq[i-1], seq[i]))
		}
	}
	if err := sc.Err(); err != nil {
		return Result{}, fmt.Errorf("read paths: %w", err)
	}
	return res, nil
}

func state(a, b string) string {
	return a + StateSeparator + b
}

// CountFile is Count over the file at path
func CountFile(path string, trigram bool) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("open paths: %w", err)
	}
	defer f.Close()
	return Count(f, trigram)
}
