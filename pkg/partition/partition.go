// Package partition splits an ordered edge list into chunks.
package partition

import (
	"errors"
	"fmt"
)

// DefaultChunks is the number of chunks a run uses unless configured
const DefaultChunks = 100

// ErrChunkCount is returned for a chunk count below one.
var ErrChunkCount = errors.New("partition: chunk count must be positive")

// Split divides items into n ordered, contiguous, non-overlapping chunks.
// The first len(items)%n chunks hold one extra item, so sizes differ by at
// most one. When n exceeds len(items) the trailing chunks are empty.
// Chunks share the backing array of items.
func Split[T any](items []T, n int) ([][]T, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: %d", ErrChunkCount, n)
	}
	chunks := make([][]T, n)
	base, extra := len(items)/n, len(items)%n
	start := 0
	for i := range chunks {
		size := base
		if i < extra {
			size++
		}
		chunks[i] = items[start : start+size : start+size]
		start += size
	}
	return chunks, nil
}

// Bounds returns the [start, end) offsets of chunk i without materializing
// the split.
func Bounds(total, n, i int) (start, end int) {
	base, extra := total/n, total%n
	start = i*base + min(i, extra)
	end = start + base
	if i < extra {
		end++
	}
	return start, end
}
