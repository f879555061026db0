package partition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitCoversEveryItemOnce(t *testing.T) {
	for total := 0; total <= 37; total++ {
		for n := 1; n <= 12; n++ {
			items := make([]int, total)
			for i := range items {
				items[i] = i
			}
			chunks, err := Split(items, n)
			require.NoError(t, err)
			require.Len(t, chunks, n)

			seen := make(map[int]int)
			next := 0
			minSize, maxSize := total, 0
			for ci, c := range chunks {
				minSize = min(minSize, len(c))
				maxSize = max(maxSize, len(c))
				for _, v := range c {
					// Chunks are contiguous and in order.
					assert.Equal(t, next, v)
					next++
					seen[v]++
				}
				start, end := Bounds(total, n, ci)
				assert.Equal(t, len(c), end-start)
			}
			assert.Len(t, seen, total)
			for v, count := range seen {
				assert.Equal(t, 1, count, "item %d", v)
			}
			assert.LessOrEqual(t, maxSize-minSize, 1, "total=%d n=%d", total, n)
		}
	}
}

func TestSplitMatchesArraySplit(t *testing.T) {
	chunks, err := Split([]string{"a", "b", "c", "d", "e", "f", "g"}, 3)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b", "c"}, {"d", "e"}, {"f", "g"}}, chunks)
}

func TestSplitSixIntoTwo(t *testing.T) {
	chunks, err := Split([]int{1, 2, 3, 4, 5, 6}, 2)
	require.NoError(t, err)
	assert.Equal(t, [][]int{{1, 2, 3}, {4, 5, 6}}, chunks)
}

func TestSplitMoreChunksThanItems(t *testing.T) {
	chunks, err := Split([]int{1, 2}, 4)
	require.NoError(t, err)
	assert.Equal(t, [][]int{{1}, {2}, {}, {}}, chunks)
}

func TestSplitChunksDoNotAlias(t *testing.T) {
	chunks, err := Split([]int{1, 2, 3, 4}, 2)
	require.NoError(t, err)
	_ = append(chunks[0], 99)
	assert.Equal(t, 3, chunks[1][0])
}

func TestSplitRejectsBadCount(t *testing.T) {
	_, err := Split([]int{1}, 0)
	assert.ErrorIs(t, err, ErrChunkCount)
}
