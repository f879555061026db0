package paths

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gilchrisn/edge-significance/pkg/loader"
	"github.com/gilchrisn/edge-significance/pkg/models"
	"github.com/gilchrisn/edge-significance/pkg/table"
)

func TestCountBigram(t *testing.T) {
	res, err := Count(strings.NewReader("a-b-c\nb-c\n\nd\n"), false)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Lines)
	assert.Nil(t, res.Trigram)
	assert.Equal(t, []models.Edge{
		{Source: "a", Target: "b", Weight: 1},
		{Source: "b", Target: "c", Weight: 2},
	}, res.Bigram.Edges())
}

func TestCountTrigram(t *testing.T) {
	res, err := Count(strings.NewReader("a-b-c-d\nx-b-c-d\n"), true)
	require.NoError(t, err)
	assert.Equal(t, []models.Edge{
		{Source: "a;b", Target: "b;c", Weight: 1},
		{Source: "b;c", Target: "c;d", Weight: 2},
		{Source: "x;b", Target: "b;c", Weight: 1},
	}, res.Trigram.Edges())
	assert.Len(t, res.Bigram, 4)
}

func TestCountEmptyNode(t *testing.T) {
	_, err := Count(strings.NewReader("a-b\na--b\n"), false)
	assert.ErrorIs(t, err, ErrEmptyNode)
	assert.Contains(t, err.Error(), "line 2")
}

func TestCountFileMissing(t *testing.T) {
	_, err := CountFile(t.TempDir()+"/nope.txt", false)
	assert.Error(t, err)
}

func TestCountDropsRepeatedNodes(t *testing.T) {
	res, err := Count(strings.NewReader("a-a-b-c\nb-b-b\n"), true)
	require.NoError(t, err)
	assert.Equal(t, []models.Edge{
		{Source: "a", Target: "b", Weight: 1},
		{Source: "b", Target: "c", Weight: 1},
	}, res.Bigram.Edges())
	assert.Equal(t, []models.Edge{
		{Source: "a;b", Target: "b;c", Weight: 1},
	}, res.Trigram.Edges())
	assert.Equal(t, 3, res.RepeatedSteps)
	assert.Equal(t, 2, res.RepeatedTransitions)
}

func TestCountedTablesLoad(t *testing.T) {
	input := "a-a-b\nb-a-a-c\nc-c\na-b-c-a\nd-d-d-e\n"
	res, err := Count(strings.NewReader(input), true)
	require.NoError(t, err)

	for name, counts := range map[string]Counts{"bigram": res.Bigram, "trigram": res.Trigram} {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, table.WriteEdges(&buf, counts.Edges()))
			edges, err := loader.Read(&buf, loader.DefaultOptions())
			require.NoError(t, err)
			assert.Len(t, edges, len(counts))
			for _, e := range edges {
				assert.NotEqual(t, e.Source, e.Target)
			}
		})
	}
}
