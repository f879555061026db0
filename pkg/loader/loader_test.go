package loader

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gilchrisn/edge-significance/pkg/models"
)

func TestReadWithIndexColumn(t *testing.T) {
	in := `,source,target,counts
0,A,B,10
1,B,C,5
2,A,C,2
`
	edges, err := Read(strings.NewReader(in), DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, []models.Edge{
		{Source: "A", Target: "B", Weight: 10},
		{Source: "B", Target: "C", Weight: 5},
		{Source: "A", Target: "C", Weight: 2},
	}, edges)
}

func TestReadWeightFallback(t *testing.T) {
	tests := []struct {
		name   string
		header string
		opts   Options
	}{
		{"count", "index,count,source,target", DefaultOptions()},
		{"weight", "source,target,weight", Options{}},
		{"custom", "source,target,freq", Options{WeightColumn: "freq"}},
		{"case insensitive", "Source,Target,COUNTS", DefaultOptions()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cols := strings.Split(tt.header, ",")
			row := make([]string, len(cols))
			for i, c := range cols {
				switch strings.ToLower(c) {
				case "source":
					row[i] = "x"
				case "target":
					row[i] = "y"
				default:
					row[i] = "3"
				}
			}
			in := tt.header + "\n" + strings.Join(row, ",") + "\n"
			edges, err := Read(strings.NewReader(in), tt.opts)
			require.NoError(t, err)
			require.Len(t, edges, 1)
			assert.Equal(t, models.Edge{Source: "x", Target: "y", Weight: 3}, edges[0])
		})
	}
}

func TestReadInputFormatErrors(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		line   int
		column string
	}{
		{"empty", "", 1, ""},
		{"no source", "from,target,counts\na,b,1\n", 1, ColSource},
		{"no target", "source,to,counts\na,b,1\n", 1, ColTarget},
		{"no weight", "source,target,score\na,b,1\n", 1, DefaultWeightColumn},
		{"bad weight", "source,target,counts\na,b,1\nb,c,lots\n", 3, "counts"},
		{"negative weight", "source,target,counts\na,b,-1\n", 2, "counts"},
		{"nan weight", "source,target,counts\na,b,NaN\n", 2, "counts"},
		{"empty source", "source,target,counts\n,b,1\n", 2, ColSource},
		{"self loop", "source,target,counts\na,a,1\n", 2, ""},
		{"short row", "source,target,counts\na,b\n", 2, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.in), DefaultOptions())
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInputFormat)

			var ife *InputFormatError
			require.True(t, errors.As(err, &ife))
			assert.Equal(t, tt.line, ife.Line)
			assert.Equal(t, tt.column, ife.Column)
		})
	}
}

func TestReadKeepsDuplicates(t *testing.T) {
	in := "source,target,counts\na,b,1\na,b,4\n"
	edges, err := Read(strings.NewReader(in), DefaultOptions())
	require.NoError(t, err)
	require.Len(t, edges, 2)
	assert.Equal(t, 4.0, edges[1].Weight)
}

func TestLoadPicksDelimiter(t *testing.T) {
	dir := t.TempDir()
	tsv := filepath.Join(dir, "edges.tsv")
	require.NoError(t, os.WriteFile(tsv, []byte("source\ttarget\tcounts\na\tb\t2.5\n"), 0o644))

	edges, err := Load(tsv, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, []models.Edge{{Source: "a", Target: "b", Weight: 2.5}}, edges)

	semi := filepath.Join(dir, "edges.txt")
	require.NoError(t, os.WriteFile(semi, []byte("source;target;counts\na;b;1\n"), 0o644))
	edges, err = Load(semi, Options{Delimiter: ';'})
	require.NoError(t, err)
	assert.Len(t, edges, 1)

	_, err = Load(filepath.Join(dir, "missing.csv"), DefaultOptions())
	assert.ErrorIs(t, err, os.ErrNotExist)
}
