package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/lookval/pkg/core"
)

// newExplore builds an explore with dimensions "<explore>.<name>".
func newExplore(model, name string, dims ...string) *core.Explore {
	e := core.NewExplore(model, name)
	for _, d := range dims {
		e.Dimensions = append(e.Dimensions, &core.Dimension{
			Name:      name + "." + d,
			Model:     model,
			Explore:   name,
			SQL:       "${TABLE}." + d,
			SourceURL: "https://looker.test/lookml/" + d,
		})
	}
	return e
}

func numberedExplore(model, name string, n int) *core.Explore {
	dims := make([]string, n)
	for i := range dims {
		dims[i] = fmt.Sprintf("d%d", i)
	}
	return newExplore(model, name, dims...)
}

func TestBuildQueries(t *testing.T) {
	tests := []struct {
		name      string
		dims      int
		chunkSize int
		want      int
	}{
		{name: "single chunk", dims: 3, chunkSize: 500, want: 1},
		{name: "exact multiple", dims: 1000, chunkSize: 500, want: 2},
		{name: "remainder", dims: 1201, chunkSize: 500, want: 3},
		{name: "chunk of one", dims: 7, chunkSize: 1, want: 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := numberedExplore("sales", "orders", tt.dims)
			queries, err := BuildQueries([]*core.Explore{e}, tt.chunkSize)
			require.NoError(t, err)
			assert.Len(t, queries, tt.want)

			seen := map[string]int{}
			for _, q := range queries {
				assert.LessOrEqual(t, q.Len(), tt.chunkSize)
				for _, name := range q.DimensionNames() {
					seen[name]++
				}
			}
			assert.Len(t, seen, tt.dims)
			for name, n := range seen {
				assert.Equal(t, 1, n, "dimension %s", name)
			}
		})
	}
}

func TestBuildQueriesSkipsUnrunnable(t *testing.T) {
	skipped := numberedExplore("sales", "skipped", 2)
	skipped.Skipped = core.SkipUnmodified
	broken := numberedExplore("sales", "broken", 2)
	broken.AddError("failed to fetch dimensions", "", "")
	empty := core.NewExplore("sales", "empty")
	ok := numberedExplore("sales", "orders", 2)

	queries, err := BuildQueries([]*core.Explore{skipped, broken, empty, ok}, 500)
	require.NoError(t, err)
	require.Len(t, queries, 1)
	assert.Same(t, ok, queries[0].Explore)
}

func TestBuildQueriesRejectsBadChunkSize(t *testing.T) {
	_, err := BuildQueries(nil, 0)
	assert.Error(t, err)
}
