package core

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testExplore(n int) *Explore {
	e := NewExplore("sales", "orders")
	for i := 0; i < n; i++ {
		e.Dimensions = append(e.Dimensions, &Dimension{
			Name:    fmt.Sprintf("orders.d%d", i),
			Model:   "sales",
			Explore: "orders",
		})
	}
	return e
}

func TestNewQuery(t *testing.T) {
	e := testExplore(3)

	t.Run("valid", func(t *testing.T) {
		q, err := NewQuery(e, e.Dimensions)
		require.NoError(t, err)
		assert.Equal(t, 3, q.Len())
		assert.Equal(t, []string{"orders.d0", "orders.d1", "orders.d2"}, q.DimensionNames())
	})

	t.Run("empty", func(t *testing.T) {
		_, err := NewQuery(e, nil)
		assert.ErrorIs(t, err, ErrEmptyQuery)
	})

	t.Run("foreign dimension", func(t *testing.T) {
		other := &Dimension{Name: "users.id", Model: "sales", Explore: "users"}
		_, err := NewQuery(e, []*Dimension{e.Dimensions[0], other})
		assert.ErrorIs(t, err, ErrMixedDimensions)
	})

	t.Run("dimension set is owned", func(t *testing.T) {
		dims := []*Dimension{e.Dimensions[0], e.Dimensions[1]}
		q, err := NewQuery(e, dims)
		require.NoError(t, err)
		dims[0] = e.Dimensions[2]
		assert.Equal(t, "orders.d0", q.Dimensions()[0].Name)
	})
}

func TestQueryDivide(t *testing.T) {
	tests := []struct {
		name      string
		size      int
		wantLeft  int
		wantRight int
	}{
		{name: "even", size: 4, wantLeft: 2, wantRight: 2},
		{name: "odd", size: 5, wantLeft: 3, wantRight: 2},
		{name: "triple", size: 3, wantLeft: 2, wantRight: 1},
		{name: "pair", size: 2, wantLeft: 1, wantRight: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := testExplore(tt.size)
			q, err := NewQuery(e, e.Dimensions)
			require.NoError(t, err)
			q.Errored = true

			children, err := q.Divide()
			require.NoError(t, err)
			require.Len(t, children, 2)
			assert.Equal(t, tt.wantLeft, children[0].Len())
			assert.Equal(t, tt.wantRight, children[1].Len())

			// Children partition the parent in order.
			got := append(children[0].DimensionNames(), children[1].DimensionNames()...)
			assert.Equal(t, q.DimensionNames(), got)
			assert.False(t, children[0].Errored)
			assert.Same(t, e, children[1].Explore)
		})
	}
}

func TestQueryDivideContract(t *testing.T) {
	e := testExplore(2)

	q, err := NewQuery(e, e.Dimensions)
	require.NoError(t, err)
	_, err = q.Divide()
	assert.ErrorIs(t, err, ErrDivideNotErrored)

	single, err := NewQuery(e, e.Dimensions[:1])
	require.NoError(t, err)
	single.Errored = true
	_, err = single.Divide()
	assert.ErrorIs(t, err, ErrDivideTooSmall)
}

// Repeated halving of an errored query always ends in single-dimension queries.
func TestQueryDivideTerminates(t *testing.T) {
	e := testExplore(37)
	q, err := NewQuery(e, e.Dimensions)
	require.NoError(t, err)

	queue := []*Query{q}
	var leaves []string
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if next.Len() == 1 {
			leaves = append(leaves, next.DimensionNames()...)
			continue
		}
		next.Errored = true
		children, err := next.Divide()
		require.NoError(t, err)
		queue = append(queue, children...)
	}

	assert.Len(t, leaves, 37)
	assert.ElementsMatch(t, q.DimensionNames(), leaves)
}

func TestQueryMarkQueried(t *testing.T) {
	e := testExplore(3)
	q, err := NewQuery(e, e.Dimensions[:2])
	require.NoError(t, err)

	q.MarkQueried()

	assert.True(t, e.Queried())
	assert.True(t, e.Dimensions[0].Queried)
	assert.True(t, e.Dimensions[1].Queried)
	assert.False(t, e.Dimensions[2].Queried)
	assert.False(t, e.FullyQueried())
}

func TestQueryDescribe(t *testing.T) {
	e := testExplore(3)
	one, err := NewQuery(e, e.Dimensions[:1])
	require.NoError(t, err)
	many, err := NewQuery(e, e.Dimensions)
	require.NoError(t, err)

	assert.Equal(t, "orders.d0", one.Describe())
	assert.Equal(t, "(3 dimensions)", many.Describe())
}
