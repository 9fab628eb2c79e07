package core

import (
	"errors"
	"fmt"
	"time"
)

// Query contract violations.
var (
	ErrEmptyQuery       = errors.New("query has no dimensions")
	ErrMixedDimensions  = errors.New("query dimensions must belong to the query's explore")
	ErrDivideNotErrored = errors.New("only an errored query can be divided")
	ErrDivideTooSmall   = errors.New("a query needs at least two dimensions to be divided")
)

// Query is one test query: a fixed set of dimensions of a single explore.
// The dimension set never changes once created; narrowing a failure
// produces new queries through Divide.
type Query struct {
	Explore    *Explore
	dimensions []*Dimension

	ID         string
	ExploreURL string
	Errored    bool
	Runtime    time.Duration
}

// NewQuery builds a query over dims, all of which must belong to explore.
func NewQuery(explore *Explore, dims []*Dimension) (*Query, error) {
	if len(dims) == 0 {
		return nil, ErrEmptyQuery
	}
	for _, d := range dims {
		if d.Model != explore.Model || d.Explore != explore.Name {
			return nil, fmt.Errorf("%w: %s.%s.%s in %s", ErrMixedDimensions, d.Model, d.Explore, d.Name, explore.ID())
		}
	}
	owned := make([]*Dimension, len(dims))
	copy(owned, dims)
	return &Query{Explore: explore, dimensions: owned}, nil
}

// Dimensions returns the query's dimensions in order.
func (q *Query) Dimensions() []*Dimension {
	out := make([]*Dimension, len(q.dimensions))
	copy(out, q.dimensions)
	return out
}

// Len returns the number of dimensions.
func (q *Query) Len() int {
	return len(q.dimensions)
}

// DimensionNames returns the names of the query's dimensions in order.
func (q *Query) DimensionNames() []string {
	names := make([]string, len(q.dimensions))
	for i, d := range q.dimensions {
		names[i] = d.Name
	}
	return names
}

// Divide splits an errored query at its midpoint into two child queries. The
// left child takes the extra dimension when the count is odd.
func (q *Query) Divide() ([]*Query, error) {
	if !q.Errored {
		return nil, ErrDivideNotErrored
	}
	if len(q.dimensions) < 2 {
		return nil, ErrDivideTooSmall
	}
	mid := (len(q.dimensions) + 1) / 2
	left, err := NewQuery(q.Explore, q.dimensions[:mid])
	if err != nil {
		return nil, err
	}
	right, err := NewQuery(q.Explore, q.dimensions[mid:])
	if err != nil {
		return nil, err
	}
	return []*Query{left, right}, nil
}

// MarkQueried flags the explore and every dimension of the query as queried.
func (q *Query) MarkQueried() {
	q.Explore.MarkQueried()
	for _, d := range q.dimensions {
		d.Queried = true
	}
}

// Describe names the query's scope: the dimension name for a single
// dimension, otherwise a dimension count.
func (q *Query) Describe() string {
	if len(q.dimensions) == 1 {
		return q.dimensions[0].Name
	}
	return fmt.Sprintf("(%d dimensions)", len(q.dimensions))
}
