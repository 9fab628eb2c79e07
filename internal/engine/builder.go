package engine

import (
	"fmt"

	"github.com/leapstack-labs/lookval/pkg/core"
)

// DefaultChunkSize is the maximum number of dimensions per initial query.
const DefaultChunkSize = 500

// BuildQueries splits every runnable explore into consecutive chunks of at
// most chunkSize dimensions. Skipped explores, explores that already carry
// errors and explores without dimensions produce no queries.
func BuildQueries(explores []*core.Explore, chunkSize int) ([]*core.Query, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}

	var queries []*core.Query
	for _, e := range explores {
		if !Runnable(e) {
			continue
		}
		for start := 0; start < len(e.Dimensions); start += chunkSize {
			end := min(start+chunkSize, len(e.Dimensions))
			q, err := core.NewQuery(e, e.Dimensions[start:end])
			if err != nil {
				return nil, fmt.Errorf("failed to build query for %s: %w", e.ID(), err)
			}
			queries = append(queries, q)
		}
	}
	return queries, nil
}

// Runnable reports whether an explore should be queried.
func Runnable(e *core.Explore) bool {
	return e.Skipped == "" && len(e.Errors) == 0 && len(e.Dimensions) > 0
}
