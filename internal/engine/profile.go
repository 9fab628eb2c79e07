package engine

import (
	"sort"

	"github.com/leapstack-labs/lookval/pkg/core"
)

// ProfileEntry is one row of the slow query report.
type ProfileEntry struct {
	Explore    string  `json:"explore"`
	Dimensions string  `json:"dimensions"`
	Runtime    float64 `json:"runtime"`
	URL        string  `json:"url"`
}

// Profile ranks slow queries by runtime, slowest first.
func Profile(slow []*core.Query) []ProfileEntry {
	entries := make([]ProfileEntry, 0, len(slow))
	for _, q := range slow {
		entries = append(entries, ProfileEntry{
			Explore:    q.Explore.ID(),
			Dimensions: q.Describe(),
			Runtime:    q.Runtime.Seconds(),
			URL:        q.ExploreURL,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Runtime > entries[j].Runtime
	})
	return entries
}
