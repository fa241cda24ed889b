// Package shared holds the types passed between the waltz components.
package shared

import (
	"math"
	"time"

	"waltz/shared/utils"
)

// Snapshot maps a tracked path, relative to the working tree root and
// separated by '/', to the content hash of that file's bytes.
type Snapshot map[string]string

// Paths returns the tracked paths in lexicographic order.
func (s Snapshot) Paths() []string {
	return utils.SortedKeys(s)
}

// Commit is one record of the commit log.
type Commit struct {
	Timestamp float64  `json:"timestamp"` // unix seconds
	Message   string   `json:"message"`
	Snapshot  Snapshot `json:"snapshot"`
}

// Time returns the commit timestamp as a time.Time.
func (c Commit) Time() time.Time {
	sec, frac := math.Modf(c.Timestamp)
	return time.Unix(int64(sec), int64(frac*1e9))
}

// Changes classifies the paths that differ between two snapshots.
// Each list is sorted and the three lists are disjoint.
type Changes struct {
	Added    []string `json:"added"`
	Removed  []string `json:"removed"`
	Modified []string `json:"modified"`
}

// Empty reports whether no path changed.
func (c Changes) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Modified) == 0
}

// Count returns the total number of changed paths.
func (c Changes) Count() int {
	return len(c.Added) + len(c.Removed) + len(c.Modified)
}
