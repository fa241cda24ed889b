package diff

import (
	"sort"

	"waltz/shared/types"
)

// Snapshots classifies every path of from ∪ to: added when only in to,
// removed when only in from, modified when the hashes differ. Unchanged
// paths are not reported. Each list is sorted.
func Snapshots(from, to shared.Snapshot) shared.Changes {
	changes := shared.Changes{
		Added:    []string{},
		Removed:  []string{},
		Modified: []string{},
	}

	for path, oldHash := range from {
		newHash, ok := to[path]
		switch {
		case !ok:
			changes.Removed = append(changes.Removed, path)
		case newHash != oldHash:
			changes.Modified = append(changes.Modified, path)
		}
	}
	for path := range to {
		if _, ok := from[path]; !ok {
			changes.Added = append(changes.Added, path)
		}
	}

	sort.Strings(changes.Added)
	sort.Strings(changes.Removed)
	sort.Strings(changes.Modified)
	return changes
}
