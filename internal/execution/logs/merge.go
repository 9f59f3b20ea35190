// Package logs merges execution log entries from durable storage, history
// synthesized from snapshots, local transitions and live stream fragments.
package logs

import (
	"cmp"
	"slices"

	"github.com/kandev/execwatch/internal/execution/models"
)

type dedupeKey struct {
	message string
	ms      int64
}

// Merge deduplicates entries by message and millisecond timestamp, keeping
// the first occurrence in source order (durable, historical, local, live).
// Non-live entries come first ordered by timestamp, followed by live entries
// ordered by timestamp.
func Merge(durable, historical, local, live []*models.LogEntry) []*models.LogEntry {
	seen := make(map[dedupeKey]struct{}, len(durable)+len(historical)+len(local)+len(live))
	var settled, provisional []*models.LogEntry

	for _, source := range [][]*models.LogEntry{durable, historical, local, live} {
		for _, e := range source {
			if e == nil {
				continue
			}
			key := dedupeKey{message: e.Message, ms: e.Timestamp.UnixMilli()}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			if e.IsLive {
				provisional = append(provisional, e)
			} else {
				settled = append(settled, e)
			}
		}
	}

	byTime := func(a, b *models.LogEntry) int {
		return cmp.Compare(a.Timestamp.UnixNano(), b.Timestamp.UnixNano())
	}
	slices.SortStableFunc(settled, byTime)
	slices.SortStableFunc(provisional, byTime)

	return append(settled, provisional...)
}
