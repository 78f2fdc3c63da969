package retry

import (
	"sort"
	"strings"
)

// BuildKey derives a deterministic idempotency key from an event's identity.
// Referenced IDs are sorted first, so the key is invariant under permutation.
// The key is diagnostic only: it correlates logs, metrics, and dead-letter
// records, and does not suppress duplicate processing.
func BuildKey(eventType string, referencedIDs []string) string {
	if len(referencedIDs) == 0 {
		return eventType
	}
	ids := make([]string, len(referencedIDs))
	copy(ids, referencedIDs)
	sort.Strings(ids)

	var b strings.Builder
	b.WriteString(eventType)
	for _, id := range ids {
		b.WriteByte(':')
		b.WriteString(id)
	}
	return b.String()
}
