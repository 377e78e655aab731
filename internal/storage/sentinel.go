package db

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const lockSentinelPrefix = "PROCESSING"

// BuildLockSentinel returns a processing-lock sentinel of the form
// PROCESSING:<stage>:<nonce>:<RFC3339>. The embedded timestamp lets
// cleanup determine staleness without trusting updated_at.
func BuildLockSentinel(stage string) string {
	return strings.Join([]string{
		lockSentinelPrefix,
		stage,
		uuid.New().String(),
		time.Now().UTC().Format(time.RFC3339),
	}, ":")
}

// ParseLockSentinelTime extracts the timestamp embedded in a lock
// sentinel. Returns false when the sentinel is malformed; callers fall
// back to the row's updated_at.
func ParseLockSentinelTime(sentinel string) (time.Time, bool) {
	parts := strings.SplitN(sentinel, ":", 4)
	if len(parts) != 4 || parts[0] != lockSentinelPrefix {
		return time.Time{}, false
	}

	ts, err := time.Parse(time.RFC3339, parts[3])
	if err != nil {
		return time.Time{}, false
	}

	return ts, true
}

// prefixColumns qualifies each column in a comma-separated list with a
// table alias, for RETURNING clauses inside CTEs.
func prefixColumns(columns, prefix string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}

	return strings.Join(parts, ", ")
}
