package db

import (
	"strings"
	"testing"
	"time"
)

func TestBuildLockSentinelRoundTrip(t *testing.T) {
	before := time.Now().UTC().Truncate(time.Second)
	sentinel := BuildLockSentinel(LockStageVetting)
	after := time.Now().UTC().Add(time.Second)

	if !strings.HasPrefix(sentinel, "PROCESSING:VETTING:") {
		t.Fatalf("sentinel = %q, want PROCESSING:VETTING: prefix", sentinel)
	}

	ts, ok := ParseLockSentinelTime(sentinel)
	if !ok {
		t.Fatalf("ParseLockSentinelTime(%q) not ok", sentinel)
	}

	if ts.Before(before) || ts.After(after) {
		t.Fatalf("sentinel time = %v, want between %v and %v", ts, before, after)
	}
}

func TestBuildLockSentinelUniqueNonce(t *testing.T) {
	a := BuildLockSentinel(LockStageAIDescription)
	b := BuildLockSentinel(LockStageAIDescription)

	if a == b {
		t.Fatalf("two sentinels are identical: %q", a)
	}
}

func TestParseLockSentinelTimeMalformed(t *testing.T) {
	cases := []string{
		"",
		"PROCESSING",
		"PROCESSING:VETTING",
		"PROCESSING:VETTING:nonce",
		"PROCESSING:VETTING:nonce:not-a-time",
		"LOCKED:VETTING:nonce:2025-03-01T10:00:00Z",
	}

	for _, sentinel := range cases {
		if _, ok := ParseLockSentinelTime(sentinel); ok {
			t.Fatalf("ParseLockSentinelTime(%q) ok, want not ok", sentinel)
		}
	}
}

func TestLockIsStaleFallsBackToUpdatedAt(t *testing.T) {
	cutoff := time.Now().Add(-time.Hour)

	if !lockIsStale("garbage", time.Now().Add(-2*time.Hour), cutoff) {
		t.Fatal("stale updated_at with malformed sentinel should be stale")
	}

	if lockIsStale("garbage", time.Now(), cutoff) {
		t.Fatal("fresh updated_at with malformed sentinel should not be stale")
	}

	fresh := BuildLockSentinel(LockStageVetting)
	if lockIsStale(fresh, time.Now().Add(-2*time.Hour), cutoff) {
		t.Fatal("fresh sentinel should win over stale updated_at")
	}
}

func TestPrefixColumns(t *testing.T) {
	got := prefixColumns("id, name,\n\tcreated_at", "u.")
	want := "u.id, u.name, u.created_at"

	if got != want {
		t.Fatalf("prefixColumns() = %q, want %q", got, want)
	}
}
