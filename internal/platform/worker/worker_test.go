package worker

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestShouldRunWeekly(t *testing.T) {
	// Monday inside the midnight hour, matching the weekly reset slot.
	mondayMidnight := time.Date(2024, 1, 8, 0, 30, 0, 0, time.UTC)

	tests := []struct {
		name        string
		now         time.Time
		day         time.Weekday
		hour        int
		lastRun     time.Time
		gracePeriod time.Duration
		want        bool
	}{
		{
			name: "monday midnight, never run",
			now:  mondayMidnight,
			day:  time.Monday,
			hour: 0,
			want: true,
		},
		{
			name:    "monday midnight, ran last week",
			now:     mondayMidnight,
			day:     time.Monday,
			hour:    0,
			lastRun: mondayMidnight.Add(-7 * 24 * time.Hour),
			want:    true,
		},
		{
			name:    "suppressed by grace inside the same hour",
			now:     mondayMidnight,
			day:     time.Monday,
			hour:    0,
			lastRun: mondayMidnight.Add(-20 * time.Minute),
			want:    false,
		},
		{
			name:    "suppressed three days after a run",
			now:     mondayMidnight,
			day:     time.Monday,
			hour:    0,
			lastRun: mondayMidnight.Add(-3 * 24 * time.Hour),
			want:    false,
		},
		{
			name: "wrong day",
			now:  mondayMidnight.Add(24 * time.Hour),
			day:  time.Monday,
			hour: 0,
			want: false,
		},
		{
			name: "wrong hour",
			now:  time.Date(2024, 1, 8, 15, 30, 0, 0, time.UTC),
			day:  time.Monday,
			hour: 0,
			want: false,
		},
		{
			name: "different slot entirely",
			now:  time.Date(2024, 1, 10, 3, 0, 0, 0, time.UTC),
			day:  time.Wednesday,
			hour: 3,
			want: true,
		},
		{
			name:        "explicit grace period honored",
			now:         mondayMidnight,
			day:         time.Monday,
			hour:        0,
			lastRun:     mondayMidnight.Add(-2 * time.Hour),
			gracePeriod: time.Hour,
			want:        true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ShouldRunWeekly(tt.now, tt.day, tt.hour, tt.lastRun, tt.gracePeriod)
			if got != tt.want {
				t.Errorf("ShouldRunWeekly() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoopStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticks := make(chan struct{}, 1)

	done := make(chan error, 1)

	loop := Loop{
		Name:      "test",
		Every:     5 * time.Millisecond,
		Immediate: true,
		Tick: func(context.Context) {
			// Non-blocking so a full channel never stalls the loop.
			select {
			case ticks <- struct{}{}:
			default:
			}
		},
	}

	go func() {
		done <- loop.Run(ctx)
	}()

	// Immediate delivers a tick before the first interval elapses.
	select {
	case <-ticks:
	case <-time.After(2 * time.Second):
		t.Fatal("no initial tick")
	}

	select {
	case <-ticks:
	case <-time.After(2 * time.Second):
		t.Fatal("no timed tick")
	}

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("loop error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop after cancel")
	}
}

func TestWaitInterruptedByCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := Wait(ctx, time.Minute); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait error = %v, want context.Canceled", err)
	}
}

func TestWaitZeroDurationIgnoresContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := Wait(ctx, 0); err != nil {
		t.Fatalf("Wait error = %v, want nil", err)
	}
}

func TestRunWithTimeoutAppliesDeadline(t *testing.T) {
	err := RunWithTimeout(context.Background(), time.Minute, func(ctx context.Context) error {
		deadline, ok := ctx.Deadline()
		if !ok {
			t.Fatal("no deadline on task context")
		}

		if remaining := time.Until(deadline); remaining > time.Minute {
			t.Fatalf("deadline too far out: %s", remaining)
		}

		return nil
	})
	if err != nil {
		t.Fatalf("RunWithTimeout error = %v", err)
	}
}

func TestRunWithTimeoutPropagatesError(t *testing.T) {
	wantErr := errors.New("task failed")

	err := RunWithTimeout(context.Background(), time.Minute, func(context.Context) error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("RunWithTimeout error = %v, want %v", err, wantErr)
	}
}
