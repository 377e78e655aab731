// Package scheduler owns the catalog of periodic pipeline tasks and
// the tick loop that launches them. Each task carries its own cadence
// (interval, daily, or weekly), a concurrency cap, and a wall-clock
// timeout; the loop wakes once per tick, launches whatever is due, and
// never lets one slow task hold up the rest.
//
// Only one scheduler instance may drive a given database. Run takes a
// session advisory lock before ticking and keeps retrying while
// another instance holds it, so a standby process takes over when the
// leader dies.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/podscout/podscout/internal/core/errors"
	"github.com/podscout/podscout/internal/platform/config"
	"github.com/podscout/podscout/internal/platform/observability"
	"github.com/podscout/podscout/internal/platform/worker"
	db "github.com/podscout/podscout/internal/storage"
)

// Kind says how a task's next due time is computed.
type Kind string

// Schedule kinds.
const (
	KindInterval Kind = "interval"
	KindDaily    Kind = "daily"
	KindWeekly   Kind = "weekly"
)

// Catalog task names. The admin control endpoint addresses tasks by
// these names.
const (
	TaskTranscription      = "transcription"
	TaskVetting            = "vetting"
	TaskEnrichment         = "enrichment"
	TaskEpisodeSync        = "episode_sync"
	TaskAIDescription      = "ai_description"
	TaskHealthCheck        = "health_check"
	TaskAutoDiscoverySweep = "auto_discovery_sweep"
	TaskWeeklyReset        = "weekly_reset"
)

const (
	// singletonLockID guards against two scheduler processes ticking
	// the same database. Distinct from the migration lock.
	singletonLockID = 1001

	// dailyGracePeriod prevents a daily task from firing twice while
	// the clock sits inside its scheduled hour.
	dailyGracePeriod = 20 * time.Hour

	logFieldTask = "task"

	statusCompleted = "completed"
	statusFailed    = "failed"
)

// Task is one catalog entry. Exactly one of the cadence fields applies
// depending on Kind: Every for interval, Hour for daily, Day+Hour for
// weekly.
type Task struct {
	Name string
	Kind Kind

	// Every is the interval cadence.
	Every time.Duration

	// Hour of day (0-23) for daily and weekly tasks.
	Hour int

	// Day of week for weekly tasks.
	Day time.Weekday

	// MaxConcurrent caps parallel instances. Zero means 1.
	MaxConcurrent int

	// Timeout overrides the scheduler default when positive.
	Timeout time.Duration

	Run func(ctx context.Context) error
}

// taskState is a catalog entry plus its runtime bookkeeping. All
// mutable fields are guarded by the scheduler mutex.
type taskState struct {
	Task

	enabled   bool
	running   int
	lastStart time.Time
	lastDone  time.Time
	lastErr   string
}

// due reports whether the task should launch at now, ignoring the
// concurrency cap.
func (t *taskState) due(now time.Time) bool {
	switch t.Kind {
	case KindInterval:
		return t.lastStart.IsZero() || now.Sub(t.lastStart) >= t.Every
	case KindDaily:
		return dueDaily(now, t.Hour, t.lastStart)
	case KindWeekly:
		return worker.ShouldRunWeekly(now, t.Day, t.Hour, t.lastStart, 0)
	default:
		return false
	}
}

// dueDaily fires during the scheduled hour unless the task already ran
// within the grace window. The grace period keeps a 60s tick from
// relaunching the task for the rest of the hour.
func dueDaily(now time.Time, hour int, lastRun time.Time) bool {
	if now.Hour() != hour {
		return false
	}

	return lastRun.IsZero() || now.Sub(lastRun) > dailyGracePeriod
}

// describe renders the cadence for status snapshots and logs.
func (t *taskState) describe() string {
	switch t.Kind {
	case KindInterval:
		return "every " + t.Every.String()
	case KindDaily:
		return fmt.Sprintf("daily %02d:00", t.Hour)
	case KindWeekly:
		return fmt.Sprintf("weekly %s %02d:00", t.Day, t.Hour)
	default:
		return string(t.Kind)
	}
}

// TaskStatus is one task's slice of the status snapshot.
type TaskStatus struct {
	Name      string    `json:"name"`
	Kind      Kind      `json:"kind"`
	Schedule  string    `json:"schedule"`
	Enabled   bool      `json:"enabled"`
	Running   int       `json:"running"`
	LastStart time.Time `json:"last_start,omitempty"`
	LastDone  time.Time `json:"last_done,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// Snapshot is the admin-facing scheduler state.
type Snapshot struct {
	Running bool         `json:"running"`
	Leader  bool         `json:"leader"`
	Tasks   []TaskStatus `json:"tasks"`
}

// Locker is the slice of the store the scheduler needs for leader
// election.
type Locker interface {
	TryAdvisoryLock(ctx context.Context, lockID int64) (*db.AdvisoryLock, error)
}

// Scheduler launches catalog tasks when they come due.
type Scheduler struct {
	cfg    *config.Config
	locker Locker
	logger *zerolog.Logger

	mu     sync.Mutex
	tasks  []*taskState
	byName map[string]*taskState
	paused bool
	leader bool

	wg sync.WaitGroup
}

// New builds a scheduler over the given catalog. Tasks start enabled.
func New(cfg *config.Config, locker Locker, tasks []Task, logger *zerolog.Logger) *Scheduler {
	l := logger.With().Str("component", "scheduler").Logger()

	s := &Scheduler{
		cfg:    cfg,
		locker: locker,
		logger: &l,
		byName: make(map[string]*taskState, len(tasks)),
	}

	for _, t := range tasks {
		st := &taskState{Task: t, enabled: true}
		if st.MaxConcurrent <= 0 {
			st.MaxConcurrent = 1
		}

		s.tasks = append(s.tasks, st)
		s.byName[t.Name] = st
	}

	return s
}

// Run acquires the singleton lock and ticks until the context is
// canceled. While another instance holds the lock it stays in standby,
// retrying once per tick interval.
func (s *Scheduler) Run(ctx context.Context) error {
	lock, err := s.waitForLeadership(ctx)
	if err != nil {
		return err
	}

	defer func() {
		// Fresh context: the loop context is already canceled here.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		lock.Release(releaseCtx)

		s.setLeader(false)
	}()

	s.setLeader(true)
	s.logger.Info().Int("tasks", len(s.tasks)).Msg("scheduler leading")

	loop := worker.Loop{
		Name:      "scheduler",
		Every:     s.cfg.SchedulerTickInterval,
		Tick:      s.tick,
		Immediate: true,
		Logger:    s.logger,
	}

	loopErr := loop.Run(ctx)

	s.wg.Wait()

	return loopErr
}

// waitForLeadership blocks until the advisory lock is ours or the
// context dies.
func (s *Scheduler) waitForLeadership(ctx context.Context) (*db.AdvisoryLock, error) {
	for {
		lock, err := s.locker.TryAdvisoryLock(ctx, singletonLockID)
		if err != nil {
			return nil, fmt.Errorf("scheduler leader election: %w", err)
		}

		if lock != nil {
			return lock, nil
		}

		s.logger.Info().Msg("another scheduler instance is active, standing by")

		if err := worker.Wait(ctx, s.cfg.SchedulerTickInterval); err != nil {
			return nil, err
		}
	}
}

// tick launches every enabled, due task with a free concurrency slot.
// Slots are claimed under the lock so a slow task is single-flight at
// cap 1.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now()

	s.mu.Lock()

	if s.paused {
		s.mu.Unlock()

		return
	}

	var launch []*taskState

	for _, t := range s.tasks {
		if !t.enabled || !t.due(now) {
			continue
		}

		if t.running >= t.MaxConcurrent {
			s.logger.Debug().Str(logFieldTask, t.Name).Msg("previous instance still running, skipping")

			continue
		}

		t.running++
		t.lastStart = now
		launch = append(launch, t)
	}

	s.mu.Unlock()

	for _, t := range launch {
		s.launch(ctx, t)
	}
}

func (s *Scheduler) launch(ctx context.Context, t *taskState) {
	s.logger.Info().Str(logFieldTask, t.Name).Msg("launching task")

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		started := time.Now()
		err := s.runTask(ctx, t)
		s.finish(t, started, err)
	}()
}

// runTask executes one instance under the wall-clock timeout. A panic
// is recovered and reported as a failed run.
func (s *Scheduler) runTask(ctx context.Context, t *taskState) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Interface("panic", r).
				Str(logFieldTask, t.Name).
				Msg("task panicked")

			err = fmt.Errorf("task %s panicked: %v", t.Name, r)
		}
	}()

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = s.cfg.TaskTimeout
	}

	return worker.RunWithTimeout(ctx, timeout, t.Run)
}

// finish records the outcome and frees the concurrency slot.
func (s *Scheduler) finish(t *taskState, started time.Time, err error) {
	elapsed := time.Since(started)

	observability.SchedulerTaskDuration.WithLabelValues(t.Name).Observe(elapsed.Seconds())

	status := statusCompleted
	if err != nil {
		status = statusFailed
	}

	observability.SchedulerTaskRuns.WithLabelValues(t.Name, status).Inc()

	s.mu.Lock()

	t.running--
	t.lastDone = time.Now()

	if err != nil {
		t.lastErr = err.Error()
	} else {
		t.lastErr = ""
	}

	s.mu.Unlock()

	if err != nil {
		s.logger.Error().Err(err).
			Str(logFieldTask, t.Name).
			Dur("elapsed", elapsed).
			Msg("task failed")

		return
	}

	s.logger.Info().
		Str(logFieldTask, t.Name).
		Dur("elapsed", elapsed).
		Msg("task completed")
}

// Pause stops launching new tasks. Running instances finish normally.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()

	s.logger.Info().Msg("scheduler paused")
}

// Resume re-enables task launching after a Pause.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()

	s.logger.Info().Msg("scheduler resumed")
}

// SetTaskEnabled flips one task's enabled flag.
func (s *Scheduler) SetTaskEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.byName[name]
	if !ok {
		return fmt.Errorf("task %q: %w", name, errors.ErrTaskNotFound)
	}

	t.enabled = enabled

	s.logger.Info().Str(logFieldTask, name).Bool("enabled", enabled).Msg("task toggled")

	return nil
}

// Status returns the admin snapshot, tasks sorted by name.
func (s *Scheduler) Status() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Running: !s.paused,
		Leader:  s.leader,
		Tasks:   make([]TaskStatus, 0, len(s.tasks)),
	}

	for _, t := range s.tasks {
		snap.Tasks = append(snap.Tasks, TaskStatus{
			Name:      t.Name,
			Kind:      t.Kind,
			Schedule:  t.describe(),
			Enabled:   t.enabled,
			Running:   t.running,
			LastStart: t.lastStart,
			LastDone:  t.lastDone,
			LastError: t.lastErr,
		})
	}

	sort.Slice(snap.Tasks, func(i, j int) bool { return snap.Tasks[i].Name < snap.Tasks[j].Name })

	return snap
}

func (s *Scheduler) setLeader(v bool) {
	s.mu.Lock()
	s.leader = v
	s.mu.Unlock()
}
