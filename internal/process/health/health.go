// Package health repairs pipeline rows that normal processing left
// behind: crashed workers, interrupted batches, transient provider
// outages. Every pass is idempotent, so running the checker twice in a
// row finds nothing the second time.
package health

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/podscout/podscout/internal/platform/observability"
	db "github.com/podscout/podscout/internal/storage"
)

const (
	// stuckAfter is how long an enriched discovery may sit without a
	// vetting status before the checker advances it.
	stuckAfter = 5 * time.Minute

	// staleLockAfter is the age past which an orphaned processing lock
	// is cleared. Generous on purpose: live workers refresh rows well
	// inside this window.
	staleLockAfter = 60 * time.Minute

	// transientRetryAfter is how long a transiently failed vetting row
	// rests before it re-enters the queue.
	transientRetryAfter = 2 * time.Hour

	// summaryBatchSize bounds how many media rows one pass recompiles.
	summaryBatchSize = 50

	logFieldPass = "pass"
)

// Pass names, used in logs, metrics labels, and the report.
const (
	PassCompileSummaries = "compile_summaries"
	PassAdvanceStuck     = "advance_stuck"
	PassStaleLocks       = "stale_locks"
	PassTransientResets  = "transient_resets"
)

// Repository is the slice of the store the checker needs.
type Repository interface {
	MediaMissingCompiledSummaries(ctx context.Context, limit int) ([]int64, error)
	CompileEpisodeSummaries(ctx context.Context, mediaID int64, limit int) (string, error)
	AdvanceStuckDiscoveries(ctx context.Context, stuckFor time.Duration) (int64, int64, error)
	CleanupStaleLocks(ctx context.Context, stage string, olderThan time.Duration) (int64, error)
	ResetTransientVettingFailures(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Alerter delivers an ops alert out of band. Optional.
type Alerter interface {
	Alert(ctx context.Context, message string)
}

// PassResult counts what one pass saw and repaired.
type PassResult struct {
	Name  string `json:"name"`
	Found int64  `json:"found"`
	Fixed int64  `json:"fixed"`
}

// Report is the outcome of one checker run.
type Report struct {
	Passes  []PassResult  `json:"passes"`
	Elapsed time.Duration `json:"elapsed"`
}

// TotalFixed sums repairs across passes.
func (r *Report) TotalFixed() int64 {
	var n int64
	for _, p := range r.Passes {
		n += p.Fixed
	}

	return n
}

// TotalFound sums findings across passes.
func (r *Report) TotalFound() int64 {
	var n int64
	for _, p := range r.Passes {
		n += p.Found
	}

	return n
}

// Checker runs the repair passes.
type Checker struct {
	db          Repository
	episodeTopK int
	alerter     Alerter
	logger      *zerolog.Logger
}

// NewChecker builds a checker. episodeTopK bounds how many episode
// summaries go into a recompiled blob; alerter may be nil.
func NewChecker(database Repository, episodeTopK int, alerter Alerter, logger *zerolog.Logger) *Checker {
	l := logger.With().Str("component", "health").Logger()

	if episodeTopK < 1 {
		episodeTopK = 1
	}

	return &Checker{
		db:          database,
		episodeTopK: episodeTopK,
		alerter:     alerter,
		logger:      &l,
	}
}

// Run executes all four passes in order and returns the per-pass
// counts. A pass that errors is reported with what it managed before
// failing; later passes still run. The returned error is the first
// pass error, if any.
func (c *Checker) Run(ctx context.Context) (*Report, error) {
	started := time.Now()
	report := &Report{}

	var firstErr error

	passes := []struct {
		name string
		run  func(ctx context.Context) (found, fixed int64, err error)
	}{
		{PassCompileSummaries, c.compileMissingSummaries},
		{PassAdvanceStuck, c.advanceStuck},
		{PassStaleLocks, c.clearStaleLocks},
		{PassTransientResets, c.resetTransientFailures},
	}

	for _, pass := range passes {
		found, fixed, err := pass.run(ctx)

		report.Passes = append(report.Passes, PassResult{Name: pass.name, Found: found, Fixed: fixed})

		observability.HealthRepairsFound.WithLabelValues(pass.name).Add(float64(found))
		observability.HealthRepairsFixed.WithLabelValues(pass.name).Add(float64(fixed))

		if err != nil {
			c.logger.Error().Err(err).Str(logFieldPass, pass.name).Msg("health pass failed")

			if firstErr == nil {
				firstErr = fmt.Errorf("health pass %s: %w", pass.name, err)
			}

			continue
		}

		if found > 0 {
			c.logger.Info().
				Str(logFieldPass, pass.name).
				Int64("found", found).
				Int64("fixed", fixed).
				Msg("health pass repaired rows")
		}
	}

	report.Elapsed = time.Since(started)

	c.logger.Info().
		Int64("found", report.TotalFound()).
		Int64("fixed", report.TotalFixed()).
		Dur("elapsed", report.Elapsed).
		Msg("health check complete")

	c.alert(ctx, report)

	return report, firstErr
}

// compileMissingSummaries rebuilds compiled_summaries for media that
// have analyzed episodes but an empty blob.
func (c *Checker) compileMissingSummaries(ctx context.Context) (int64, int64, error) {
	ids, err := c.db.MediaMissingCompiledSummaries(ctx, summaryBatchSize)
	if err != nil {
		return 0, 0, err
	}

	var fixed int64

	for _, id := range ids {
		if _, err := c.db.CompileEpisodeSummaries(ctx, id, c.episodeTopK); err != nil {
			c.logger.Warn().Err(err).Int64("media_id", id).Msg("recompile failed")

			continue
		}

		fixed++
	}

	return int64(len(ids)), fixed, nil
}

// advanceStuck moves discoveries that finished enrichment but never
// entered the vetting queue.
func (c *Checker) advanceStuck(ctx context.Context) (int64, int64, error) {
	return c.db.AdvanceStuckDiscoveries(ctx, stuckAfter)
}

// clearStaleLocks drops processing sentinels whose owners died. Both
// lock kinds are swept; a cleared row goes back to its pending state.
func (c *Checker) clearStaleLocks(ctx context.Context) (int64, int64, error) {
	var total int64

	for _, stage := range []string{db.LockStageVetting, db.LockStageAIDescription} {
		n, err := c.db.CleanupStaleLocks(ctx, stage, staleLockAfter)
		if err != nil {
			return total, total, err
		}

		total += n
	}

	return total, total, nil
}

// resetTransientFailures requeues vetting rows that failed on errors
// worth retrying once enough time has passed.
func (c *Checker) resetTransientFailures(ctx context.Context) (int64, int64, error) {
	n, err := c.db.ResetTransientVettingFailures(ctx, transientRetryAfter)

	return n, n, err
}

// alert sends one ops message when a run actually repaired something.
func (c *Checker) alert(ctx context.Context, report *Report) {
	if c.alerter == nil || report.TotalFixed() == 0 {
		return
	}

	var b strings.Builder

	fmt.Fprintf(&b, "health check repaired %d rows:", report.TotalFixed())

	for _, p := range report.Passes {
		if p.Found == 0 {
			continue
		}

		fmt.Fprintf(&b, "\n- %s: found %d, fixed %d", p.Name, p.Found, p.Fixed)
	}

	c.alerter.Alert(ctx, b.String())
}
