package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	db "github.com/podscout/podscout/internal/storage"
)

type fakeHealthStore struct {
	missingSummaries []int64
	compileErrs      map[int64]error
	compiled         []int64

	stuckFound int64
	stuckFixed int64
	stuckErr   error

	staleByStage map[string]int64
	staleErr     error
	sweptStages  []string

	transientReset int64
	transientErr   error
}

func (s *fakeHealthStore) MediaMissingCompiledSummaries(_ context.Context, limit int) ([]int64, error) {
	if len(s.missingSummaries) > limit {
		return s.missingSummaries[:limit], nil
	}

	return s.missingSummaries, nil
}

func (s *fakeHealthStore) CompileEpisodeSummaries(_ context.Context, mediaID int64, _ int) (string, error) {
	if err, ok := s.compileErrs[mediaID]; ok {
		return "", err
	}

	s.compiled = append(s.compiled, mediaID)

	return "compiled", nil
}

func (s *fakeHealthStore) AdvanceStuckDiscoveries(_ context.Context, _ time.Duration) (int64, int64, error) {
	return s.stuckFound, s.stuckFixed, s.stuckErr
}

func (s *fakeHealthStore) CleanupStaleLocks(_ context.Context, stage string, _ time.Duration) (int64, error) {
	s.sweptStages = append(s.sweptStages, stage)

	return s.staleByStage[stage], s.staleErr
}

func (s *fakeHealthStore) ResetTransientVettingFailures(_ context.Context, _ time.Duration) (int64, error) {
	return s.transientReset, s.transientErr
}

type fakeAlerter struct {
	messages []string
}

func (a *fakeAlerter) Alert(_ context.Context, message string) {
	a.messages = append(a.messages, message)
}

func newTestChecker(store *fakeHealthStore, alerter Alerter) *Checker {
	logger := zerolog.Nop()

	return NewChecker(store, 5, alerter, &logger)
}

func passByName(t *testing.T, report *Report, name string) PassResult {
	t.Helper()

	for _, p := range report.Passes {
		if p.Name == name {
			return p
		}
	}

	t.Fatalf("pass %q not in report", name)

	return PassResult{}
}

func TestRunExecutesAllPasses(t *testing.T) {
	store := &fakeHealthStore{
		missingSummaries: []int64{11, 12},
		stuckFound:       3,
		stuckFixed:       3,
		staleByStage:     map[string]int64{db.LockStageVetting: 2, db.LockStageAIDescription: 1},
		transientReset:   4,
	}

	report, err := newTestChecker(store, nil).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Passes, 4)

	compile := passByName(t, report, PassCompileSummaries)
	assert.Equal(t, int64(2), compile.Found)
	assert.Equal(t, int64(2), compile.Fixed)
	assert.Equal(t, []int64{11, 12}, store.compiled)

	stuck := passByName(t, report, PassAdvanceStuck)
	assert.Equal(t, int64(3), stuck.Found)
	assert.Equal(t, int64(3), stuck.Fixed)

	stale := passByName(t, report, PassStaleLocks)
	assert.Equal(t, int64(3), stale.Found, "both lock kinds are swept")
	assert.Equal(t, []string{db.LockStageVetting, db.LockStageAIDescription}, store.sweptStages)

	transient := passByName(t, report, PassTransientResets)
	assert.Equal(t, int64(4), transient.Fixed)

	assert.Equal(t, int64(12), report.TotalFound())
	assert.Equal(t, int64(12), report.TotalFixed())
}

func TestRunIsIdempotentWhenNothingIsBroken(t *testing.T) {
	store := &fakeHealthStore{}

	report, err := newTestChecker(store, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, report.TotalFound())
	assert.Zero(t, report.TotalFixed())
}

func TestCompilePassCountsPartialFailures(t *testing.T) {
	store := &fakeHealthStore{
		missingSummaries: []int64{1, 2, 3},
		compileErrs:      map[int64]error{2: errors.New("connection reset")},
	}

	report, err := newTestChecker(store, nil).Run(context.Background())
	require.NoError(t, err, "a single compile failure is absorbed")

	compile := passByName(t, report, PassCompileSummaries)
	assert.Equal(t, int64(3), compile.Found)
	assert.Equal(t, int64(2), compile.Fixed)
}

func TestRunContinuesPastFailingPass(t *testing.T) {
	store := &fakeHealthStore{
		stuckErr:       errors.New("timeout acquiring connection"),
		transientReset: 1,
	}

	report, err := newTestChecker(store, nil).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), PassAdvanceStuck)

	// The later passes still ran.
	require.Len(t, report.Passes, 4)
	assert.Equal(t, int64(1), passByName(t, report, PassTransientResets).Fixed)
	assert.Equal(t, []string{db.LockStageVetting, db.LockStageAIDescription}, store.sweptStages)
}

func TestAlertOnlyWhenSomethingWasFixed(t *testing.T) {
	alerter := &fakeAlerter{}

	_, err := newTestChecker(&fakeHealthStore{}, alerter).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, alerter.messages, "clean run is silent")

	store := &fakeHealthStore{transientReset: 2}

	_, err = newTestChecker(store, alerter).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, alerter.messages, 1)
	assert.Contains(t, alerter.messages[0], "repaired 2 rows")
	assert.Contains(t, alerter.messages[0], PassTransientResets)
}
