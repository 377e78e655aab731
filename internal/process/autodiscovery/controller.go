// Package autodiscovery drives unattended campaign runs: each sweep
// picks enabled campaigns with quota left, grows their media inventory
// keyword batch by keyword batch, and pushes fresh discoveries through
// enrichment, vetting and match creation inline until the plan's
// allowance is spent or the inventory runs dry. One campaign is
// processed by at most one run at a time; the status column plus a
// heartbeat stamp make crashed runs recoverable.
package autodiscovery

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/podscout/podscout/internal/core/domain"
	apperrors "github.com/podscout/podscout/internal/core/errors"
	"github.com/podscout/podscout/internal/events"
	"github.com/podscout/podscout/internal/platform/config"
	"github.com/podscout/podscout/internal/platform/observability"
	"github.com/podscout/podscout/internal/process/discovery"
	"github.com/podscout/podscout/internal/process/match"
)

const (
	componentName = "autodiscovery"

	// errorRetryAfter is how long an errored campaign rests before the
	// sweep offers it again.
	errorRetryAfter = time.Hour

	// staleHeartbeatAfter and staleRunAfter bound how long a running
	// campaign may go quiet before recovery resets it. The heartbeat
	// fires every 30s, so five minutes of silence means the owner died.
	staleHeartbeatAfter = 5 * time.Minute
	staleRunAfter       = 50 * time.Minute

	// errorResetAfter is the age past which error rows go back to
	// pending unconditionally.
	errorResetAfter = 2 * time.Hour

	// Run outcomes that are not terminal statuses; finished runs use
	// the status itself as the metric label.
	outcomeError   = "error"
	outcomeSkipped = "skipped"

	// Log field keys
	logKeyCampaignID  = "campaign_id"
	logKeyDiscoveryID = "discovery_id"
)

// Repository is the slice of the store the controller needs.
type Repository interface {
	GetCampaign(ctx context.Context, id string) (*domain.Campaign, error)
	AutoDiscoveryCandidates(ctx context.Context, errorRetryCutoff time.Time) ([]domain.Campaign, error)
	RecoverStaleAutoDiscovery(ctx context.Context, heartbeatCutoff, lastRunCutoff, errorCutoff time.Time) ([]string, error)
	StartAutoDiscoveryRun(ctx context.Context, id string) (bool, error)
	UpdateAutoDiscoveryHeartbeat(ctx context.Context, id string) error
	UpdateAutoDiscoveryProgress(ctx context.Context, id string, progress domain.Progress) error
	FinishAutoDiscoveryRun(ctx context.Context, id, status, errMsg string) error
	PendingDiscoveriesForCampaign(ctx context.Context, campaignID string, threshold, limit int) ([]domain.Discovery, error)
	GetDiscovery(ctx context.Context, id string) (*domain.Discovery, error)
	EnsureClientProfile(ctx context.Context, personID int64) (*domain.ClientProfile, error)
}

// Fetcher grows a campaign's media inventory for a keyword batch.
type Fetcher interface {
	Run(ctx context.Context, campaign *domain.Campaign, keywords []string, maxDiscoveries int) (*discovery.Result, error)
}

// Enricher pushes one claimed discovery through media enrichment.
type Enricher interface {
	EnrichDiscovery(ctx context.Context, d *domain.Discovery) bool
}

// Vetter claims and vets one discovery.
type Vetter interface {
	ProcessDiscovery(ctx context.Context, discoveryID string) (bool, error)
}

// Matcher promotes one vetted discovery into a match suggestion.
type Matcher interface {
	CreateForDiscovery(ctx context.Context, d *domain.Discovery, auto bool) (match.Outcome, error)
}

// Controller owns the sweep loop and the per-campaign run.
type Controller struct {
	cfg      *config.Config
	db       Repository
	fetcher  Fetcher
	enricher Enricher
	vetter   Vetter
	matcher  Matcher
	bus      *events.Bus
	logger   *zerolog.Logger
}

func NewController(cfg *config.Config, database Repository, fetcher Fetcher, enricher Enricher,
	vetter Vetter, matcher Matcher, bus *events.Bus, logger *zerolog.Logger,
) *Controller {
	l := logger.With().Str("component", componentName).Logger()

	return &Controller{
		cfg:      cfg,
		db:       database,
		fetcher:  fetcher,
		enricher: enricher,
		vetter:   vetter,
		matcher:  matcher,
		bus:      bus,
		logger:   &l,
	}
}

// Sweep recovers stale runs, selects eligible campaigns and runs them
// one at a time. Paid plans go first, then the least recently run, then
// the newest. Per-campaign failures are absorbed so one broken campaign
// never starves the rest; only context cancellation aborts the sweep.
// Returns how many campaigns were run.
func (c *Controller) Sweep(ctx context.Context) (int, error) {
	c.Recover(ctx)

	candidates, err := c.db.AutoDiscoveryCandidates(ctx, time.Now().Add(-errorRetryAfter))
	if err != nil {
		return 0, fmt.Errorf("list auto-discovery candidates: %w", err)
	}

	plans := c.prioritize(ctx, candidates)

	ran := 0

	for i := range plans {
		if ctx.Err() != nil {
			return ran, ctx.Err()
		}

		plan := &plans[i]

		if err := c.RunCampaign(ctx, &plan.campaign); err != nil {
			if ctx.Err() != nil {
				return ran, ctx.Err()
			}

			c.logger.Warn().Err(err).Str(logKeyCampaignID, plan.campaign.ID).Msg("auto-discovery run failed")

			continue
		}

		ran++
	}

	return ran, nil
}

// Recover resets campaigns whose runs died: running rows with a silent
// heartbeat or an ancient run stamp, and error rows past the reset age.
// Each reset is audit-logged with the campaign id. Safe to call at
// startup and at every sweep.
func (c *Controller) Recover(ctx context.Context) {
	now := time.Now()

	ids, err := c.db.RecoverStaleAutoDiscovery(ctx,
		now.Add(-staleHeartbeatAfter),
		now.Add(-staleRunAfter),
		now.Add(-errorResetAfter),
	)
	if err != nil {
		c.logger.Error().Err(err).Msg("stale run recovery failed")

		return
	}

	for _, id := range ids {
		observability.AutoDiscoveryRecoveries.Inc()

		c.logger.Warn().Str(logKeyCampaignID, id).Msg("stale auto-discovery run reset to pending")
	}
}

// runPlan is one sweep candidate with its quota snapshot.
type runPlan struct {
	campaign  domain.Campaign
	paid      bool
	remaining int
}

// prioritize loads each candidate's plan profile, drops campaigns with
// no quota left, and orders the rest: paid first, least-recent run
// next, newest campaign last. The quota snapshot here is advisory; the
// match transaction re-checks it before every insert.
func (c *Controller) prioritize(ctx context.Context, candidates []domain.Campaign) []runPlan {
	plans := make([]runPlan, 0, len(candidates))

	for i := range candidates {
		campaign := &candidates[i]

		profile, err := c.db.EnsureClientProfile(ctx, campaign.PersonID)
		if err != nil {
			c.logger.Warn().Err(err).Str(logKeyCampaignID, campaign.ID).Msg("load client profile failed")

			continue
		}

		remaining := profile.RemainingMatches()
		if remaining <= 0 {
			c.logger.Debug().
				Str(logKeyCampaignID, campaign.ID).
				Str("plan", profile.Plan).
				Msg("campaign skipped, weekly allowance spent")

			continue
		}

		plans = append(plans, runPlan{
			campaign:  *campaign,
			paid:      profile.IsPaid(),
			remaining: remaining,
		})
	}

	sort.SliceStable(plans, func(i, j int) bool {
		if plans[i].paid != plans[j].paid {
			return plans[i].paid
		}

		ri, rj := plans[i].campaign.AutoDiscovery.LastRun, plans[j].campaign.AutoDiscovery.LastRun
		if !ri.Equal(rj) {
			return ri.Before(rj)
		}

		return plans[i].campaign.CreatedAt.After(plans[j].campaign.CreatedAt)
	})

	return plans
}

// RunCampaign executes one full automated run for the campaign:
// transition to running, heartbeat, keyword fetch batches, then the
// inline pipeline over pending discoveries until quota or inventory is
// exhausted. Exactly one summary notification is published per
// finished run. Returns nil when the campaign was skipped because
// another run holds it.
func (c *Controller) RunCampaign(ctx context.Context, campaign *domain.Campaign) error {
	return c.run(ctx, campaign, 0)
}

// RunManual loads a campaign and executes one run with the match count
// capped at maxMatches when positive. Serves explicit discover requests
// arriving outside the sweep cadence.
func (c *Controller) RunManual(ctx context.Context, campaignID string, maxMatches int) error {
	campaign, err := c.db.GetCampaign(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("load campaign %s: %w", campaignID, err)
	}

	if campaign == nil {
		return fmt.Errorf("campaign %s: %w", campaignID, apperrors.ErrCampaignNotFound)
	}

	return c.run(ctx, campaign, maxMatches)
}

func (c *Controller) run(ctx context.Context, campaign *domain.Campaign, maxMatches int) error {
	if strings.TrimSpace(campaign.IdealDescription) == "" {
		observability.AutoDiscoveryRuns.WithLabelValues(outcomeSkipped).Inc()

		return fmt.Errorf("campaign %s has no ideal description: %w", campaign.ID, apperrors.ErrDataMissing)
	}

	profile, err := c.db.EnsureClientProfile(ctx, campaign.PersonID)
	if err != nil {
		return fmt.Errorf("load client profile: %w", err)
	}

	remaining := profile.RemainingMatches()
	if maxMatches > 0 && maxMatches < remaining {
		remaining = maxMatches
	}

	if remaining <= 0 {
		return nil
	}

	started, err := c.db.StartAutoDiscoveryRun(ctx, campaign.ID)
	if err != nil {
		return fmt.Errorf("start auto-discovery run: %w", err)
	}

	if !started {
		return nil
	}

	stopHeartbeat := c.startHeartbeat(ctx, campaign.ID)
	defer stopHeartbeat()

	c.logger.Info().
		Str(logKeyCampaignID, campaign.ID).
		Int("keywords", len(campaign.Keywords)).
		Int("remaining_matches", remaining).
		Bool("paid", profile.IsPaid()).
		Msg("auto-discovery run started")

	progress := domain.Progress{
		Stage:         domain.StageFetchingPodcasts,
		KeywordsTotal: len(campaign.Keywords),
	}

	status, runErr := c.runPipeline(ctx, campaign, remaining, &progress)

	switch {
	case ctx.Err() != nil:
		// Interrupted, not failed: hand the campaign back so the next
		// sweep resumes it. Fresh context because ours is dead.
		c.finish(context.Background(), campaign.ID, domain.AutoStatusPending, "")

		return ctx.Err()

	case runErr != nil:
		observability.AutoDiscoveryRuns.WithLabelValues(outcomeError).Inc()

		c.finish(ctx, campaign.ID, domain.AutoStatusError, runErr.Error())
		c.publishSummary(events.CampaignError, campaign.ID, &progress, runErr.Error())

		return runErr
	}

	observability.AutoDiscoveryRuns.WithLabelValues(status).Inc()

	c.finish(ctx, campaign.ID, status, "")

	if status == domain.AutoStatusPaused {
		c.publishSummary(events.LimitReached, campaign.ID, &progress, "")
	} else {
		c.publishSummary(events.MatchesReady, campaign.ID, &progress, "")
	}

	c.logger.Info().
		Str(logKeyCampaignID, campaign.ID).
		Str("status", status).
		Int("matches_created", progress.MatchesCreated).
		Int("discoveries_made", progress.DiscoveriesMade).
		Msg("auto-discovery run finished")

	return nil
}

// runPipeline is the body of one run. Returns the terminal status:
// paused when the allowance refused a match, completed when the
// campaign's inventory ran out first.
func (c *Controller) runPipeline(ctx context.Context, campaign *domain.Campaign, remaining int,
	progress *domain.Progress,
) (string, error) {
	c.updateProgress(ctx, campaign.ID, progress)

	keywords := campaign.Keywords

	for start := 0; start < len(keywords); start += c.cfg.KeywordBatchSize {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		end := min(start+c.cfg.KeywordBatchSize, len(keywords))

		res, err := c.fetcher.Run(ctx, campaign, keywords[start:end], 0)
		if err != nil {
			return "", fmt.Errorf("discovery pass: %w", err)
		}

		progress.KeywordsDone = end
		progress.MediaFound += res.MediaNew + res.MediaMatched
		progress.DiscoveriesMade += res.DiscoveriesNew

		c.updateProgress(ctx, campaign.ID, progress)
	}

	progress.Stage = domain.StageVetting
	c.updateProgress(ctx, campaign.ID, progress)

	for remaining > 0 {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		batch, err := c.db.PendingDiscoveriesForCampaign(ctx, campaign.ID, c.cfg.MatchThreshold, c.cfg.DiscoveryBatchSize)
		if err != nil {
			return "", fmt.Errorf("list pending discoveries: %w", err)
		}

		if len(batch) == 0 {
			return domain.AutoStatusCompleted, nil
		}

		created, progressed, limitHit := c.processBatch(ctx, batch, &remaining)

		progress.MatchesCreated += created
		c.updateProgress(ctx, campaign.ID, progress)

		if limitHit {
			return domain.AutoStatusPaused, nil
		}

		if !progressed {
			// Every remaining row is stuck on failures. Stop instead of
			// spinning; the health checker requeues the transient ones.
			return domain.AutoStatusCompleted, nil
		}
	}

	return domain.AutoStatusPaused, nil
}

// processBatch runs the inline pipeline over one discovery batch.
// Returns how many matches were created, whether any row advanced at
// all, and whether the quota refused a match.
func (c *Controller) processBatch(ctx context.Context, batch []domain.Discovery,
	remaining *int,
) (created int, progressed, limitHit bool) {
	for i := range batch {
		if ctx.Err() != nil || *remaining <= 0 {
			return created, progressed, limitHit
		}

		outcome, advanced := c.processDiscovery(ctx, &batch[i])
		if advanced {
			progressed = true
		}

		switch outcome {
		case match.OutcomeCreated:
			created++
			*remaining--

		case match.OutcomeQuotaExceeded:
			return created, progressed, true

		case match.OutcomeAlreadyCreated, match.OutcomeSkipped:
		}
	}

	return created, progressed, false
}

// processDiscovery pushes one discovery through whatever pipeline
// stages it still needs. Reports the match outcome and whether the row
// moved at all (a below-threshold verdict is progress; a failed claim
// is not).
func (c *Controller) processDiscovery(ctx context.Context, d *domain.Discovery) (match.Outcome, bool) {
	advanced := false

	if d.EnrichmentStatus == domain.StatusPending {
		if !c.enricher.EnrichDiscovery(ctx, d) {
			return match.OutcomeSkipped, false
		}

		advanced = true
	}

	if d.VettingStatus != domain.StatusCompleted {
		vetted, err := c.vetter.ProcessDiscovery(ctx, d.ID)
		if err != nil {
			c.logger.Warn().Err(err).Str(logKeyDiscoveryID, d.ID).Msg("inline vetting failed")

			return match.OutcomeSkipped, advanced
		}

		if !vetted {
			return match.OutcomeSkipped, advanced
		}

		advanced = true

		fresh, err := c.db.GetDiscovery(ctx, d.ID)
		if err != nil || fresh == nil {
			c.logger.Warn().Err(err).Str(logKeyDiscoveryID, d.ID).Msg("reload vetted discovery failed")

			return match.OutcomeSkipped, advanced
		}

		*d = *fresh
	}

	if d.VettingScore < c.cfg.MatchThreshold {
		return match.OutcomeSkipped, true
	}

	outcome, err := c.matcher.CreateForDiscovery(ctx, d, true)
	if err != nil {
		c.logger.Warn().Err(err).Str(logKeyDiscoveryID, d.ID).Msg("inline match creation failed")

		return match.OutcomeSkipped, advanced
	}

	return outcome, true
}

// startHeartbeat stamps the campaign every heartbeat interval until the
// returned stop function runs. Recovery treats a silent heartbeat as a
// dead run, so the goroutine lives exactly as long as the run does.
func (c *Controller) startHeartbeat(ctx context.Context, campaignID string) func() {
	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)

		ticker := time.NewTicker(c.cfg.HeartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := c.db.UpdateAutoDiscoveryHeartbeat(hbCtx, campaignID); err != nil && hbCtx.Err() == nil {
					c.logger.Warn().Err(err).Str(logKeyCampaignID, campaignID).Msg("heartbeat update failed")
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func (c *Controller) updateProgress(ctx context.Context, campaignID string, progress *domain.Progress) {
	progress.UpdatedAt = time.Now()

	if err := c.db.UpdateAutoDiscoveryProgress(ctx, campaignID, *progress); err != nil && ctx.Err() == nil {
		c.logger.Warn().Err(err).Str(logKeyCampaignID, campaignID).Msg("progress update failed")
	}
}

func (c *Controller) finish(ctx context.Context, campaignID, status, errMsg string) {
	if err := c.db.FinishAutoDiscoveryRun(ctx, campaignID, status, errMsg); err != nil {
		c.logger.Error().Err(err).Str(logKeyCampaignID, campaignID).Msg("finish auto-discovery run failed")
	}
}

func (c *Controller) publishSummary(eventType events.Type, campaignID string, progress *domain.Progress, errMsg string) {
	data := map[string]any{
		"campaign_id":      campaignID,
		"matches_created":  progress.MatchesCreated,
		"discoveries_made": progress.DiscoveriesMade,
		"media_found":      progress.MediaFound,
	}

	if errMsg != "" {
		data["error"] = errMsg
	}

	c.bus.Publish(events.Event{
		Type:       eventType,
		EntityType: "campaign",
		EntityID:   campaignID,
		Data:       data,
		Source:     componentName,
	})
}
