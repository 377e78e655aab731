// Package app wires the shared dependencies and exposes one Run method
// per operational mode:
//
//   - API mode: client-facing HTTP surface, websocket hub and notifier
//   - Worker mode: pipeline stage consumers on the background pool
//   - Scheduler mode: the singleton periodic task catalog
//   - All mode: API plus scheduler in one process for single-box setups
//
// Modes share the same component builders, so a split deployment runs
// the exact pipeline code the all-in-one process does. The event bus is
// in-process: pipeline events reach websocket clients only when the
// publishing stage and the hub live in the same process, which is why
// small deployments should prefer --mode=all.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/podscout/podscout/internal/api"
	"github.com/podscout/podscout/internal/core/embeddings"
	"github.com/podscout/podscout/internal/core/llm"
	"github.com/podscout/podscout/internal/core/transcripts"
	"github.com/podscout/podscout/internal/events"
	"github.com/podscout/podscout/internal/notify"
	"github.com/podscout/podscout/internal/platform/circuit"
	"github.com/podscout/podscout/internal/platform/config"
	"github.com/podscout/podscout/internal/platform/observability"
	"github.com/podscout/podscout/internal/platform/worker"
	"github.com/podscout/podscout/internal/process/autodiscovery"
	"github.com/podscout/podscout/internal/process/discovery"
	"github.com/podscout/podscout/internal/process/enrich"
	"github.com/podscout/podscout/internal/process/health"
	"github.com/podscout/podscout/internal/process/match"
	"github.com/podscout/podscout/internal/process/vetting"
	"github.com/podscout/podscout/internal/scheduler"
	"github.com/podscout/podscout/internal/sources"
	db "github.com/podscout/podscout/internal/storage"
)

// Catalog cadences and batch sizes. Interval tasks re-enter the queue
// as soon as the previous instance finishes; batch sizes bound how much
// one instance claims so a slow run never holds rows for hours.
const (
	transcriptionEvery       = 30 * time.Minute
	transcriptionConcurrency = 2
	vettingEvery             = 15 * time.Minute
	descriptionEvery         = 10 * time.Minute
	healthCheckEvery         = 30 * time.Minute
	sweepEvery               = 30 * time.Minute
	enrichmentHour           = 3
	episodeSyncHour          = 2

	vettingBatchSize     = 10
	matchBatchSize       = 25
	enrichmentBatchSize  = 100
	descriptionBatchSize = 5

	logFieldStage       = "stage"
	msgStageLoopStopped = "stage loop stopped"
)

// App holds the shared dependencies and provides methods to run
// different modes. The foreground pool serves HTTP requests; every
// pipeline component runs on the background pool so a batch pass can
// never exhaust the connections request handlers depend on.
type App struct {
	cfg        *config.Config
	foreground *db.DB
	background *db.DB
	logger     *zerolog.Logger
}

// New creates a new App instance over both pools.
func New(cfg *config.Config, foreground, background *db.DB, logger *zerolog.Logger) *App {
	return &App{
		cfg:        cfg,
		foreground: foreground,
		background: background,
		logger:     logger,
	}
}

// StartHealthServer starts the health check and metrics server.
func (a *App) StartHealthServer(ctx context.Context) error {
	srv := observability.NewServer(a.foreground.Pool, a.cfg.HealthPort, a.logger)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("health server start: %w", err)
	}

	return nil
}

// stages bundles the pipeline components one process holds. All of
// them share the background pool and the given bus.
type stages struct {
	fetcher    *discovery.Fetcher
	enricher   *enrich.Orchestrator
	vetter     *vetting.Worker
	matcher    *match.Creator
	checker    *health.Checker
	controller *autodiscovery.Controller
}

func (a *App) buildStages(bus *events.Bus, alerter *notify.Alerter) *stages {
	llmClient := a.newLLMClient()
	if alerter != nil {
		llmClient.OnSpendAlert(func(alert llm.SpendAlert) {
			alerter.Alert(context.Background(),
				fmt.Sprintf("LLM spend %s: %d of %d daily tokens", alert.Level, alert.Tokens, alert.Limit))
		})
	}

	embedder := a.newEmbeddingClient()
	transcriber := a.newTranscriptsClient()
	registry := a.newSourceRegistry()
	feeds := sources.NewFeedReader(a.cfg.RSSTimeout)

	fetcher := discovery.NewFetcher(a.cfg, a.background, registry, feeds, llmClient, bus, a.logger)
	enricher := enrich.NewOrchestrator(a.cfg, a.background, registry, feeds,
		llmClient, embedder, transcriber, bus, a.logger)

	agent := vetting.NewAgent(llmClient, vetting.NewBioFetcher(a.cfg.WebFetchTimeout, a.logger), a.logger)
	vetter := vetting.NewWorker(a.background, agent, bus, a.logger)
	matcher := match.NewCreator(a.cfg, a.background, bus, a.logger)

	// A plain nil keeps the checker's alerter check meaningful; a typed
	// nil pointer inside the interface would pass it.
	var alertSink health.Alerter
	if alerter != nil {
		alertSink = alerter
	}

	checker := health.NewChecker(a.background, a.cfg.EpisodeTopK, alertSink, a.logger)
	controller := autodiscovery.NewController(a.cfg, a.background, fetcher, enricher, vetter, matcher, bus, a.logger)

	return &stages{
		fetcher:    fetcher,
		enricher:   enricher,
		vetter:     vetter,
		matcher:    matcher,
		checker:    checker,
		controller: controller,
	}
}

// buildScheduler assembles the task catalog over the stage components.
// The vetting task also promotes freshly vetted discoveries into match
// suggestions, so verdicts turn into review tasks on the same cadence
// they are produced.
func (a *App) buildScheduler(st *stages) *scheduler.Scheduler {
	tasks := []scheduler.Task{
		{
			Name:          scheduler.TaskTranscription,
			Kind:          scheduler.KindInterval,
			Every:         transcriptionEvery,
			MaxConcurrent: transcriptionConcurrency,
			Run: func(ctx context.Context) error {
				_, err := st.enricher.TranscriptionSweep(ctx, a.cfg.TranscriptionsPerRun)

				return err
			},
		},
		{
			Name:  scheduler.TaskVetting,
			Kind:  scheduler.KindInterval,
			Every: vettingEvery,
			Run: func(ctx context.Context) error {
				return a.runVettingPass(ctx, st)
			},
		},
		{
			Name: scheduler.TaskEnrichment,
			Kind: scheduler.KindDaily,
			Hour: enrichmentHour,
			Run: func(ctx context.Context) error {
				_, err := st.enricher.ProcessPending(ctx, enrichmentBatchSize)

				return err
			},
		},
		{
			Name: scheduler.TaskEpisodeSync,
			Kind: scheduler.KindDaily,
			Hour: episodeSyncHour,
			Run: func(ctx context.Context) error {
				_, err := st.enricher.SyncEpisodes(ctx)

				return err
			},
		},
		{
			Name:  scheduler.TaskAIDescription,
			Kind:  scheduler.KindInterval,
			Every: descriptionEvery,
			Run: func(ctx context.Context) error {
				_, err := st.enricher.DescribePendingBatch(ctx, descriptionBatchSize)

				return err
			},
		},
		{
			Name:  scheduler.TaskHealthCheck,
			Kind:  scheduler.KindInterval,
			Every: healthCheckEvery,
			Run: func(ctx context.Context) error {
				_, err := st.checker.Run(ctx)

				return err
			},
		},
		{
			Name:  scheduler.TaskAutoDiscoverySweep,
			Kind:  scheduler.KindInterval,
			Every: sweepEvery,
			Run: func(ctx context.Context) error {
				_, err := st.controller.Sweep(ctx)

				return err
			},
		},
		{
			Name: scheduler.TaskWeeklyReset,
			Kind: scheduler.KindWeekly,
			Day:  time.Monday,
			Hour: 0,
			Run:  a.runWeeklyReset,
		},
	}

	return scheduler.New(a.cfg, a.background, tasks, a.logger)
}

// runVettingPass vets one claimed batch, then promotes whatever is
// ready for match creation.
func (a *App) runVettingPass(ctx context.Context, st *stages) error {
	if _, err := st.vetter.ProcessBatch(ctx, vettingBatchSize); err != nil {
		return err
	}

	_, err := st.matcher.ProcessReady(ctx, matchBatchSize)

	return err
}

// runWeeklyReset zeroes the weekly match counters across all client
// profiles, reopening paused campaigns to the next sweep.
func (a *App) runWeeklyReset(ctx context.Context) error {
	n, err := a.background.ResetWeeklyCounters(ctx)
	if err != nil {
		return err
	}

	a.logger.Info().Int64("profiles", n).Msg("weekly match counters reset")

	return nil
}

// serving is everything one HTTP-serving process holds: the in-process
// bus, the websocket hub with its notifier, the stage components, the
// scheduler catalog and the API server over them.
type serving struct {
	bus    *events.Bus
	hub    *notify.Hub
	stages *stages
	sched  *scheduler.Scheduler
	server *api.Server
}

func (a *App) buildServing() *serving {
	bus := events.NewBus(a.logger)
	hub := notify.NewHub(a.logger)

	notify.NewNotifier(a.foreground, hub, a.logger).Subscribe(bus)

	alerter := a.newAlerter()
	if alerter != nil {
		alerter.Subscribe(bus)
	}

	st := a.buildStages(bus, alerter)
	sched := a.buildScheduler(st)

	return &serving{
		bus:    bus,
		hub:    hub,
		stages: st,
		sched:  sched,
		server: api.NewServer(a.cfg, a.foreground, st.controller, sched, hub, bus, a.logger),
	}
}

func (s *serving) close() {
	s.hub.Close()
	s.bus.Close()
}

// RunAPI runs the client-facing HTTP surface. Manual discover requests
// launch controller runs in this process; the scheduler catalog is
// constructed for the admin endpoints but not driven, so its snapshot
// reports this process as a non-leader. Deployments that want live
// scheduler control from the API should run --mode=all.
func (a *App) RunAPI(ctx context.Context) error {
	a.logger.Info().Msg("Starting api mode")

	s := a.buildServing()
	defer s.close()

	if err := s.server.Start(ctx); err != nil {
		return fmt.Errorf("api server: %w", err)
	}

	return nil
}

// RunScheduler runs the singleton task catalog. The advisory lock keeps
// extra instances in standby. Stale auto-discovery runs are recovered
// before the first tick so campaigns orphaned by a crash resume without
// waiting for the next sweep.
func (a *App) RunScheduler(ctx context.Context) error {
	a.logger.Info().Msg("Starting scheduler mode")

	bus := events.NewBus(a.logger)
	defer bus.Close()

	alerter := a.newAlerter()
	if alerter != nil {
		alerter.Subscribe(bus)
	}

	st := a.buildStages(bus, alerter)
	st.controller.Recover(ctx)

	sched := a.buildScheduler(st)

	if err := sched.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			a.logger.Info().Msg("scheduler stopped")

			return nil
		}

		return fmt.Errorf("scheduler run: %w", err)
	}

	return nil
}

// RunWorker runs the stage consumers on a tight poll. Row claims go
// through FOR UPDATE SKIP LOCKED or status CAS, so any number of worker
// processes can run next to the scheduler without double-processing;
// extra workers only shorten the queues.
func (a *App) RunWorker(ctx context.Context) error {
	a.logger.Info().Msg("Starting worker mode")

	bus := events.NewBus(a.logger)
	defer bus.Close()

	alerter := a.newAlerter()
	if alerter != nil {
		alerter.Subscribe(bus)
	}

	st := a.buildStages(bus, alerter)

	passes := []stagePass{
		{name: "enrichment", run: func(ctx context.Context) (int, error) {
			return st.enricher.ProcessPending(ctx, enrichmentBatchSize)
		}},
		{name: "vetting", run: func(ctx context.Context) (int, error) {
			return st.vetter.ProcessBatch(ctx, vettingBatchSize)
		}},
		{name: "match", run: func(ctx context.Context) (int, error) {
			return st.matcher.ProcessReady(ctx, matchBatchSize)
		}},
		{name: "transcription", run: func(ctx context.Context) (int, error) {
			return st.enricher.TranscriptionSweep(ctx, a.cfg.TranscriptionsPerRun)
		}},
		{name: "description", run: func(ctx context.Context) (int, error) {
			return st.enricher.DescribePendingBatch(ctx, descriptionBatchSize)
		}},
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, pass := range passes {
		g.Go(func() error {
			return a.runStageLoop(gctx, pass)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("worker mode: %w", err)
	}

	return nil
}

// RunAll runs the API surface and the scheduler in one process, sharing
// one bus so pipeline events reach connected websocket clients.
func (a *App) RunAll(ctx context.Context) error {
	a.logger.Info().Msg("Starting all mode")

	s := a.buildServing()
	defer s.close()

	s.stages.controller.Recover(ctx)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := s.sched.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("scheduler run: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		if err := s.server.Start(gctx); err != nil {
			return fmt.Errorf("api server: %w", err)
		}

		return nil
	})

	return g.Wait()
}

// stagePass is one bounded unit of stage work. run reports how many
// rows it advanced.
type stagePass struct {
	name string
	run  func(ctx context.Context) (int, error)
}

// runStageLoop polls one stage until the context dies. Each pass runs
// under the task wall-clock cap; pass failures are logged and the loop
// keeps going, because a provider outage is the queue's problem, not
// the process's.
func (a *App) runStageLoop(ctx context.Context, pass stagePass) error {
	loop := worker.Loop{
		Name:      pass.name,
		Every:     a.cfg.WorkerPollInterval,
		Immediate: true,
		Tick: func(tickCtx context.Context) {
			a.runStagePass(tickCtx, pass)
		},
		Logger: a.logger,
	}

	err := loop.Run(ctx)
	if errors.Is(err, context.Canceled) {
		a.logger.Info().Str(logFieldStage, pass.name).Msg(msgStageLoopStopped)

		return err
	}

	return err
}

func (a *App) runStagePass(ctx context.Context, pass stagePass) {
	err := worker.RunWithTimeout(ctx, a.cfg.TaskTimeout, func(runCtx context.Context) error {
		n, err := pass.run(runCtx)
		if n > 0 {
			a.logger.Info().Str(logFieldStage, pass.name).Int("processed", n).Msg("stage pass complete")
		}

		return err
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Warn().Err(err).Str(logFieldStage, pass.name).Msg("stage pass failed")
	}
}

// newLLMClient creates the completion client with provider fallback.
// Token usage lands on the background pool's daily ledger.
func (a *App) newLLMClient() llm.Client {
	return llm.New(a.cfg, a.background, a.logger)
}

// newEmbeddingClient creates the embedding client. Shares the LLM key;
// the mock provider takes over when no key is configured.
func (a *App) newEmbeddingClient() embeddings.Client {
	logger := a.logger.With().Str("component", "embeddings").Logger()

	return embeddings.NewClient(embeddings.Config{
		APIKey:     a.cfg.LLMAPIKey,
		Model:      a.cfg.OpenAIEmbeddingModel,
		Dimensions: a.cfg.OpenAIEmbeddingDimensions,
		RateLimit:  a.cfg.RateLimitRPS,
		Breaker: circuit.Settings{
			Trip:     a.cfg.EmbeddingCircuitThreshold,
			Cooldown: a.cfg.EmbeddingCircuitTimeout,
		},
	}, &logger)
}

func (a *App) newTranscriptsClient() transcripts.Client {
	logger := a.logger.With().Str("component", "transcripts").Logger()

	return transcripts.NewClient(transcripts.Config{
		APIKey:       a.cfg.LLMAPIKey,
		Model:        a.cfg.TranscriptionModel,
		FetchTimeout: a.cfg.AudioFetchTimeout,
	}, &logger)
}

// newSourceRegistry registers every directory adapter with credentials.
// An empty registry is valid; discovery passes then find nothing, which
// beats failing configuration for setups that only re-vet existing
// inventory.
func (a *App) newSourceRegistry() *sources.Registry {
	registry := sources.NewRegistry()

	if a.cfg.PodscanAPIKey != "" {
		registry.Register(sources.NewPodscanAdapter(sources.PodscanConfig{
			APIKey:            a.cfg.PodscanAPIKey,
			BaseURL:           a.cfg.PodscanBaseURL,
			Timeout:           a.cfg.AdapterTimeout,
			PageSize:          a.cfg.AdapterPageSize,
			RequestsPerSecond: requestsPerSecond(a.cfg.APICallDelay),
		}))
	}

	if a.cfg.ListenNotesAPIKey != "" {
		registry.Register(sources.NewListenNotesAdapter(sources.ListenNotesConfig{
			APIKey:            a.cfg.ListenNotesAPIKey,
			BaseURL:           a.cfg.ListenNotesBaseURL,
			Timeout:           a.cfg.AdapterTimeout,
			PageSize:          a.cfg.AdapterPageSize,
			RequestsPerSecond: requestsPerSecond(a.cfg.APICallDelay),
		}))
	}

	if registry.Len() == 0 {
		a.logger.Warn().Msg("no source adapter configured, discovery passes will find nothing")
	}

	return registry
}

// newAlerter builds the optional Telegram ops sink. Nil when no bot
// token is configured or the Telegram handshake fails; alerts are a
// convenience, never a startup requirement.
func (a *App) newAlerter() *notify.Alerter {
	if a.cfg.AlertBotToken == "" {
		return nil
	}

	alerter, err := notify.NewAlerter(a.cfg.AlertBotToken, a.cfg.AlertChatID, a.logger)
	if err != nil {
		a.logger.Warn().Err(err).Msg("telegram alerter init failed, ops alerts disabled")

		return nil
	}

	return alerter
}

// requestsPerSecond converts a configured inter-call delay into the
// rate the adapters' limiters expect.
func requestsPerSecond(delay time.Duration) float64 {
	if delay <= 0 {
		return 1
	}

	return float64(time.Second) / float64(delay)
}
