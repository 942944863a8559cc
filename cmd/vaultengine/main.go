package main

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/xvault/settlement/internal/api"
	"github.com/xvault/settlement/internal/bus"
	"github.com/xvault/settlement/internal/equity"
	"github.com/xvault/settlement/internal/event"
	"github.com/xvault/settlement/internal/fixedpoint"
	"github.com/xvault/settlement/internal/hashing"
	"github.com/xvault/settlement/internal/ingestion"
	"github.com/xvault/settlement/internal/ledger"
	"github.com/xvault/settlement/internal/netting"
	"github.com/xvault/settlement/internal/observability"
	"github.com/xvault/settlement/internal/oracle"
	"github.com/xvault/settlement/internal/persistence"
	"github.com/xvault/settlement/internal/position"
	"github.com/xvault/settlement/internal/projection"
	"github.com/xvault/settlement/internal/settlement"
	"github.com/xvault/settlement/internal/venue"
)

// Config holds every operator-tunable knob for a vaultengine process,
// following the prior engine's env-var-driven configuration style.
type Config struct {
	PostgresURL   string
	NATSURL       string
	MigrationsDir string

	HTTPAddr    string
	MetricsAddr string

	EventChanSize   int
	RawEventSize    int
	PersistChanSize int
	ProjectChanSize int
	PublishChanSize int

	PersistBatchSize    int
	PersistFlushTimeout time.Duration

	DedupLRUSize    int
	OracleCacheSize int

	SnapshotInterval time.Duration
	RecomputeWindow  time.Duration

	WithdrawalCooldownSeconds   int64
	UserDailyCap                int64
	GlobalDailyCap              int64
	CircuitBreakerThreshold     int64
	CircuitBreakerWindowSeconds int64

	HaircutBps         int64
	OverspendAlphaBps  int64
	EquityHeartbeatSec int64

	SettlementBaseDelay   time.Duration
	SettlementMaxDelay    time.Duration
	SettlementMaxRetries  uint64
	SettlementQueueSize   int
	SettlementWorkerCount int

	Venues map[string]string // venue name -> websocket endpoint
}

func DefaultConfig() Config {
	return Config{
		PostgresURL:   envOrDefault("VAULTENGINE_POSTGRES_URL", "postgres://localhost:5432/settlement?sslmode=disable"),
		NATSURL:       envOrDefault("VAULTENGINE_NATS_URL", "nats://localhost:4222"),
		MigrationsDir: envOrDefault("VAULTENGINE_MIGRATIONS_DIR", "migrations"),

		HTTPAddr:    envOrDefault("VAULTENGINE_HTTP_ADDR", ":8080"),
		MetricsAddr: envOrDefault("VAULTENGINE_METRICS_ADDR", ":9090"),

		EventChanSize:   envIntOrDefault("VAULTENGINE_EVENT_CHAN_SIZE", 4096),
		RawEventSize:    envIntOrDefault("VAULTENGINE_RAW_EVENT_CHAN_SIZE", 4096),
		PersistChanSize: envIntOrDefault("VAULTENGINE_PERSIST_CHAN_SIZE", 2048),
		ProjectChanSize: envIntOrDefault("VAULTENGINE_PROJECT_CHAN_SIZE", 2048),
		PublishChanSize: envIntOrDefault("VAULTENGINE_PUBLISH_CHAN_SIZE", 2048),

		PersistBatchSize:    envIntOrDefault("VAULTENGINE_PERSIST_BATCH_SIZE", 100),
		PersistFlushTimeout: time.Duration(envIntOrDefault("VAULTENGINE_PERSIST_FLUSH_MS", 200)) * time.Millisecond,

		DedupLRUSize:    envIntOrDefault("VAULTENGINE_DEDUP_LRU_SIZE", 100_000),
		OracleCacheSize: envIntOrDefault("VAULTENGINE_ORACLE_CACHE_SIZE", 512),

		SnapshotInterval: time.Duration(envIntOrDefault("VAULTENGINE_SNAPSHOT_INTERVAL_SEC", 30)) * time.Second,
		RecomputeWindow:  time.Duration(envIntOrDefault("VAULTENGINE_RECOMPUTE_WINDOW_MS", 200)) * time.Millisecond,

		WithdrawalCooldownSeconds:   int64(envIntOrDefault("VAULTENGINE_WITHDRAWAL_COOLDOWN_SEC", 3600)),
		UserDailyCap:                int64(envIntOrDefault("VAULTENGINE_USER_DAILY_CAP", 0)),
		GlobalDailyCap:              int64(envIntOrDefault("VAULTENGINE_GLOBAL_DAILY_CAP", 0)),
		CircuitBreakerThreshold:     int64(envIntOrDefault("VAULTENGINE_CIRCUIT_BREAKER_THRESHOLD", 0)),
		CircuitBreakerWindowSeconds: int64(envIntOrDefault("VAULTENGINE_CIRCUIT_BREAKER_WINDOW_SEC", 60)),

		HaircutBps:         int64(envIntOrDefault("VAULTENGINE_HAIRCUT_BPS", 5000)),
		OverspendAlphaBps:  int64(envIntOrDefault("VAULTENGINE_OVERSPEND_ALPHA_BPS", 500)),
		EquityHeartbeatSec: int64(envIntOrDefault("VAULTENGINE_EQUITY_HEARTBEAT_SEC", 300)),

		SettlementBaseDelay:   time.Duration(envIntOrDefault("VAULTENGINE_SETTLEMENT_BASE_DELAY_MS", 100)) * time.Millisecond,
		SettlementMaxDelay:    time.Duration(envIntOrDefault("VAULTENGINE_SETTLEMENT_MAX_DELAY_MS", 5000)) * time.Millisecond,
		SettlementMaxRetries:  uint64(envIntOrDefault("VAULTENGINE_SETTLEMENT_MAX_RETRIES", 8)),
		SettlementQueueSize:   envIntOrDefault("VAULTENGINE_SETTLEMENT_QUEUE_SIZE", 1024),
		SettlementWorkerCount: envIntOrDefault("VAULTENGINE_SETTLEMENT_WORKERS", 8),

		Venues: parseVenues(envOrDefault("VAULTENGINE_VENUES", "")),
	}
}

func main() {
	cfg := DefaultConfig()
	log := observability.NewLogger("vaultengine")
	log.Info().Msg("vaultengine starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		log.Fatal().Err(err).Msg("open postgres")
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("ping postgres")
	}

	migrator := persistence.NewMigrator(db, cfg.MigrationsDir)
	if err := migrator.Up(ctx); err != nil {
		log.Fatal().Err(err).Msg("apply migrations")
	}

	metrics := observability.NewMetrics()
	health := observability.NewHealthChecker()

	clock := bus.SystemClock{}
	tracker := ledger.NewBalanceTracker()
	refIDStore := persistence.NewPostgresRefIDStore(db)
	dedup, err := ledger.NewDedupSet(cfg.DedupLRUSize, refIDStore)
	if err != nil {
		log.Fatal().Err(err).Msg("new dedup set")
	}

	store := position.New()
	chainHasher := hashing.NewChainHasher([32]byte{})

	snapMgr := persistence.NewSnapshotManager(db)
	snap, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("load latest snapshot")
	}

	fromSeq := int64(1)
	if snap != nil {
		restoreFromSnapshot(snap, tracker, store, dedup)
		if len(snap.StateHash) == 32 {
			var seed [32]byte
			copy(seed[:], snap.StateHash)
			chainHasher.Reset(seed)
		}
		fromSeq = snap.Sequence + 1
		log.Info().Int64("sequence", snap.Sequence).Msg("restored from snapshot")
	} else {
		log.Info().Msg("cold start: no snapshot found")
	}

	if err := replayEventsFromLog(ctx, snapMgr, fromSeq, tracker, chainHasher); err != nil {
		log.Fatal().Err(err).Msg("replay event log")
	}

	ledgerCfg := ledger.Config{
		WithdrawalCooldownSeconds:   cfg.WithdrawalCooldownSeconds,
		UserDailyCap:                fixedpoint.Money(cfg.UserDailyCap),
		GlobalDailyCap:              fixedpoint.Money(cfg.GlobalDailyCap),
		CircuitBreakerThreshold:     fixedpoint.Money(cfg.CircuitBreakerThreshold),
		CircuitBreakerWindowSeconds: cfg.CircuitBreakerWindowSeconds,
	}
	l := ledger.New(&clock, tracker, dedup, ledgerCfg)
	l.OnShortfall(func(evt ledger.ShortfallEvent) {
		log.Warn().
			Str("user", evt.User.String()).
			Uint64("shortfall", uint64(evt.Shortfall)).
			Uint64("covered_by_insurance", uint64(evt.CoveredByInsurance)).
			Uint64("socialized", uint64(evt.Socialized)).
			Msg("insurance waterfall shortfall")
	})

	persistChan := make(chan persistence.LedgerOutput, cfg.PersistChanSize)
	projectChan := make(chan projection.ProjectionOutput, cfg.ProjectChanSize)
	publishChan := make(chan ingestion.PublishableEvent, cfg.PublishChanSize)

	l.OnBatch(func(batch *ledger.Batch) {
		journalRows := make([]persistence.JournalRow, 0, len(batch.Journals))
		projEntries := make([]projection.JournalEntry, 0, len(batch.Journals))
		for _, j := range batch.Journals {
			journalRows = append(journalRows, persistence.JournalRow{
				JournalID:     j.JournalID.String(),
				BatchID:       j.BatchID.String(),
				EventRef:      j.EventRef,
				Sequence:      j.Sequence,
				DebitAccount:  j.DebitAccount.AccountPath(),
				CreditAccount: j.CreditAccount.AccountPath(),
				AssetID:       uint16(j.AssetID),
				Amount:        j.Amount,
				JournalType:   int32(j.JournalType),
				Timestamp:     j.Timestamp,
			})
			projEntries = append(projEntries, projection.JournalEntry{
				DebitAccount:  j.DebitAccount.AccountPath(),
				CreditAccount: j.CreditAccount.AccountPath(),
				AssetID:       uint16(j.AssetID),
				Amount:        j.Amount,
				JournalType:   int32(j.JournalType),
			})
		}

		payload := persistence.MarshalPayload(batch)
		prevHash, stateHash := chainHasher.Advance(payload)

		eventRow := persistence.EventRow{
			Sequence:       batch.Sequence,
			EventType:      batch.Journals[0].JournalType.String(),
			IdempotencyKey: batch.EventRef,
			Payload:        payload,
			StateHash:      stateHash[:],
			PrevHash:       prevHash[:],
			Timestamp:      time.UnixMicro(batch.Timestamp),
			SourceSequence: batch.Sequence,
		}

		select {
		case persistChan <- persistence.LedgerOutput{EventRow: eventRow, JournalRows: journalRows}:
		case <-ctx.Done():
		}

		select {
		case projectChan <- projection.ProjectionOutput{
			Sequence:       batch.Sequence,
			EventType:      eventRow.EventType,
			JournalEntries: projEntries,
			Timestamp:      batch.Timestamp,
		}:
		default:
			metrics.ProjectionDrops.WithLabelValues(eventRow.EventType).Inc()
		}

		select {
		case publishChan <- ingestion.PublishableEvent{
			Sequence:       batch.Sequence,
			EventType:      eventRow.EventType,
			IdempotencyKey: batch.EventRef,
			Payload:        journalRows,
			Timestamp:      time.UnixMicro(batch.Timestamp),
		}:
		default:
		}
	})

	oracleStore := persistence.NewPostgresOracleConfigStore(db)
	orc, err := oracle.New(&clock, oracleStore, cfg.OracleCacheSize)
	if err != nil {
		log.Fatal().Err(err).Msg("new oracle")
	}
	pushFeed := oracle.NewPushFeed()

	equityCfg := equity.Config{
		HaircutBps:        cfg.HaircutBps,
		OverspendAlphaBps: cfg.OverspendAlphaBps,
		HeartbeatSeconds:  cfg.EquityHeartbeatSec,
	}
	eq := equity.New(&clock, store, orc, l, equityCfg, nil)

	venueRegistry := venue.NewRegistry()
	for name, endpoint := range cfg.Venues {
		client := venue.New(name, endpoint, log)
		venueRegistry.Register(name, client)
		eq.RegisterAdapter(name, venueRegistry.AdapterFor(name))
	}

	opQueue := persistence.NewPostgresOperatorQueue(db)
	settlementCfg := settlement.Config{
		BaseDelay:  cfg.SettlementBaseDelay,
		MaxDelay:   cfg.SettlementMaxDelay,
		MaxRetries: cfg.SettlementMaxRetries,
	}
	coordinator := settlement.New(l, venueRegistry, opQueue, settlementCfg, cfg.SettlementQueueSize, log)
	store.OnClose = coordinator.OnPositionClosed

	obligationSource := persistence.NewPostgresObligationSource(db)
	nettingEngine := netting.New(obligationSource, l)
	_ = nettingEngine // RunOnce is driven by the periodic netting ticker below

	recomputeDebouncer := bus.NewDebouncer(cfg.RecomputeWindow, func(key string) {
		user, err := uuid.Parse(key)
		if err != nil {
			return
		}
		if _, err := eq.Recompute(ctx, user); err != nil {
			log.Warn().Err(err).Str("user", key).Msg("equity recompute failed")
		}
	})
	defer recomputeDebouncer.Stop()

	eventChan := make(chan event.Event, cfg.EventChanSize)
	rawEventChan := make(chan ingestion.RawEvent, cfg.RawEventSize)
	admin := ingestion.NewAdminIngestService(eventChan)

	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL)
	if err != nil {
		log.Fatal().Err(err).Msg("connect nats")
	}
	defer nc.Close()
	if err := ingestion.EnsureStreams(ctx, js); err != nil {
		log.Fatal().Err(err).Msg("ensure streams")
	}
	if err := ingestion.EnsureOutboundStream(ctx, js); err != nil {
		log.Fatal().Err(err).Msg("ensure outbound stream")
	}

	subscriber := ingestion.NewNATSSubscriber(js, rawEventChan)
	if err := subscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		log.Fatal().Err(err).Msg("subscribe nats")
	}
	defer subscriber.Stop()

	outboundPublisher := ingestion.NewOutboundPublisher(js, publishChan)

	persistWorker := persistence.NewPersistenceWorker(db, persistChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout, metrics)
	projWorker := projection.NewProjectionWorker(db, projectChan)

	errChan := make(chan error, 8)

	go func() { errChan <- persistWorker.Run(ctx) }()
	go func() { errChan <- projWorker.Run(ctx) }()
	go func() { errChan <- outboundPublisher.Run(ctx) }()
	go func() { errChan <- coordinator.Run(ctx, cfg.SettlementWorkerCount) }()

	go runRawEventTranslation(ctx, rawEventChan, eventChan, log)
	go runDispatchLoop(ctx, eventChan, l, store, orc, pushFeed, eq, coordinator, recomputeDebouncer, log)
	go runNettingTicker(ctx, nettingEngine, log)
	go runSnapshotTicker(ctx, cfg.SnapshotInterval, snapMgr, tracker, store, dedup, chainHasher, log)
	go runEquityHeartbeatTicker(ctx, eq, log)

	queries := api.NewQueryService(db)
	handlers := api.NewHandlers(queries, l, store, eq, admin)
	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: NewServerMux(handlers, health)}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http api listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}
	go func() {
		log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	health.SetReady(true)
	log.Info().Msg("vaultengine ready")

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-errChan:
		log.Error().Err(err).Msg("fatal error, shutting down")
	}

	health.SetReady(false)
	cancel()
	subscriber.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)

	if seq, err := snapMgr.GetLatestSequence(context.Background()); err == nil {
		takeSnapshot(context.Background(), snapMgr, tracker, store, dedup, chainHasher, seq)
	}

	log.Info().Msg("vaultengine shutdown complete")
}

// NewServerMux layers liveness/readiness endpoints onto the API router.
func NewServerMux(h *api.Handlers, health *observability.HealthChecker) *http.ServeMux {
	mux := api.NewRouter(h)
	mux.HandleFunc("GET /healthz", health.LivenessHandler)
	mux.HandleFunc("GET /readyz", health.ReadinessHandler)
	return mux
}

// runRawEventTranslation parses NATS raw events into typed events and
// forwards them onto the same channel admin-injected events use, acking
// only after the typed event is safely queued.
func runRawEventTranslation(ctx context.Context, rawChan <-chan ingestion.RawEvent, eventChan chan<- event.Event, log zerolog.Logger) {
	subjectTypes := map[string]string{
		"settlement.deposits.confirmed":   "DepositConfirmed",
		"settlement.withdrawals.requested": "WithdrawalRequested",
		"settlement.positions.snapshot":   "PositionSnapshot",
		"settlement.positions.delta":      "PositionDelta",
		"settlement.positions.closed":     "PositionClosed",
		"settlement.prices":               "MarkPriceUpdate",
		"settlement.shortfalls":           "VenueShortfall",
	}

	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-rawChan:
			if !ok {
				return
			}
			eventType := resolveEventType(raw.Subject, subjectTypes)
			evt, err := ingestion.ParseRawEvent(raw, eventType)
			if err != nil {
				log.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping unparseable event")
				raw.AckFunc()
				continue
			}
			select {
			case eventChan <- evt:
				raw.AckFunc()
			case <-ctx.Done():
				raw.NakFunc()
				return
			}
		}
	}
}

func resolveEventType(subject string, table map[string]string) string {
	for prefix, eventType := range table {
		if len(subject) >= len(prefix) && subject[:len(prefix)] == prefix {
			return eventType
		}
	}
	return ""
}

// runDispatchLoop is the single consumer of eventChan, routing each typed
// event onto the owning domain component.
func runDispatchLoop(
	ctx context.Context,
	eventChan <-chan event.Event,
	l *ledger.Ledger,
	store *position.Store,
	orc *oracle.Oracle,
	pushFeed *oracle.PushFeed,
	eq *equity.Engine,
	coordinator *settlement.Coordinator,
	debouncer *bus.Debouncer,
	log zerolog.Logger,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-eventChan:
			if !ok {
				return
			}
			dispatchEvent(ctx, evt, l, store, orc, pushFeed, eq, coordinator, debouncer, log)
		}
	}
}

func dispatchEvent(
	ctx context.Context,
	evt event.Event,
	l *ledger.Ledger,
	store *position.Store,
	orc *oracle.Oracle,
	pushFeed *oracle.PushFeed,
	eq *equity.Engine,
	coordinator *settlement.Coordinator,
	debouncer *bus.Debouncer,
	log zerolog.Logger,
) {
	switch e := evt.(type) {
	case *event.DepositConfirmed:
		refID := ledger.RefID(hashing.Keccak256([]byte(e.IdempotencyKey())))
		if err := l.DepositCollateral(ctx, e.UserID, fixedpoint.Money(e.Amount), refID); err != nil {
			log.Warn().Err(err).Str("user", e.UserID.String()).Msg("deposit collateral failed")
		} else {
			eq.TriggerDebounced(debouncer, e.UserID)
		}

	case *event.WithdrawalRequested:
		refID := ledger.RefID(hashing.Keccak256([]byte(e.IdempotencyKey())))
		if err := l.WithdrawCollateral(ctx, e.UserID, fixedpoint.Money(e.Amount), refID); err != nil {
			log.Warn().Err(err).Str("user", e.UserID.String()).Msg("withdraw collateral failed")
		} else {
			eq.TriggerDebounced(debouncer, e.UserID)
		}

	case *event.PositionSnapshot:
		key := position.Key{User: e.User, Venue: e.VenueID, Instrument: e.Instrument}
		side := position.SideLong
		if e.Side < 0 {
			side = position.SideShort
		}
		store.ApplySnapshot(key, position.Position{
			PositionID: e.PositionID,
			Side:       side,
			Size:       fixedpoint.Money(e.Size),
			EntryPrice: fixedpoint.Price(e.EntryPrice),
		})
		eq.TriggerDebounced(debouncer, e.User)

	case *event.PositionDelta:
		key := position.Key{User: e.User, Venue: e.VenueID, Instrument: e.Instrument}
		delta := position.Delta{}
		size := fixedpoint.Money(e.SizeDelta)
		delta.Size = &size
		if e.HasEntry {
			price := fixedpoint.Price(e.EntryPrice)
			delta.EntryPrice = &price
		}
		store.ApplyDelta(key, delta)
		eq.TriggerDebounced(debouncer, e.User)

	case *event.PositionClosed:
		key := position.Key{User: e.User, Venue: e.VenueID, Instrument: e.Instrument}
		store.Close(key) // invokes coordinator.OnPositionClosed via Store.OnClose
		// Closing one venue's position changes crossPnL on the user's other
		// venues, so their equity is stale until this fires too.
		eq.TriggerDebounced(debouncer, e.User)

	case *event.MarkPriceUpdate:
		kind := oracle.FeedExpo
		if e.Decimals > 0 {
			kind = oracle.FeedAggregator
		}
		pushFeed.Update(e.Symbol, oracle.RawSample{
			Kind:        kind,
			Answer:      e.RawPrice,
			Decimals:    e.Decimals,
			ExpoPrice:   e.RawPrice,
			Expo:        e.Expo,
			PublishedAt: e.PriceTimestamp / 1_000_000,
		})
		orc.RegisterFeed(e.Symbol, pushFeed)
		triggerUsersForInstrument(store, eq, debouncer, e.Symbol)

	case *event.VenueShortfall:
		userID, err := uuid.Parse(e.UserID)
		if err != nil {
			log.Warn().Err(err).Str("claim_id", e.ClaimID).Msg("dropping venue shortfall with invalid user id")
			return
		}
		coordinator.OnVenueShortfall(userID, e.VenueID, e.ClaimID, fixedpoint.Money(e.Amount))

	default:
		log.Warn().Str("event_type", evt.EventType().String()).Msg("unhandled event type")
	}
}

func runNettingTicker(ctx context.Context, ne *netting.Engine, log zerolog.Logger) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reports, err := ne.RunOnce(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("netting run failed")
				continue
			}
			for _, r := range reports {
				log.Info().Str("vault", r.VaultID).Int("users", r.UserCount).
					Uint64("savings", uint64(r.Savings)).Msg("netting batch committed")
			}
		}
	}
}

// runEquityHeartbeatTicker is the fallback equity recompute trigger: every
// few seconds it asks the engine which users haven't had a recompute fire
// through any other trigger within their heartbeat window and recomputes
// them directly, bypassing the debouncer since HeartbeatDue already applies
// its own cooldown.
func runEquityHeartbeatTicker(ctx context.Context, eq *equity.Engine, log zerolog.Logger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, user := range eq.HeartbeatDue() {
				if _, err := eq.Recompute(ctx, user); err != nil {
					log.Warn().Err(err).Str("user", user.String()).Msg("heartbeat equity recompute failed")
				}
			}
		}
	}
}

// triggerUsersForInstrument debounce-triggers every user currently holding a
// position in symbol, in response to a mark price move on that instrument.
// Positions are scanned rather than indexed, since the engine holds at most
// a few thousand live positions in memory and this runs once per price tick.
func triggerUsersForInstrument(store *position.Store, eq *equity.Engine, debouncer *bus.Debouncer, symbol string) {
	seen := make(map[uuid.UUID]struct{})
	for pos := range store.IterAll() {
		if pos.Instrument != symbol {
			continue
		}
		if _, ok := seen[pos.User]; ok {
			continue
		}
		seen[pos.User] = struct{}{}
		eq.TriggerDebounced(debouncer, pos.User)
	}
}

func runSnapshotTicker(
	ctx context.Context,
	interval time.Duration,
	snapMgr *persistence.SnapshotManager,
	tracker *ledger.BalanceTracker,
	store *position.Store,
	dedup *ledger.DedupSet,
	chainHasher *hashing.ChainHasher,
	log zerolog.Logger,
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			seq, err := snapMgr.GetLatestSequence(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("read latest sequence for snapshot")
				continue
			}
			takeSnapshot(ctx, snapMgr, tracker, store, dedup, chainHasher, seq)
		}
	}
}

func takeSnapshot(
	ctx context.Context,
	snapMgr *persistence.SnapshotManager,
	tracker *ledger.BalanceTracker,
	store *position.Store,
	dedup *ledger.DedupSet,
	chainHasher *hashing.ChainHasher,
	sequence int64,
) {
	balances := make(map[string]int64)
	for key, bal := range tracker.Snapshot() {
		balances[key.AccountPath()] = bal
	}

	var positions []persistence.PositionSnapshotRow
	for p := range store.IterAll() {
		positions = append(positions, persistence.PositionSnapshotRow{
			UserID:     p.User.String(),
			VenueID:    p.Venue,
			Instrument: p.Instrument,
			PositionID: p.PositionID,
			Side:       int32(p.Side),
			Size:       int64(p.Size),
			EntryPrice: int64(p.EntryPrice),
			Sequence:   sequence,
			Stale:      p.Stale,
		})
	}

	refIDKeys := make([]string, 0)
	for _, id := range dedup.Keys() {
		refIDKeys = append(refIDKeys, id.String())
	}

	stateHash := chainHasher.Current()

	snap := &persistence.SnapshotData{
		Sequence:      sequence,
		StateHash:     stateHash[:],
		Balances:      balances,
		Positions:     positions,
		SequenceState: map[string]int64{},
		RefIDKeys:     refIDKeys,
		CreatedAt:     time.Now(),
	}

	if err := snapMgr.SaveSnapshot(ctx, snap); err != nil {
		return
	}
	_ = snapMgr.MarkVerified(ctx, sequence)
}

func restoreFromSnapshot(snap *persistence.SnapshotData, tracker *ledger.BalanceTracker, store *position.Store, dedup *ledger.DedupSet) {
	balances := make(map[ledger.AccountKey]int64, len(snap.Balances))
	for path, bal := range snap.Balances {
		balances[ledger.ParseAccountPath(path)] = bal
	}
	tracker.Restore(balances)

	for _, row := range snap.Positions {
		user, err := uuid.Parse(row.UserID)
		if err != nil {
			continue
		}
		key := position.Key{User: user, Venue: row.VenueID, Instrument: row.Instrument}
		store.ApplySnapshot(key, position.Position{
			PositionID: row.PositionID,
			Side:       position.Side(row.Side),
			Size:       fixedpoint.Money(row.Size),
			EntryPrice: fixedpoint.Price(row.EntryPrice),
			Stale:      row.Stale,
		})
	}

	refIDs := make([]ledger.RefID, 0, len(snap.RefIDKeys))
	for _, hexKey := range snap.RefIDKeys {
		decoded, err := hex.DecodeString(hexKey)
		if err != nil || len(decoded) != 32 {
			continue
		}
		var id ledger.RefID
		copy(id[:], decoded)
		refIDs = append(refIDs, id)
	}
	dedup.WarmFromKeys(refIDs)
}

// replayEventsFromLog walks the event log past the last snapshot to confirm
// it is reachable, contiguous, and hash-chain-consistent; the balances
// themselves were already restored from the snapshot, and the journal rows
// for this range are already durable in Postgres via the idempotent ON
// CONFLICT writes, so there is nothing left to re-apply to tracker other
// than validating the watermark advances without gaps and each row's
// PrevHash/StateHash correctly continues chainHasher from the snapshot's
// seeded head.
func replayEventsFromLog(ctx context.Context, snapMgr *persistence.SnapshotManager, fromSequence int64, tracker *ledger.BalanceTracker, chainHasher *hashing.ChainHasher) error {
	const pageSize = 1000
	seq := fromSequence
	for {
		rows, err := snapMgr.LoadEventsFrom(ctx, seq, pageSize)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		for _, row := range rows {
			if len(row.StateHash) == 0 && len(row.PrevHash) == 0 {
				continue // rows written before the chain existed
			}
			if !chainHasher.Verify(row.PrevHash, row.StateHash, row.Payload) {
				return fmt.Errorf("state hash chain broken at sequence %d", row.Sequence)
			}
		}
		seq = rows[len(rows)-1].Sequence + 1
		if len(rows) < pageSize {
			return nil
		}
	}
}

func parseVenues(raw string) map[string]string {
	venues := make(map[string]string)
	if raw == "" {
		return venues
	}
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			pair := raw[start:i]
			start = i + 1
			for j := 0; j < len(pair); j++ {
				if pair[j] == '=' {
					venues[pair[:j]] = pair[j+1:]
					break
				}
			}
		}
	}
	return venues
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
