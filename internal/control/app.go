// Package control wires configuration into a running scanner: storage
// backends, the detection pipeline, source feeds, sinks, and the health
// server.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"affwatch/internal/core/config"
	"affwatch/internal/core/cursor"
	"affwatch/internal/core/domain"
	"affwatch/internal/core/worker"
	"affwatch/internal/detect"
	"affwatch/internal/detect/dedup"
	"affwatch/internal/detect/extract"
	"affwatch/internal/detect/match"
	"affwatch/internal/infra/fetch"
	"affwatch/internal/infra/pebbledb"
	redisclient "affwatch/internal/infra/redis"
	"affwatch/internal/infra/storage"
	"affwatch/internal/infra/storage/memory"
	"affwatch/internal/infra/storage/postgres"
	"affwatch/internal/scan"
	"affwatch/internal/scan/health"
	"affwatch/internal/sink"
	"affwatch/internal/source"
	"affwatch/internal/source/chainflip"
	"affwatch/internal/source/cowswap"
	"affwatch/internal/source/portals"
	"affwatch/internal/source/relay"
	"affwatch/internal/source/stream"
	"affwatch/internal/source/thorchain"
	"affwatch/internal/source/viewblock"
	"affwatch/internal/source/zerox"
)

// Options carries the per-invocation knobs the CLI layers on top of the
// config file.
type Options struct {
	// Once runs a single pass over every feed and exits.
	Once bool

	// Protocols limits the run to the named protocols. Empty means all.
	Protocols []string

	// MaxRecords stops the run after this many records have been written.
	MaxRecords int64
}

// App is the assembled scanner.
type App struct {
	cfg          *config.AppConfig
	runner       *scan.Runner
	detector     *detect.Detector
	cursors      *cursor.Manager
	cursorRepo   storage.CursorRepository
	sinks        *sink.Multi
	dlq          scan.DeadLetterQueue
	healthServer *health.Server
	pruner       *worker.Pruner
	pebble       *pebbledb.Store
	redisClient  *redisclient.Client
	db           *postgres.DB
	log          *slog.Logger
}

// NewApp assembles the scanner from configuration.
func NewApp(cfg *config.AppConfig, opts Options) (*App, error) {
	log := slog.Default()
	ctx := context.Background()

	// 1. Local store: seen set, cursors, audit payloads, dead letters.
	// The memory store always exists as the fallback for whatever the
	// configured backend does not cover.
	store := memory.NewMemoryStorage()

	var seenStore dedup.SeenStore = memory.NewSeenStore(store)
	var cursorRepo storage.CursorRepository = memory.NewCursorRepo(store)
	var dlq scan.DeadLetterQueue = memory.NewDeadLetterQueue(store)
	var pebbleStore *pebbledb.Store
	var redisClient *redisclient.Client

	switch cfg.Store.Backend {
	case "", "memory":
		log.Info("using memory store")
	case "pebble":
		path := cfg.Store.Path
		if path == "" {
			path = "data/affwatch"
		}
		var err error
		pebbleStore, err = pebbledb.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
		seenStore = pebbleStore
		cursorRepo = pebbledb.NewCursorStore(pebbleStore)
		log.Info("using pebble store", "path", path)
	case "redis":
		var err error
		redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		seenStore = redisclient.NewSeenStore(redisClient)
		dlq = redisclient.NewDeadLetterQueue(redisClient)
		log.Info("using redis store")
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	// 2. PostgreSQL, when configured. The database takes over cursors and
	// contributes stored affiliate addresses and the durable record sink.
	var db *postgres.DB
	var recordRepo storage.RecordRepository
	var affiliateRepo storage.AffiliateRepository
	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate("migrations"); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		cursorRepo = postgres.NewCursorRepo(db)
		recordRepo = postgres.NewRecordRepo(db)
		affiliateRepo = postgres.NewAffiliateRepo(db)
		log.Info("using postgresql storage")
	}

	// 3. Affiliate fingerprints: static config plus stored addresses.
	matcher := match.New(fingerprintsFromConfig(cfg.Fingerprints))
	if affiliateRepo != nil {
		affiliates, err := affiliateRepo.GetAll(ctx)
		if err != nil {
			log.Warn("failed to load stored affiliate addresses", "error", err)
		}
		byProtocol := make(map[domain.Protocol][]string)
		for _, a := range affiliates {
			byProtocol[a.Protocol] = append(byProtocol[a.Protocol], a.Address)
		}
		for protocol, addrs := range byProtocol {
			matcher.AddAddresses(protocol, addrs)
		}
		if len(affiliates) > 0 {
			log.Info("loaded stored affiliate addresses", "count", len(affiliates))
		}
	}

	// 4. Dedup, seeded from the persistent seen set.
	deduper := dedup.New(seenStore, log)
	if err := deduper.Seed(ctx); err != nil {
		log.Warn("failed to seed seen set, starting empty", "error", err)
	} else if deduper.Len() > 0 {
		log.Info("seeded seen set", "ids", deduper.Len())
	}

	// 5. Sinks.
	sinks, err := buildSinks(cfg.Sinks, recordRepo, pebbleStore, log)
	if err != nil {
		return nil, err
	}

	// 6. Detection pipeline.
	detector := detect.New(extract.New(), matcher, deduper, sinks, log, detect.Config{
		RecordAll:  cfg.Run.RecordAll,
		MaxRecords: opts.MaxRecords,
	})

	// 7. Source feeds.
	feeds, err := buildFeeds(cfg.Sources, opts.Protocols, log)
	if err != nil {
		return nil, err
	}
	if len(feeds) == 0 {
		return nil, errors.New("no sources configured")
	}

	// 8. Cursor manager over the selected repository.
	cursors := cursor.NewManager(cursorRepo, log)

	// 9. Health monitor and runner.
	monitor := health.NewMonitor(dlq.Count)
	runner := scan.NewRunner(feeds, detector, cursors, dlq, monitor, log, scan.Config{
		QueueSize: cfg.Run.QueueSize,
		Once:      opts.Once,
	})

	app := &App{
		cfg:         cfg,
		runner:      runner,
		detector:    detector,
		cursors:     cursors,
		cursorRepo:  cursorRepo,
		sinks:       sinks,
		dlq:         dlq,
		pebble:      pebbleStore,
		redisClient: redisClient,
		db:          db,
		log:         log,
	}

	// 10. Health server and retention pruner, daemon mode only.
	if !opts.Once {
		app.healthServer = health.NewServer(monitor, app.status, cfg.Server.Port)
		if cfg.Run.Retention > 0 {
			var auditStore worker.AuditPruner
			if pebbleStore != nil {
				auditStore = pebbleStore
			}
			app.pruner = worker.NewPruner(cfg.Run.Retention, recordRepo, auditStore, log)
		}
	}

	return app, nil
}

// Run starts the background workers and blocks on the scan runner until ctx
// ends or the record budget is reached.
func (a *App) Run(ctx context.Context) error {
	if a.healthServer != nil {
		go func() {
			if err := a.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error("health server failed", "error", err)
			}
		}()
	}
	if a.pruner != nil {
		go a.pruner.Start(ctx)
	}

	return a.runner.Run(ctx)
}

// Close flushes the sinks and releases every backend.
func (a *App) Close() error {
	var errs []error

	if a.healthServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.healthServer.Stop(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.sinks.Close(); err != nil {
		errs = append(errs, err)
	}
	if a.pebble != nil {
		if err := a.pebble.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Summary returns the detector counters for the run so far.
func (a *App) Summary() detect.Summary {
	return a.detector.Summary()
}

// status backs the /status endpoint.
func (a *App) status(ctx context.Context) (any, error) {
	cursors, err := a.cursorRepo.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load cursors: %w", err)
	}
	deadLetters, err := a.dlq.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count dead letters: %w", err)
	}
	return map[string]any{
		"summary":      a.detector.Summary(),
		"cursors":      cursors,
		"dead_letters": deadLetters,
	}, nil
}

// buildSinks assembles the sink fan-out. A run with no configured sink gets
// the log sink; a scanner writing nowhere helps nobody.
func buildSinks(cfg config.SinkConfig, recordRepo storage.RecordRepository, audit *pebbledb.Store, log *slog.Logger) (*sink.Multi, error) {
	var members []sink.Sink

	if cfg.CSVPath != "" {
		csvSink, err := sink.NewCSVSink(cfg.CSVPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open csv sink: %w", err)
		}
		members = append(members, csvSink)
	}
	if cfg.JSONLPath != "" {
		jsonlSink, err := sink.NewJSONLSink(cfg.JSONLPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open jsonl sink: %w", err)
		}
		members = append(members, jsonlSink)
	}
	if cfg.Postgres {
		if recordRepo == nil {
			return nil, errors.New("postgres sink requires database.url")
		}
		members = append(members, sink.NewPostgresSink(recordRepo))
	}
	if cfg.Log || len(members) == 0 {
		members = append(members, sink.NewLogSink(log))
	}
	if audit != nil {
		members = append(members, sink.NewAuditSink(audit))
	}

	return sink.NewMulti(members...), nil
}

// buildFeeds creates a source per enabled config entry.
func buildFeeds(sources []config.SourceConfig, only []string, log *slog.Logger) ([]scan.Feed, error) {
	allowed := make(map[domain.Protocol]bool, len(only))
	for _, p := range only {
		allowed[domain.ParseProtocol(p)] = true
	}

	var feeds []scan.Feed
	for _, sc := range sources {
		if sc.Disabled {
			continue
		}
		protocol := domain.ParseProtocol(sc.Protocol)
		if len(allowed) > 0 && !allowed[protocol] {
			continue
		}
		src, err := buildSource(sc, log)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, scan.Feed{Source: src, Interval: sc.Interval})
		log.Info("source configured",
			"source", sc.Name, "protocol", protocol, "interval", sc.Interval)
	}
	return feeds, nil
}

// buildSource maps one config entry to a source implementation. Websocket
// URLs become stream sources regardless of protocol; everything else is
// dispatched on the protocol name.
func buildSource(sc config.SourceConfig, log *slog.Logger) (source.Source, error) {
	opts := source.Options{
		Name:      sc.Name,
		URL:       sc.URL,
		Affiliate: sc.Affiliate,
		Method:    sc.Method,
		Subscribe: sc.Subscribe,
		PageSize:  sc.PageSize,
		MaxPages:  sc.MaxPages,
		PageDelay: sc.PageDelay,
	}
	protocol := domain.ParseProtocol(sc.Protocol)

	if strings.HasPrefix(sc.URL, "ws://") || strings.HasPrefix(sc.URL, "wss://") {
		return stream.New(protocol, opts, log), nil
	}

	client := fetch.NewClient(sc.Name, fetch.Config{
		Timeout:     sc.Timeout,
		MinInterval: sc.MinInterval,
		Retry:       sc.Retry,
	})

	switch protocol {
	case domain.ProtocolTHORChain:
		return thorchain.New(opts, client, log), nil
	case domain.ProtocolChainflip:
		return chainflip.New(opts, client, log), nil
	case domain.ProtocolCowSwap:
		return cowswap.New(opts, client, log), nil
	case domain.ProtocolZeroX:
		return zerox.New(opts, client, log), nil
	case domain.ProtocolPortals:
		return portals.New(opts, client, log), nil
	case domain.ProtocolRelay:
		return relay.New(opts, client, log), nil
	case domain.ProtocolViewBlock:
		return viewblock.New(opts, client, log), nil
	default:
		return nil, fmt.Errorf("source %s: unknown protocol %q", sc.Name, sc.Protocol)
	}
}

// fingerprintsFromConfig converts the yaml fingerprint maps to domain keys.
func fingerprintsFromConfig(cfg config.FingerprintConfig) match.Fingerprints {
	fp := match.Fingerprints{
		Addresses: make(map[domain.Protocol][]string),
		MemoCodes: make(map[domain.Protocol][]string),
		Partners:  make(map[domain.Protocol][]string),
	}
	for name, addrs := range cfg.Addresses {
		fp.Addresses[domain.ParseProtocol(name)] = addrs
	}
	for name, codes := range cfg.MemoCodes {
		fp.MemoCodes[domain.ParseProtocol(name)] = codes
	}
	for name, partners := range cfg.Partners {
		fp.Partners[domain.ParseProtocol(name)] = partners
	}
	return fp
}
