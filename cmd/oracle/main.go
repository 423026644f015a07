package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"github.com/drewstone/edgeware-watcher/internal/attestation/aggregator"
	"github.com/drewstone/edgeware-watcher/internal/attestation/evidence"
	evidencecache "github.com/drewstone/edgeware-watcher/internal/attestation/evidence/cache"
	"github.com/drewstone/edgeware-watcher/internal/attestation/verifier"
	kafkaintake "github.com/drewstone/edgeware-watcher/internal/intake/kafka"
	jwttoken "github.com/drewstone/edgeware-watcher/internal/jwt_token"
	"github.com/drewstone/edgeware-watcher/internal/ledger"
	"github.com/drewstone/edgeware-watcher/internal/ledger/memory"
	"github.com/drewstone/edgeware-watcher/internal/ledger/rpc"
	"github.com/drewstone/edgeware-watcher/internal/oracle"
	"github.com/drewstone/edgeware-watcher/internal/platform/config"
	"github.com/drewstone/edgeware-watcher/internal/platform/httpserver"
	"github.com/drewstone/edgeware-watcher/internal/platform/logger"
	"github.com/drewstone/edgeware-watcher/internal/platform/metrics"
	"github.com/drewstone/edgeware-watcher/internal/platform/redis"
	"github.com/drewstone/edgeware-watcher/internal/settlement"
	httptransport "github.com/drewstone/edgeware-watcher/internal/transport/http"
	"github.com/drewstone/edgeware-watcher/pkg/platform/audit"
	auditpublisher "github.com/drewstone/edgeware-watcher/pkg/platform/audit/publisher"
	auditmemory "github.com/drewstone/edgeware-watcher/pkg/platform/audit/store/memory"
	auditpostgres "github.com/drewstone/edgeware-watcher/pkg/platform/audit/store/postgres"
)

const (
	auditBuffer  = 1024
	startupGrace = 15 * time.Second
)

// main wires the pipeline, exposes the HTTP intake and optionally consumes Kafka.
// Business logic lives in the internal packages.
func main() {
	dev := flag.Bool("dev", false, "settle against an in-process ledger instead of LEDGER_ENDPOINT")
	flag.Parse()

	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *dev {
		cfg.Ledger.Dev = true
	}

	log := logger.New(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("oracle stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("oracle stopped")
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	m := metrics.New()
	checks := map[string]httptransport.HealthCheck{}

	startCtx, cancel := context.WithTimeout(ctx, startupGrace)
	defer cancel()

	source, evidenceCache, closeSource, err := buildEvidenceSource(startCtx, cfg, log, m, checks)
	if err != nil {
		return err
	}
	defer closeSource()

	v, err := verifier.New(verifier.Config{
		SharedKey:    cfg.Oracle.SharedKey,
		IdentityType: cfg.Oracle.IdentityType,
	}, verifier.WithLogger(log))
	if err != nil {
		return fmt.Errorf("create verifier: %w", err)
	}
	agg, err := aggregator.New(source, v,
		aggregator.WithConcurrency(cfg.Oracle.Concurrency),
		aggregator.WithLogger(log),
		aggregator.WithMetrics(m),
	)
	if err != nil {
		return fmt.Errorf("create aggregator: %w", err)
	}

	signer, err := ledger.SigningIdentity(cfg.Oracle.SignerSecret)
	if err != nil {
		return fmt.Errorf("derive signing identity: %w", err)
	}
	client, err := buildLedger(cfg, log, signer)
	if err != nil {
		return err
	}
	checks["ledger"] = func(ctx context.Context) error {
		_, err := client.AccountNonce(ctx, signer.Account())
		return err
	}
	submitter, err := settlement.New(client, signer, cfg.Oracle.VerifierIndex,
		settlement.WithFinalizationTimeout(cfg.Oracle.FinalizationTimeout),
		settlement.WithLogger(log),
		settlement.WithMetrics(m),
	)
	if err != nil {
		return fmt.Errorf("create submitter: %w", err)
	}

	store, closeStore, err := buildAuditStore(startCtx, cfg, checks)
	if err != nil {
		return err
	}
	defer closeStore()
	journal := auditpublisher.NewPublisher(store,
		auditpublisher.WithAsyncBuffer(auditBuffer),
		auditpublisher.WithLogger(log),
	)
	defer journal.Close()

	oracleOpts := []oracle.Option{
		oracle.WithAuditor(journal),
		oracle.WithLogger(log),
		oracle.WithMetrics(m),
	}
	if evidenceCache != nil {
		oracleOpts = append(oracleOpts, oracle.WithEvidenceCache(evidenceCache))
	}
	svc, err := oracle.New(agg, submitter, oracleOpts...)
	if err != nil {
		return fmt.Errorf("create oracle: %w", err)
	}

	jwtService := jwttoken.NewJWTService(cfg.Server.JWTSigningKey, jwttoken.DefaultIssuer, jwttoken.DefaultAudience)
	router := httptransport.NewRouter(httptransport.NewHandler(svc, log), httptransport.RouterConfig{
		Validator: jwttoken.NewJWTServiceAdapter(jwtService),
		Checks:    checks,
		Logger:    log,
	})

	log.Info("oracle starting",
		"verifier", signer.Account().String(),
		"verifier_index", cfg.Oracle.VerifierIndex,
		"identity_type", cfg.Oracle.IdentityType,
		"dev_ledger", cfg.Ledger.Dev,
		"kafka", len(cfg.Kafka.Brokers) > 0,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.Run(gctx, httpserver.New(cfg.Server.Addr, router), log)
	})
	if len(cfg.Kafka.Brokers) > 0 {
		kc, err := kafkaintake.NewClient(cfg.Kafka)
		if err != nil {
			return err
		}
		defer kc.Close()
		consumer, err := kafkaintake.New(kc, svc, kafkaintake.WithLogger(log))
		if err != nil {
			return err
		}
		g.Go(func() error {
			return consumer.Run(gctx)
		})
	}
	return g.Wait()
}

// buildEvidenceSource returns the gist client, behind the Redis cache when one is
// configured. The cache is nil without Redis.
func buildEvidenceSource(ctx context.Context, cfg config.Config, log *slog.Logger, m *metrics.Metrics, checks map[string]httptransport.HealthCheck) (*evidence.Fetcher, *evidencecache.RedisSource, func(), error) {
	var raw evidence.RawSource = evidence.NewGistClient(cfg.Evidence.BaseURL,
		evidence.WithToken(cfg.Evidence.Token),
		evidence.WithRateLimit(cfg.Evidence.RateLimit, cfg.Evidence.Burst),
		evidence.WithGistLogger(log),
		evidence.WithGistMetrics(m),
	)
	closeFn := func() {}
	var cache *evidencecache.RedisSource

	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	if rc != nil {
		cached, err := evidencecache.New(rc.Client, raw,
			evidencecache.WithTTL(cfg.Evidence.CacheTTL),
			evidencecache.WithLogger(log),
			evidencecache.WithMetrics(m),
		)
		if err != nil {
			_ = rc.Close()
			return nil, nil, nil, fmt.Errorf("create evidence cache: %w", err)
		}
		cache = cached
		raw = cached
		checks["redis"] = rc.Health
		closeFn = func() { _ = rc.Close() }
	}

	fetcher, err := evidence.NewFetcher(raw,
		evidence.WithTimeout(cfg.Evidence.Timeout),
		evidence.WithExpectedDescription(cfg.Evidence.Description),
		evidence.WithLogger(log),
		evidence.WithMetrics(m),
	)
	if err != nil {
		closeFn()
		return nil, nil, nil, fmt.Errorf("create evidence fetcher: %w", err)
	}
	return fetcher, cache, closeFn, nil
}

func buildLedger(cfg config.Config, log *slog.Logger, signer *ledger.KeyPair) (ledger.Client, error) {
	if cfg.Ledger.Dev {
		log.Warn("using in-process ledger; settlements are not durable")
		return memory.New(memory.WithVerifier(cfg.Oracle.VerifierIndex, signer.Account())), nil
	}
	client, err := rpc.New(cfg.Ledger.Endpoint,
		rpc.WithPollInterval(cfg.Ledger.PollInterval),
		rpc.WithLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("create ledger client: %w", err)
	}
	return client, nil
}

// buildAuditStore opens the Postgres journal when a DSN is set, else keeps it in memory.
func buildAuditStore(ctx context.Context, cfg config.Config, checks map[string]httptransport.HealthCheck) (audit.Store, func(), error) {
	if cfg.Postgres.DSN == "" {
		return auditmemory.NewInMemoryStore(), func() {}, nil
	}
	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	store := auditpostgres.New(db)
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("migrate audit journal: %w", err)
	}
	checks["postgres"] = db.PingContext
	return store, func() { _ = db.Close() }, nil
}
