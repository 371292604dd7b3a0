package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"quorum/internal/iam"
	"quorum/internal/platform/config"
	"quorum/internal/platform/httpserver"
	"quorum/internal/platform/logger"
	platformmetrics "quorum/internal/platform/metrics"
	"quorum/internal/platform/redis"
	ruleshandler "quorum/internal/rules/handler"
	rulesmetrics "quorum/internal/rules/metrics"
	"quorum/internal/rules/service"
	"quorum/internal/rules/store"
	"quorum/internal/rules/store/memory"
	pgstore "quorum/internal/rules/store/postgres"
	redisstore "quorum/internal/rules/store/redis"
	usershandler "quorum/internal/users/handler"
	"quorum/pkg/platform/audit"
	"quorum/pkg/platform/audit/outbox"
	"quorum/pkg/platform/audit/publisher"
	auditmemory "quorum/pkg/platform/audit/store/memory"
	auditpg "quorum/pkg/platform/audit/store/postgres"
	"quorum/pkg/platform/httputil"
	"quorum/pkg/platform/middleware/admin"
	"quorum/pkg/platform/middleware/auth"
	"quorum/pkg/platform/middleware/metadata"
	"quorum/pkg/platform/middleware/request"
)

const (
	shutdownTimeout = 10 * time.Second
	requestTimeout  = 30 * time.Second
	auditPartitions = 3
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("quorum stopped", "error", err)
		os.Exit(1)
	}
}

type healthCheck func(context.Context) error

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()
	checks := map[string]healthCheck{}

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		var err error
		if db, err = openDB(ctx, cfg.DatabaseURL); err != nil {
			return err
		}
		closers = append(closers, func() { _ = db.Close() })
		checks["postgres"] = db.PingContext
	}

	st, err := openStore(ctx, cfg, db, log, checks, &closers)
	if err != nil {
		return err
	}

	auditStore, err := openAuditStore(ctx, db)
	if err != nil {
		return err
	}
	auditPublisher := publisher.NewPublisher(auditStore, publisher.WithLogger(log))
	closers = append(closers, auditPublisher.Close)

	iamClient, err := iam.New(iam.Config{
		BaseURL:      cfg.IAM.URL,
		Realm:        cfg.IAM.Realm,
		ClientID:     cfg.IAM.ClientID,
		Timeout:      cfg.IAM.Timeout,
		ServiceToken: cfg.IAM.ServiceToken,
	}, iam.WithLogger(log))
	if err != nil {
		return err
	}
	closers = append(closers, iamClient.Close)

	verifier, err := iam.NewVerifier(iam.VerifierConfig{
		Issuer:       iamClient.Issuer(),
		PublicKeyPEM: cfg.IAM.TokenPublicKey,
		Secret:       cfg.IAM.TokenSecret,
	})
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rulesMetrics := rulesmetrics.NewWithRegistry(reg)
	httpMetrics := platformmetrics.New(reg)
	tracer := otel.Tracer("quorum/rules")

	workflow := service.NewWorkflow(st, iamClient, iamClient,
		service.WithLogger(log),
		service.WithMetrics(rulesMetrics),
		service.WithAuditPublisher(auditPublisher),
		service.WithTracer(tracer),
		service.WithDraftTTL(cfg.DraftTTL),
		service.WithRuleSource(iamClient),
	)
	evaluator := service.NewEvaluator(st,
		service.WithEvaluatorLogger(log),
		service.WithEvaluatorMetrics(rulesMetrics),
		service.WithEvaluatorAuditPublisher(auditPublisher),
		service.WithEvaluatorTracer(tracer),
	)

	// A realm that cannot be read at startup only delays seeding; the store
	// stays usable and the next restart retries.
	if err := workflow.Bootstrap(ctx); err != nil {
		log.WarnContext(ctx, "rule store bootstrap failed", "error", err)
	}

	authenticate := auth.RequireAuth(verifier, log)
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(request.RequestID)
	r.Use(request.RequestTime)
	r.Use(metadata.ClientMetadata)
	r.Use(httpMetrics.Middleware)

	r.Get("/healthz", healthHandler(checks))
	r.Handle("/metrics", httpMetrics.Handler())
	if cfg.AdminToken != "" {
		r.With(admin.RequireAdminToken(cfg.AdminToken, log)).Post("/ops/bootstrap", bootstrapHandler(workflow, log))
	}

	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(requestTimeout))
		ruleshandler.New(workflow, evaluator, log, authenticate).Register(r)
		usershandler.New(iamClient, log, authenticate, auth.RequireAnyRole(log, iam.AdminRole)).Register(r)
	})

	srv := httpserver.New(cfg.Addr, r)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.InfoContext(gctx, "starting quorum", "addr", cfg.Addr, "store", cfg.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})
	if cfg.Kafka.Enabled() {
		relay, closeRelay, err := newRelay(gctx, cfg, log)
		if err != nil {
			return err
		}
		closers = append(closers, closeRelay)
		g.Go(func() error {
			if err := relay.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("audit relay: %w", err)
			}
			return nil
		})
	}
	return g.Wait()
}

func openDB(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

func openStore(ctx context.Context, cfg config.Server, db *sql.DB, log *slog.Logger, checks map[string]healthCheck, closers *[]func()) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.StorePostgres:
		s := pgstore.New(db)
		if err := s.Migrate(ctx); err != nil {
			return nil, err
		}
		return s, nil
	case config.StoreRedis:
		client, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, func() { _ = client.Close() })
		checks["redis"] = client.Health
		return redisstore.New(client.Client), nil
	default:
		log.WarnContext(ctx, "using in-memory rule store; rules are lost on restart")
		return memory.New(memory.WithTxTimeout(cfg.TxTimeout)), nil
	}
}

// openAuditStore writes audit events to the outbox when Postgres is
// configured, and keeps them in memory otherwise.
func openAuditStore(ctx context.Context, db *sql.DB) (audit.Store, error) {
	if db == nil {
		return auditmemory.NewInMemoryStore(), nil
	}
	s := auditpg.New(db)
	if err := s.Migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func newRelay(ctx context.Context, cfg config.Server, log *slog.Logger) (*outbox.Relay, func(), error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open outbox pool: %w", err)
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Kafka.Brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("kafka client: %w", err)
	}
	if err := outbox.EnsureTopic(ctx, client, cfg.Kafka.AuditTopic, auditPartitions, 1); err != nil {
		log.WarnContext(ctx, "audit topic not ensured", "topic", cfg.Kafka.AuditTopic, "error", err)
	}
	closeFn := func() {
		client.Close()
		pool.Close()
	}
	return outbox.New(pool, client, cfg.Kafka.AuditTopic, outbox.WithLogger(log)), closeFn, nil
}

func healthHandler(checks map[string]healthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status := map[string]string{}
		code := http.StatusOK
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status[name] = err.Error()
				code = http.StatusServiceUnavailable
				continue
			}
			status[name] = "ok"
		}
		httputil.WriteJSON(w, code, map[string]any{"status": http.StatusText(code), "checks": status})
	}
}

// bootstrapHandler re-runs the realm seed, for stores created before the
// realm had rules.
func bootstrapHandler(workflow *service.Workflow, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := workflow.Bootstrap(r.Context()); err != nil {
			log.ErrorContext(r.Context(), "bootstrap failed", "error", err)
			httputil.WriteError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
