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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"didvault/internal/bootstrap"
	"didvault/internal/evidence/vc/service"
	"didvault/internal/evidence/vc/store"
	"didvault/internal/network/guard"
	"didvault/internal/notify"
	"didvault/internal/platform/config"
	"didvault/internal/platform/httpserver"
	platformkafka "didvault/internal/platform/kafka"
	"didvault/internal/platform/logger"
	"didvault/internal/platform/metrics"
	"didvault/internal/platform/postgres"
	platformredis "didvault/internal/platform/redis"
	"didvault/internal/ratelimit"
	httptransport "didvault/internal/transport/http"
	"didvault/internal/vault"
	"didvault/internal/wallet"
	audit "didvault/pkg/platform/audit"
	"didvault/pkg/platform/audit/consumer"
	"didvault/pkg/platform/audit/publisher"
	auditkafka "didvault/pkg/platform/audit/store/kafka"
	auditmemory "didvault/pkg/platform/audit/store/memory"
	auditpg "didvault/pkg/platform/audit/store/postgres"
	"didvault/pkg/platform/middleware/auth"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("didvault stopped", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	rdb, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	provider, err := bootstrap.OpenProvider(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open wallet provider: %w", err)
	}
	defer provider.Close()

	session := wallet.New(provider.Provider,
		wallet.WithLogger(log),
		wallet.WithMetrics(m),
		wallet.WithTimeout(cfg.ProviderTimeout),
	)

	anchors, err := bootstrap.OpenRegistry(ctx, cfg, rdb, log, m)
	if err != nil {
		return fmt.Errorf("open anchor registry: %w", err)
	}

	credentials, auditEvents, err := openStores(ctx, db)
	if err != nil {
		return err
	}

	auditStore, auditSink, closeAudit, err := openAuditStore(ctx, cfg, auditEvents, log)
	if err != nil {
		return err
	}
	defer closeAudit()
	sampler := publisher.NewSampler(cfg.AuditSampleRate)
	sampler.SetRate(string(audit.EventCredentialVerified), cfg.AuditVerifySampleRate)
	auditor := publisher.NewPublisher(auditStore,
		publisher.WithSampler(sampler),
		publisher.WithAsyncBuffer(cfg.AuditBuffer),
		publisher.WithLogger(log),
		publisher.WithMetrics(publisher.NewMetrics(reg)),
		publisher.WithCircuitBreaker(5, 30*time.Second),
	)
	defer auditor.Close()

	issuerOpts := []service.IssuerOption{
		service.WithStore(credentials),
		service.WithAudit(auditor),
		service.WithIssuerLogger(log),
		service.WithIssuerMetrics(m),
	}
	verifierOpts := []service.VerifierOption{
		service.WithVerifierAudit(auditor),
		service.WithVerifierLogger(log),
		service.WithVerifierMetrics(m),
	}
	if anchors.Registry != nil {
		issuerOpts = append(issuerOpts, service.WithRegistry(anchors.Registry))
		verifierOpts = append(verifierOpts, service.WithAnchorRegistry(anchors.Registry))
	}

	notices := notify.New(notify.WithTTL(cfg.NotifyTTL), notify.WithLogger(log))
	defer notices.Close()

	v := vault.New(
		session,
		guard.New(session, guard.WithLogger(log), guard.WithTimeout(cfg.ProviderTimeout)),
		cfg.NetworkDescriptor(),
		service.NewIssuer(session, issuerOpts...),
		service.NewVerifier(verifierOpts...),
		vault.WithLogger(log),
		vault.WithAudit(auditor),
		vault.WithNotifications(notices),
	)

	var limitStore ratelimit.Store = ratelimit.NewInMemoryStore()
	if rdb != nil {
		limitStore = ratelimit.NewRedisStore(rdb.Client)
	}
	limiter := ratelimit.New(limitStore, log,
		ratelimit.WithMetrics(m),
		ratelimit.WithDisabled(cfg.RateLimitDisabled),
	)

	handlerOpts := []httptransport.Option{
		httptransport.WithMetrics(m),
		httptransport.WithRateLimiter(limiter),
		httptransport.WithMaxBody(service.MaxDocumentSize),
	}
	if validator := auth.NewHMACValidator(cfg.APIJWTSecret, auth.TokenIssuer, auth.TokenAudience); validator != nil {
		handlerOpts = append(handlerOpts, httptransport.WithJWTValidator(validator))
	} else {
		log.Warn("API_JWT_SECRET not set, API authentication disabled")
	}
	handler := httptransport.New(v, credentials, log, handlerOpts...)
	srv := httpserver.New(cfg.Addr, httptransport.NewRouter(handler, reg, log))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := session.Run(gctx); err != nil {
			log.Warn("wallet event stream ended", "error", err)
		}
		return nil
	})
	g.Go(func() error { return v.Run(gctx) })
	if provider.Watch != nil {
		g.Go(func() error {
			if err := provider.Watch(gctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Warn("wallet watcher stopped", "error", err)
			}
			return nil
		})
	}
	if anchors.Cache != nil {
		g.Go(func() error { return anchors.Cache.Run(gctx) })
	}
	if auditSink != nil {
		g.Go(func() error { return runAuditConsumer(gctx, cfg, auditSink, log) })
	}
	g.Go(func() error {
		log.Info("starting didvault", "addr", cfg.Addr, "network", cfg.NetworkDescriptor().ChainName,
			"provider", cfg.ProviderKind, "registry", cfg.RegistryKind)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

type credentialStore interface {
	service.Store
	httptransport.Credentials
}

// openStores returns the credential store and, with a database, the Postgres
// audit store. Both schemas migrate in one transaction.
func openStores(ctx context.Context, db *sql.DB) (credentialStore, *auditpg.Store, error) {
	if db == nil {
		return store.NewInMemoryStore(), nil, nil
	}
	credentials := store.NewPostgres(db)
	events := auditpg.New(db)
	if err := postgres.Migrate(ctx, db, credentials, events); err != nil {
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return credentials, events, nil
}

// openAuditStore picks where the publisher writes. With Kafka configured the
// publisher produces to topics and, if Postgres is present, the returned sink
// is fed by the consumer. Otherwise events go straight to Postgres or memory.
func openAuditStore(ctx context.Context, cfg config.Config, pg *auditpg.Store, log *slog.Logger) (audit.Store, consumer.Appender, func(), error) {
	client, err := platformkafka.NewProducer(cfg.Kafka.Brokers, "didvault")
	if err != nil {
		return nil, nil, nil, err
	}
	if client == nil {
		if pg != nil {
			return pg, nil, func() {}, nil
		}
		return auditmemory.NewInMemoryStore(), nil, func() {}, nil
	}

	ks := auditkafka.New(client, auditkafka.WithTopicPrefix(cfg.Kafka.AuditTopic), auditkafka.WithLogger(log))
	if err := ks.EnsureTopics(ctx, 3, 1); err != nil {
		log.Warn("audit topics not ensured", "error", err)
	}
	if pg == nil {
		return ks, nil, client.Close, nil
	}
	return ks, pg, client.Close, nil
}

func runAuditConsumer(ctx context.Context, cfg config.Config, sink consumer.Appender, log *slog.Logger) error {
	topics := auditkafka.Topics(cfg.Kafka.AuditTopic)
	client, err := consumer.NewClient(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, topics...)
	if err != nil {
		return err
	}
	defer client.Close()

	handler := consumer.NewEventHandler(sink, log)
	router := consumer.NewRouter(log, nil)
	for _, topic := range topics {
		router.Register(topic, handler)
	}
	log.Info("audit consumer started", "topics", topics, "group", cfg.Kafka.ConsumerGroup)
	return consumer.New(client, router, log).Run(ctx)
}
