package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"golang.org/x/sync/errgroup"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/auth"
	"live-quiz-service/internal/authz"
	"live-quiz-service/internal/broadcast"
	"live-quiz-service/internal/config"
	"live-quiz-service/internal/infra/memory"
	"live-quiz-service/internal/infra/postgres"
	redisinfra "live-quiz-service/internal/infra/redis"
	"live-quiz-service/internal/telemetry"
	transport "live-quiz-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

// infra holds the connections opened for the configured backends. Nil
// fields are backends that are not in use.
type infra struct {
	redis redis.UniversalClient
	pool  *pgxpool.Pool
	db    *bun.DB

	directory app.Directory
	loader    memory.QuizLoader
}

func openInfra(ctx context.Context, cfg config.Config) (*infra, error) {
	in := &infra{}

	if cfg.Redis.Addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.Redis.Addr},
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		telemetry.MonitorRedis(client)
		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		in.redis = client
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			in.close()
			return nil, err
		}
		in.db = postgres.OpenBun(cfg.Postgres.URL)
	}
	if err := in.openDirectory(ctx, cfg); err != nil {
		in.close()
		return nil, err
	}
	return in, nil
}

// openDirectory connects only what user and quiz lookups need.
func (in *infra) openDirectory(ctx context.Context, cfg config.Config) error {
	if cfg.Postgres.URL == "" {
		slog.Warn("postgres not configured, serving sample directory and quizzes")
		in.directory, in.loader = memory.SampleData()
		return nil
	}
	pool, err := postgres.Connect(ctx, cfg.Postgres.URL)
	if err != nil {
		return err
	}
	in.pool = pool
	in.directory = postgres.NewDirectory(pool)
	in.loader = postgres.NewQuizLoader(pool)
	return nil
}

func (in *infra) close() {
	if in.db != nil {
		_ = in.db.Close()
	}
	if in.pool != nil {
		in.pool.Close()
	}
	if in.redis != nil {
		_ = in.redis.Close()
	}
}

func (in *infra) quizRepository(cfg config.Config) app.QuizRepository {
	ttl := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	if in.redis != nil {
		return redisinfra.NewQuizRepository(in.redis, in.loader, cfg.Redis.Prefix, ttl)
	}
	return memory.NewQuizRepository(in.loader, ttl)
}

func (in *infra) sessionRepository(cfg config.Config) app.SessionRepository {
	switch cfg.Store.Backend {
	case config.BackendRedis:
		return redisinfra.NewSessionRepository(in.redis, cfg.Redis.Prefix, config.TTLDuration(cfg.Redis.TTL, 6*time.Hour))
	case config.BackendPostgres:
		return postgres.NewSessionRepository(in.db)
	default:
		return memory.NewSessionRepository()
	}
}

func (in *infra) broker(ctx context.Context, cfg config.Config, metrics *telemetry.Metrics) (broadcast.Broker, error) {
	opts := []broadcast.LocalOption{broadcast.WithEvictHook(metrics.SubscriberEvicted)}
	if cfg.Broker.Buffer > 0 {
		opts = append(opts, broadcast.WithBuffer(cfg.Broker.Buffer))
	}
	local := broadcast.NewLocalBroker(opts...)
	if cfg.Broker.Backend != config.BackendRedis {
		return local, nil
	}
	b, err := redisinfra.NewBroker(ctx, in.redis, cfg.Redis.Prefix, local)
	if err != nil {
		_ = local.Close()
		return nil, fmt.Errorf("redis broker: %w", err)
	}
	return b, nil
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel()})))

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	in, err := openInfra(ctx, cfg)
	if err != nil {
		return err
	}
	defer in.close()

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)
	broker, err := in.broker(ctx, cfg, metrics)
	if err != nil {
		return err
	}
	defer broker.Close()

	quizzes := in.quizRepository(cfg)
	store := app.NewSessionStore(in.sessionRepository(cfg))
	engine := app.NewEngine(store, quizzes, broadcast.NewPublisher(broker))
	service := app.NewService(engine, store, quizzes, in.directory, authz.NewPolicy(in.directory), metrics.ObserveAction)

	server := &http.Server{
		Addr: ":" + finalPort,
		Handler: transport.NewRouter(transport.Config{
			Service: service,
			Broker:  broker,
			Tokens:  auth.NewTokens(cfg.Auth.Secret, config.TTLDuration(cfg.Auth.TokenTTL, 12*time.Hour)),
			Metrics: metrics,
		}),
		ReadHeaderTimeout: 15 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		slog.Info("starting quiz service",
			"port", finalPort,
			"store", cfg.Store.Backend,
			"broker", cfg.Broker.Backend,
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := eg.Wait(); err != nil {
		slog.Error("server stopped with error", "error", err)
		return err
	}
	slog.Info("shutdown completed")
	return nil
}
