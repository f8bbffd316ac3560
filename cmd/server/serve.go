package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/vedran77/pulsechat/internal/config"
	"github.com/vedran77/pulsechat/internal/database"
	"github.com/vedran77/pulsechat/internal/events"
	"github.com/vedran77/pulsechat/internal/media"
	"github.com/vedran77/pulsechat/internal/metrics"
	postgresrepo "github.com/vedran77/pulsechat/internal/repository/postgres"
	"github.com/vedran77/pulsechat/internal/service"
	"github.com/vedran77/pulsechat/internal/telemetry"
	httptransport "github.com/vedran77/pulsechat/internal/transport/http"
	"github.com/vedran77/pulsechat/internal/transport/http/handlers"
	"github.com/vedran77/pulsechat/internal/transport/ws"
	"github.com/vedran77/pulsechat/pkg/logger"
	"golang.org/x/sync/errgroup"
)

var autoMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the realtime channel",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&autoMigrate, "migrate", false, "apply pending migrations before serving")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := initLogger(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: cfg.Logging.Service,
		Version:     cfg.Logging.Version,
		Env:         cfg.Logging.Env,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return err
	}
	defer func() {
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(c)
	}()

	pool, err := database.Connect(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer pool.Close()
	log.Info("connected to database", slog.String("host", cfg.Postgres.Host))

	if autoMigrate {
		if err := database.Migrate(ctx, pool); err != nil {
			return err
		}
	}

	m := metrics.New()

	broker, closeBroker, err := newBroker(ctx, cfg.Redis, log)
	if err != nil {
		return err
	}
	defer closeBroker()

	hub := ws.NewHub(ws.Config{
		SendBuffer:     cfg.Realtime.SendBuffer,
		MaxMessageSize: cfg.Realtime.MaxMessageSize,
		PingInterval:   cfg.Realtime.PingInterval,
		TypingRate:     cfg.Realtime.TypingRate,
		TypingBurst:    cfg.Realtime.TypingBurst,
	}, ws.NewRooms(), broker, m, log)

	notifier := service.MultiNotifier{ws.NewHubNotifier(hub)}
	if len(cfg.Kafka.Brokers) > 0 {
		writer := events.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic, m, log)
		defer writer.Close()
		notifier = append(notifier, events.NewKafkaPublisher(writer, m, log))
		log.Info("publishing lifecycle events", slog.String("topic", cfg.Kafka.Topic))
	}

	messageService := service.NewMessageService(
		postgresrepo.NewMessageRepo(pool),
		postgresrepo.NewUserRepo(pool),
		cfg.Messaging.EditWindow,
	)
	messageService.SetNotifier(notifier)

	sessions := service.NewSessionService(cfg.Auth.JWTSecret, cfg.Auth.Issuer)

	mediaHandler, err := newMediaHandler(ctx, cfg.Media, m)
	if err != nil {
		return err
	}

	router := httptransport.NewRouter(httptransport.Deps{
		Messages:       handlers.NewMessageHandler(messageService),
		Media:          mediaHandler,
		Realtime:       ws.ServeWS(hub, sessions, originPatterns(cfg.Server.AllowedOrigins)),
		Auth:           sessions,
		Metrics:        m,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Health:         healthCheck(pool),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error {
		log.Info("starting server", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	err = g.Wait()
	log.Info("server stopped")
	return err
}

func initLogger(cfg *config.Config) *slog.Logger {
	if cfg.Logging.Version == "" {
		cfg.Logging.Version = version
	}
	return logger.Init(logger.Config{
		Service:   cfg.Logging.Service,
		Version:   cfg.Logging.Version,
		Env:       logger.ParseEnv(cfg.Logging.Env),
		Backend:   logger.Backend(cfg.Logging.Backend),
		Level:     logger.ParseLevel(cfg.Logging.Level),
		AddSource: cfg.Logging.AddSource,
		Debug:     cfg.Logging.Debug,
		Sampling:  logger.Sampling(cfg.Logging.Sampling),
	})
}

// newBroker picks Redis fan-out when configured so several instances can
// share rooms, and the in-process broker otherwise.
func newBroker(ctx context.Context, cfg config.Redis, log *slog.Logger) (ws.Broker, func(), error) {
	if cfg.URL == "" {
		return ws.NewLocalBroker(0), func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		opts = &redis.Options{Addr: cfg.URL}
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("connecting to redis: %w", err)
	}
	log.Info("room fan-out via redis", slog.String("addr", opts.Addr))
	return ws.NewRedisBroker(rdb, log), func() { rdb.Close() }, nil
}

func newMediaHandler(ctx context.Context, cfg config.Media, m *metrics.Metrics) (*handlers.MediaHandler, error) {
	if cfg.Endpoint == "" {
		return nil, nil
	}
	store, err := media.NewStore(media.Config{
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		Bucket:    cfg.Bucket,
		UseSSL:    cfg.UseSSL,
		PublicURL: cfg.PublicURL,
	})
	if err != nil {
		return nil, err
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("media bucket: %w", err)
	}
	return handlers.NewMediaHandler(store, cfg.MaxUploadBytes, m), nil
}

func healthCheck(pool *pgxpool.Pool) func(context.Context) error {
	return func(ctx context.Context) error {
		return pool.Ping(ctx)
	}
}

// originPatterns turns CORS origins into the host patterns the websocket
// handshake checks.
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if o == "*" {
			out = append(out, "*")
			continue
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
		}
	}
	return out
}
