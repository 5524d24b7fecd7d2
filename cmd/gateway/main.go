package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/npezzotti/chat-gateway/internal/api"
	"github.com/npezzotti/chat-gateway/internal/backplane"
	"github.com/npezzotti/chat-gateway/internal/config"
	"github.com/npezzotti/chat-gateway/internal/database"
	"github.com/npezzotti/chat-gateway/internal/identity"
	"github.com/npezzotti/chat-gateway/internal/logger"
	"github.com/npezzotti/chat-gateway/internal/server"
	"github.com/npezzotti/chat-gateway/internal/stats"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr           string
	dsn            string
	store          string
	signingKey     string
	relayKeyHash   string
	backplaneKind  string
	backplaneAddr  string
	presenceGrace  time.Duration
	typingTTL      time.Duration
	pongWait       time.Duration
	logLevel       string
	allowedOrigins stringSliceFlag
)

func main() {
	flag.StringVar(&addr, "addr", "localhost:8000", "server address")
	flag.StringVar(&dsn, "dsn", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable", "message store connection string")
	flag.StringVar(&store, "store", config.StorePostgres, "message store: postgres or mongo")
	flag.StringVar(&signingKey, "signing-key", os.Getenv("GATEWAY_SIGNING_KEY"), "base64 encoded token signing key")
	flag.StringVar(&relayKeyHash, "relay-key-hash", os.Getenv("GATEWAY_RELAY_KEY_HASH"), "bcrypt hash of the relay ingress key")
	flag.StringVar(&backplaneKind, "backplane", config.BackplaneNone, "backplane between gateway nodes: none, redis or nats")
	flag.StringVar(&backplaneAddr, "backplane-addr", "", "backplane broker address")
	flag.DurationVar(&presenceGrace, "presence-grace", config.DefaultPresenceGrace, "delay before an identity without connections is announced offline")
	flag.DurationVar(&typingTTL, "typing-ttl", config.DefaultTypingTTL, "how long a typing indicator lasts without a refresh")
	flag.DurationVar(&pongWait, "pong-wait", config.DefaultPongWait, "time allowed between frames from a client")
	flag.StringVar(&logLevel, "log-level", "info", "log level")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	cfg, err := config.NewConfig(addr, dsn, signingKey, allowedOrigins,
		config.WithStore(store),
		config.WithRelayKeyHash(relayKeyHash),
		config.WithBackplane(backplaneKind, backplaneAddr),
		config.WithPresenceGrace(presenceGrace),
		config.WithTypingTTL(typingTTL),
		config.WithPongWait(pongWait),
		config.WithLogLevel(logLevel),
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel, "chat-gateway")
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("gateway exited", zap.Error(err))
	}
	log.Info("shutdown complete")
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("store close", zap.Error(err))
		}
	}()

	bp, err := openBackplane(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := bp.Close(); err != nil {
			log.Error("backplane close", zap.Error(err))
		}
	}()

	mux := http.NewServeMux()
	statsUpdater := stats.NewStatsUpdater(mux)

	gw := server.NewGateway(log, statsUpdater, bp,
		server.WithPresenceGrace(cfg.PresenceGrace),
		server.WithTypingTTL(cfg.TypingTTL),
		server.WithPongWait(cfg.PongWait),
	)

	app := api.NewGatewayApp(mux, log, gw, db, identity.NewJWTVerifier(cfg.SigningKey), cfg)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return gw.Run(gctx)
	})
	g.Go(func() error {
		if err := app.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down gateway")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := app.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := gw.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("gateway shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config) (database.Repository, error) {
	switch cfg.StoreKind {
	case config.StoreMongo:
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return database.NewMongoRepository(connectCtx, cfg.DatabaseDSN)
	default:
		return database.NewPgRepository(cfg.DatabaseDSN)
	}
}

func openBackplane(ctx context.Context, cfg *config.Config, log *zap.Logger) (backplane.Backplane, error) {
	switch cfg.BackplaneKind {
	case config.BackplaneRedis:
		return backplane.NewRedis(ctx, cfg.BackplaneAddr, log)
	case config.BackplaneNats:
		return backplane.NewNATS(ctx, cfg.BackplaneAddr, "chat-gateway", log)
	default:
		return backplane.NewLocal(), nil
	}
}
