// Command replicad hosts the collaborative-document replica: it wires the
// environment configuration, PostgreSQL persistence, Redis broadcast, and
// the gorilla/mux HTTP surface around the internal/replica Controller —
// the same shape as the teacher's main.go, generalized from a single
// hardcoded "test-doc" websocket relay to the full per-document RGA
// engine.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/collabtext/replica/internal/collab"
	"github.com/collabtext/replica/internal/config"
	"github.com/collabtext/replica/internal/httpapi"
	"github.com/collabtext/replica/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := telemetry.NewLogger(cfg.LogLevel)
	registry := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(registry)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbpool, err := pgxpool.New(ctx, cfg.DBURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("unable to connect to database")
	}
	defer dbpool.Close()
	logger.Info().Msg("connected to PostgreSQL")

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("unable to connect to redis")
	}
	defer rdb.Close()
	logger.Info().Msg("connected to Redis")

	persistence := collab.NewPostgres(dbpool, cfg.PersistenceTimeout)
	broadcaster := collab.NewRedisBroadcaster(rdb, cfg.BroadcastTopicFormat, logger)

	hub := httpapi.NewHub()
	reg := httpapi.NewRegistry(persistence, broadcaster, logger, metrics, hub, cfg.ReplicaSID, cfg.SnapshotIntervalOps)
	server := httpapi.NewServer(reg, hub, logger)

	mux := server.Router()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("replica listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	anchorTicker := time.NewTicker(cfg.AnchorGracePeriod / 2)
	go func() {
		for {
			select {
			case <-anchorTicker.C:
				reg.CheckStalledAnchors(cfg.AnchorGracePeriod)
			case <-ctx.Done():
				return
			}
		}
	}()

	<-ctx.Done()
	anchorTicker.Stop()
	logger.Info().Msg("shutting down, draining in-flight persistence and broadcast work")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	reg.WaitAll()
	reg.CloseAll(shutdownCtx)
}
