package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/rasulAbacco/abacco-marketing-sub000/internal/config"
	"github.com/rasulAbacco/abacco-marketing-sub000/internal/core"
	dbpkg "github.com/rasulAbacco/abacco-marketing-sub000/internal/db"
	"github.com/rasulAbacco/abacco-marketing-sub000/internal/engine"
	httpapi "github.com/rasulAbacco/abacco-marketing-sub000/internal/http"
	"github.com/rasulAbacco/abacco-marketing-sub000/internal/locks"
	"github.com/rasulAbacco/abacco-marketing-sub000/internal/mail"
	"github.com/rasulAbacco/abacco-marketing-sub000/internal/metrics"
)

func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	rootCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// ---- DB ----
	pool, err := pgxpool.New(rootCtx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db pool: %v", err)
	}
	defer pool.Close()
	if err := pool.Ping(rootCtx); err != nil {
		log.Fatalf("db ping: %v", err)
	}
	if err := dbpkg.Migrate(rootCtx, pool); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	store := &core.Store{DB: pool}

	poolStats := metrics.NewPGXPoolStats(pool)
	go poolStats.Start(15*time.Second, rootCtx.Done())

	// ---- Lock tracker ----
	trackerOpts := []locks.Option{locks.WithCacheTTL(cfg.LockCacheTTL)}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(rootCtx).Err(); err != nil {
			log.Fatalf("redis ping: %v", err)
		}
		defer rdb.Close()
		trackerOpts = append(trackerOpts, locks.WithRedis(rdb))
	}
	tracker := locks.New(store, logger, trackerOpts...)

	// ---- Transport ----
	var transport mail.Transport
	if cfg.DummyTransport {
		transport = mail.NewDummy()
		logger.Warn("using dummy transport, no email leaves this process")
	} else {
		transport = mail.NewSMTPTransport(mail.SMTPConfig{
			Host:          cfg.SMTPHost,
			Port:          cfg.SMTPPort,
			Username:      cfg.SMTPUsername,
			Password:      cfg.SMTPPassword,
			HelloHostname: cfg.SMTPHello,
		}, logger)
	}

	// ---- Engine ----
	disp := engine.NewDispatcher(store, transport, tracker, nil, logger, engine.DispatcherOptions{
		SendTimeout:    cfg.SendTimeout,
		StatusCacheTTL: cfg.StatusCacheTTL,
		TransportQPS:   cfg.TransportQPS,
		TransportBurst: cfg.TransportBurst,
	})
	eng := engine.New(store, disp, logger, engine.Options{TickInterval: cfg.TickInterval})
	if err := eng.Start(rootCtx); err != nil {
		log.Fatalf("engine start: %v", err)
	}

	// ---- HTTP server ----
	srv := httpapi.NewServer(store, tracker, eng)
	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("http listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	<-rootCtx.Done()

	// ---- Graceful shutdown: drain HTTP, then join dispatch tasks ----
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
	if err := eng.Stop(shutdownCtx); err != nil {
		logger.Warn("engine tasks did not drain before deadline", "error", err)
	}
}
