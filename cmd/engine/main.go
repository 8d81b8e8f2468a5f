// Headless engine runner: scheduler, resume and dispatch without the public
// API. Useful when the API tier and the sending tier scale separately; note
// the lock check is advisory across instances unless Redis is configured.
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
	"github.com/rasulAbacco/abacco-marketing-sub000/internal/locks"
	"github.com/rasulAbacco/abacco-marketing-sub000/internal/mail"
)

func main() {
	var exitCode int
	defer func() { os.Exit(exitCode) }()

	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	rootCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pool, err := pgxpool.New(rootCtx, cfg.DatabaseURL)
	if err != nil {
		log.Printf("db pool: %v", err)
		exitCode = 1
		return
	}
	defer pool.Close()
	if err := pool.Ping(rootCtx); err != nil {
		log.Printf("db ping: %v", err)
		exitCode = 1
		return
	}
	if err := dbpkg.Migrate(rootCtx, pool); err != nil {
		log.Printf("migrate: %v", err)
		exitCode = 1
		return
	}

	store := &core.Store{DB: pool}

	trackerOpts := []locks.Option{locks.WithCacheTTL(cfg.LockCacheTTL)}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(rootCtx).Err(); err != nil {
			log.Printf("redis ping: %v", err)
			exitCode = 1
			return
		}
		defer rdb.Close()
		trackerOpts = append(trackerOpts, locks.WithRedis(rdb))
	}
	tracker := locks.New(store, logger, trackerOpts...)

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

	disp := engine.NewDispatcher(store, transport, tracker, nil, logger, engine.DispatcherOptions{
		SendTimeout:    cfg.SendTimeout,
		StatusCacheTTL: cfg.StatusCacheTTL,
		TransportQPS:   cfg.TransportQPS,
		TransportBurst: cfg.TransportBurst,
	})
	eng := engine.New(store, disp, logger, engine.Options{TickInterval: cfg.TickInterval})
	if err := eng.Start(rootCtx); err != nil {
		log.Printf("engine start: %v", err)
		exitCode = 1
		return
	}

	go serveHealthz()

	<-rootCtx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := eng.Stop(shutdownCtx); err != nil {
		logger.Warn("engine tasks did not drain before deadline", "error", err)
	}
}

func serveHealthz() {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	addr := os.Getenv("HEALTH_ADDR")
	if addr == "" {
		addr = "0.0.0.0:9090"
	}
	_ = http.ListenAndServe(addr, mux)
}
