// cmd/server/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-co-op/gocron/v2"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"squadlink/internal/auth"
	"squadlink/internal/cache"
	"squadlink/internal/config"
	"squadlink/internal/gamelink"
	"squadlink/internal/handlers"
	"squadlink/internal/middleware"
	"squadlink/internal/notify"
	"squadlink/internal/ranking"
	"squadlink/internal/session"
	"squadlink/internal/store"
	"squadlink/internal/sweeper"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	auth.Init()

	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	var st store.Store
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgres(context.Background(), cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		defer pg.Close()
		st = pg
	} else {
		logger.Warn("DATABASE_URL not set; using the in-memory store (data is lost on restart)")
		st = store.NewMemory()
	}

	var respCache *cache.ResponseCache
	if cfg.RedisAddr != "" {
		respCache, err = cache.Connect(cfg.RedisAddr, cfg.RedisDB, cfg.CacheTTL)
		if err != nil {
			logger.WithError(err).Warn("redis unavailable; running without the response cache")
			respCache = nil
		}
	}

	hub := session.NewHub()
	resolver := gamelink.New(cfg.ResolverTimeout, cfg.ResolverRetries)
	sessions := session.NewManager(st, resolver, notify.LogNotifier{}, hub)
	engine := ranking.NewEngine(st, hub, ranking.Options{
		SubmitCooldown: cfg.SubmitCooldown,
		MinMatchAge:    cfg.MinMatchAge,
		AbuseWindow:    cfg.AbuseWindow,
		AbusePairLimit: cfg.AbusePairLimit,
		RatingDelta:    cfg.RatingDelta,
	})
	sw := sweeper.New(st, sweeper.Options{
		AutoCompleteAfter: cfg.AutoCompleteAfter,
		ArchiveAfter:      cfg.ArchiveAfter,
		Batch:             cfg.SweepBatch,
	})

	sched, err := gocron.NewScheduler()
	if err != nil {
		log.Fatalf("scheduler: %v", err)
	}
	_, err = sched.NewJob(
		gocron.DurationJob(cfg.SweepInterval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			report, err := sw.Run(ctx)
			if err != nil {
				logger.WithError(err).Warn("lifecycle sweep failed")
				return
			}
			if report.Completed > 0 || report.Archived > 0 || report.Cancelled > 0 {
				logger.WithFields(logrus.Fields{
					"completed": report.Completed,
					"archived":  report.Archived,
					"cancelled": report.Cancelled,
				}).Info("lifecycle sweep")
			}
		}),
	)
	if err != nil {
		log.Fatalf("sweep job: %v", err)
	}
	sched.Start()
	defer func() { _ = sched.Shutdown() }()

	srv := handlers.NewServer(sessions, engine, sw, respCache, hub, logger)
	mux := http.NewServeMux()
	srv.Register(mux)

	logger.Infof("Running on %s", cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, middleware.LogMiddleware(logger)(mux)); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
