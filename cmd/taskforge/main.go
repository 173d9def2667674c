// Command taskforge boots the job engine: HTTP API by default, an
// optional worker pool, and a periodic GC sweep. Grounded on the
// teacher's cmd/main.go RUN_SERVER/RUN_WORKER env-toggle convention —
// same app-struct-then-Run shape, reduced from the teacher's much larger
// service graph (auth, chat, ingestion, learning pipelines) down to the
// job engine's own dependencies.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/corwinhq/taskforge/internal/cascade"
	"github.com/corwinhq/taskforge/internal/config"
	"github.com/corwinhq/taskforge/internal/data/db"
	"github.com/corwinhq/taskforge/internal/dispatcher"
	"github.com/corwinhq/taskforge/internal/gc"
	"github.com/corwinhq/taskforge/internal/genclient"
	"github.com/corwinhq/taskforge/internal/httpapi"
	"github.com/corwinhq/taskforge/internal/httpapi/middleware"
	"github.com/corwinhq/taskforge/internal/intake"
	"github.com/corwinhq/taskforge/internal/jobhandlers"
	"github.com/corwinhq/taskforge/internal/notifier"
	"github.com/corwinhq/taskforge/internal/platform/logger"
	"github.com/corwinhq/taskforge/internal/ratelimit"
	"github.com/corwinhq/taskforge/internal/reaper"
	"github.com/corwinhq/taskforge/internal/registry"
	"github.com/corwinhq/taskforge/internal/store/jobs"
	"github.com/corwinhq/taskforge/internal/store/ratewindows"
	"github.com/corwinhq/taskforge/internal/worker"
)

func envTrue(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}

func main() {
	log, err := logger.New(os.Getenv("LOG_MODE"))
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg := config.Load(log)

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Fatal("failed to connect to postgres", "error", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Fatal("failed to migrate schema", "error", err)
	}

	jobStore := jobs.New(pg.DB(), log)
	windowStore := ratewindows.New(pg.DB(), log)

	reg := registry.New()

	hub := notifier.NewHub(log)
	bus, err := notifier.NewRedisBus(cfg.RedisAddr, cfg.RedisChannel, log)
	if err != nil {
		log.Fatal("failed to connect to redis", "error", err)
	}
	notify := notifier.New(hub, bus, log)

	disp := dispatcher.New(jobStore, reg, notify, log,
		time.Duration(cfg.BackoffBaseSeconds)*time.Second, cfg.MaxBackoff)

	limiter := ratelimit.New(windowStore, cfg.RateMax, cfg.WindowSize)
	reap := reaper.New(jobStore, cfg.LeaseTimeout, log)

	in := intake.New(jobStore, reg, limiter, disp, reap, notify, log,
		cfg.DefaultMaxAttempts, cfg.MaxListLimit, cfg.DefaultListLimit)

	policy := cascade.LoadPolicy(cfg.CascadePolicyPath, log)
	coordinator := cascade.New(in, policy, log)

	gen, err := genclient.New(log)
	if err != nil {
		log.Warn("genclient disabled: no text-generation backend configured", "error", err)
	}
	if gen != nil {
		if err := reg.Register(jobhandlers.TypeTreeGeneration,
			jobhandlers.NewTreeHandler(gen, coordinator, log).Handle, cfg.DefaultMaxAttempts); err != nil {
			log.Fatal("failed to register tree_generation handler", "error", err)
		}
		if err := reg.Register(jobhandlers.TypeFlashcardGeneration,
			jobhandlers.NewFlashcardHandler(gen).Handle, cfg.DefaultMaxAttempts); err != nil {
			log.Fatal("failed to register flashcard_generation handler", "error", err)
		}
		if err := reg.Register(jobhandlers.TypeDistractorGeneration,
			jobhandlers.NewDistractorHandler(gen).Handle, cfg.DefaultMaxAttempts); err != nil {
			log.Fatal("failed to register distractor_generation handler", "error", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := notify.StartForwarder(ctx); err != nil {
		log.Warn("notifier forwarder failed to start", "error", err)
	}

	runServer := envTrue("RUN_SERVER", true)
	runWorker := envTrue("RUN_WORKER", false)

	if runWorker {
		pool := worker.NewPool(jobStore, disp, reap, log, cfg.WorkerPollInterval)
		pool.Start(ctx)
	} else {
		// The worker pool's tick already reaps stale leases once per poll;
		// without it, Intake's opportunistic reap-on-status-read (§9) is
		// the only other trigger, which leaves a gap if nobody polls a
		// stalled job. Run reap on its own ticker too so recovery doesn't
		// depend on a client happening to ask.
		startReapLoop(ctx, reap, cfg.ReapInterval, log)
	}

	startGCLoop(ctx, gc.New(jobStore, windowStore, log), cfg, log)

	if runServer {
		auth := middleware.NewAuth(cfg.JWTSecretKey, log)
		handlers := httpapi.NewHandlers(in)
		router := httpapi.NewRouter(httpapi.RouterConfig{
			Handlers:     handlers,
			Auth:         auth,
			Hub:          hub,
			Log:          log,
			AllowOrigins: strings.Split(os.Getenv("CORS_ALLOW_ORIGINS"), ","),
		})
		log.Info("server listening", "port", cfg.Port)
		if err := router.Run(":" + cfg.Port); err != nil {
			log.Fatal("server failed", "error", err)
		}
		return
	}

	// Worker-only process: keep the goroutines above alive.
	select {}
}

// startReapLoop runs reaper.Reap on its own ticker, independent of the
// worker pool, so stale leases recover even when no HTTP request happens
// to trigger Intake's opportunistic reap.
func startReapLoop(ctx context.Context, reap *reaper.Reaper, interval time.Duration, log *logger.Logger) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := reap.Reap(ctx); err != nil {
					log.Warn("reap failed", "error", err)
				}
			}
		}
	}()
}

// startGCLoop runs gc.Cleanup on cfg.GCInterval in its own goroutine,
// grounded on the teacher's ticker-loop idiom (internal/jobs/worker.go)
// applied to retention cleanup instead of job dispatch.
func startGCLoop(ctx context.Context, g *gc.GC, cfg config.Config, log *logger.Logger) {
	go func() {
		ticker := time.NewTicker(cfg.GCInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				result, err := g.Cleanup(ctx, gc.Options{
					CompletedMaxAge: cfg.CompletedRetention,
					FailedMaxAge:    cfg.FailedRetention,
					WindowMaxAge:    cfg.WindowRetention,
					BatchSize:       cfg.DefaultGCBatch,
				})
				if err != nil {
					log.Warn("gc cleanup failed", "error", err)
					continue
				}
				if result.CompletedDeleted > 0 || result.FailedDeleted > 0 || result.WindowsDeleted > 0 {
					log.Info("gc cleanup completed",
						"completed_deleted", result.CompletedDeleted,
						"failed_deleted", result.FailedDeleted,
						"windows_deleted", result.WindowsDeleted)
				}
			}
		}
	}()
}
