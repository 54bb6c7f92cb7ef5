// Command processor runs the background processing core standalone: it
// wires configuration, storage, the STT failover manager, AI artifact
// generation, and the processing queue, then exposes a small HTTP surface
// for health checks, queue status, and scraping Prometheus metrics.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dictation-core/processor/internal/config"
	"github.com/dictation-core/processor/internal/dbpool"
	"github.com/dictation-core/processor/internal/executor"
	"github.com/dictation-core/processor/internal/generate"
	"github.com/dictation-core/processor/internal/observability"
	"github.com/dictation-core/processor/internal/queue"
	"github.com/dictation-core/processor/internal/resilience"
	"github.com/dictation-core/processor/internal/store"
	"github.com/dictation-core/processor/internal/stt"
)

func main() {
	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	observability.SetupLogging(observability.Config{Env: cfg.Env, LogLevel: cfg.LogLevel})
	if err := observability.InitSentry(observability.Config{Env: cfg.Env, SentryDSN: cfg.SentryDSN}); err != nil {
		log.Error().Err(err).Msg("failed to initialise sentry")
	}
	defer observability.FlushSentry(2 * time.Second)

	metrics := observability.NewMetrics()

	dbCfg := dbpool.DefaultConfig(cfg.Storage.BaseFolder + "/" + cfg.Storage.DatabaseName)
	dbCfg.PoolSize = cfg.Storage.DBPoolSize
	dbCfg.AcquireTimeout = time.Duration(cfg.Storage.DBTimeoutS) * time.Second
	pool, err := dbpool.Open(dbCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open sqlite pool")
	}
	defer pool.Close()

	migrator := dbpool.NewMigrator(pool.DB(), dbpool.CoreMigrations())
	if err := migrator.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	st := store.New(pool.DB())

	audio, err := executor.NewFileAudioWriter(cfg.Storage.BaseFolder)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to prepare audio storage folder")
	}

	failover := buildFailoverManager(cfg)
	generator := buildGenerator(cfg)
	runner := executor.New(st, failover, generator, audio)

	workers := cfg.MaxBackgroundWorkers
	if workers < 1 {
		if n := runtime.NumCPU() - 1; n > 0 {
			workers = n
		} else {
			workers = 1
		}
		if workers > 6 {
			workers = 6
		}
	}
	qCfg := queue.DefaultConfig(workers)
	qCfg.AutoRetryFailed = cfg.AutoRetryFailed
	qCfg.MaxRetryAttempts = cfg.MaxRetryAttempts

	q := queue.New(qCfg, st, runner, queue.Callbacks{
		OnStatusChange: func(taskID string, status queue.TaskStatus, queueSize int) {
			metrics.QueueDepth.WithLabelValues("all").Set(float64(queueSize))
		},
		OnCompletion: func(taskID string, task *queue.Task, result queue.Result) {
			metrics.TasksProcessed.WithLabelValues("completed").Inc()
		},
		OnError: func(taskID string, task *queue.Task, message string) {
			metrics.TasksProcessed.WithLabelValues("failed").Inc()
			log.Error().Str("task_id", taskID).Str("error", message).Msg("task failed terminally")
		},
		OnBatch: func(event queue.BatchEvent, batchID string, current, total int) {
			log.Info().Str("batch_id", batchID).Str("event", string(event)).
				Int("current", current).Int("total", total).Msg("batch event")
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	q.Start(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"status": "OK",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(q.GetStatus())
	})

	server := &http.Server{Addr: ":8090", Handler: mux}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", server.Addr).Msg("starting http server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http server error")
		}
	}()

	<-stop
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)

	q.Shutdown(true)
	cancel()
	log.Info().Msg("shutdown complete")
}

// buildFailoverManager wires the four STT providers in the default
// failover order: a cloud medical-grade provider first, two cloud
// general-purpose providers next, and a no-API-key local fallback last.
func buildFailoverManager(cfg config.Config) *stt.FailoverManager {
	keys := config.NewAPIKeys(os.LookupEnv)
	limiter := resilience.NewRateLimiter(resilience.LimiterConfig{RequestsPerSecond: 5, Burst: 10})

	resilientCallFor := func(name string) func(ctx context.Context, fn func(context.Context) error) error {
		breaker := resilience.NewBreaker(resilience.DefaultBreakerConfig(name))
		retryCfg := resilience.RetryConfig{
			MaxRetries:    cfg.API.MaxRetries,
			InitialDelay:  time.Duration(cfg.API.InitialRetryDelayMS) * time.Millisecond,
			BackoffFactor: cfg.API.BackoffFactor,
			MaxDelay:      time.Duration(cfg.API.MaxRetryDelaySeconds) * time.Second,
		}
		return func(ctx context.Context, fn func(context.Context) error) error {
			return resilience.NewCall(name).
				WithRateLimit(limiter, name, "default").
				WithCircuitBreaker(breaker).
				WithRetry(retryCfg).
				Do(ctx, fn)
		}
	}

	deepgramKey, _ := keys.Get(config.KeyDeepgram)
	groqKey, _ := keys.Get(config.KeyGroq)
	elevenLabsKey, _ := keys.Get(config.KeyElevenLabs)

	providers := []stt.Provider{
		stt.NewDeepgram(deepgramKey, resilientCallFor("deepgram")),
		stt.NewGroq(groqKey, resilientCallFor("groq")),
		stt.NewElevenLabs(elevenLabsKey, resilientCallFor("elevenlabs")),
		stt.NewWhisperLocal("whisper", resilientCallFor("whisper_local")),
	}

	return stt.NewFailoverManager(stt.DefaultFailoverManagerConfig(), providers)
}

func buildGenerator(cfg config.Config) generate.Generator {
	keys := config.NewAPIKeys(os.LookupEnv)
	anthropicKey, valid := keys.Get(config.KeyAnthropic)
	if !valid {
		log.Warn().Msg("ANTHROPIC_API_KEY missing or malformed; artifact generation will fail until configured")
	}
	return generate.NewAnthropicGenerator(anthropicKey)
}
