package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	_ "github.com/lib/pq"

	"github.com/djlord-it/quartzcore/internal/analytics"
	"github.com/djlord-it/quartzcore/internal/api"
	"github.com/djlord-it/quartzcore/internal/circuitbreaker"
	"github.com/djlord-it/quartzcore/internal/config"
	"github.com/djlord-it/quartzcore/internal/httpjob"
	"github.com/djlord-it/quartzcore/internal/jobstore"
	"github.com/djlord-it/quartzcore/internal/jobstore/postgres"
	"github.com/djlord-it/quartzcore/internal/metrics"
	"github.com/djlord-it/quartzcore/internal/quartz"
	"github.com/djlord-it/quartzcore/internal/recovery"
	"github.com/djlord-it/quartzcore/internal/worker"
)

// Build-time variables set via -ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	switch os.Args[1] {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`quartzcore - in-memory/Postgres Quartz-style job scheduling engine

Usage:
  schedulerd <command>

Commands:
  serve      Start the scheduler and admin API
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  JOB_STORE_KIND              "ram" or "postgres" (default: "ram")
  DATABASE_URL                PostgreSQL connection string (required for postgres store)
  REDIS_ADDR                  Redis address for execution analytics (optional)
  HTTP_ADDR                   Admin API listen address (default: ":8080")

  IDLE_WAIT_TIME              Firing loop idle sleep when nothing is due (default: "30s")
  ACQUIRE_BATCH_SIZE          Max triggers acquired per firing loop pass (default: "10")
  MISFIRE_THRESHOLD           How late a trigger must be to count as misfired (default: "60s")
  MISFIRE_SCAN_INTERVAL       How often the misfire handler scans (default: "60s")
  WORKER_POOL_SIZE            Concurrent job executions (default: "10")

  DB_OP_TIMEOUT               Per-operation DB timeout (default: "5s")
  DB_MAX_OPEN_CONNS           Max open DB connections (default: "25")
  DB_MAX_IDLE_CONNS           Max idle DB connections (default: "5")
  DB_CONN_MAX_LIFETIME        Max DB connection lifetime (default: "30m")

  RECOVERY_LOCK_KEY            Postgres advisory lock key shared by all instances (default: "728379")
  STALE_ACQUISITION_THRESHOLD  Acquisition age startup recovery treats as abandoned (default: "5m")

  SHUTDOWN_DRAIN_TIMEOUT      How long Shutdown waits for in-flight jobs (default: "30s")
  HTTP_SHUTDOWN_TIMEOUT       Graceful admin API shutdown timeout (default: "10s")

  METRICS_ENABLED             Enable Prometheus metrics at METRICS_PATH (default: "false")
  METRICS_PATH                Metrics endpoint path (default: "/metrics")

  CIRCUIT_BREAKER_THRESHOLD   Consecutive job failures before tripping (0 disables, default: "5")
  CIRCUIT_BREAKER_COOLDOWN    Cooldown before a tripped breaker re-probes (default: "2m")

  ANALYTICS_ENABLED           Enable the Redis execution-analytics listener (default: "false")`)
}

func runServe() int {
	cfg := config.Load()
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	var db *sql.DB
	var registry jobstore.Registry

	switch cfg.JobStoreKind {
	case "postgres":
		var err error
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
			return exitRuntimeError
		}
		defer db.Close()

		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
		db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)

		if err := db.Ping(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
			return exitRuntimeError
		}

		pgStore := postgres.New(db, time.Now)
		migrateCtx, cancel := context.WithTimeout(context.Background(), cfg.DBOpTimeout)
		if err := pgStore.Migrate(migrateCtx); err != nil {
			cancel()
			fmt.Fprintf(os.Stderr, "failed to migrate schema: %v\n", err)
			return exitRuntimeError
		}
		cancel()

		recoveryCtx, cancel := context.WithTimeout(context.Background(), cfg.DBOpTimeout)
		result, err := recovery.Run(recoveryCtx, db, cfg.RecoveryLockKey, pgStore, cfg.StaleAcquisitionThreshold, time.Now())
		cancel()
		if err != nil {
			log.Printf("schedulerd: startup recovery error: %v", err)
		} else if result.LockAcquired {
			log.Printf("schedulerd: startup recovery released %d stale acquisition(s)", result.Released)
		}

		registry = pgStore
		log.Printf("schedulerd: job store backend is postgres")
	default:
		registry = jobstore.New(time.Now)
		log.Printf("schedulerd: job store backend is ram (not durable across restarts)")
	}

	var sink metrics.Sink
	var metricsHandler http.Handler
	if cfg.MetricsEnabled {
		sink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		metricsHandler = promhttp.Handler()
		log.Printf("schedulerd: metrics enabled at %s", cfg.MetricsPath)
	} else {
		sink = metrics.NewNoopSink()
		log.Println("schedulerd: METRICS_ENABLED not set; metrics disabled")
	}

	var breaker *circuitbreaker.Breaker
	if cfg.CircuitBreakerThreshold > 0 {
		breaker = circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)
		log.Printf("schedulerd: circuit breaker enabled (threshold=%d, cooldown=%s)",
			cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)
	} else {
		log.Println("schedulerd: CIRCUIT_BREAKER_THRESHOLD=0; circuit breaker disabled")
	}

	pool := worker.New(cfg.WorkerPoolSize)
	factory := httpjob.NewFactory()

	core := quartz.New(quartz.Config{
		SchedulerName:       cfg.SchedulerName,
		InstanceID:          cfg.InstanceID,
		IdleWaitTime:        cfg.IdleWaitTime,
		AcquireBatchSize:    cfg.AcquireBatchSize,
		MisfireThreshold:    cfg.MisfireThreshold,
		MisfireScanInterval: cfg.MisfireScanInterval,
	}, registry, pool, factory, breaker, sink)

	if cfg.AnalyticsEnabled {
		if cfg.RedisAddr == "" {
			log.Println("schedulerd: ANALYTICS_ENABLED is true but REDIS_ADDR is empty; analytics disabled")
		} else {
			redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
			core.AddTriggerListener(analytics.NewRedisListener(redisClient, time.Minute, 24*time.Hour))
			log.Printf("schedulerd: execution analytics enabled (redis=%s)", cfg.RedisAddr)
		}
	} else {
		log.Println("schedulerd: ANALYTICS_ENABLED not set; execution analytics disabled")
	}

	apiHandler := api.NewHandler(core)
	mux := http.NewServeMux()
	mux.Handle("/", apiHandler)
	if metricsHandler != nil {
		mux.Handle(cfg.MetricsPath, metricsHandler)
	}

	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}
	go func() {
		log.Printf("schedulerd: admin api listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("schedulerd: admin api server error: %v", err)
		}
	}()

	if err := core.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start scheduler: %v\n", err)
		return exitRuntimeError
	}
	log.Printf("schedulerd: started (name=%s instance=%s store=%s http=%s)",
		cfg.SchedulerName, cfg.InstanceID, cfg.JobStoreKind, cfg.HTTPAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig
	log.Printf("schedulerd: received signal %v, shutting down", received)

	// Phase 1: stop accepting new firings and drain in-flight jobs.
	log.Println("schedulerd: stopping scheduler (draining in-flight jobs)...")
	shutdownDone := make(chan struct{})
	go func() {
		core.Shutdown(true)
		close(shutdownDone)
	}()
	select {
	case <-shutdownDone:
		log.Println("schedulerd: scheduler stopped")
	case <-time.After(cfg.ShutdownDrainTimeout):
		log.Println("schedulerd: drain timeout exceeded, forcing shutdown")
	}

	// Phase 2: stop the admin API.
	log.Println("schedulerd: stopping admin api...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Printf("schedulerd: admin api shutdown error: %v", err)
	}
	log.Println("schedulerd: admin api stopped")

	log.Println("schedulerd: stopped")
	return exitSuccess
}

func runValidate() int {
	cfg := config.Load()
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}
	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()
	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}
	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("schedulerd version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
