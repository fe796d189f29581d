// cmd/packgc/main.go
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/packgc/packgc/internal/cache"
	"github.com/packgc/packgc/internal/chunking"
	"github.com/packgc/packgc/internal/config"
	"github.com/packgc/packgc/internal/database"
	"github.com/packgc/packgc/internal/drivers"
	"github.com/packgc/packgc/internal/gc"
	"github.com/packgc/packgc/internal/objdb"
	"github.com/packgc/packgc/internal/oid"
	"github.com/packgc/packgc/internal/refdb"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional; defaults used when absent)")
	allowNoopRevWalk := flag.Bool("allow-noop-revwalk", false,
		"acknowledge that no real reachability source is wired and every object will be swept into UNREACHABLE_GARBAGE on the first run (DATA LOSS outside a scratch/demo repo)")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	config.LoadFromEnv(&cfg)

	pg, err := database.NewPostgres(database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		logger.Fatal("connect to database", zap.Error(err))
	}
	db := pg.DB()
	defer func() { _ = pg.Close() }()

	rawDriver, container := buildDriver(cfg, logger)
	driver := drivers.NewResilientDriver(rawDriver, nil, nil, logger)
	blockCache := cache.NewSizedLRU(cfg.Cache.MemorySize)

	refDB := refdb.NewPostgres(db, "refs/meta/")
	store := objdb.NewStore(db, driver, container, blockCache, refDB, logger)

	var chunker chunking.Chunker
	if c, err := chunking.NewFastCDCChunker(512*1024, 1024*1024, 4*1024*1024); err != nil {
		logger.Warn("chunker unavailable, packing objects whole", zap.Error(err))
	} else {
		chunker = c
	}

	var compressor chunking.Compressor
	if c, err := chunking.NewZstdCompressor(3); err != nil {
		logger.Warn("compressor unavailable, packing objects uncompressed", zap.Error(err))
	} else {
		compressor = c
	}

	reg := prometheus.NewRegistry()
	metrics := gc.NewMetrics(reg)

	if !*allowNoopRevWalk {
		logger.Fatal("no real reachability source wired; refusing to start and sweep every object into UNREACHABLE_GARBAGE. " +
			"Wire a real RevWalk before running against production data, or pass --allow-noop-revwalk to proceed anyway (scratch/demo repos only).")
	}
	logger.Warn("running with noopRevWalk: every object not written by this run's own phases H/R/T will be treated as garbage")
	packDriver := gc.NewDriver(store, store.ResolveObject, nil, noopRevWalk{}, metrics.ObserveGarbagePhaseProgress, chunker, compressor, logger)

	policy := gc.DefaultPolicy()
	policy.SetCoalesceGarbageLimit(cfg.GC.CoalesceGarbageLimit)
	policy.SetGarbageTTLMillis(cfg.GC.GarbageTTL.Milliseconds())

	engine, err := gc.New(refDB, store, packDriver, policy, cfg.Pack.IndexVersion, gc.SystemClock{}, metrics, logger)
	if err != nil {
		logger.Fatal("construct gc engine", zap.Error(err))
	}

	health := drivers.NewHealthChecker(logger)
	health.RegisterCheck("database", func(ctx context.Context) error { return pg.Ping(ctx) })

	limiter := rate.NewLimiter(rate.Every(time.Minute), 1)

	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		report := health.Check(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if report.Status != drivers.HealthStatusHealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(report)
	})
	router.Get("/livez", func(w http.ResponseWriter, r *http.Request) {
		if err := health.LivenessProbe(); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := health.ReadinessProbe(); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	router.Get("/cache/stats", func(w http.ResponseWriter, r *http.Request) {
		cacheMetrics := blockCache.Metrics()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(struct {
			HitRate float64  `json:"hit_rate"`
			TopKeys []string `json:"top_keys"`
		}{HitRate: cacheMetrics.GetHitRate(), TopKeys: cacheMetrics.GetTopKeys(10)})
	})
	router.Post("/gc/run", func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, "rate limited, retry later", http.StatusTooManyRequests)
			return
		}
		go runGC(context.Background(), engine, rawDriver, container, logger)
		w.WriteHeader(http.StatusAccepted)
	})

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(metricsPort(cfg)),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("admin surface listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("admin surface stopped", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	runGC(ctx, engine, rawDriver, container, logger)

runLoop:
	for {
		select {
		case <-ticker.C:
			runGC(ctx, engine, rawDriver, container, logger)
		case <-ctx.Done():
			break runLoop
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info("packgc stopped")
}

// runGC acquires the cross-process run lock, invokes one pack() call, and
// reruns immediately on a detected race, matching the caller-loop
// obligation the core delegates retry logic to (spec §4.4).
func runGC(ctx context.Context, engine *gc.Engine, driver drivers.Driver, container string, logger *zap.Logger) {
	lock, err := gc.Acquire(ctx, driver, container)
	if err != nil {
		logger.Warn("could not acquire run lock, skipping this cycle", zap.Error(err))
		return
	}
	defer func() { _ = lock.Release(ctx) }()

	for attempt := 0; attempt < 3; attempt++ {
		result, err := engine.Pack(ctx)
		if err != nil {
			logger.Error("gc run failed", zap.Error(err))
			return
		}
		if result.RaceDetected {
			logger.Info("race detected at commit, retrying", zap.Int("attempt", attempt+1))
			continue
		}
		logger.Info("gc run complete",
			zap.Int("new_packs", len(result.NewPacks)),
			zap.Int("pruned", len(result.PruneList)))
		return
	}
	logger.Warn("gc run gave up after repeated races")
}

// buildDriver picks the configured "primary" backend: S3 when configured,
// local disk otherwise. When the primary is S3 and a "secondary" backend of
// type "local" is also configured, it wraps both in a FallbackDriver that
// degrades to local disk when S3 calls fail, instead of letting a transient
// cloud outage block every GC run.
func buildDriver(cfg config.Config, logger *zap.Logger) (drivers.Driver, string) {
	localFallback := func(key string) *drivers.LocalDriver {
		dataPath := "/var/lib/packgc"
		if backend, ok := cfg.Backends[key]; ok && backend.Endpoint != "" {
			dataPath = backend.Endpoint
		}
		if err := os.MkdirAll(dataPath, 0o750); err != nil {
			logger.Fatal("create local pack storage directory", zap.Error(err))
		}
		local := drivers.NewLocalDriver(dataPath, logger)
		if !local.HasCapability(drivers.CapabilityAtomic) {
			logger.Warn("local pack storage driver lacks atomic rename support, commit/rollback may not be crash-safe")
		}
		return local
	}

	if backend, ok := cfg.Backends["primary"]; ok && backend.Type == "s3" {
		region, _ := backend.Options["region"].(string)
		accessKey, _ := backend.Options["access_key"].(string)
		secretKey, _ := backend.Options["secret_key"].(string)
		bucket, _ := backend.Options["bucket"].(string)
		d, err := drivers.NewS3Driver(backend.Endpoint, accessKey, secretKey, region, logger)
		if err == nil {
			if secondary, ok := cfg.Backends["secondary"]; ok && secondary.Type == "local" {
				return drivers.NewFallbackDriver(d, localFallback("secondary"), logger), bucket
			}
			return d, bucket
		}
		logger.Warn("s3 driver unavailable, falling back to local", zap.Error(err))
	}

	return localFallback("primary"), "packs"
}

// noopRevWalk stands in for the out-of-scope reachability traversal
// collaborator (spec §1) until one is wired against a real commit-graph
// walker: every object is reported unreachable, so phase G absorbs
// everything packs_before still holds. main() refuses to start with this
// wired unless --allow-noop-revwalk is passed explicitly.
type noopRevWalk struct{}

func (noopRevWalk) Holds(id oid.OID) bool { return false }

func metricsPort(cfg config.Config) int {
	if cfg.Server.MetricsPort == 0 {
		return 9090
	}
	return cfg.Server.MetricsPort
}
