// server is the retrieval engine's binary entrypoint: it loads
// configuration, wires every component (embedder, vector store, inverted
// index, cache tiers, retriever, chunker, indexing pipeline, reindex job
// manager, rate limiter, observability registry, webhook dispatcher,
// trace alerter, resource sampler), runs an initial indexing pass unless
// skipped, and serves the HTTP surface until terminated.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"ragengine/internal/api"
	"ragengine/internal/cache"
	"ragengine/internal/chunking"
	"ragengine/internal/config"
	"ragengine/internal/embeddings"
	"ragengine/internal/index"
	"ragengine/internal/indexing"
	"ragengine/internal/logging"
	"ragengine/internal/metrics"
	"ragengine/internal/ratelimit"
	"ragengine/internal/reindexjob"
	"ragengine/internal/retriever"
	"ragengine/internal/retry"
	"ragengine/internal/sampler"
	"ragengine/internal/tracealerter"
	"ragengine/internal/vectorstore"
	"ragengine/internal/webhook"
	"ragengine/pkg/types"
)

// Exit codes per the engine's startup contract: 0 normal shutdown, 1 a
// fatal initialization error, 2 the HTTP listener failed to bind.
const (
	exitOK          = 0
	exitInitError   = 1
	exitBindFailure = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	log := logging.NewLogger(logging.ParseLogLevel(os.Getenv("LOG_LEVEL"))).WithComponent("server")

	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		return exitInitError
	}
	if cfg.Logging.FilterDirective != "" {
		_ = logging.ParseFilterDirective(cfg.Logging.FilterDirective)
	}

	state, cleanup, err := buildState(cfg, log)
	if err != nil {
		log.Error("failed to initialize engine", "error", err)
		return exitInitError
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !cfg.Data.SkipInitialIndex {
		log.Info("running initial indexing pass")
		result, err := state.Pipeline.Run(ctx)
		if err != nil {
			log.Error("initial indexing pass failed", "error", err)
			return exitInitError
		}
		log.Info("initial indexing pass complete", "docs", result.Docs, "chunks", result.Chunks)
	}

	var bgWG sync.WaitGroup
	startBackgroundTasks(ctx, &bgWG, state)

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           api.NewRouter(state),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		log.Error("failed to bind HTTP listener", "addr", srv.Addr, "error", err)
		return exitBindFailure
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("serving", "addr", srv.Addr)
		serveErr <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", "error", err)
			return exitInitError
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("graceful shutdown did not complete cleanly", "error", err)
	}
	bgWG.Wait()
	return exitOK
}

// buildState constructs every collaborator the HTTP surface needs. The
// returned cleanup func releases the resources buildState opened (the
// bleve index, primarily) and must be called once, after the server has
// stopped serving.
func buildState(cfg *config.Config, log logging.Logger) (*api.AppState, func(), error) {
	if err := os.MkdirAll(cfg.Data.Root, 0o755); err != nil {
		return nil, func() {}, err
	}

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		return nil, func() {}, err
	}

	chunker, err := chunking.NewService(chunking.Config{
		Mode:       chunking.Mode(cfg.Chunking.Mode),
		TargetSize: cfg.Chunking.TargetSize,
	}, embedder)
	if err != nil {
		return nil, func() {}, err
	}

	indexDir := cfg.Data.IndexDir()
	if cfg.Data.IndexInRAM {
		indexDir = ""
	}
	idx, err := index.NewService(indexDir)
	if err != nil {
		return nil, func() {}, err
	}
	cleanup := func() { _ = idx.Close() }

	store := vectorstore.New(cfg.Embedding.Dimension)

	tiers, err := buildCache(cfg, log)
	if err != nil {
		return nil, cleanup, err
	}

	reg, promReg := metrics.New("ragengine", cfg.Cache.SearchHistogram, cfg.Cache.ReindexHistogram)

	r := retriever.New(idx, store, tiers, embedder, reg, log.WithComponent("retriever"), 0.5)

	if cfg.Data.SkipInitialIndex {
		loaded, err := loadVectorSnapshot(store, cfg.Data.VectorsPath(), log)
		if err != nil {
			return nil, cleanup, err
		}
		if loaded {
			r.MarkCommitted()
		}
	}

	pipeline := indexing.New(cfg.Data.DocumentsDir(), chunker, embedder, nil, r, log.WithComponent("indexing"))

	hook := webhook.New(cfg.Webhook.URL, log.WithComponent("webhook"))
	jobs := reindexjob.New(hook, log.WithComponent("reindexjob"))

	limiter, err := buildRateLimiter(cfg)
	if err != nil {
		return nil, cleanup, err
	}

	var alerter *tracealerter.Alerter
	if cfg.Tracing.AlerterEnabled {
		alerterCfg := tracealerter.DefaultConfig()
		alerterCfg.SlowSpanThresholdMS = cfg.Tracing.SlowSpanThresholdMS
		alerter = tracealerter.New(alerterCfg, reg, log.WithComponent("tracealerter"))
	}

	state := &api.AppState{
		Config:     cfg,
		Cache:      tiers,
		Retriever:  r,
		Pipeline:   pipeline,
		Jobs:       jobs,
		Limiter:    limiter,
		MetricsReg: reg,
		PromReg:    promReg,
		Webhook:    hook,
		Alerter:    alerter,
		Logger:     log,
	}
	return state, cleanup, nil
}

func buildEmbedder(cfg *config.Config) (embeddings.Embedder, error) {
	base := embeddings.NewHashingEmbedder(cfg.Embedding.Dimension)
	retryCfg := retry.NewConfigWithOptions()
	reliable := embeddings.NewReliableEmbedder(base, retryCfg, nil)
	return embeddings.NewCachedEmbedder(reliable, cfg.Embedding.CacheSize)
}

func buildCache(cfg *config.Config, log logging.Logger) (*cache.Tiers, error) {
	cacheCfg := cache.Config{
		L2Capacity:   cfg.Cache.L2Capacity,
		L2TTL:        cfg.Cache.L2TTL,
		RedisEnabled: cfg.Cache.RedisEnabled,
		RedisTTL:     cfg.Cache.RedisTTL,
	}
	if cfg.Cache.RedisEnabled {
		opts, err := redis.ParseURL(cfg.Cache.RedisURL)
		if err != nil {
			return nil, err
		}
		cacheCfg.RedisClient = redis.NewClient(opts)
	}
	return cache.New(cacheCfg, log.WithComponent("cache"))
}

func buildRateLimiter(cfg *config.Config) (*ratelimit.Limiter, error) {
	if !cfg.RateLimit.Enabled {
		return nil, nil
	}
	var rules []ratelimit.Rule
	var err error
	switch {
	case cfg.RateLimit.RoutesJSON != "":
		rules, err = ratelimit.ParseRules(cfg.RateLimit.RoutesJSON)
	case cfg.RateLimit.RoutesFile != "":
		rules, err = ratelimit.LoadRulesFile(cfg.RateLimit.RoutesFile)
	}
	if err != nil {
		return nil, err
	}
	return ratelimit.New(ratelimit.Config{
		LRUCapacity:    cfg.RateLimit.LRUCapacity,
		ExemptPrefixes: cfg.RateLimit.ExemptPrefixes,
		Rules:          rules,
		SearchClass: ratelimit.Class{
			QPS: cfg.RateLimit.DefaultSearchQPS, Burst: cfg.RateLimit.DefaultSearchBurst, Label: "search",
		},
		UploadClass: ratelimit.Class{
			QPS: cfg.RateLimit.DefaultUploadQPS, Burst: cfg.RateLimit.DefaultUploadBurst, Label: "upload",
		},
		TrustProxy: cfg.RateLimit.TrustProxy,
	})
}

// loadVectorSnapshot restores a previously persisted vectors.json into
// store when the initial indexing pass is skipped (SKIP_INITIAL_INDEXING
// =true), e.g. for a fast restart against an already-built index. Returns
// loaded=false, nil error when no snapshot file exists yet.
func loadVectorSnapshot(store *vectorstore.Store, path string, log logging.Logger) (bool, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.Warn("no vector snapshot found and initial indexing skipped; serving with an empty index")
		return false, nil
	}
	if err := store.LoadFrom(path); err != nil {
		return false, err
	}
	return true, nil
}

func startBackgroundTasks(ctx context.Context, wg *sync.WaitGroup, state *api.AppState) {
	if state.Alerter != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			state.Alerter.Run(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		state.Cache.RunSweeper(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		sampler.New(state.MetricsReg).Run(ctx)
	}()

	if state.Config.Data.WatchDocuments {
		trigger := func() {
			state.Jobs.Submit(context.Background(), "documents-watcher", func(jctx context.Context) (types.ReindexStats, error) {
				chunks, _, err := state.Pipeline.Collect(jctx)
				if err != nil {
					return types.ReindexStats{}, err
				}
				return state.Retriever.AtomicReindex(jctx, chunks, state.Config.Data.VectorsPath())
			})
		}
		watcher := indexing.NewWatcher(state.Config.Data.DocumentsDir(), 0, trigger, state.Logger.WithComponent("watcher"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := watcher.Run(ctx); err != nil {
				state.Logger.Warn("documents watcher stopped", "error", err)
			}
		}()
	}
}
