// Package registry composes every pluggable provider in the system
// (embedder, vector store, reranker, LLM failover, per-KB BM25 indexes)
// into a single ServiceRegistry that owns them for the retrieval engine.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kbserve/retrieval-core/internal/attribution"
	"github.com/kbserve/retrieval-core/internal/bm25"
	"github.com/kbserve/retrieval-core/internal/config"
	"github.com/kbserve/retrieval-core/internal/embedding"
	"github.com/kbserve/retrieval-core/internal/llmprovider"
	"github.com/kbserve/retrieval-core/internal/logging"
	"github.com/kbserve/retrieval-core/internal/reconcile"
	"github.com/kbserve/retrieval-core/internal/repository"
	"github.com/kbserve/retrieval-core/internal/resilience"
	"github.com/kbserve/retrieval-core/internal/rerank"
	"github.com/kbserve/retrieval-core/internal/retrieval"
	"github.com/kbserve/retrieval-core/internal/rewrite"
	"github.com/kbserve/retrieval-core/internal/telemetry"
	"github.com/kbserve/retrieval-core/internal/vectorstore"
)

const (
	serviceKeyEmbedding   = "embedding"
	serviceKeyVectorStore = "vectorstore.search"
	serviceKeyRerank      = "rerank"
)

// ServiceRegistry owns one instance of every pluggable service the
// retrieval engine depends on and wires them together per spec §4.6: a
// shared embedder, vector store, reranker, the per-KB BM25 manager, an
// LLM failover provider, the repository, the optional conversation
// history store, and the telemetry/resilience cross-cutting layers.
//
// New and Shutdown are guarded by a plain mutex plus started/shutdown
// flags rather than sync.Once: New builds a fresh registry on every call,
// and a second Shutdown returns nil without closing anything again.
type ServiceRegistry struct {
	mu       sync.Mutex
	started  bool
	shutdown bool

	Config *config.Config

	Resilience *resilience.Registry
	Metrics    *telemetry.Metrics
	Tracer     *telemetry.Tracer

	Embedder embedding.Provider
	Vectors  vectorstore.Store
	Reranker rerank.Reranker
	BM25     *bm25.Manager
	LLM      *llmprovider.FailoverProvider

	// Degradation produces the canned response spec.md §7 requires when
	// every LLM provider is open or failed. Exposed for the answer-
	// generation collaborator that drives LLM calls against the LLM
	// field directly: on error from Generate, it calls
	// Degradation.Respond() instead of surfacing a raw error.
	Degradation *resilience.DegradationManager

	Repo    repository.Repository
	History *rewrite.RedisHistoryStore

	Rewriter   *rewrite.Rewriter
	Attributor *attribution.Attributor
	Reconciler *reconcile.Reconciler
	Engine     *retrieval.Engine

	Logger *slog.Logger
}

// New builds every service named by cfg, wires them into an Engine, and
// runs the startup reconciliation pass before returning. Callers supply
// reg so Prometheus metrics can be exposed on the caller's own registry
// (or prometheus.NewRegistry() in tests) rather than the global default.
func New(ctx context.Context, cfg *config.Config, reg prometheus.Registerer, logger *slog.Logger) (*ServiceRegistry, error) {
	if logger == nil {
		logger = logging.New(cfg.Logging.Level)
	}

	s := &ServiceRegistry{Config: cfg, Logger: logger}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil, fmt.Errorf("registry: already initialized")
	}

	// FailoverProvider addresses each provider's circuit by a composite
	// "llm:<providerKey>" service key rather than the bare "llm" key, so
	// its breaker/retry/timeout come from the registry's defaults, not a
	// Configure("llm", ...) override (which a lookup for "llm:anthropic:.."
	// would never match). cfg's llm resilience block is therefore wired as
	// the registry-wide default, and only the three exactly-keyed services
	// get an explicit Configure override.
	s.Metrics = telemetry.NewMetrics(reg)
	onTransition := func(key string, state resilience.State) {
		s.Metrics.RecordCircuitTransition(key, string(state))
	}

	llmRC := cfg.ResilienceFor("llm")
	llmBreaker := llmRC.Breaker()
	llmBreaker.OnTransition = onTransition
	s.Resilience = resilience.NewRegistry(llmBreaker, llmRC.Retry(), llmRC.Timeout)
	for _, key := range []string{serviceKeyEmbedding, serviceKeyVectorStore, serviceKeyRerank} {
		rc := cfg.ResilienceFor(key)
		breaker := rc.Breaker()
		breaker.OnTransition = onTransition
		s.Resilience.Configure(key, breaker, rc.Retry(), rc.Timeout)
	}
	tracer, err := telemetry.NewTracer(ctx, telemetry.TracerConfig{
		Enabled:      cfg.Telemetry.TracingEnabled,
		ServiceName:  cfg.Telemetry.ServiceName,
		SamplingRate: cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return nil, fmt.Errorf("registry: new tracer: %w", err)
	}
	s.Tracer = tracer

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		return nil, fmt.Errorf("registry: build embedder: %w", err)
	}
	s.Embedder = embedder

	vectors, err := buildVectorStore(ctx, cfg)
	if err != nil {
		_ = embedder.Close()
		return nil, fmt.Errorf("registry: build vector store: %w", err)
	}
	s.Vectors = vectors

	bm25Mgr, err := bm25.NewManager(cfg.BM25.PersistDir)
	if err != nil {
		_ = vectors.Close()
		_ = embedder.Close()
		return nil, fmt.Errorf("registry: new bm25 manager: %w", err)
	}
	bm25Mgr.Metrics = s.Metrics
	s.BM25 = bm25Mgr

	llmFailover, err := buildLLMFailover(cfg, s.Resilience)
	if err != nil {
		_ = vectors.Close()
		_ = embedder.Close()
		return nil, fmt.Errorf("registry: build llm failover: %w", err)
	}
	s.LLM = llmFailover
	s.Degradation = resilience.NewDegradationManager()

	generator := llmprovider.GeneratorAdapter{Failover: llmFailover}
	s.Rewriter = rewrite.New(generator)

	if cfg.Rerank.Enabled {
		s.Reranker = rerank.NewLLMReranker(generator, cfg.Retrieval.RerankBatchCap)
	} else {
		s.Reranker = rerank.NewNoOpReranker()
	}

	s.Attributor = attribution.New(embedder, s.Resilience)

	repo, err := repository.NewPostgresRepository(ctx, cfg.Repository.DSN, cfg.Repository.MaxConns)
	if err != nil {
		_ = vectors.Close()
		_ = embedder.Close()
		return nil, fmt.Errorf("registry: new postgres repository: %w", err)
	}
	s.Repo = repo

	if cfg.History.Addr != "" {
		s.History = rewrite.NewRedisHistoryStore(rewrite.RedisHistoryConfig{
			Addr:     cfg.History.Addr,
			Password: cfg.History.Password,
			DB:       cfg.History.DB,
			MaxTurns: cfg.Rewrite.MaxHistoryTurns,
		})
	}

	s.Reconciler = &reconcile.Reconciler{
		Repo:       s.Repo,
		BM25:       s.BM25,
		Vectors:    s.Vectors,
		Embedder:   s.Embedder,
		Resilience: s.Resilience,
		Logger:     logger,
	}

	s.Engine = &retrieval.Engine{
		BM25:       s.BM25,
		Vectors:    s.Vectors,
		Embedder:   s.Embedder,
		Reranker:   s.Reranker,
		Rewriter:   s.Rewriter,
		Resilience: s.Resilience,
		KBChecker:  repo,
		Chunks:     repo,
		Metrics:    s.Metrics,
		Logger:     logger,
	}
	// s.History is a *rewrite.RedisHistoryStore, left nil when no history
	// store is configured; assigning a nil *T into the History interface
	// field unconditionally would make e.History != nil true anyway, so
	// this is only wired when a store actually exists.
	if s.History != nil {
		s.Engine.History = s.History
	}

	if _, err := s.Reconciler.ReconcileAll(ctx); err != nil {
		logger.Warn("startup reconciliation reported errors", "error", err)
	}

	s.started = true
	return s, nil
}

func buildEmbedder(cfg *config.Config) (embedding.Provider, error) {
	var inner embedding.Provider
	switch cfg.Embedding.Provider {
	case "", "ollama":
		inner = embedding.NewOllamaProvider(embedding.OllamaConfig{
			Host:      cfg.Embedding.Ollama.Host,
			Model:     cfg.Embedding.Ollama.Model,
			Dimension: cfg.Embedding.Dimension,
		})
	case "openai":
		p, err := embedding.NewOpenAIProvider(embedding.OpenAIConfig{
			APIKey:    cfg.Embedding.OpenAI.APIKey,
			BaseURL:   cfg.Embedding.OpenAI.BaseURL,
			Model:     cfg.Embedding.OpenAI.Model,
			Dimension: cfg.Embedding.Dimension,
		})
		if err != nil {
			return nil, err
		}
		inner = p
	default:
		return nil, fmt.Errorf("registry: unknown embedding provider %q", cfg.Embedding.Provider)
	}
	return embedding.NewCachingProvider(inner, cfg.Embedding.CacheMax)
}

func buildVectorStore(ctx context.Context, cfg *config.Config) (vectorstore.Store, error) {
	vcfg := vectorstore.Config{
		Type: vectorstore.BackendType(cfg.VectorStore.Backend),
		Chromem: vectorstore.ChromemConfig{
			PersistPath: cfg.VectorStore.Chromem.PersistPath,
			Compress:    cfg.VectorStore.Chromem.Compress,
		},
		Qdrant: vectorstore.QdrantConfig{
			Host:   cfg.VectorStore.Qdrant.Host,
			Port:   cfg.VectorStore.Qdrant.Port,
			APIKey: cfg.VectorStore.Qdrant.APIKey,
			UseTLS: cfg.VectorStore.Qdrant.UseTLS,
		},
		PgVector: vectorstore.PgVectorConfig{
			DSN:       cfg.VectorStore.PgVector.DSN,
			MaxConns:  cfg.VectorStore.PgVector.MaxConns,
			Dimension: cfg.VectorStore.PgVector.Dimension,
		},
	}
	return vectorstore.New(ctx, vcfg)
}

func buildLLMFailover(cfg *config.Config, resilienceReg *resilience.Registry) (*llmprovider.FailoverProvider, error) {
	byKey := make(map[string]llmprovider.Provider, 2)
	if cfg.Anthropic.APIKey != "" {
		p, err := llmprovider.NewAnthropicProvider(llmprovider.AnthropicConfig{
			APIKey: cfg.Anthropic.APIKey,
			Model:  cfg.Anthropic.Model,
		})
		if err != nil {
			return nil, err
		}
		byKey["anthropic"] = p
	}
	if cfg.OpenAI.APIKey != "" {
		p, err := llmprovider.NewOpenAIProvider(llmprovider.OpenAIConfig{
			APIKey: cfg.OpenAI.APIKey,
			Model:  cfg.OpenAI.Model,
		})
		if err != nil {
			return nil, err
		}
		byKey["openai"] = p
	}

	priority := cfg.LLM.ProviderPriority
	if len(priority) == 0 {
		priority = []string{"anthropic", "openai"}
	}
	providers := make([]llmprovider.Provider, 0, len(priority))
	for _, key := range priority {
		if p, ok := byKey[key]; ok {
			providers = append(providers, p)
		}
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("registry: no llm provider configured (set anthropic.api_key and/or openai.api_key)")
	}
	return llmprovider.NewFailoverProvider(resilienceReg, providers), nil
}

// Status is the health/status snapshot exposed by the supplemented
// get_registry_status feature: per-circuit breaker state plus per-BM25-
// index size/dirty stats, mirroring the teacher's SearchEngine.GetStatus.
type Status struct {
	Circuits map[string]resilience.Snapshot
	BM25     map[string]bm25.IndexStats
}

// Status reports the registry's current health, safe to call
// concurrently with Search.
func (s *ServiceRegistry) Status() Status {
	return Status{
		Circuits: s.Resilience.Snapshot(),
		BM25:     s.BM25.Snapshot(),
	}
}

// Shutdown tears down every owned resource in reverse dependency order:
// LLM failover and the reranker hold no persistent connections (nothing
// to close), so teardown starts at the vector store and embedder, then
// flushes BM25, then closes history and the repository, using the same
// continue-past-first-error aggregation as the rest of this package.
func (s *ServiceRegistry) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown || !s.started {
		return nil
	}
	s.shutdown = true

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if s.Vectors != nil {
		record(s.Vectors.Close())
	}
	if s.Embedder != nil {
		record(s.Embedder.Close())
	}
	if s.BM25 != nil {
		record(s.BM25.FlushAll())
	}
	if s.History != nil {
		record(s.History.Close())
	}
	if s.Repo != nil {
		if closer, ok := s.Repo.(interface{ Close() error }); ok {
			record(closer.Close())
		} else if closer, ok := s.Repo.(interface{ Close() }); ok {
			closer.Close()
		}
	}
	if s.Tracer != nil {
		record(s.Tracer.Shutdown(ctx))
	}

	return firstErr
}
