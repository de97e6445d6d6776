package config

import (
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/v2"
)

// confmapDefaults returns every configuration default named in spec §6 and
// §4.3/§4.5, loaded before the file provider so an absent or partial config
// file still yields a fully usable Config.
func confmapDefaults() koanf.Provider {
	return confmap.Provider(map[string]interface{}{
		"service.max_concurrent_requests":                   100,
		"service.max_concurrent_upstream_calls_per_request":  8,

		"bm25.persist_dir":     "./data/bm25",
		"bm25.flush_interval_s": 60,

		"retrieval.default_alpha":     0.5,
		"retrieval.default_top_k":     10,
		"retrieval.rerank_batch_cap":  50,

		"rewrite.max_history_turns": 5,
		"rewrite.max_variations":    3,
		"rewrite.enable_expansion":  true,

		"resilience.embedding.failure_threshold": 5,
		"resilience.embedding.success_threshold": 3,
		"resilience.embedding.recovery_timeout":  "60s",
		"resilience.embedding.max_retries":       3,
		"resilience.embedding.base_delay":        "1s",
		"resilience.embedding.max_delay":         "30s",
		"resilience.embedding.jitter_factor":     0.1,
		"resilience.embedding.timeout":           "30s",

		"resilience.vectorstore_search.failure_threshold": 5,
		"resilience.vectorstore_search.success_threshold": 3,
		"resilience.vectorstore_search.recovery_timeout":  "60s",
		"resilience.vectorstore_search.max_retries":       3,
		"resilience.vectorstore_search.base_delay":        "1s",
		"resilience.vectorstore_search.max_delay":         "30s",
		"resilience.vectorstore_search.jitter_factor":     0.1,
		"resilience.vectorstore_search.timeout":           "10s",

		"resilience.rerank.failure_threshold": 5,
		"resilience.rerank.success_threshold": 3,
		"resilience.rerank.recovery_timeout":  "60s",
		"resilience.rerank.max_retries":       2,
		"resilience.rerank.base_delay":        "1s",
		"resilience.rerank.max_delay":         "15s",
		"resilience.rerank.jitter_factor":     0.1,
		"resilience.rerank.timeout":           "15s",

		"resilience.llm.failure_threshold": 5,
		"resilience.llm.success_threshold": 3,
		"resilience.llm.recovery_timeout":  "60s",
		"resilience.llm.max_retries":       3,
		"resilience.llm.base_delay":        "1s",
		"resilience.llm.max_delay":         "30s",
		"resilience.llm.jitter_factor":     0.1,
		"resilience.llm.timeout":           "60s",

		"llm.provider_priority": []string{"anthropic", "openai"},

		"embedding.provider":      "ollama",
		"embedding.cache_max":     10000,
		"embedding.dimension":     768,
		"embedding.ollama.host":   "http://localhost:11434",
		"embedding.ollama.model":  "nomic-embed-text",
		"embedding.openai.model":  "text-embedding-3-small",

		"vectorstore.backend":          "chromem",
		"vectorstore.chromem.persist_path": "./data/vectors",
		"vectorstore.qdrant.host":      "localhost",
		"vectorstore.qdrant.port":      6334,
		"vectorstore.pgvector.max_conns": 5,
		"vectorstore.pgvector.dimension": 768,

		"rerank.enabled": true,

		"repository.max_conns": 10,

		"history.db": 0,

		"anthropic.model": "claude-sonnet-4-5-20250929",
		"openai.model":    "gpt-4o-mini",

		"telemetry.tracing_enabled": false,
		"telemetry.service_name":    "retrieval-core",
		"telemetry.sampling_rate":   0.1,

		"logging.level": "info",
	}, ".")
}
