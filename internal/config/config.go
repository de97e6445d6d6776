// Package config loads the retrieval service's configuration from a YAML
// file via koanf, mirroring the teacher's pkg/config/koanf_loader.go.
package config

import (
	"fmt"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/mitchellh/mapstructure"

	"github.com/kbserve/retrieval-core/internal/resilience"
)

// ResilienceConfig is the per-service-key breaker/retry/timeout override
// named `resilience.<service>.*` in the configuration table.
type ResilienceConfig struct {
	FailureThreshold int           `koanf:"failure_threshold"`
	SuccessThreshold int           `koanf:"success_threshold"`
	RecoveryTimeout  time.Duration `koanf:"recovery_timeout"`
	MaxRetries       int           `koanf:"max_retries"`
	BaseDelay        time.Duration `koanf:"base_delay"`
	MaxDelay         time.Duration `koanf:"max_delay"`
	JitterFactor     float64       `koanf:"jitter_factor"`
	Timeout          time.Duration `koanf:"timeout"`
}

// Breaker converts a ResilienceConfig into a resilience.BreakerConfig.
func (c ResilienceConfig) Breaker() resilience.BreakerConfig {
	return resilience.BreakerConfig{
		FailureThreshold: c.FailureThreshold,
		SuccessThreshold: c.SuccessThreshold,
		RecoveryTimeout:  c.RecoveryTimeout,
	}
}

// Retry converts a ResilienceConfig into a resilience.RetryConfig.
func (c ResilienceConfig) Retry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxRetries:   c.MaxRetries,
		BaseDelay:    c.BaseDelay,
		MaxDelay:     c.MaxDelay,
		JitterFactor: c.JitterFactor,
	}
}

// Config is the fully parsed, defaulted configuration tree for the
// retrieval service, as named in the configuration table of spec §6.
type Config struct {
	Service struct {
		MaxConcurrentRequests           int `koanf:"max_concurrent_requests"`
		MaxConcurrentUpstreamCallsPerReq int `koanf:"max_concurrent_upstream_calls_per_request"`
	} `koanf:"service"`

	BM25 struct {
		PersistDir      string `koanf:"persist_dir"`
		FlushIntervalS  int    `koanf:"flush_interval_s"`
	} `koanf:"bm25"`

	Retrieval struct {
		DefaultAlpha   float64 `koanf:"default_alpha"`
		DefaultTopK    int     `koanf:"default_top_k"`
		RerankBatchCap int     `koanf:"rerank_batch_cap"`
	} `koanf:"retrieval"`

	Rewrite struct {
		MaxHistoryTurns  int  `koanf:"max_history_turns"`
		MaxVariations    int  `koanf:"max_variations"`
		EnableExpansion  bool `koanf:"enable_expansion"`
	} `koanf:"rewrite"`

	Resilience struct {
		Embedding   ResilienceConfig `koanf:"embedding"`
		VectorStore ResilienceConfig `koanf:"vectorstore_search"`
		Rerank      ResilienceConfig `koanf:"rerank"`
		LLM         ResilienceConfig `koanf:"llm"`
	} `koanf:"resilience"`

	LLM struct {
		ProviderPriority []string `koanf:"provider_priority"`
	} `koanf:"llm"`

	Embedding struct {
		Provider  string `koanf:"provider"` // "ollama" (default) or "openai"
		CacheMax  int    `koanf:"cache_max"`
		Dimension int    `koanf:"dimension"`
		Ollama    struct {
			Host  string `koanf:"host"`
			Model string `koanf:"model"`
		} `koanf:"ollama"`
		OpenAI struct {
			APIKey  string `koanf:"api_key"`
			BaseURL string `koanf:"base_url"`
			Model   string `koanf:"model"`
		} `koanf:"openai"`
	} `koanf:"embedding"`

	VectorStore struct {
		Backend  string `koanf:"backend"` // "chromem" (default), "qdrant", "pgvector"
		Chromem  struct {
			PersistPath string `koanf:"persist_path"`
			Compress    bool   `koanf:"compress"`
		} `koanf:"chromem"`
		Qdrant struct {
			Host   string `koanf:"host"`
			Port   int    `koanf:"port"`
			APIKey string `koanf:"api_key"`
			UseTLS bool   `koanf:"use_tls"`
		} `koanf:"qdrant"`
		PgVector struct {
			DSN       string `koanf:"dsn"`
			MaxConns  int    `koanf:"max_conns"`
			Dimension int    `koanf:"dimension"`
		} `koanf:"pgvector"`
	} `koanf:"vectorstore"`

	Rerank struct {
		Enabled bool `koanf:"enabled"`
	} `koanf:"rerank"`

	Repository struct {
		DSN      string `koanf:"dsn"`
		MaxConns int    `koanf:"max_conns"`
	} `koanf:"repository"`

	History struct {
		Addr     string `koanf:"addr"`
		Password string `koanf:"password"`
		DB       int    `koanf:"db"`
	} `koanf:"history"`

	Anthropic struct {
		APIKey string `koanf:"api_key"`
		Model  string `koanf:"model"`
	} `koanf:"anthropic"`

	OpenAI struct {
		APIKey string `koanf:"api_key"`
		Model  string `koanf:"model"`
	} `koanf:"openai"`

	Telemetry struct {
		TracingEnabled bool    `koanf:"tracing_enabled"`
		ServiceName    string  `koanf:"service_name"`
		SamplingRate   float64 `koanf:"sampling_rate"`
	} `koanf:"telemetry"`

	Logging struct {
		Level string `koanf:"level"` // "debug", "info" (default), "warn", "error"
	} `koanf:"logging"`
}

// serviceKeys used throughout the module, e.g. "vectorstore.search", don't
// map cleanly onto koanf's dot-delimited hierarchy (a literal dot in a
// config key would nest one level deeper than intended), so the config
// schema spells them with an underscore and ResilienceFor translates.
func (c *Config) ResilienceFor(serviceKey string) ResilienceConfig {
	switch serviceKey {
	case "embedding":
		return c.Resilience.Embedding
	case "vectorstore.search":
		return c.Resilience.VectorStore
	case "rerank":
		return c.Resilience.Rerank
	case "llm":
		return c.Resilience.LLM
	default:
		return ResilienceConfig{}
	}
}

func defaults() *koanf.Koanf {
	k := koanf.New(".")
	_ = k.Load(confmapDefaults(), nil)
	return k
}

// Load reads path (YAML) over the built-in defaults and returns a fully
// populated Config. Unknown keys in path are ignored by koanf's default
// unmarshal behavior, matching the teacher's loose (non-strict) posture
// for a single-file, no-watch configuration.
func Load(path string) (*Config, error) {
	k := defaults()

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           cfg,
			WeaklyTypedInput: true,
			TagName:          "koanf",
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
		},
	}); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}
