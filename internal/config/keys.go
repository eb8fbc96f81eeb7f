package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "ALIX_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "openai.api_key", typ: kString, env: "OPENAI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.OpenAI.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.APIKey },
	},
	{
		key: "openai.base_url", typ: kString, env: "ALIX_OPENAI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.BaseURL },
	},
	{
		key: "openai.model", typ: kString, env: "ALIX_OPENAI_MODEL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.Model },
	},
	{
		key: "search.api_key", typ: kString, env: "SERPAPI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Search.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Search.APIKey },
	},
	{
		key: "search.base_url", typ: kString, env: "ALIX_SEARCH_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Search.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Search.BaseURL },
	},
	{
		key: "search.engine", typ: kString, env: "ALIX_SEARCH_ENGINE",
		apply:   func(cfg *Config, v any) { cfg.Search.Engine = v.(string) },
		extract: func(cfg Config) any { return cfg.Search.Engine },
	},
	{
		key: "search.domain", typ: kString, env: "ALIX_SEARCH_DOMAIN",
		apply:   func(cfg *Config, v any) { cfg.Search.Domain = v.(string) },
		extract: func(cfg Config) any { return cfg.Search.Domain },
	},
	{
		key: "search.sort", typ: kString, env: "ALIX_SEARCH_SORT",
		apply:   func(cfg *Config, v any) { cfg.Search.Sort = v.(string) },
		extract: func(cfg Config) any { return cfg.Search.Sort },
	},
	{
		key: "search.result_count", typ: kInt, env: "ALIX_SEARCH_RESULT_COUNT",
		apply:   func(cfg *Config, v any) { cfg.Search.ResultCount = v.(int) },
		extract: func(cfg Config) any { return cfg.Search.ResultCount },
	},
	{
		key: "search.cache_ttl", typ: kInt, env: "ALIX_SEARCH_CACHE_TTL",
		apply:   func(cfg *Config, v any) { cfg.Search.CacheTTL = v.(int) },
		extract: func(cfg Config) any { return cfg.Search.CacheTTL },
	},
	{
		key: "search.timeout", typ: kInt, env: "ALIX_SEARCH_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Search.Timeout = v.(int) },
		extract: func(cfg Config) any { return cfg.Search.Timeout },
	},
	{
		key: "storage.data_dir", typ: kString, env: "ALIX_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "assistant.history_window", typ: kInt, env: "ALIX_ASSISTANT_HISTORY_WINDOW",
		apply:   func(cfg *Config, v any) { cfg.Assistant.HistoryWindow = v.(int) },
		extract: func(cfg Config) any { return cfg.Assistant.HistoryWindow },
	},
	{
		key: "log.level", typ: kString, env: "ALIX_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
