package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Server    ServerConfig
	OpenAI    OpenAIConfig
	Search    SearchConfig
	Storage   StorageConfig
	Assistant AssistantConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port int
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string // empty means the official endpoint
	Model   string
}

type SearchConfig struct {
	APIKey      string
	BaseURL     string
	Engine      string
	Domain      string
	Sort        string
	ResultCount int
	CacheTTL    int // seconds
	Timeout     int // seconds
}

type StorageConfig struct {
	DataDir string
}

type AssistantConfig struct {
	HistoryWindow int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port: 4000,
		},
		OpenAI: OpenAIConfig{
			Model: "gpt-4o-mini",
		},
		Search: SearchConfig{
			BaseURL:     "https://serpapi.com",
			Engine:      "amazon",
			Domain:      "amazon.fr",
			Sort:        "review-rank",
			ResultCount: 4,
			CacheTTL:    1800,
			Timeout:     15,
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Assistant: AssistantConfig{
			HistoryWindow: 8,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.alix.app) and secrets
// fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/alix/config.json
// and secrets fall back to $XDG_DATA_HOME/alix/secrets.json.
//
// Environment variables (ALIX_*, plus OPENAI_API_KEY and SERPAPI_API_KEY
// for the two credentials) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), NewKeychain())
}

func loadWith(b ConfigBackend, kc Keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Try the platform secret store for credentials still empty.
	if cfg.OpenAI.APIKey == "" {
		if key, err := kc.Get(keychainService, openaiKeyAccount); err == nil && key != "" {
			cfg.OpenAI.APIKey = key
		}
	}
	if cfg.Search.APIKey == "" {
		if key, err := kc.Get(keychainService, serpapiKeyAccount); err == nil && key != "" {
			cfg.Search.APIKey = key
		}
	}

	var missing []string
	if cfg.OpenAI.APIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if cfg.Search.APIKey == "" {
		missing = append(missing, "SERPAPI_API_KEY")
	}
	if len(missing) > 0 {
		msg := "missing required config: " + strings.Join(missing, ", ") +
			". Set the environment variables" + apiKeyHint()
		return Config{}, fmt.Errorf("%s", msg)
	}

	return cfg, nil
}
