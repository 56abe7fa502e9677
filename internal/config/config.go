// Package config provides centralized configuration for the draftflow server.
// Values come from defaults, an optional config.yaml, then the environment.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. DRAFTFLOW_PORT.
const EnvPrefix = "DRAFTFLOW"

// Config keys.
const (
	KeyPort            = "port"
	KeyDataDir         = "data_dir"
	KeyLogLevel        = "log_level"
	KeyLogFormat       = "log_format"
	KeyLLMProvider     = "llm_provider"
	KeyOpenAIKey       = "openai_api_key"
	KeyOpenAIBaseURL   = "openai_base_url"
	KeyOpenAIModel     = "openai_model"
	KeyAnthropicKey    = "anthropic_api_key"
	KeyAnthropicModel  = "anthropic_model"
	KeyGeminiKey       = "gemini_api_key"
	KeyGeminiModel     = "gemini_model"
	KeyOllamaURL       = "ollama_url"
	KeyOllamaModel     = "ollama_model"
	KeyHTTPTimeout     = "http_timeout"
	KeyJobTimeout      = "job_timeout"
	KeyMaxTextLength   = "max_text_length"
	KeyCORSOrigin      = "cors_origin"
	KeyLegacyStatePath = "legacy_state_path"
	KeyRenderTemplate  = "render_template"
	KeyMaxJobs         = "max_jobs"
)

var defaults = map[string]any{
	KeyPort:            "8080",
	KeyDataDir:         "data",
	KeyLogLevel:        "info",
	KeyLogFormat:       "text",
	KeyLLMProvider:     "openai",
	KeyOpenAIBaseURL:   "https://api.openai.com/v1",
	KeyOpenAIModel:     "gpt-4o-mini",
	KeyAnthropicModel:  "claude-sonnet-4-20250514",
	KeyGeminiModel:     "gemini-2.0-flash",
	KeyOllamaURL:       "http://localhost:11434",
	KeyOllamaModel:     "llama3",
	KeyHTTPTimeout:     60 * time.Second,
	KeyJobTimeout:      time.Duration(0),
	KeyMaxTextLength:   15000,
	KeyCORSOrigin:      "*",
	KeyLegacyStatePath: "",
	KeyRenderTemplate:  "default",
	KeyMaxJobs:         4,
}

// bareEnv are provider variables also read without the prefix.
var bareEnv = map[string]string{
	KeyOpenAIKey:      "OPENAI_API_KEY",
	KeyOpenAIBaseURL:  "OPENAI_BASE_URL",
	KeyOpenAIModel:    "OPENAI_MODEL",
	KeyAnthropicKey:   "ANTHROPIC_API_KEY",
	KeyAnthropicModel: "ANTHROPIC_MODEL",
	KeyGeminiKey:      "GEMINI_API_KEY",
	KeyGeminiModel:    "GEMINI_MODEL",
	KeyOllamaURL:      "OLLAMA_URL",
	KeyOllamaModel:    "OLLAMA_MODEL",
}

// Config holds all server configuration values.
type Config struct {
	// Port is the HTTP server listen port.
	Port string

	// DataDir holds the database, documents, artifacts and output copies.
	DataDir string

	LogLevel  string
	LogFormat string

	// LLMProvider selects which LLM backend to use: "openai", "claude", "gemini", "ollama".
	LLMProvider string

	OpenAIKey      string
	OpenAIBaseURL  string
	OpenAIModel    string
	AnthropicKey   string
	AnthropicModel string
	GeminiKey      string
	GeminiModel    string
	OllamaURL      string
	OllamaModel    string

	// HTTPTimeout is the timeout for outgoing HTTP requests (extract, LLM).
	HTTPTimeout time.Duration

	// JobTimeout bounds one background job. Zero means no limit.
	JobTimeout time.Duration

	// MaxTextLength is the maximum number of runes to keep from extracted text.
	MaxTextLength int

	// CORSOrigin is the allowed CORS origin. Defaults to "*".
	CORSOrigin string

	// LegacyStatePath is a state.json from the previous generation to
	// migrate at startup. Empty disables it.
	LegacyStatePath string

	RenderTemplate string

	// MaxJobs caps concurrently running background jobs.
	MaxJobs int
}

// Load reads configuration. path names a config file; when empty,
// config.yaml in the working directory is used if present. Variables from
// .env.local are exported first without overriding the real environment.
func Load(path string) (Config, error) {
	loadEnvFile(".env.local")

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, bare := range bareEnv {
		if err := v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(key), bare); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var nf viper.ConfigFileNotFoundError
			if !errors.As(err, &nf) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		Port:            v.GetString(KeyPort),
		DataDir:         v.GetString(KeyDataDir),
		LogLevel:        v.GetString(KeyLogLevel),
		LogFormat:       v.GetString(KeyLogFormat),
		LLMProvider:     strings.ToLower(v.GetString(KeyLLMProvider)),
		OpenAIKey:       v.GetString(KeyOpenAIKey),
		OpenAIBaseURL:   v.GetString(KeyOpenAIBaseURL),
		OpenAIModel:     v.GetString(KeyOpenAIModel),
		AnthropicKey:    v.GetString(KeyAnthropicKey),
		AnthropicModel:  v.GetString(KeyAnthropicModel),
		GeminiKey:       v.GetString(KeyGeminiKey),
		GeminiModel:     v.GetString(KeyGeminiModel),
		OllamaURL:       v.GetString(KeyOllamaURL),
		OllamaModel:     v.GetString(KeyOllamaModel),
		HTTPTimeout:     positiveDuration(v.GetDuration(KeyHTTPTimeout), defaults[KeyHTTPTimeout].(time.Duration)),
		JobTimeout:      positiveDuration(v.GetDuration(KeyJobTimeout), 0),
		MaxTextLength:   positiveInt(v.GetInt(KeyMaxTextLength), defaults[KeyMaxTextLength].(int)),
		CORSOrigin:      v.GetString(KeyCORSOrigin),
		LegacyStatePath: v.GetString(KeyLegacyStatePath),
		RenderTemplate:  v.GetString(KeyRenderTemplate),
		MaxJobs:         positiveInt(v.GetInt(KeyMaxJobs), defaults[KeyMaxJobs].(int)),
	}
	return cfg, nil
}

// UseStubs returns true when no LLM API key is configured for the selected provider.
func (c Config) UseStubs() bool {
	switch c.LLMProvider {
	case "claude":
		return c.AnthropicKey == ""
	case "gemini":
		return c.GeminiKey == ""
	case "ollama":
		return false // Ollama runs locally, no key needed
	default:
		return c.OpenAIKey == ""
	}
}

// DBPath is the control-state database.
func (c Config) DBPath() string { return filepath.Join(c.DataDir, "draftflow.db") }

// DocsDir holds one versioned document per item.
func (c Config) DocsDir() string { return filepath.Join(c.DataDir, "docs") }

// ArtifactsDir holds rendered artifacts.
func (c Config) ArtifactsDir() string { return filepath.Join(c.DataDir, "artifacts") }

// OutputDir holds output copies of finished items.
func (c Config) OutputDir() string { return filepath.Join(c.DataDir, "output") }

// JobLockPath is held by the one process allowed to run background jobs.
func (c Config) JobLockPath() string { return filepath.Join(c.DataDir, "jobs.lock") }

func positiveDuration(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

func positiveInt(n, fallback int) int {
	if n <= 0 {
		return fallback
	}
	return n
}

// loadEnvFile exports KEY=VALUE lines from path. Variables already set in
// the environment win. A missing file is ignored.
func loadEnvFile(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(strings.TrimPrefix(key, "export "))
		val = strings.TrimSpace(val)
		if len(val) >= 2 && (val[0] == '"' || val[0] == '\'') && val[len(val)-1] == val[0] {
			val = val[1 : len(val)-1]
		}
		if _, set := os.LookupEnv(key); set {
			continue
		}
		os.Setenv(key, val)
	}
}
