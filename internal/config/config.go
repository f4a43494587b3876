package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all stacksbot configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Intent classification thresholds
	Classifier ClassifierConfig `yaml:"classifier"`

	// Embedding engine
	Embedding EmbeddingConfig `yaml:"embedding"`

	// LLM arbiter
	Arbiter ArbiterConfig `yaml:"arbiter"`

	// Exemplar catalog
	Catalog CatalogConfig `yaml:"catalog"`

	// Conversation state
	Session SessionConfig `yaml:"session"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ClassifierConfig configures the nearest-neighbor classifier and the
// escalation thresholds around it. The threshold values were tuned ad hoc
// against the production exemplar set; treat them as knobs to retune, not
// as constants with intrinsic meaning.
type ClassifierConfig struct {
	TopK                     int     `yaml:"top_k"`                      // Exemplar retrieval count
	MinSimilarity            float64 `yaml:"min_similarity"`             // Floor for a retrieved exemplar to count
	MarginThreshold          float64 `yaml:"margin_threshold"`           // Below this, escalate to the arbiter
	ConfidenceFloor          float64 `yaml:"confidence_floor"`           // Below this, force clarification regardless of margin
	MaxReclassificationDepth int     `yaml:"max_reclassification_depth"` // Retries after "none of the above"
	PriorityWeight           float64 `yaml:"priority_weight"`            // Exemplar priority contribution to category score
	ActionBoost              float64 `yaml:"action_boost"`               // Bonus when an action-based exemplar matched
	ParallelSearch           bool    `yaml:"parallel_search"`            // Search memory and sqlite stores concurrently
}

// EmbeddingConfig configures the embedding backend.
type EmbeddingConfig struct {
	Provider       string `yaml:"provider"` // "ollama" or "genai"
	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`
	GenAIAPIKey    string `yaml:"genai_api_key"`
	GenAIModel     string `yaml:"genai_model"`
	Timeout        string `yaml:"timeout"`
}

// ArbiterConfig configures the LLM tie-breaking step.
type ArbiterConfig struct {
	Provider    string `yaml:"provider"` // "gemini" only for now
	APIKey      string `yaml:"api_key"`
	Model       string `yaml:"model"`
	BaseURL     string `yaml:"base_url"`
	Timeout     string `yaml:"timeout"`
	DailyBudget int64  `yaml:"daily_budget"` // Max arbiter calls per UTC day, 0 = unlimited
	MaxRetries  int    `yaml:"max_retries"`
}

// CatalogConfig configures the exemplar catalog source.
type CatalogConfig struct {
	Path         string `yaml:"path"`          // External YAML catalog; empty = built-in catalog
	DatabasePath string `yaml:"database_path"` // SQLite-backed store; empty = in-memory
	Watch        bool   `yaml:"watch"`         // Reload the store when the catalog file changes
}

// SessionConfig configures per-conversation state retention.
type SessionConfig struct {
	TTL string `yaml:"ttl"`
}

// LoggingConfig configures the category logger.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"` // debug, info, warn, error
	JSONFormat bool            `yaml:"json_format"`
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "stacksbot",
		Version: "1.0.0",
		Classifier: ClassifierConfig{
			TopK:                     8,
			MinSimilarity:            0.35,
			MarginThreshold:          0.15,
			ConfidenceFloor:          0.4,
			MaxReclassificationDepth: 1,
			PriorityWeight:           0.05,
			ActionBoost:              0.1,
			ParallelSearch:           true,
		},
		Embedding: EmbeddingConfig{
			Provider:       "ollama",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "embeddinggemma",
			GenAIModel:     "gemini-embedding-001",
			Timeout:        "15s",
		},
		Arbiter: ArbiterConfig{
			Provider:    "gemini",
			Model:       "gemini-2.0-flash",
			BaseURL:     "https://generativelanguage.googleapis.com/v1beta",
			Timeout:     "10s",
			DailyBudget: 500,
			MaxRetries:  2,
		},
		Catalog: CatalogConfig{
			Watch: false,
		},
		Session: SessionConfig{
			TTL: "30m",
		},
		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Load reads configuration from a YAML file, falling back to defaults for
// anything not specified, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				cfg.applyEnvOverrides()
				return cfg, nil
			}
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies STACKSBOT_* environment variables over the
// loaded values. Secrets in particular are expected to arrive this way.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("STACKSBOT_EMBEDDING_PROVIDER"); v != "" {
		c.Embedding.Provider = v
	}
	if v := os.Getenv("STACKSBOT_OLLAMA_ENDPOINT"); v != "" {
		c.Embedding.OllamaEndpoint = v
	}
	if v := os.Getenv("STACKSBOT_GENAI_API_KEY"); v != "" {
		c.Embedding.GenAIAPIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		if c.Embedding.GenAIAPIKey == "" {
			c.Embedding.GenAIAPIKey = v
		}
		if c.Arbiter.APIKey == "" {
			c.Arbiter.APIKey = v
		}
	}
	if v := os.Getenv("STACKSBOT_ARBITER_API_KEY"); v != "" {
		c.Arbiter.APIKey = v
	}
	if v := os.Getenv("STACKSBOT_ARBITER_MODEL"); v != "" {
		c.Arbiter.Model = v
	}
	if v := os.Getenv("STACKSBOT_CATALOG_PATH"); v != "" {
		c.Catalog.Path = v
	}
	if v := os.Getenv("STACKSBOT_MARGIN_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Classifier.MarginThreshold = f
		}
	}
	if v := os.Getenv("STACKSBOT_CONFIDENCE_FLOOR"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Classifier.ConfidenceFloor = f
		}
	}
	if v := os.Getenv("STACKSBOT_TOP_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Classifier.TopK = n
		}
	}
	if v := os.Getenv("STACKSBOT_DEBUG"); v == "1" || v == "true" {
		c.Logging.DebugMode = true
		c.Logging.Level = "debug"
	}
}

// GetEmbeddingTimeout parses the embedding timeout, defaulting to 15s.
func (c *Config) GetEmbeddingTimeout() time.Duration {
	d, err := time.ParseDuration(c.Embedding.Timeout)
	if err != nil || d <= 0 {
		return 15 * time.Second
	}
	return d
}

// GetArbiterTimeout parses the arbiter call timeout, defaulting to 10s.
// This must stay shorter than any end-to-end request timeout so arbitration
// can be skipped rather than waited on.
func (c *Config) GetArbiterTimeout() time.Duration {
	d, err := time.ParseDuration(c.Arbiter.Timeout)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

// GetSessionTTL parses the conversation state TTL, defaulting to 30m.
func (c *Config) GetSessionTTL() time.Duration {
	d, err := time.ParseDuration(c.Session.TTL)
	if err != nil || d <= 0 {
		return 30 * time.Minute
	}
	return d
}

// Validate checks the configuration for values that make the pipeline
// unusable. Called once at startup; failures here are fatal.
func (c *Config) Validate() error {
	if c.Classifier.TopK <= 0 {
		return fmt.Errorf("classifier.top_k must be positive, got %d", c.Classifier.TopK)
	}
	if c.Classifier.MarginThreshold < 0 || c.Classifier.MarginThreshold > 1 {
		return fmt.Errorf("classifier.margin_threshold must be in [0,1], got %f", c.Classifier.MarginThreshold)
	}
	if c.Classifier.ConfidenceFloor < 0 || c.Classifier.ConfidenceFloor > 1 {
		return fmt.Errorf("classifier.confidence_floor must be in [0,1], got %f", c.Classifier.ConfidenceFloor)
	}
	if c.Classifier.MaxReclassificationDepth < 0 {
		return fmt.Errorf("classifier.max_reclassification_depth must not be negative")
	}
	switch c.Embedding.Provider {
	case "ollama", "genai":
	default:
		return fmt.Errorf("embedding.provider must be 'ollama' or 'genai', got %q", c.Embedding.Provider)
	}
	if c.Arbiter.DailyBudget < 0 {
		return fmt.Errorf("arbiter.daily_budget must not be negative")
	}
	if c.Catalog.Path != "" {
		if _, err := os.Stat(c.Catalog.Path); err != nil {
			return fmt.Errorf("catalog.path %q not readable: %w", c.Catalog.Path, err)
		}
	}
	return nil
}
