package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Queue execution modes: inprocess runs steps on the importing process's
// worker pool, badger dispatches through durable per-step queues.
const (
	QueueModeInProcess = "inprocess"
	QueueModeBadger    = "badger"
)

// Provider names for the embeddings and textgen sections.
const (
	ProviderGemini = "gemini"
	ProviderClaude = "claude"
	ProviderMock   = "mock"
)

// Config represents the application configuration
type Config struct {
	Server       ServerConfig       `toml:"server"`
	Storage      StorageConfig      `toml:"storage"`
	Queue        QueueConfig        `toml:"queue"`
	Memory       MemoryConfig       `toml:"memory"`
	Partitioning PartitioningConfig `toml:"partitioning"`
	Embeddings   EmbeddingsConfig   `toml:"embeddings"`
	TextGen      TextGenConfig      `toml:"textgen"`
	Summarize    SummarizeConfig    `toml:"summarize"`
	Maintenance  MaintenanceConfig  `toml:"maintenance"`
	Logging      LoggingConfig      `toml:"logging"`
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"min=1,max=65535"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	DataDir        string `toml:"data_dir"`         // Root data directory
	DocumentsDir   string `toml:"documents_dir"`    // Blob store subdirectory (joined to data_dir when relative)
	BadgerDir      string `toml:"badger_dir"`       // Badger subdirectory (joined to data_dir when relative)
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete stored data on startup for clean test runs
	Volatile       bool   `toml:"volatile"`         // Keep everything in memory, nothing survives restart
}

type QueueConfig struct {
	Mode              string `toml:"mode" validate:"oneof=inprocess badger"` // "inprocess" or "badger"
	PollInterval      string `toml:"poll_interval"`                          // e.g., "500ms" - how often workers poll for messages
	Concurrency       int    `toml:"concurrency" validate:"min=1"`           // Number of concurrent workers
	VisibilityTimeout string `toml:"visibility_timeout"`                     // e.g., "5m" - message visibility timeout for redelivery
	MaxReceive        int    `toml:"max_receive" validate:"min=1"`           // Max deliveries before a message is poisoned
}

type MemoryConfig struct {
	DefaultIndex      string  `toml:"default_index"`                         // Index used when requests omit one
	SearchLimit       int     `toml:"search_limit" validate:"min=1"`         // Default top-K for search and ask
	MinRelevance      float64 `toml:"min_relevance"`                         // Default similarity floor, cosine [-1, 1]
	PromptTokenBudget int     `toml:"prompt_token_budget" validate:"min=64"` // Facts budget when assembling the answer prompt
	AnswerTokens      int     `toml:"answer_tokens" validate:"min=16"`       // Max tokens requested from the text generator
	EmptyAnswer       string  `toml:"empty_answer"`                          // Text returned when retrieval finds nothing
}

type PartitioningConfig struct {
	MaxTokensPerParagraph int `toml:"max_tokens_per_paragraph" validate:"min=16"` // Partition size cap
	OverlappingTokens     int `toml:"overlapping_tokens" validate:"min=0"`        // Tail tokens repeated at the head of the next partition
	MaxTokensPerLine      int `toml:"max_tokens_per_line" validate:"min=8"`       // Line split bound for text-oriented chunking
}

type EmbeddingsConfig struct {
	Provider          string  `toml:"provider" validate:"oneof=gemini mock"` // "gemini" or "mock"
	APIKey            string  `toml:"api_key"`                               // GEMINI_API_KEY env overrides
	Model             string  `toml:"model"`                                 // e.g., "gemini-embedding-001"
	Dimension         int     `toml:"dimension" validate:"min=8"`            // Vector size for every index this embedder feeds
	MaxBatchSize      int     `toml:"max_batch_size" validate:"min=1"`       // Elements per batch call
	MaxBatchTokens    int     `toml:"max_batch_tokens" validate:"min=64"`    // Summed token cap per batch call
	RequestsPerSecond float64 `toml:"requests_per_second"`                   // Client-side rate limit, 0 disables
	Timeout           string  `toml:"timeout"`                               // Per-call timeout, e.g., "60s"
}

type TextGenConfig struct {
	Provider  string `toml:"provider" validate:"oneof=claude gemini mock"` // "claude", "gemini" or "mock"
	APIKey    string `toml:"api_key"`                                      // ANTHROPIC_API_KEY / GEMINI_API_KEY env overrides
	Model     string `toml:"model"`                                        // e.g., "claude-haiku-4-5"
	MaxTokens int    `toml:"max_tokens" validate:"min=16"`                 // Max completion tokens
	Timeout   string `toml:"timeout"`                                      // Per-call timeout, e.g., "120s"
}

type SummarizeConfig struct {
	TargetTokens      int `toml:"target_tokens" validate:"min=32"` // Summary budget per document
	OverlappingTokens int `toml:"overlapping_tokens"`              // Overlap when re-chunking oversized content
}

type MaintenanceConfig struct {
	Enabled    bool   `toml:"enabled"`     // Run the janitor
	Schedule   string `toml:"schedule"`    // Cron schedule with seconds, e.g., "0 */5 * * * *"
	StaleAfter string `toml:"stale_after"` // Re-enqueue pipelines idle longer than this, e.g., "30m"
}

type LoggingConfig struct {
	Level      string `toml:"level"`       // "debug", "info", "warn", "error"
	FileOutput bool   `toml:"file_output"` // Also write logs to file
	TimeFormat string `toml:"time_format"` // Console time format (default: "15:04:05")
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability; only
// user-facing settings belong in mnemo.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 9080,
			Host: "localhost",
		},
		Storage: StorageConfig{
			DataDir:      "./data",
			DocumentsDir: "documents",
			BadgerDir:    "badger",
		},
		Queue: QueueConfig{
			Mode:              QueueModeInProcess,
			PollInterval:      "500ms",
			Concurrency:       4,
			VisibilityTimeout: "5m",
			MaxReceive:        20, // Poison threshold shared by every step queue
		},
		Memory: MemoryConfig{
			DefaultIndex:      "default",
			SearchLimit:       10,
			MinRelevance:      0, // Keep non-negative matches unless the caller tightens it
			PromptTokenBudget: 4096,
			AnswerTokens:      512,
			EmptyAnswer:       "INFO NOT FOUND",
		},
		Partitioning: PartitioningConfig{
			MaxTokensPerParagraph: 1000,
			OverlappingTokens:     100,
			MaxTokensPerLine:      300,
		},
		Embeddings: EmbeddingsConfig{
			Provider:          ProviderMock, // Mock keeps the service usable without keys; set "gemini" for real vectors
			Model:             "gemini-embedding-001",
			Dimension:         768,
			MaxBatchSize:      16,
			MaxBatchTokens:    8192,
			RequestsPerSecond: 5,
			Timeout:           "60s",
		},
		TextGen: TextGenConfig{
			Provider:  ProviderMock,
			Model:     "claude-haiku-4-5",
			MaxTokens: 1024,
			Timeout:   "120s",
		},
		Summarize: SummarizeConfig{
			TargetTokens:      512,
			OverlappingTokens: 0,
		},
		Maintenance: MaintenanceConfig{
			Enabled:    true,
			Schedule:   "0 */5 * * * *", // Every 5 minutes
			StaleAfter: "30m",
		},
		Logging: LoggingConfig{
			Level:      "info",
			FileOutput: true,
			TimeFormat: "15:04:05",
		},
	}
}

// LoadFromFile loads configuration with priority: defaults -> file -> env.
// An empty path keeps the defaults (plus env overrides).
func LoadFromFile(path string) (*Config, error) {
	config := NewDefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	// Server configuration
	if port := os.Getenv("MNEMO_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("MNEMO_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Storage configuration
	if dataDir := os.Getenv("MNEMO_DATA_DIR"); dataDir != "" {
		config.Storage.DataDir = dataDir
	}

	// Queue configuration
	if mode := os.Getenv("MNEMO_QUEUE_MODE"); mode != "" {
		config.Queue.Mode = mode
	}
	if concurrency := os.Getenv("MNEMO_QUEUE_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil {
			config.Queue.Concurrency = c
		}
	}

	// API keys from the providers' conventional variables
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		config.Embeddings.APIKey = key
		if config.TextGen.Provider == ProviderGemini && config.TextGen.APIKey == "" {
			config.TextGen.APIKey = key
		}
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		if config.TextGen.Provider == ProviderClaude || config.TextGen.APIKey == "" {
			config.TextGen.APIKey = key
		}
	}

	// Logging configuration
	if level := os.Getenv("MNEMO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}

// ApplyFlagOverrides applies command-line overrides. Zero values leave the
// config untouched.
func ApplyFlagOverrides(config *Config, port int, dataDir string) {
	if port > 0 {
		config.Server.Port = port
	}
	if dataDir != "" {
		config.Storage.DataDir = dataDir
	}
}

// Validate checks structural constraints plus the relations validator tags
// cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := c.PollInterval(); err != nil {
		return fmt.Errorf("invalid queue.poll_interval: %w", err)
	}
	if _, err := c.VisibilityTimeout(); err != nil {
		return fmt.Errorf("invalid queue.visibility_timeout: %w", err)
	}
	if c.Partitioning.OverlappingTokens >= c.Partitioning.MaxTokensPerParagraph {
		return fmt.Errorf("partitioning.overlapping_tokens (%d) must be smaller than max_tokens_per_paragraph (%d)",
			c.Partitioning.OverlappingTokens, c.Partitioning.MaxTokensPerParagraph)
	}
	return nil
}

// DocumentsPath returns the blob store root, joining relative paths to the
// data directory.
func (c *Config) DocumentsPath() string {
	return joinDataDir(c.Storage.DataDir, c.Storage.DocumentsDir)
}

// BadgerPath returns the badger database directory, joining relative paths to
// the data directory.
func (c *Config) BadgerPath() string {
	return joinDataDir(c.Storage.DataDir, c.Storage.BadgerDir)
}

func joinDataDir(dataDir, sub string) string {
	if sub == "" {
		return dataDir
	}
	if filepath.IsAbs(sub) {
		return sub
	}
	return filepath.Join(dataDir, sub)
}

// PollInterval parses the queue poll interval.
func (c *Config) PollInterval() (time.Duration, error) {
	return time.ParseDuration(c.Queue.PollInterval)
}

// VisibilityTimeout parses the queue visibility timeout.
func (c *Config) VisibilityTimeout() (time.Duration, error) {
	return time.ParseDuration(c.Queue.VisibilityTimeout)
}

// EmbeddingsTimeout parses the embeddings call timeout, falling back to 60s.
func (c *Config) EmbeddingsTimeout() time.Duration {
	d, err := time.ParseDuration(c.Embeddings.Timeout)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

// TextGenTimeout parses the text generation call timeout, falling back to 120s.
func (c *Config) TextGenTimeout() time.Duration {
	d, err := time.ParseDuration(c.TextGen.Timeout)
	if err != nil || d <= 0 {
		return 120 * time.Second
	}
	return d
}

// StaleAfter parses the maintenance staleness threshold, falling back to 30m.
func (c *Config) StaleAfter() time.Duration {
	d, err := time.ParseDuration(c.Maintenance.StaleAfter)
	if err != nil || d <= 0 {
		return 30 * time.Minute
	}
	return d
}
