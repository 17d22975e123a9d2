// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (RAGENT_* prefix, runtime override)
//  2. Config file (~/.ragent/config.yaml or ./config.yaml)
//  3. Default values (sensible defaults for quick start)
//
// Main configuration categories:
//   - AI: chat model, embedder model, API key
//   - Storage: PostgreSQL connection for documents and threads
//   - Indexing: watched folder, extensions, chunking, state file
//   - Loop: rewrite cap, grading and summarization thresholds
//
// Security: sensitive values (API key, database password) are masked in MarshalJSON.
//
// Error Handling:
//   - Uses sentinel errors for Go-idiomatic error checking with errors.Is()
//   - Wrap with context using fmt.Errorf("%w: details", ErrXxx)
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidChunking indicates chunk size/overlap values are inconsistent.
	ErrInvalidChunking = errors.New("invalid chunking configuration")

	// ErrInvalidWatchDir indicates the watched folder path is empty.
	ErrInvalidWatchDir = errors.New("invalid watch directory")

	// ErrInvalidRewriteLimit indicates the rewrite cap is out of range.
	ErrInvalidRewriteLimit = errors.New("invalid rewrite limit")

	// ErrInvalidSummarization indicates the compaction thresholds are inconsistent.
	ErrInvalidSummarization = errors.New("invalid summarization configuration")

	// ErrInvalidTopK indicates the retrieval top-k is out of range.
	ErrInvalidTopK = errors.New("invalid top-k")
)

// Defaults for the retrieval control loop and the indexer.
const (
	// DefaultMaxRewrites bounds question reformulation per original question.
	// At most DefaultMaxRewrites+1 retrieval attempts are made.
	DefaultMaxRewrites = 2

	// DefaultMinContextChars is the minimum retrieved-context length worth grading.
	// Shorter results skip the grader and go straight to a rewrite.
	DefaultMinContextChars = 50

	// DefaultSummarizeAfter is the message count that triggers history compaction.
	DefaultSummarizeAfter = 10

	// DefaultKeepMessages is how many recent messages survive compaction.
	DefaultKeepMessages = 4

	// DefaultTopK is the number of passages retrieved per query.
	DefaultTopK = 4

	// DefaultChunkSize is the chunk length in characters.
	DefaultChunkSize = 800

	// DefaultChunkOverlap is the overlap between consecutive chunks in characters.
	DefaultChunkOverlap = 120

	// DefaultTurnTimeout bounds a single control-loop turn end to end.
	DefaultTurnTimeout = 2 * time.Minute
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (passwords, API keys, tokens), update MarshalJSON.
type Config struct {
	// AI model configuration
	ModelName     string `mapstructure:"model_name" json:"model_name"`         // chat model (e.g. "googleai/gemini-2.5-flash")
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"` // embedding model (e.g. "text-embedding-004")
	GeminiAPIKey  string `mapstructure:"gemini_api_key" json:"gemini_api_key"` // SENSITIVE: masked in MarshalJSON
	Language      string `mapstructure:"language" json:"language"`             // response language preference ("auto" = detect)

	// Storage configuration
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Indexing configuration
	WatchDir     string   `mapstructure:"watch_dir" json:"watch_dir"`         // folder scanned by `ragent index`
	Extensions   []string `mapstructure:"extensions" json:"extensions"`       // indexable file extensions
	StateFile    string   `mapstructure:"state_file" json:"state_file"`       // persisted path→hash index state
	ChunkSize    int      `mapstructure:"chunk_size" json:"chunk_size"`       // characters per chunk
	ChunkOverlap int      `mapstructure:"chunk_overlap" json:"chunk_overlap"` // characters shared between neighbors
	WebURLs      []string `mapstructure:"web_urls" json:"web_urls"`           // pages ingested by `ragent index --web`

	// Control loop configuration
	MaxRewrites     int           `mapstructure:"max_rewrites" json:"max_rewrites"`
	MinContextChars int           `mapstructure:"min_context_chars" json:"min_context_chars"`
	SummarizeAfter  int           `mapstructure:"summarize_after" json:"summarize_after"`
	KeepMessages    int           `mapstructure:"keep_messages" json:"keep_messages"`
	TopK            int           `mapstructure:"top_k" json:"top_k"`
	TurnTimeout     time.Duration `mapstructure:"turn_timeout" json:"turn_timeout"`

	// Observability configuration (optional, off by default)
	OTLPEndpoint string `mapstructure:"otlp_endpoint" json:"otlp_endpoint"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".ragent")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v, configDir)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("model_name", "googleai/gemini-2.5-flash")
	v.SetDefault("embedder_model", "text-embedding-004")
	v.SetDefault("language", "auto")

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "ragent")
	v.SetDefault("postgres_password", "")
	v.SetDefault("postgres_db_name", "ragent")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("watch_dir", "./docs")
	v.SetDefault("extensions", []string{".txt", ".md"})
	v.SetDefault("state_file", filepath.Join(configDir, "index_state.json"))
	v.SetDefault("chunk_size", DefaultChunkSize)
	v.SetDefault("chunk_overlap", DefaultChunkOverlap)

	v.SetDefault("max_rewrites", DefaultMaxRewrites)
	v.SetDefault("min_context_chars", DefaultMinContextChars)
	v.SetDefault("summarize_after", DefaultSummarizeAfter)
	v.SetDefault("keep_messages", DefaultKeepMessages)
	v.SetDefault("top_k", DefaultTopK)
	v.SetDefault("turn_timeout", DefaultTurnTimeout)

	v.SetDefault("otlp_endpoint", "")
}

// bindEnvVariables binds RAGENT_* environment variables to config keys.
// GEMINI_API_KEY is also honored without the prefix for SDK compatibility.
func bindEnvVariables(v *viper.Viper) {
	v.SetEnvPrefix("RAGENT")
	v.AutomaticEnv()

	// Binding errors only occur for empty keys, which we never pass.
	_ = v.BindEnv("gemini_api_key", "RAGENT_GEMINI_API_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("postgres_password", "RAGENT_POSTGRES_PASSWORD")
	_ = v.BindEnv("postgres_host", "RAGENT_POSTGRES_HOST")
	_ = v.BindEnv("watch_dir", "RAGENT_WATCH_DIR")
	_ = v.BindEnv("state_file", "RAGENT_STATE_FILE")
}

// Validate checks configuration values against allowed ranges.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}
	if c.ModelName == "" {
		return fmt.Errorf("%w: model name must not be empty", ErrInvalidModelName)
	}
	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder model must not be empty", ErrInvalidEmbedderModel)
	}
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host must not be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: port %d out of range [1, 65535]", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.ChunkSize < 1 {
		return fmt.Errorf("%w: chunk size %d must be positive", ErrInvalidChunking, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: overlap %d must be in [0, chunk_size)", ErrInvalidChunking, c.ChunkOverlap)
	}
	if c.WatchDir == "" {
		return fmt.Errorf("%w: watch_dir must not be empty", ErrInvalidWatchDir)
	}
	if c.MaxRewrites < 0 || c.MaxRewrites > 10 {
		return fmt.Errorf("%w: max_rewrites %d out of range [0, 10]", ErrInvalidRewriteLimit, c.MaxRewrites)
	}
	if c.SummarizeAfter < 1 {
		return fmt.Errorf("%w: summarize_after %d must be positive", ErrInvalidSummarization, c.SummarizeAfter)
	}
	// Compaction keeps a tail of the history; the tail must be strictly
	// shorter than the trigger threshold or nothing would ever be compacted.
	if c.KeepMessages < 0 || c.KeepMessages >= c.SummarizeAfter {
		return fmt.Errorf("%w: keep_messages %d must be in [0, summarize_after)", ErrInvalidSummarization, c.KeepMessages)
	}
	if c.TopK < 1 || c.TopK > 20 {
		return fmt.Errorf("%w: top_k %d out of range [1, 20]", ErrInvalidTopK, c.TopK)
	}
	return nil
}

// ConnString returns the PostgreSQL connection URL for pgx and golang-migrate.
func (c *Config) ConnString() string {
	hostPort := net.JoinHostPort(c.PostgresHost, strconv.Itoa(c.PostgresPort))
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=%s",
		c.PostgresUser, c.PostgresPassword, hostPort, c.PostgresDBName, c.PostgresSSLMode)
}

// MarshalJSON masks sensitive fields when the configuration is serialized,
// e.g. for debug logging.
func (c *Config) MarshalJSON() ([]byte, error) {
	type alias Config // avoid recursion
	masked := alias(*c)
	if masked.GeminiAPIKey != "" {
		masked.GeminiAPIKey = "***"
	}
	if masked.PostgresPassword != "" {
		masked.PostgresPassword = "***"
	}
	return json.Marshal(masked)
}
