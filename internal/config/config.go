// Package config loads the process-wide configuration. Settings are read
// once at startup (config file, environment, defaults) into an immutable
// Settings value that is passed explicitly to the components that need it.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// configFilePath stores the path to the loaded config file.
var configFilePath string

// Settings is the full, validated runtime configuration. It is immutable
// after Load returns.
type Settings struct {
	LogLevel string
	LogFile  string

	DB       DBSettings
	Blob     BlobSettings
	Drive    DriveSettings
	Parser   ParserSettings
	LLM      LLMSettings
	Queue    QueueSettings
	Retrieve RetrieveSettings
	Chat     ChatSettings
	Server   ServerSettings
}

// DBSettings configures the metadata store.
type DBSettings struct {
	ConnString        string
	HNSWM             int
	HNSWEfConstruct   int
	IndexRebuildAfter int // new chunks before an async index refresh
}

// BlobSettings configures the blob store.
type BlobSettings struct {
	ScratchDir string
	Bucket     string
	Endpoint   string
	Region     string
	AccessKey  string
	SecretKey  string
}

// DriveSettings configures the drive sync adapter.
type DriveSettings struct {
	BaseURL         string
	RemoteName      string
	Token           string
	IncludePatterns []string
	ExcludePatterns []string
	ExportFormats   map[string]string
	Timeout         time.Duration
}

// ParserSettings configures the document parser adapter.
type ParserSettings struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// LLMSettings configures the LLM and embedding adapters.
type LLMSettings struct {
	BaseURL            string
	APIKey             string
	Model              string
	VisionModel        string
	EmbeddingModel     string
	EmbeddingDimension int
	EmbeddingBatchSize int
	RequestsPerSecond  float64
	Timeout            time.Duration
}

// QueueSettings configures the task queue and workers.
type QueueSettings struct {
	RedisURL       string
	KeyPrefix      string
	Workers        int
	MaxRetries     int
	HardTimeout    time.Duration
	SoftTimeout    time.Duration
	StageFanout    int // bounded concurrency for intra-stage external calls
	ResultTTL      time.Duration
	DequeueTimeout time.Duration
}

// RetrieveSettings configures the retrieval engine.
type RetrieveSettings struct {
	SemanticWeight  float64
	TimeDecayLambda float64 // per day
	DefaultTopK     int
}

// ChatSettings configures the conversational layer.
type ChatSettings struct {
	SessionTTL   time.Duration
	WindowTurns  int
	DefaultTopK  int
	DefaultLevel int
}

// ServerSettings configures the HTTP API.
type ServerSettings struct {
	Bind            string
	Port            int
	APIKey          string
	ShutdownTimeout time.Duration
}

// Init initializes the viper subsystem. It searches for configuration files
// in priority order:
//  1. Directory named by COUNCILKB_CONFIG_DIR
//  2. ~/.config/councilkb/
//  3. Current working directory
//
// A missing config file is fine; defaults and environment variables apply.
func Init() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix("COUNCILKB")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if envPath := os.Getenv("COUNCILKB_CONFIG_DIR"); envPath != "" {
		viper.AddConfigPath(envPath)
	}
	if home := os.Getenv("HOME"); home != "" {
		viper.AddConfigPath(filepath.Join(home, ".config", "councilkb"))
	}
	viper.AddConfigPath(".")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			configFilePath = ""
			return nil
		}
		return fmt.Errorf("failed to read config; %w", err)
	}

	configFilePath = viper.ConfigFileUsed()
	slog.Info("config initialized", "file", configFilePath)
	return nil
}

// ConfigFilePath returns the path to the loaded config file, or empty string
// if only defaults are in use.
func ConfigFilePath() string {
	return configFilePath
}

// GetString returns a raw config string. For pre-Load access such as the
// logging bootstrap; everything else should go through Load.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetPath returns a config string with a leading ~ expanded.
func GetPath(key string) string {
	return expandHome(viper.GetString(key))
}

// Reset clears the configuration state for testing purposes.
func Reset() {
	viper.Reset()
	configFilePath = ""
}

// Load materializes and validates the Settings from the current viper state.
func Load() (*Settings, error) {
	s := &Settings{
		LogLevel: viper.GetString("log_level"),
		LogFile:  expandHome(viper.GetString("log_file")),
		DB: DBSettings{
			ConnString:        viper.GetString("db.connection_string"),
			HNSWM:             viper.GetInt("db.hnsw_m"),
			HNSWEfConstruct:   viper.GetInt("db.hnsw_ef_construction"),
			IndexRebuildAfter: viper.GetInt("db.index_rebuild_after"),
		},
		Blob: BlobSettings{
			ScratchDir: expandHome(viper.GetString("blob.scratch_dir")),
			Bucket:     viper.GetString("blob.bucket"),
			Endpoint:   viper.GetString("blob.endpoint"),
			Region:     viper.GetString("blob.region"),
			AccessKey:  viper.GetString("blob.access_key"),
			SecretKey:  viper.GetString("blob.secret_key"),
		},
		Drive: DriveSettings{
			BaseURL:         viper.GetString("drive.base_url"),
			RemoteName:      viper.GetString("drive.remote_name"),
			Token:           viper.GetString("drive.token"),
			IncludePatterns: viper.GetStringSlice("drive.include_patterns"),
			ExcludePatterns: viper.GetStringSlice("drive.exclude_patterns"),
			ExportFormats:   viper.GetStringMapString("drive.export_formats"),
			Timeout:         viper.GetDuration("drive.timeout"),
		},
		Parser: ParserSettings{
			BaseURL: viper.GetString("parser.base_url"),
			APIKey:  viper.GetString("parser.api_key"),
			Timeout: viper.GetDuration("parser.timeout"),
		},
		LLM: LLMSettings{
			BaseURL:            viper.GetString("llm.base_url"),
			APIKey:             viper.GetString("llm.api_key"),
			Model:              viper.GetString("llm.model"),
			VisionModel:        viper.GetString("llm.vision_model"),
			EmbeddingModel:     viper.GetString("llm.embedding_model"),
			EmbeddingDimension: viper.GetInt("llm.embedding_dimension"),
			EmbeddingBatchSize: viper.GetInt("llm.embedding_batch_size"),
			RequestsPerSecond:  viper.GetFloat64("llm.requests_per_second"),
			Timeout:            viper.GetDuration("llm.timeout"),
		},
		Queue: QueueSettings{
			RedisURL:       viper.GetString("queue.redis_url"),
			KeyPrefix:      viper.GetString("queue.key_prefix"),
			Workers:        viper.GetInt("queue.workers"),
			MaxRetries:     viper.GetInt("queue.max_retries"),
			HardTimeout:    viper.GetDuration("queue.hard_timeout"),
			SoftTimeout:    viper.GetDuration("queue.soft_timeout"),
			StageFanout:    viper.GetInt("queue.stage_fanout"),
			ResultTTL:      viper.GetDuration("queue.result_ttl"),
			DequeueTimeout: viper.GetDuration("queue.dequeue_timeout"),
		},
		Retrieve: RetrieveSettings{
			SemanticWeight:  viper.GetFloat64("retrieval.semantic_weight"),
			TimeDecayLambda: viper.GetFloat64("retrieval.time_decay_lambda"),
			DefaultTopK:     viper.GetInt("retrieval.default_top_k"),
		},
		Chat: ChatSettings{
			SessionTTL:   viper.GetDuration("chat.session_ttl"),
			WindowTurns:  viper.GetInt("chat.window_turns"),
			DefaultTopK:  viper.GetInt("chat.default_top_k"),
			DefaultLevel: viper.GetInt("chat.default_user_level"),
		},
		Server: ServerSettings{
			Bind:            viper.GetString("server.bind"),
			Port:            viper.GetInt("server.port"),
			APIKey:          viper.GetString("server.api_key"),
			ShutdownTimeout: viper.GetDuration("server.shutdown_timeout"),
		},
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// expandHome expands a leading ~ in path to the user's home directory.
// Only "~" alone or "~/..." patterns are expanded.
func expandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	if len(path) > 1 && path[1] != '/' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if len(path) == 1 {
		return home
	}
	return filepath.Join(home, path[2:])
}
