package config

import "github.com/spf13/viper"

// Default configuration values.
const (
	LogLevel = "info"
	LogFile  = "~/.config/councilkb/councilkb.log"

	ServerPort            = 7800
	ServerBind            = "127.0.0.1"
	ServerShutdownTimeout = "30s"

	EmbeddingDimension = 768
	EmbeddingBatchSize = 64
	HNSWM              = 16
	HNSWEfConstruct    = 64
	IndexRebuildAfter  = 1000

	QueueWorkers     = 4
	QueueMaxRetries  = 3
	QueueStageFanout = 4

	SemanticWeight  = 0.7
	TimeDecayLambda = 0.001 // per day; ~0.7 recency at one year

	SessionWindowTurns = 6
)

// setDefaults registers all default configuration values with viper.
// Called during Init() before reading config files.
func setDefaults() {
	viper.SetDefault("log_level", LogLevel)
	viper.SetDefault("log_file", LogFile)

	viper.SetDefault("db.connection_string", "postgres://localhost:5432/councilkb?sslmode=disable")
	viper.SetDefault("db.hnsw_m", HNSWM)
	viper.SetDefault("db.hnsw_ef_construction", HNSWEfConstruct)
	viper.SetDefault("db.index_rebuild_after", IndexRebuildAfter)

	viper.SetDefault("blob.scratch_dir", "~/.cache/councilkb/scratch")
	viper.SetDefault("blob.bucket", "councilkb")
	viper.SetDefault("blob.region", "us-east-1")

	viper.SetDefault("drive.remote_name", "drive")
	viper.SetDefault("drive.timeout", "300s")
	viper.SetDefault("drive.export_formats", map[string]string{
		"application/vnd.google-apps.document":     "docx",
		"application/vnd.google-apps.spreadsheet":  "xlsx",
		"application/vnd.google-apps.presentation": "pptx",
	})

	viper.SetDefault("parser.timeout", "180s")

	viper.SetDefault("llm.model", "gpt-4o-mini")
	viper.SetDefault("llm.vision_model", "gpt-4o-mini")
	viper.SetDefault("llm.embedding_model", "text-embedding-3-small")
	viper.SetDefault("llm.embedding_dimension", EmbeddingDimension)
	viper.SetDefault("llm.embedding_batch_size", EmbeddingBatchSize)
	viper.SetDefault("llm.requests_per_second", 1.0)
	viper.SetDefault("llm.timeout", "60s")

	viper.SetDefault("queue.redis_url", "redis://localhost:6379/0")
	viper.SetDefault("queue.key_prefix", "councilkb:")
	viper.SetDefault("queue.workers", QueueWorkers)
	viper.SetDefault("queue.max_retries", QueueMaxRetries)
	viper.SetDefault("queue.hard_timeout", "1h")
	viper.SetDefault("queue.soft_timeout", "55m")
	viper.SetDefault("queue.stage_fanout", QueueStageFanout)
	viper.SetDefault("queue.result_ttl", "24h")
	viper.SetDefault("queue.dequeue_timeout", "5s")

	viper.SetDefault("retrieval.semantic_weight", SemanticWeight)
	viper.SetDefault("retrieval.time_decay_lambda", TimeDecayLambda)
	viper.SetDefault("retrieval.default_top_k", 5)

	viper.SetDefault("chat.session_ttl", "1h")
	viper.SetDefault("chat.window_turns", SessionWindowTurns)
	viper.SetDefault("chat.default_top_k", 5)
	viper.SetDefault("chat.default_user_level", 4)

	viper.SetDefault("server.bind", ServerBind)
	viper.SetDefault("server.port", ServerPort)
	viper.SetDefault("server.shutdown_timeout", ServerShutdownTimeout)
}
