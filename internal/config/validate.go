package config

import (
	"errors"
	"fmt"
)

// Validate checks the loaded settings for out-of-range values. It returns
// all problems joined, not just the first, so a broken config file can be
// fixed in one pass.
func (s *Settings) Validate() error {
	var errs []error

	if s.DB.ConnString == "" {
		errs = append(errs, errors.New("db.connection_string must be set"))
	}
	if s.DB.HNSWM <= 0 {
		errs = append(errs, fmt.Errorf("db.hnsw_m must be positive; got %d", s.DB.HNSWM))
	}
	if s.DB.HNSWEfConstruct < s.DB.HNSWM {
		errs = append(errs, fmt.Errorf("db.hnsw_ef_construction must be >= db.hnsw_m; got %d < %d",
			s.DB.HNSWEfConstruct, s.DB.HNSWM))
	}

	if s.LLM.EmbeddingDimension <= 0 {
		errs = append(errs, fmt.Errorf("llm.embedding_dimension must be positive; got %d", s.LLM.EmbeddingDimension))
	}
	if s.LLM.EmbeddingBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("llm.embedding_batch_size must be positive; got %d", s.LLM.EmbeddingBatchSize))
	}
	if s.LLM.RequestsPerSecond <= 0 {
		errs = append(errs, fmt.Errorf("llm.requests_per_second must be positive; got %g", s.LLM.RequestsPerSecond))
	}

	if s.Queue.Workers <= 0 {
		errs = append(errs, fmt.Errorf("queue.workers must be positive; got %d", s.Queue.Workers))
	}
	if s.Queue.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("queue.max_retries must be non-negative; got %d", s.Queue.MaxRetries))
	}
	if s.Queue.StageFanout <= 0 {
		errs = append(errs, fmt.Errorf("queue.stage_fanout must be positive; got %d", s.Queue.StageFanout))
	}
	if s.Queue.SoftTimeout > s.Queue.HardTimeout {
		errs = append(errs, fmt.Errorf("queue.soft_timeout must not exceed queue.hard_timeout; got %s > %s",
			s.Queue.SoftTimeout, s.Queue.HardTimeout))
	}

	if s.Retrieve.SemanticWeight < 0 || s.Retrieve.SemanticWeight > 1 {
		errs = append(errs, fmt.Errorf("retrieval.semantic_weight must be in [0,1]; got %g", s.Retrieve.SemanticWeight))
	}
	if s.Retrieve.TimeDecayLambda < 0 {
		errs = append(errs, fmt.Errorf("retrieval.time_decay_lambda must be non-negative; got %g", s.Retrieve.TimeDecayLambda))
	}

	if s.Chat.WindowTurns <= 0 {
		errs = append(errs, fmt.Errorf("chat.window_turns must be positive; got %d", s.Chat.WindowTurns))
	}
	if s.Chat.DefaultLevel < 1 || s.Chat.DefaultLevel > 4 {
		errs = append(errs, fmt.Errorf("chat.default_user_level must be in [1,4]; got %d", s.Chat.DefaultLevel))
	}

	if s.Server.Port <= 0 || s.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be in [1,65535]; got %d", s.Server.Port))
	}

	return errors.Join(errs...)
}
