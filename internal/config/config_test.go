package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	Reset()
	t.Cleanup(Reset)
	setDefaults()

	s, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", s.LogLevel)
	assert.Equal(t, 768, s.LLM.EmbeddingDimension)
	assert.Equal(t, 16, s.DB.HNSWM)
	assert.Equal(t, 64, s.DB.HNSWEfConstruct)
	assert.Equal(t, 4, s.Queue.Workers)
	assert.Equal(t, 4, s.Queue.StageFanout)
	assert.InDelta(t, 0.7, s.Retrieve.SemanticWeight, 1e-9)
	assert.InDelta(t, 0.001, s.Retrieve.TimeDecayLambda, 1e-9)
	assert.Equal(t, 6, s.Chat.WindowTurns)
	assert.Equal(t, time.Hour, s.Chat.SessionTTL)
	assert.Equal(t, time.Hour, s.Queue.HardTimeout)
	assert.Equal(t, 55*time.Minute, s.Queue.SoftTimeout)
	assert.Equal(t, "docx", s.Drive.ExportFormats["application/vnd.google-apps.document"])
}

func TestLoadOverrides(t *testing.T) {
	Reset()
	t.Cleanup(Reset)
	setDefaults()

	viper.Set("llm.embedding_dimension", 1536)
	viper.Set("retrieval.semantic_weight", 0.5)
	viper.Set("queue.workers", 8)

	s, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 1536, s.LLM.EmbeddingDimension)
	assert.InDelta(t, 0.5, s.Retrieve.SemanticWeight, 1e-9)
	assert.Equal(t, 8, s.Queue.Workers)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  any
	}{
		{"zero embedding dimension", "llm.embedding_dimension", 0},
		{"semantic weight above one", "retrieval.semantic_weight", 1.5},
		{"negative lambda", "retrieval.time_decay_lambda", -0.1},
		{"zero workers", "queue.workers", 0},
		{"user level out of range", "chat.default_user_level", 9},
		{"bad port", "server.port", 0},
		{"ef below m", "db.hnsw_ef_construction", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Reset()
			t.Cleanup(Reset)
			setDefaults()
			viper.Set(tt.key, tt.val)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestValidateSoftTimeoutBound(t *testing.T) {
	Reset()
	t.Cleanup(Reset)
	setDefaults()

	viper.Set("queue.hard_timeout", "10m")
	viper.Set("queue.soft_timeout", "20m")

	_, err := Load()
	assert.ErrorContains(t, err, "soft_timeout")
}

func TestExpandHome(t *testing.T) {
	t.Setenv("HOME", "/home/test")

	assert.Equal(t, "/home/test/x", expandHome("~/x"))
	assert.Equal(t, "/home/test", expandHome("~"))
	assert.Equal(t, "~user/x", expandHome("~user/x"))
	assert.Equal(t, "/abs/path", expandHome("/abs/path"))
	assert.Equal(t, "", expandHome(""))
}
