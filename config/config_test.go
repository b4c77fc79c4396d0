package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MemoryStore(t *testing.T) {
	t.Setenv("EVENT_STORE", " Memory ")
	t.Setenv("JWT_SECRET_KEY", "test-secret")
	t.Setenv("PORT", "9090")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
	t.Setenv("REPORT_CACHE_TTL", "2m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, EventStoreMemory, cfg.EventStore)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "funnel.events", cfg.Kafka.Topic)
	assert.Equal(t, 2*time.Minute, cfg.ReportCacheTTL)
	assert.Equal(t, 30*time.Second, cfg.AnalysisTimeout)
}

func TestLoad_ClickHouseRequiresHost(t *testing.T) {
	t.Setenv("EVENT_STORE", "clickhouse")
	t.Setenv("CLICKHOUSE_HOST", "")
	t.Setenv("CLICKHOUSE_DB_NAME", "")

	_, err := Load()
	assert.ErrorContains(t, err, "CLICKHOUSE_HOST")
}

func TestLoad_ClickHouse(t *testing.T) {
	t.Setenv("EVENT_STORE", "clickhouse")
	t.Setenv("CLICKHOUSE_HOST", "ch.internal")
	t.Setenv("CLICKHOUSE_DB_NAME", "analytics")
	t.Setenv("CLICKHOUSE_NATIVE_PORT", "9440")
	t.Setenv("JWT_SECRET_KEY", "test-secret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "ch.internal", cfg.ClickHouse.Host)
	assert.Equal(t, 9440, cfg.ClickHouse.NativePort)
}

func TestValidate(t *testing.T) {
	cfg := &Config{EventStore: "postgres", AnalysisTimeout: time.Second}
	assert.ErrorContains(t, cfg.Validate(), "unsupported EVENT_STORE")

	cfg = &Config{EventStore: EventStoreMemory, JWTSecret: "s"}
	assert.ErrorContains(t, cfg.Validate(), "ANALYSIS_TIMEOUT")

	cfg = &Config{EventStore: EventStoreMemory, AnalysisTimeout: time.Second, JWTSecret: "s", AppEnv: "production"}
	assert.NoError(t, cfg.Validate())
	assert.True(t, cfg.IsProduction())
}

func TestLoad_RequiresJWTSecret(t *testing.T) {
	t.Setenv("EVENT_STORE", "memory")
	t.Setenv("JWT_SECRET_KEY", "")

	_, err := Load()
	assert.ErrorContains(t, err, "JWT_SECRET_KEY")

	cfg := &Config{EventStore: EventStoreMemory, AnalysisTimeout: time.Second, JWTSecret: "   "}
	assert.ErrorContains(t, cfg.Validate(), "JWT_SECRET_KEY")
}
