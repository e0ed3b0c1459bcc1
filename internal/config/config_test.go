package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, StoreBackendPostgres, cfg.StoreBackend)
	assert.Equal(t, 2*time.Second, cfg.StoreTimeout)
	assert.Equal(t, 64, cfg.Live.BufferSize)
	assert.False(t, cfg.RefundRetainAttendance)
	assert.Equal(t, 8192, cfg.NotifyQueueSize)
	assert.False(t, cfg.Audit.Enabled)
	assert.Equal(t, "checkin-attempts", cfg.Audit.Index)
	assert.Equal(t, []string{"http://localhost:9200"}, cfg.Audit.Addresses)
	assert.Equal(t, 10*time.Second, cfg.Audit.Timeout)
}

func TestAuditConfig(t *testing.T) {
	t.Setenv("AUDIT_ENABLED", "1")
	t.Setenv("ELASTICSEARCH_URL", "http://es-single:9200")
	t.Setenv("ELASTICSEARCH_ADDRESSES", "http://es-1:9200,http://es-2:9200")
	t.Setenv("AUDIT_TIMEOUT", "1500ms")
	t.Setenv("AUDIT_QUEUE_SIZE", "16")

	cfg := Load()

	assert.True(t, cfg.Audit.Enabled)
	assert.Equal(t, []string{"http://es-1:9200", "http://es-2:9200"}, cfg.Audit.Addresses)
	assert.Equal(t, 1500*time.Millisecond, cfg.Audit.Timeout)
	assert.Equal(t, 16, cfg.Audit.QueueSize)
}

func TestAuditConfigSingleURLAndBadTimeout(t *testing.T) {
	t.Setenv("ELASTICSEARCH_URL", "http://es-single:9200")
	t.Setenv("AUDIT_TIMEOUT", "soon")

	cfg := Load()

	assert.Equal(t, []string{"http://es-single:9200"}, cfg.Audit.Addresses)
	assert.Equal(t, 10*time.Second, cfg.Audit.Timeout)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("STORE_BACKEND", StoreBackendMemory)
	t.Setenv("STORE_TIMEOUT_MS", "750")
	t.Setenv("REFUND_RETAIN_ATTENDANCE", "true")
	t.Setenv("LIVE_BUFFER_SIZE", "8")
	t.Setenv("DB_PORT", "not-a-number")

	cfg := Load()

	assert.Equal(t, StoreBackendMemory, cfg.StoreBackend)
	assert.Equal(t, 750*time.Millisecond, cfg.StoreTimeout)
	assert.True(t, cfg.RefundRetainAttendance)
	assert.Equal(t, 8, cfg.Live.BufferSize)
	assert.Equal(t, 5432, cfg.Database.Port)
}

func TestCORSOrigins(t *testing.T) {
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://gate.example.com, ,https://ops.example.com ")

	cfg := Load()

	assert.Equal(t, []string{"https://gate.example.com", "https://ops.example.com"}, cfg.CORSOrigins)
}
