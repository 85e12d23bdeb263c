package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetHelpersFallBackOnInvalidValues(t *testing.T) {
	t.Setenv("CFG_INT", "not-a-number")
	t.Setenv("CFG_BOOL", "maybe")
	assert.Equal(t, 7, GetInt("CFG_INT", 7))
	assert.True(t, GetBool("CFG_BOOL", true))
	assert.Equal(t, "fallback", GetString("CFG_UNSET", "fallback"))
}

func TestGetSecondsAndList(t *testing.T) {
	t.Setenv("CFG_SECONDS", "45")
	t.Setenv("CFG_LIST", " a, ,b ,")
	assert.Equal(t, 45*time.Second, GetSeconds("CFG_SECONDS", time.Second))
	assert.Equal(t, []string{"a", "b"}, GetList("CFG_LIST", nil))
	assert.Nil(t, GetList("CFG_LIST_UNSET", nil))
}

func TestLoadAPIConfigReadsWebhookSettings(t *testing.T) {
	t.Setenv("WEBHOOK_TIMEOUT_SECONDS", "3")
	t.Setenv("WEBHOOK_WORKERS", "2")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("APP_ENV", "memory")

	cfg := LoadAPIConfig()
	assert.Equal(t, 3*time.Second, cfg.WebhookTimeout)
	assert.Equal(t, 2, cfg.WebhookWorkers)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.InMemory())
}
