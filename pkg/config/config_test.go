package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Port:             "8080",
		WorkflowsDir:     "./workflows",
		DatabasePath:     "./gale.sqlite",
		EventBusProvider: EventBusGoChannel,
		LogLevel:         "info",
	}
}

func TestNormalizeDefaults(t *testing.T) {
	cfg := Config{Port: "8080"}
	cfg.Normalize()

	assert.Equal(t, ":8080", cfg.Port)
	assert.Equal(t, EventBusGoChannel, cfg.EventBusProvider)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, time.Hour, cfg.DeliveryTTL)
}

func TestNormalizeKeepsExplicitValues(t *testing.T) {
	cfg := Config{
		Port:             ":9000",
		EventBusProvider: EventBusKafka,
		LogLevel:         "debug",
		DeliveryTTL:      10 * time.Minute,
	}
	cfg.Normalize()

	assert.Equal(t, ":9000", cfg.Port)
	assert.Equal(t, EventBusKafka, cfg.EventBusProvider)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 10*time.Minute, cfg.DeliveryTTL)
}

func TestValidate(t *testing.T) {
	cfg := validConfig()
	cfg.Normalize()
	require.NoError(t, cfg.Validate())

	missing := cfg
	missing.WorkflowsDir = ""
	require.Error(t, missing.Validate())

	badLevel := cfg
	badLevel.LogLevel = "verbose"
	require.Error(t, badLevel.Validate())

	kafkaWithoutBrokers := cfg
	kafkaWithoutBrokers.EventBusProvider = EventBusKafka
	require.Error(t, kafkaWithoutBrokers.Validate())

	kafka := cfg
	kafka.EventBusProvider = EventBusKafka
	kafka.KafkaBrokers = []string{"localhost:9092"}
	require.NoError(t, kafka.Validate())
}

func TestSQLiteDSN(t *testing.T) {
	cfg := validConfig()

	write := cfg.SQLiteDSN(false)
	assert.Contains(t, write, "file:./gale.sqlite?")
	assert.Contains(t, write, "mode=rwc")
	assert.Contains(t, write, "_txlock=immediate")
	assert.Contains(t, write, "journal_mode%28WAL%29")

	read := cfg.SQLiteDSN(true)
	assert.Contains(t, read, "mode=ro")
	assert.NotContains(t, read, "_txlock")
}
