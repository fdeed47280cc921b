// Package config carries the server configuration. Values arrive through
// CLI flags backed by GALE_ environment variables; this package supplies
// defaults, validation and derived connection strings.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	EventBusGoChannel = "gochannel"
	EventBusKafka     = "kafka"
)

type Config struct {
	Port         string `validate:"required"`
	WorkflowsDir string `validate:"required"`
	DatabasePath string `validate:"required"`

	EventBusProvider string   `validate:"oneof=gochannel kafka"`
	KafkaBrokers     []string `validate:"required_if=EventBusProvider kafka"`

	RedisAddr     string
	RedisPassword string

	StatusWebhookURL   string `validate:"omitempty,url"`
	StatusWebhookToken string

	Workers     int `validate:"min=0"`
	QueueSize   int `validate:"min=0"`
	MaxParallel int `validate:"min=0"`

	Workdir     string
	DeliveryTTL time.Duration

	LogLevel string `validate:"oneof=debug info warn error"`
}

// Normalize fills defaults and canonicalizes fields before validation.
func (c *Config) Normalize() {
	if c.Port != "" && !strings.HasPrefix(c.Port, ":") {
		c.Port = ":" + c.Port
	}

	if c.EventBusProvider == "" {
		c.EventBusProvider = EventBusGoChannel
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	if c.DeliveryTTL <= 0 {
		c.DeliveryTTL = time.Hour
	}
}

func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	return nil
}

// SQLiteDSN builds the connection string for the run database. The write
// handle takes immediate transactions so lock contention surfaces as a
// busy wait instead of a late SQLITE_BUSY.
func (c *Config) SQLiteDSN(readonly bool) string {
	params := make(url.Values)
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "busy_timeout(5000)")
	params.Add("_pragma", "synchronous(NORMAL)")
	params.Add("_pragma", "foreign_keys(ON)")

	if readonly {
		params.Add("mode", "ro")
	} else {
		params.Add("_txlock", "immediate")
		params.Add("mode", "rwc")
	}

	return "file:" + c.DatabasePath + "?" + params.Encode()
}
