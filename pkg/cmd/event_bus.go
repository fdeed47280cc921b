package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/dukex/gale/pkg/channels/gochannel"
	"github.com/dukex/gale/pkg/channels/kafka"
	"github.com/dukex/gale/pkg/config"
	"github.com/dukex/gale/pkg/eventbus"
)

func NewEventBus(provider string, brokers []string, logger *slog.Logger) eventbus.EventBus {
	switch provider {
	case config.EventBusKafka:
		pub, sub, err := kafka.CreateChannel(watermill.NewSlogLogger(logger), "gale", brokers)
		if err != nil {
			panic(fmt.Errorf("failed to create Kafka pub/sub: %w", err))
		}

		return eventbus.NewWatermillEventBus(pub, sub)
	case config.EventBusGoChannel:
		pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
		if err != nil {
			panic(fmt.Errorf("failed to create in-memory pub/sub: %w", err))
		}

		return eventbus.NewWatermillEventBus(pub, sub)
	default:
		panic("Unsupported event bus provider: " + provider)
	}
}
