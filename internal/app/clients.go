package app

import (
	"fmt"
	"strings"

	"github.com/yungbote/fulfillment-backend/internal/clients/openai"
	"github.com/yungbote/fulfillment-backend/internal/platform/logger"
	"github.com/yungbote/fulfillment-backend/internal/realtime/bus"
)

type Clients struct {
	// Bus is nil when Redis is not configured; progress events then stay in-process.
	Bus    bus.Bus
	OpenAI openai.Client
}

func wireClients(log *logger.Logger, cfg *Config) (Clients, error) {
	log.Info("Wiring clients...")

	// Redis
	var b bus.Bus
	if strings.TrimSpace(cfg.Redis.Addr) != "" {
		rb, err := bus.NewRedisBus(log, bus.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Channel:  cfg.Redis.Channel,
		})
		if err != nil {
			return Clients{}, fmt.Errorf("init redis bus: %w", err)
		}
		b = rb
	}

	// Openai
	gen, err := openai.New(log, openai.Options{
		APIKey:            cfg.OpenAI.APIKey,
		BaseURL:           cfg.OpenAI.BaseURL,
		Model:             cfg.OpenAI.Model,
		MaxTokens:         cfg.OpenAI.MaxTokens,
		Temperature:       cfg.OpenAI.Temperature,
		MaxRetries:        cfg.OpenAI.MaxRetries,
		RequestsPerSecond: cfg.OpenAI.RequestsPerSecond,
		Burst:             cfg.OpenAI.Burst,
	})
	if err != nil {
		if b != nil {
			_ = b.Close()
		}
		return Clients{}, fmt.Errorf("init openai client: %w", err)
	}

	return Clients{Bus: b, OpenAI: gen}, nil
}
