package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"policy-brief-pipeline/internal/domain/model"
	"policy-brief-pipeline/internal/domain/ports/adapter"
	aiAdapters "policy-brief-pipeline/internal/infra/adapters/ai"
	"policy-brief-pipeline/internal/infra/adapters/search"
	"policy-brief-pipeline/internal/infra/adapters/storage"
	"policy-brief-pipeline/internal/infra/adapters/tts"
	pg "policy-brief-pipeline/internal/infra/db/postgres"
	"policy-brief-pipeline/internal/infra/metrics"
	red "policy-brief-pipeline/internal/infra/redis"
	"policy-brief-pipeline/internal/pipeline"

	"github.com/jackc/pgx/v4/pgxpool"
)

// backends holds the long-lived connections a command opened.
type backends struct {
	pool   *pgxpool.Pool
	redis  *red.Client
	broker *red.Broker
}

func openBackends(ctx context.Context, needDB bool) (*backends, error) {
	if err := cfg.RequireRedis(); err != nil {
		return nil, err
	}
	if needDB {
		if err := cfg.RequireDatabase(); err != nil {
			return nil, err
		}
	}
	b := &backends{}

	rc, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	b.redis = rc
	b.broker = red.NewBroker(rc, visibilityFor)

	if needDB {
		pool, err := pg.NewPgxPool(ctx, cfg.Database)
		if err != nil {
			_ = rc.Close()
			return nil, fmt.Errorf("postgres: %w", err)
		}
		b.pool = pool
	}
	return b, nil
}

func (b *backends) Close() {
	if b.pool != nil {
		b.pool.Close()
	}
	if b.redis != nil {
		_ = b.redis.Close()
	}
}

func (b *backends) ping(ctx context.Context) error {
	var errs []error
	if err := b.redis.Ping(ctx); err != nil {
		errs = append(errs, fmt.Errorf("redis: %w", err))
	}
	if b.pool != nil {
		if err := b.pool.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres: %w", err))
		}
	}
	return errors.Join(errs...)
}

// reportPools publishes connection pool gauges until ctx ends.
func (b *backends) reportPools(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		if b.pool != nil {
			total, idle, inUse := pg.PoolStats(b.pool)
			metrics.SetPoolStats("postgres", total, idle, inUse)
		}
		total, idle, inUse := b.redis.PoolStats()
		metrics.SetPoolStats("redis", total, idle, inUse)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// visibilityFor maps a queue name back to its stage's visibility timeout.
func visibilityFor(q string) time.Duration {
	for _, s := range model.Stages {
		if s.Queue() == q {
			return cfg.Pipeline.Stage(string(s)).VisibilityTimeout
		}
	}
	return 5 * time.Minute
}

// providers holds the upstream adapters. Nil members mean "not configured".
type providers struct {
	news    adapter.NewsSearcher
	model   adapter.ScriptModel
	speech  adapter.SpeechSynthesizer
	storage adapter.ObjectStorage
}

func buildProviders(ctx context.Context) (*providers, error) {
	p := &providers{}

	if cfg.Search.APIKey != "" {
		p.news = search.NewNewsAPI(cfg.Search.BaseURL, cfg.Search.APIKey, cfg.Search.Language, cfg.Search.Timeout)
	}

	switch cfg.AI.Provider {
	case "openai":
		if cfg.AI.OpenAIKey != "" {
			m, err := aiAdapters.NewOpenAIAdapter(cfg.AI.OpenAIKey, cfg.AI.OpenAIBaseURL, cfg.AI.DefaultModel, cfg.AI.MaxOutputTokens)
			if err != nil {
				return nil, fmt.Errorf("openai: %w", err)
			}
			p.model = aiAdapters.NewLimitedModel(m, cfg.AI.ConcurrentLimit)
		}
	case "gemini":
		if cfg.AI.GeminiKey != "" {
			m, err := aiAdapters.NewGeminiAdapter(ctx, cfg.AI.GeminiKey, cfg.AI.GeminiURL, cfg.AI.DefaultModel, cfg.AI.MaxOutputTokens)
			if err != nil {
				return nil, fmt.Errorf("gemini: %w", err)
			}
			p.model = aiAdapters.NewLimitedModel(m, cfg.AI.ConcurrentLimit)
		}
	default:
		return nil, fmt.Errorf("unknown ai.provider %q", cfg.AI.Provider)
	}
	if p.model == nil {
		logger.Warn().Str("provider", cfg.AI.Provider).Msg("no script model key; scripts fall back to the template")
	}

	switch cfg.TTS.Provider {
	case "elevenlabs":
		if cfg.TTS.ElevenLabsKey != "" {
			s, err := tts.NewElevenLabs(cfg.TTS.ElevenLabsKey, cfg.TTS.ElevenLabsURL, cfg.TTS.Model, cfg.TTS.Timeout)
			if err != nil {
				return nil, fmt.Errorf("elevenlabs: %w", err)
			}
			p.speech = tts.NewLimited(s, cfg.TTS.ConcurrentLimit)
		}
	case "gemini":
		if cfg.AI.GeminiKey != "" {
			client, err := aiAdapters.NewGeminiClient(ctx, cfg.AI.GeminiKey, cfg.AI.GeminiURL)
			if err != nil {
				return nil, fmt.Errorf("gemini tts: %w", err)
			}
			p.speech = tts.NewLimited(tts.NewGeminiSpeech(client, cfg.TTS.Model, cfg.TTS.GeminiSampleRate), cfg.TTS.ConcurrentLimit)
		}
	default:
		return nil, fmt.Errorf("unknown tts.provider %q", cfg.TTS.Provider)
	}

	if cfg.Storage.Endpoint != "" {
		if err := cfg.RequireStorage(); err != nil {
			return nil, err
		}
		st, err := storage.NewMinioStorage(
			storage.WithEndpoint(cfg.Storage.Endpoint),
			storage.WithBucket(cfg.Storage.Bucket),
			storage.WithAccessKey(cfg.Storage.AccessKey),
			storage.WithSecretKey(cfg.Storage.SecretKey),
			storage.WithRegion(cfg.Storage.Region),
			storage.WithPublicBaseURL(cfg.Storage.PublicBaseURL),
			storage.WithSSL(cfg.Storage.UseSSL),
		)
		if err != nil {
			return nil, err
		}
		if err := st.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		p.storage = st
	}
	return p, nil
}

// requireFor rejects a worker whose stages could never finish a job.
func (p *providers) requireFor(stages []model.Stage) error {
	for _, s := range stages {
		switch {
		case s == model.StageFetch && p.news == nil:
			return errors.New("search.api_key is required to fetch news")
		case s == model.StageSynthesize && p.speech == nil:
			return fmt.Errorf("tts.provider %q is missing its api key", cfg.TTS.Provider)
		case s == model.StagePublish && p.storage == nil:
			return errors.New("storage.endpoint is required to publish")
		}
	}
	return nil
}

func (p *providers) clients() pipeline.Clients {
	return pipeline.Clients{
		News:    p.news,
		Model:   p.model,
		Speech:  p.speech,
		Storage: p.storage,
	}
}
