package usecase

import (
	"context"
	"fmt"
	"strings"

	"interview-agent/internal/match"
)

// modelRef names a model on a specific provider, written "provider:model".
type modelRef struct {
	Provider string
	Model    string
}

func parseModelRef(raw string) (modelRef, error) {
	provider, model, ok := strings.Cut(strings.TrimSpace(raw), ":")
	provider = strings.ToLower(strings.TrimSpace(provider))
	model = strings.TrimSpace(model)
	if !ok || provider == "" || model == "" {
		return modelRef{}, fmt.Errorf("usecase: model %q must be written provider:model", raw)
	}
	return modelRef{Provider: provider, Model: model}, nil
}

type runtimeConfig struct {
	questioner     modelRef
	evaluator      modelRef
	criticizer     modelRef
	embeddingModel string
}

func (s *InterviewService) ensureConfig(ctx context.Context) error {
	s.cacheMu.RLock()
	if s.cacheLoaded {
		s.cacheMu.RUnlock()
		return nil
	}
	s.cacheMu.RUnlock()

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheLoaded {
		return nil
	}

	cfg, err := s.loadSSMParams(ctx)
	if err != nil {
		return err
	}
	matcher, err := match.NewMatcher(match.EmbedderFunc(func(ctx context.Context, texts []string) ([][]float64, error) {
		return s.embedder.Embed(ctx, cfg.embeddingModel, texts)
	}), s.candidates)
	if err != nil {
		return err
	}
	s.runtime = cfg
	s.matcher = matcher
	s.cacheLoaded = true
	return nil
}

func (s *InterviewService) loadSSMParams(ctx context.Context) (runtimeConfig, error) {
	names := map[string]string{
		"questioner": s.paramPrefix + "/config/questioner_model",
		"evaluator":  s.paramPrefix + "/config/evaluator_model",
		"criticizer": s.paramPrefix + "/config/criticizer_model",
		"embedding":  s.paramPrefix + "/config/embedding_model",
	}
	values, err := s.params.GetParameters(ctx,
		names["questioner"], names["evaluator"], names["criticizer"], names["embedding"])
	if err != nil {
		return runtimeConfig{}, fmt.Errorf("usecase: load model config: %w", err)
	}

	var cfg runtimeConfig
	for agent, dst := range map[string]*modelRef{
		"questioner": &cfg.questioner,
		"evaluator":  &cfg.evaluator,
		"criticizer": &cfg.criticizer,
	} {
		ref, err := parseModelRef(values[names[agent]])
		if err != nil {
			return runtimeConfig{}, fmt.Errorf("usecase: %s model: %w", agent, err)
		}
		if _, ok := s.providers[ref.Provider]; !ok {
			return runtimeConfig{}, fmt.Errorf("usecase: %s model: unknown provider %q", agent, ref.Provider)
		}
		*dst = ref
	}
	cfg.embeddingModel = strings.TrimSpace(values[names["embedding"]])
	if cfg.embeddingModel == "" {
		return runtimeConfig{}, fmt.Errorf("usecase: embedding model is empty")
	}
	return cfg, nil
}
