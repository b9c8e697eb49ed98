package main

import (
	"fmt"
	"log/slog"

	"github.com/skillpress/skillpress/internal/classify"
	"github.com/skillpress/skillpress/internal/config"
	"github.com/skillpress/skillpress/internal/executor"
	"github.com/skillpress/skillpress/internal/home"
	"github.com/skillpress/skillpress/internal/providers"
	"github.com/skillpress/skillpress/internal/stage"
)

func newHomeDir() (*home.Dir, error) {
	return home.New(homeDirFlag)
}

// loadConfig resolves the config file (flag, then home directory) and
// loads it with defaults applied.
func loadConfig(homeDir *home.Dir) (*config.Config, error) {
	path := cfgFile
	if path == "" && homeDir.ConfigExists() {
		path = homeDir.ConfigPath()
	}

	cm, err := config.NewManager(path)
	if err != nil {
		return nil, err
	}
	return cm.Get(), nil
}

// buildProcessors wires one processor per enabled stage. All LLM-backed
// stages share one provider and one rate limiter; the classify stage
// gets the configured classification strategy instead. The returned
// provider is nil when no configured stage actually talks to it, so
// callers can skip the pre-flight health check.
func buildProcessors(cfg *config.Config, cfgs []stage.Config, logger *slog.Logger) (map[stage.Stage]executor.Processor, *providers.OpenAIProvider, error) {
	provider := providers.NewOpenAIProvider(cfg.OpenAIProviderConfig())

	var limiter *providers.RateLimiter
	if cfg.Provider.RateLimit > 0 {
		limiter = providers.NewRateLimiter(int(cfg.Provider.RateLimit))
	}
	llmProc := providers.NewStageProcessor(provider, limiter)

	usesProvider := false
	procs := make(map[stage.Stage]executor.Processor, len(cfgs))
	for _, sc := range cfgs {
		if sc.Stage != stage.StageClassify {
			procs[sc.Stage] = llmProc
			usesProvider = true
			continue
		}

		var classifier classify.Classifier
		switch cfg.Classify.Strategy {
		case "", "keyword":
			classifier = classify.NewKeywordClassifier(nil)
		case "llm":
			llm, err := classify.NewLLMClassifier(provider)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to build LLM classifier: %w", err)
			}
			classifier = llm
			usesProvider = true
		default:
			return nil, nil, fmt.Errorf("unknown classify strategy %q", cfg.Classify.Strategy)
		}
		procs[sc.Stage] = classify.NewProcessor(classifier)
	}

	logger.Debug("processors wired", "stages", len(procs), "classify_strategy", cfg.Classify.Strategy)
	if !usesProvider {
		provider = nil
	}
	return procs, provider, nil
}
