package main

import (
	"context"
	"path/filepath"

	"go.uber.org/zap"

	"contentforge/internal/asynctask"
	"contentforge/internal/embedding"
	"contentforge/internal/executor"
	"contentforge/internal/llm"
	"contentforge/internal/retrieval"
	"contentforge/internal/runner"
	"contentforge/internal/store"
)

// app wires the store, provider clients, and runner for one command
// invocation.
type app struct {
	store  *store.SQLiteStore
	router *llm.Router
	runner *runner.Runner
}

func newApp(ctx context.Context) (*app, error) {
	dbPath := cfg.Store.DatabasePath
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(workspace, dbPath)
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}

	router := llm.NewRouter(llm.Options{
		GeminiAPIKey:    cfg.LLM.GeminiAPIKey,
		OpenAIAPIKey:    cfg.LLM.OpenAIAPIKey,
		AnthropicAPIKey: cfg.LLM.AnthropicAPIKey,
		Timeout:         cfg.SyncTimeout(),
	})

	// Chunk search needs the embedding engine, which needs the Gemini
	// credential. Without it, rag-mode steps fail with a retrieval
	// error instead of silently degrading to full grounding.
	var searcher retrieval.Searcher
	if cfg.LLM.GeminiAPIKey != "" {
		engine, err := embedding.NewGenAIEngine(ctx, cfg.LLM.GeminiAPIKey, cfg.Retrieval.EmbeddingModel)
		if err != nil {
			st.Close()
			return nil, err
		}
		searcher = retrieval.NewChunkSearcher(st, engine)
	} else {
		logger.Warn("no Gemini credential; rag-mode steps will fail until one is configured")
	}

	selector := retrieval.NewSelector(st, searcher)
	exec := executor.New(selector, router, executor.Defaults{
		Model:       cfg.LLM.DefaultModel,
		Temperature: cfg.LLM.DefaultTemperature,
		MaxTokens:   cfg.LLM.DefaultMaxTokens,
	})
	monitor := asynctask.New(st, router.Research(), cfg.PollInterval(), cfg.ExpectedCeiling())

	return &app{
		store:  st,
		router: router,
		runner: runner.New(st, exec, monitor, router),
	}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		logger.Warn("closing store", zap.Error(err))
	}
}
