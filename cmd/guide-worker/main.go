// Copyright 2025 The Studio Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command guide-worker wires the pipeline's ambient singletons once at
// process start and serves the guide-generation endpoint plus a
// Prometheus scrape endpoint.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/yossefc/studio/pkg/alignment"
	"github.com/yossefc/studio/pkg/config"
	"github.com/yossefc/studio/pkg/corpus"
	"github.com/yossefc/studio/pkg/explanation"
	"github.com/yossefc/studio/pkg/llm"
	"github.com/yossefc/studio/pkg/logger"
	"github.com/yossefc/studio/pkg/metrics"
	"github.com/yossefc/studio/pkg/orchestrator"
	"github.com/yossefc/studio/pkg/resolver"
	"github.com/yossefc/studio/pkg/store"
	"github.com/yossefc/studio/pkg/textprovider"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger.Init(logger.ParseLevel(cfg.LogLevel), os.Stderr, cfg.LogFormat)
	log := logger.Component("main")

	ctx := context.Background()

	s, err := store.NewPostgres(ctx, cfg.StoreDSN)
	if err != nil {
		log.Error("failed to open store", "error", err)
		os.Exit(1)
	}

	apiKey := os.Getenv("LLM_API_KEY")
	provider, err := llm.NewGeminiProvider(ctx, apiKey)
	if err != nil {
		log.Error("failed to construct LLM provider", "error", err)
		os.Exit(1)
	}

	baseURL := os.Getenv("TEXT_PROVIDER_BASE_URL")
	client := textprovider.NewHTTPClient(baseURL)
	res := resolver.New(client)
	alignEngine := alignment.New(s, res)
	memoizer := explanation.New(s, provider)
	m := metrics.New("studio")

	orch := orchestrator.New(s, res, alignEngine, memoizer, provider, m, orchestrator.Options{
		MaxChunksPerSource:        cfg.MaxChunksPerSource,
		CancellationCheckInterval: cfg.CancellationCheckInterval,
		HebrewRatioThreshold:      cfg.HebrewRatioThreshold,
		ExplanationTimeout:        time.Duration(cfg.ExplanationTimeoutMs) * time.Millisecond,
		ExplanationRepairTimeout:  time.Duration(cfg.ExplanationRepairTimeoutMs) * time.Millisecond,
		SummaryTimeout:            time.Duration(cfg.SummaryTimeoutMs) * time.Millisecond,
		LLMModelPrimary:           cfg.LLMModelPrimary,
		LLMModelCost:              cfg.LLMModelCost,
		LLMModelFallback:          cfg.LLMModelFallback,
		LLMUseBatch:               cfg.LLMUseBatch,
		LLMBatchThreshold:         cfg.LLMBatchThreshold,
		CanonicalPollAttempts:     cfg.CanonicalPollAttempts,
		CanonicalPollInterval:     time.Duration(cfg.CanonicalPollIntervalMs) * time.Millisecond,
		CanonicalLockStale:        time.Duration(cfg.CanonicalLockStalenessMs) * time.Millisecond,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/guide", guideHandler(orch))
	mux.Handle("/metrics", m.Handler())

	addr := ":" + envOr("PORT", "8080")
	log.Info("guide-worker listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

type guideRequestBody struct {
	Section   string   `json:"section"`
	Chapter   int      `json:"chapter"`
	Paragraph int      `json:"paragraph"`
	Corpora   []string `json:"corpora"`
}

func guideHandler(orch *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var body guideRequestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		corpora := make([]corpus.ID, len(body.Corpora))
		for i, c := range body.Corpora {
			corpora[i] = corpus.ID(c)
		}

		outcome, err := orch.Process(r.Context(), orchestrator.Request{
			Section:   corpus.Section(body.Section),
			Chapter:   body.Chapter,
			Paragraph: body.Paragraph,
			Corpora:   corpora,
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if outcome.Cancelled {
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "cancelled": true})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"success": outcome.Success, "guide": outcome.Guide})
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
