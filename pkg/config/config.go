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

// Package config loads and defaults the environment variables of spec.md
// §6: LLM model tiers and batching, store credentials, and the fixed
// pipeline tunables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds every configurable value of the pipeline, loaded once at
// process start and threaded explicitly through the orchestrator — never
// read from the environment again after Load returns (spec.md §9: treat
// ambient singletons as explicit dependencies).
type Config struct {
	// LLM model tiers.
	LLMModelPrimary  string
	LLMModelCost     string
	LLMModelFallback string
	LLMUseBatch      bool
	LLMBatchThreshold int

	// Store connection. StoreDSN is STORE_DSN when set; otherwise, when
	// STORE_PROJECT_ID is set, it is "dbname=<STORE_PROJECT_ID>". The
	// client-email and private-key variables are loaded but not used to
	// build the DSN. An empty DSN leaves lib/pq to its ambient
	// PGHOST/PGUSER/... variables.
	StoreProjectID   string
	StoreClientEmail string
	StorePrivateKey  string
	StoreDSN         string

	// Pipeline tunables.
	MaxChunksPerSource      int
	CancellationCheckInterval int
	HebrewRatioThreshold    float64

	// Timeouts. All are loaded from the environment, but
	// SummaryRepairTimeoutMs, AlignmentWaitTimeoutMs,
	// AlignmentPollIntervalMs, AlignmentLockTTLMs and
	// SourceHashRevalidateMs are not read by any component: pkg/summary and
	// pkg/alignment use fixed values for these.
	ExplanationTimeoutMs       int
	ExplanationRepairTimeoutMs int
	SummaryTimeoutMs           int
	SummaryRepairTimeoutMs     int
	AlignmentWaitTimeoutMs     int
	AlignmentPollIntervalMs    int
	CanonicalPollAttempts      int
	CanonicalPollIntervalMs    int
	AlignmentLockTTLMs         int
	CanonicalLockStalenessMs   int
	SourceHashRevalidateMs     int

	LogLevel  string
	LogFormat string
}

// Load reads configuration from the environment, applying the .env/.env.local
// files if present (mirroring the teacher's LoadEnvFiles), and the defaults
// of spec.md §6.
func Load() (*Config, error) {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	cfg := &Config{
		LLMModelPrimary:  getString("LLM_MODEL_PRIMARY", "gemini-1.5-pro"),
		LLMModelCost:     getString("LLM_MODEL_COST", "gemini-1.5-flash"),
		LLMModelFallback: getString("LLM_MODEL_FALLBACK", "gemini-1.5-flash-8b"),
		LLMUseBatch:      getBool("LLM_USE_BATCH", false),
		LLMBatchThreshold: getInt("LLM_BATCH_THRESHOLD", 5),

		StoreProjectID:   os.Getenv("STORE_PROJECT_ID"),
		StoreClientEmail: os.Getenv("STORE_CLIENT_EMAIL"),
		StorePrivateKey:  os.Getenv("STORE_PRIVATE_KEY"),
		StoreDSN:         os.Getenv("STORE_DSN"),

		MaxChunksPerSource:       getInt("MAX_CHUNKS_PER_SOURCE", 15),
		CancellationCheckInterval: getInt("CANCELLATION_CHECK_INTERVAL", 3),
		HebrewRatioThreshold:     getFloat("HEBREW_RATIO_THRESHOLD", 0.7),

		ExplanationTimeoutMs:       getInt("EXPLANATION_TIMEOUT_MS", 120_000),
		ExplanationRepairTimeoutMs: getInt("EXPLANATION_REPAIR_TIMEOUT_MS", 90_000),
		SummaryTimeoutMs:           getInt("SUMMARY_TIMEOUT_MS", 120_000),
		SummaryRepairTimeoutMs:     getInt("SUMMARY_REPAIR_TIMEOUT_MS", 45_000),
		AlignmentWaitTimeoutMs:     getInt("ALIGNMENT_WAIT_TIMEOUT_MS", 180_000),
		AlignmentPollIntervalMs:    getInt("ALIGNMENT_POLL_INTERVAL_MS", 2_000),
		CanonicalPollAttempts:      getInt("CANONICAL_POLL_ATTEMPTS", 20),
		CanonicalPollIntervalMs:    getInt("CANONICAL_POLL_INTERVAL_MS", 1_500),
		AlignmentLockTTLMs:         getInt("ALIGNMENT_LOCK_TTL_MS", 5*60_000),
		CanonicalLockStalenessMs:   getInt("CANONICAL_LOCK_STALENESS_MS", 10*60_000),
		SourceHashRevalidateMs:     getInt("SOURCE_HASH_REVALIDATE_MS", 12*60*60_000),

		LogLevel:  getString("LOG_LEVEL", "info"),
		LogFormat: getString("LOG_FORMAT", "text"),
	}

	if cfg.StoreDSN == "" && cfg.StoreProjectID != "" {
		cfg.StoreDSN = fmt.Sprintf("dbname=%s", cfg.StoreProjectID)
	}

	return cfg, nil
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
