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

// Package llm provides the LLM provider abstraction of spec.md §6 (an
// opaque text-in/text-out service with configurable model identifiers), a
// Gemini-backed implementation, and the model-cascade retry logic shared
// by the Explanation Memoizer and Summary Producer.
package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// Provider is the minimal contract every component in this module depends
// on: generate(model, prompt) -> text.
type Provider interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
}

// Candidates is the ordered (preferred, cost, fallback) model tier list a
// caller passes into Cascade, shared by the Explanation Memoizer and the
// Summary Producer so both follow the same primary/cost/fallback shape.
type Candidates struct {
	Preferred string
	Cost      string
	Fallback  string
}

// GeminiProvider is the production Provider backed by
// google.golang.org/genai, grounded on the teacher's gemini model wrapper
// (kadirpekel-hector/pkg/model/gemini), simplified to the single-turn
// text-in/text-out shape this pipeline needs.
type GeminiProvider struct {
	client *genai.Client
}

// NewGeminiProvider constructs a GeminiProvider using apiKey.
func NewGeminiProvider(ctx context.Context, apiKey string) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("llm: create genai client: %w", err)
	}
	return &GeminiProvider{client: client}, nil
}

// Generate issues a single-turn text generation call against model.
func (g *GeminiProvider) Generate(ctx context.Context, model, prompt string) (string, error) {
	contents := []*genai.Content{
		{Role: "user", Parts: []*genai.Part{{Text: prompt}}},
	}
	resp, err := g.client.Models.GenerateContent(ctx, model, contents, nil)
	if err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("llm: empty response from model %s", model)
	}
	var text string
	for _, part := range resp.Candidates[0].Content.Parts {
		text += part.Text
	}
	if text == "" {
		return "", fmt.Errorf("llm: model %s returned no text", model)
	}
	return text, nil
}
