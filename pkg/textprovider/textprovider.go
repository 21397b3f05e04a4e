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

// Package textprovider implements the client side of the upstream text API
// contract of spec.md §6: texts, links, and section index lookups, with
// transient-error retry and a closed error taxonomy (apperr).
package textprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yossefc/studio/pkg/apperr"
	"github.com/yossefc/studio/pkg/logger"
	"github.com/yossefc/studio/pkg/retry"
)

// TextResponse is the upstream /v3/texts response, trimmed to the fields
// the pipeline consumes.
type TextResponse struct {
	Ref      string          `json:"ref"`
	He       json.RawMessage `json:"he"`
	Versions []Version       `json:"versions,omitempty"`
}

// Version is one alternate-language rendering returned alongside He.
type Version struct {
	Language string `json:"language"`
	Text     string `json:"text"`
}

// LinksResponse is the upstream /links response: either a bare array or an
// object with a "links" field, normalized to a slice of Link by Client.
type LinksResponse struct {
	Links []Link
}

// Link is one element of the provider's link graph, carrying whichever
// reference-bearing fields it populated.
type Link struct {
	Refs          []string `json:"refs,omitempty"`
	ExpandedRefs0 []string `json:"expandedRefs0,omitempty"`
	ExpandedRefs1 []string `json:"expandedRefs1,omitempty"`
	ExpandedRefs  []string `json:"expandedRefs,omitempty"`
	Ref           string   `json:"ref,omitempty"`
	AnchorRef     string   `json:"anchorRef,omitempty"`
	SourceRef     string   `json:"sourceRef,omitempty"`
}

// AllRefs returns every reference string this Link carries, across all of
// its candidate fields (spec.md §4.A: "collects any field containing
// reference strings").
func (l Link) AllRefs() []string {
	var out []string
	out = append(out, l.Refs...)
	out = append(out, l.ExpandedRefs0...)
	out = append(out, l.ExpandedRefs1...)
	out = append(out, l.ExpandedRefs...)
	if l.Ref != "" {
		out = append(out, l.Ref)
	}
	if l.AnchorRef != "" {
		out = append(out, l.AnchorRef)
	}
	if l.SourceRef != "" {
		out = append(out, l.SourceRef)
	}
	return out
}

// IndexResponse is the upstream /v2/index response, trimmed to the schema
// length the resolver needs to learn a section's chapter count.
type IndexResponse struct {
	Schema struct {
		Lengths []int `json:"lengths"`
	} `json:"schema"`
}

// Client is the interface the Reference Resolver depends on; HTTPClient is
// the production implementation.
type Client interface {
	FetchText(ctx context.Context, ref string) (*TextResponse, error)
	FetchLinks(ctx context.Context, ref string) (*LinksResponse, error)
	FetchIndex(ctx context.Context, book string) (*IndexResponse, error)
}

// HTTPClient is the production Client backed by the upstream JSON API.
type HTTPClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewHTTPClient constructs an HTTPClient with sensible request timeouts.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

const maxAttempts = 3

func (c *HTTPClient) do(ctx context.Context, path string) ([]byte, error) {
	var body []byte
	err := retry.Do(ctx, retry.Options{
		MaxAttempts: maxAttempts,
		BaseBackoff: 400 * time.Millisecond,
		Classify:    classifyHTTPError,
	}, func(attemptCtx context.Context) error {
		req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, c.BaseURL+path, nil)
		if err != nil {
			return err
		}
		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("textprovider: upstream %d for %s", resp.StatusCode, path)
		}
		if resp.StatusCode >= 400 {
			return apperr.New(apperr.KindUpstreamNotFound, "textprovider",
				fmt.Sprintf("upstream %d for %s", resp.StatusCode, path))
		}

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		logger.Component("textprovider").Debug("request failed", "path", path, "error", err)
		return nil, err
	}
	return body, nil
}

// classifyHTTPError decides retry behavior: 4xx-derived apperr.Error is
// never retried (it is a permanent not-found), everything else is retried
// as a transient network/5xx condition.
func classifyHTTPError(err error) retry.Classification {
	if apperr.Is(err, apperr.KindUpstreamNotFound) {
		return retry.Stop
	}
	return retry.Retry
}

// FetchText calls GET <base>/v3/texts/<urlencoded ref>?lang=he&context=0.
func (c *HTTPClient) FetchText(ctx context.Context, ref string) (*TextResponse, error) {
	path := fmt.Sprintf("/v3/texts/%s?lang=he&context=0", url.PathEscape(ref))
	body, err := c.do(ctx, path)
	if err != nil {
		return nil, err
	}
	var tr TextResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamSchemaDrift, "textprovider", "malformed text response", err)
	}
	if tr.Ref == "" || len(tr.He) == 0 {
		return nil, apperr.New(apperr.KindUpstreamSchemaDrift, "textprovider", "text response missing ref/he")
	}
	return &tr, nil
}

// FetchLinks calls GET <base>/links/<urlencoded ref>, normalizing either
// response shape (bare array or {links: [...]}) into LinksResponse.
func (c *HTTPClient) FetchLinks(ctx context.Context, ref string) (*LinksResponse, error) {
	path := fmt.Sprintf("/links/%s", url.PathEscape(ref))
	body, err := c.do(ctx, path)
	if err != nil {
		return nil, err
	}

	var links []Link
	if err := json.Unmarshal(body, &links); err == nil {
		return &LinksResponse{Links: links}, nil
	}

	var wrapped struct {
		Links []Link `json:"links"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamSchemaDrift, "textprovider", "malformed links response", err)
	}
	return &LinksResponse{Links: wrapped.Links}, nil
}

// FetchIndex calls GET <base>/v2/index/<urlencoded book>.
func (c *HTTPClient) FetchIndex(ctx context.Context, book string) (*IndexResponse, error) {
	path := fmt.Sprintf("/v2/index/%s", url.PathEscape(book))
	body, err := c.do(ctx, path)
	if err != nil {
		return nil, err
	}
	var ir IndexResponse
	if err := json.Unmarshal(body, &ir); err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamSchemaDrift, "textprovider", "malformed index response", err)
	}
	if len(ir.Schema.Lengths) == 0 {
		return nil, apperr.New(apperr.KindUpstreamSchemaDrift, "textprovider", "index response missing schema.lengths")
	}
	return &ir, nil
}
