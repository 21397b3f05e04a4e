package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetrics_RecordAndScrape(t *testing.T) {
	m := New("studio")
	m.RecordExplanationCacheLookup("structured_hit")
	m.RecordCascade("explanation", 2, "gemini-2.5-flash", "success")
	m.RecordAlignmentBuild("ready")
	m.RecordChunkOverflowDrop("predecessor", "max_chunks_per_source", 3)
	m.RecordValidationRepair("summary", "repaired")
	m.ObserveOrchestratorRequest("built", 2*time.Second)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"studio_explanation_cache_lookups_total",
		"studio_llm_cascade_depth",
		"studio_alignment_builds_total",
		"studio_chunker_overflow_drops_total",
		"studio_validation_repairs_total",
		"studio_orchestrator_request_duration_seconds",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected scraped body to contain %q", want)
		}
	}
}

func TestMetrics_NilReceiverIsNoOp(t *testing.T) {
	var m *Metrics
	m.RecordExplanationCacheLookup("miss")
	m.RecordCascade("explanation", 1, "gemini-2.5-pro", "success")
	m.RecordAlignmentBuild("ready")
	m.RecordChunkOverflowDrop("predecessor", "cap", 1)
	m.RecordValidationRepair("explanation", "repaired")
	m.ObserveOrchestratorRequest("built", time.Second)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 from a nil Metrics handler, got %d", rec.Code)
	}
}
