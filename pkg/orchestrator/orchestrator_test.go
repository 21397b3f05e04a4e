package orchestrator

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/yossefc/studio/pkg/alignment"
	"github.com/yossefc/studio/pkg/corpus"
	"github.com/yossefc/studio/pkg/explanation"
	"github.com/yossefc/studio/pkg/resolver"
	"github.com/yossefc/studio/pkg/store"
	"github.com/yossefc/studio/pkg/textprovider"
)

type fakeClient struct {
	mu         sync.Mutex
	textByRef  map[string]string
	linksByRef map[string]*textprovider.LinksResponse
}

func newFakeClient() *fakeClient {
	return &fakeClient{textByRef: map[string]string{}, linksByRef: map[string]*textprovider.LinksResponse{}}
}

func (f *fakeClient) withText(ref string, leaves ...string) *fakeClient {
	raw, _ := json.Marshal(leaves)
	f.textByRef[ref] = string(raw)
	return f
}

func (f *fakeClient) FetchText(ctx context.Context, ref string) (*textprovider.TextResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	he, ok := f.textByRef[ref]
	if !ok {
		return nil, textNotFound(ref)
	}
	return &textprovider.TextResponse{Ref: ref, He: json.RawMessage(he)}, nil
}

func (f *fakeClient) FetchLinks(ctx context.Context, ref string) (*textprovider.LinksResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if resp, ok := f.linksByRef[ref]; ok {
		return resp, nil
	}
	return &textprovider.LinksResponse{}, nil
}

func (f *fakeClient) FetchIndex(ctx context.Context, book string) (*textprovider.IndexResponse, error) {
	return &textprovider.IndexResponse{}, nil
}

type fakeProvider struct {
	mu    sync.Mutex
	calls int
	text  string
}

func (p *fakeProvider) Generate(ctx context.Context, model, prompt string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.text, nil
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func testOptions() Options {
	return Options{
		MaxChunksPerSource:        15,
		CancellationCheckInterval: 3,
		HebrewRatioThreshold:      0.7,
		ExplanationTimeout:        5 * time.Second,
		ExplanationRepairTimeout:  5 * time.Second,
		SummaryTimeout:            5 * time.Second,
		LLMModelPrimary:           "gemini-2.5-pro",
		LLMModelCost:              "gemini-2.5-flash",
		LLMModelFallback:          "gemini-2.5-flash-lite",
		LLMUseBatch:               false,
		LLMBatchThreshold:         5,
		CanonicalPollAttempts:     5,
		CanonicalPollInterval:     20 * time.Millisecond,
		CanonicalLockStale:        10 * time.Minute,
	}
}

const hebrewSummaryWithBullet = "טקסט בעברית לסיכום ההלכה למעשה באריכות מספקת כדי לעבור את סף היחס העברי הנדרש לבדיקה.\n- פסק ראשון\n- פסק שני"

func setupOrchestrator(t *testing.T, provider *fakeProvider) (*Orchestrator, *store.Memory) {
	t.Helper()
	client := newFakeClient().
		withText("Shulchan Arukh, Orach Chayim 24", "פסקה ראשונה של השולחן ערוך באריכות הנדרשת כדי לעבור את סף המילים המינימלי הקבוע לקטע הסבר אחד לפחות").
		withText("Shulchan Arukh, Orach Chayim 24:1", "פסקה ראשונה של השולחן ערוך באריכות הנדרשת כדי לעבור את סף המילים המינימלי הקבוע לקטע הסבר אחד לפחות").
		withText("Tur, Orach Chayim 24", "טקסט הטור הרלוונטי לעניין זה באריכות הנדרשת לבדיקת הקטעים המוסברים כראוי ובמלואם").
		withText("Beit Yosef, Orach Chayim 24", "טקסט בית יוסף הרלוונטי לעניין זה באריכות מספקת לבדיקת יחידת ההסבר")

	s := store.NewMemory()
	res := resolver.New(client)
	align := alignment.New(s, res)
	memoizer := explanation.New(s, provider)

	return New(s, res, align, memoizer, provider, nil, testOptions()), s
}

func TestProcess_CachedAlignmentBuildsGuideAcrossThreeCorpora(t *testing.T) {
	provider := &fakeProvider{text: hebrewSummaryWithBullet}
	o, s := setupOrchestrator(t, provider)

	ctx := context.Background()
	if _, _, err := s.AcquireAlignmentLock(ctx, string(corpus.OrachChayim), 24, time.Minute, "seed"); err != nil {
		t.Fatalf("unexpected error seeding alignment: %v", err)
	}
	if _, err := s.CompleteAlignmentBuild(ctx, string(corpus.OrachChayim), 24, map[string]string{}, map[string]map[string]store.ParagraphAlignment{
		"1": {
			string(corpus.PredecessorCode):  {Refs: []string{"Tur, Orach Chayim 24"}, Mode: "linked-passages", Score: 1},
			string(corpus.SourceCompendium): {Refs: []string{"Beit Yosef, Orach Chayim 24"}, Mode: "linked-passages", Score: 1},
		},
	}); err != nil {
		t.Fatalf("unexpected error seeding alignment: %v", err)
	}

	req := Request{
		Section:   corpus.OrachChayim,
		Chapter:   24,
		Paragraph: 1,
		Corpora:   []corpus.ID{corpus.Primary, corpus.PredecessorCode, corpus.SourceCompendium},
	}

	outcome, err := o.Process(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Success || outcome.Guide == nil {
		t.Fatalf("expected a successful guide, got %+v", outcome)
	}
	if outcome.Guide.Status != store.StatusReady {
		t.Errorf("expected ready status, got %q", outcome.Guide.Status)
	}
	if outcome.Guide.ChunkCount == 0 {
		t.Errorf("expected at least one chunk record")
	}
	if outcome.Guide.SummaryText == "" {
		t.Errorf("expected a non-empty summary")
	}
}

func TestProcess_SecondCallIsCacheHit(t *testing.T) {
	provider := &fakeProvider{text: hebrewSummaryWithBullet}
	o, _ := setupOrchestrator(t, provider)

	req := Request{
		Section:   corpus.OrachChayim,
		Chapter:   24,
		Paragraph: 1,
		Corpora:   []corpus.ID{corpus.Primary},
	}

	first, err := o.Process(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	callsAfterFirst := provider.callCount()

	second, err := o.Process(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error on second call: %v", err)
	}
	if !second.Success {
		t.Fatalf("expected second call to succeed, got %+v", second)
	}
	if second.Guide.SummaryText != first.Guide.SummaryText {
		t.Errorf("expected byte-equal summary text across cached calls")
	}
	if provider.callCount() != callsAfterFirst {
		t.Errorf("expected no additional LLM calls on canonical cache hit, first=%d second=%d", callsAfterFirst, provider.callCount())
	}
}

func TestProcess_CancellationReturnsCancelledOutcome(t *testing.T) {
	provider := &fakeProvider{text: hebrewSummaryWithBullet}
	o, s := setupOrchestrator(t, provider)

	req := Request{
		Section:   corpus.OrachChayim,
		Chapter:   24,
		Paragraph: 1,
		Corpora:   []corpus.ID{corpus.Primary},
	}
	fp := Fingerprint(req)

	if _, _, err := s.AcquireCanonicalLock(context.Background(), fp, time.Minute); err != nil {
		t.Fatalf("unexpected error acquiring lock: %v", err)
	}
	s.SetCancelRequested(fp, true)

	outcome, err := o.execute(context.Background(), fp, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Cancelled {
		t.Fatalf("expected a cancelled outcome, got %+v", outcome)
	}

	rec, err := s.GetCanonical(context.Background(), fp)
	if err != nil {
		t.Fatalf("unexpected error reading canonical record: %v", err)
	}
	if rec.Status != store.StatusFailed || rec.Error != "cancelled" {
		t.Errorf("expected failed/cancelled record, got status=%q error=%q", rec.Status, rec.Error)
	}
}

func TestProcess_MissingParagraphOmitsCompendium(t *testing.T) {
	provider := &fakeProvider{text: hebrewSummaryWithBullet}
	o, _ := setupOrchestrator(t, provider)

	req := Request{
		Section:   corpus.OrachChayim,
		Chapter:   24,
		Paragraph: 1,
		Corpora:   []corpus.ID{corpus.Primary, corpus.SourceCompendium},
	}

	outcome, err := o.Process(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, c := range outcome.Guide.Chunks {
		if c.Corpus == string(corpus.SourceCompendium) {
			t.Errorf("expected no compendium chunks since no link fixture was set for it (fallback-similarity mode must be excluded)")
		}
	}
}

func TestFingerprint_StableAcrossCorporaOrder(t *testing.T) {
	a := Fingerprint(Request{Section: corpus.OrachChayim, Chapter: 24, Paragraph: 1, Corpora: []corpus.ID{corpus.Primary, corpus.PredecessorCode}})
	b := Fingerprint(Request{Section: corpus.OrachChayim, Chapter: 24, Paragraph: 1, Corpora: []corpus.ID{corpus.PredecessorCode, corpus.Primary}})
	if a != b {
		t.Errorf("expected fingerprint to be stable regardless of corpora order, got %q vs %q", a, b)
	}
}

type notFoundErr struct{ msg string }

func (e notFoundErr) Error() string { return e.msg }

func textNotFound(ref string) error {
	return notFoundErr{msg: "not found: " + ref}
}

func TestFetchCorpora_UnreachableLaterCommentaryIsNonFatal(t *testing.T) {
	provider := &fakeProvider{text: hebrewSummaryWithBullet}
	o, _ := setupOrchestrator(t, provider)

	req := Request{
		Section:   corpus.OrachChayim,
		Chapter:   24,
		Paragraph: 1,
		Corpora:   []corpus.ID{corpus.Primary, corpus.LaterCommentary},
	}
	fragments, companion, err := o.fetchCorpora(context.Background(), req, "test-holder")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fragments[corpus.Primary]) == 0 {
		t.Errorf("expected primary fragments to resolve")
	}
	if companion != "" {
		t.Errorf("expected empty companion text since no later-commentary fixture was set, got %q", companion)
	}
}
