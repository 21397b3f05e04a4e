package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/yossefc/studio/pkg/apperr"
	"github.com/yossefc/studio/pkg/corpus"
	"github.com/yossefc/studio/pkg/textprovider"
)

type fakeClient struct {
	text  *textprovider.TextResponse
	links *textprovider.LinksResponse
	err   error
}

func (f *fakeClient) FetchText(ctx context.Context, ref string) (*textprovider.TextResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.text, nil
}

func (f *fakeClient) FetchLinks(ctx context.Context, ref string) (*textprovider.LinksResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.links, nil
}

func (f *fakeClient) FetchIndex(ctx context.Context, book string) (*textprovider.IndexResponse, error) {
	return nil, errors.New("not implemented")
}

func rawHe(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestBuildRef_ParagraphQualified(t *testing.T) {
	ref, err := BuildRef(corpus.Primary, corpus.OrachChayim, 24, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref != "Shulchan Arukh, Orach Chayim 24:1" {
		t.Errorf("got %q", ref)
	}
}

func TestBuildRef_NoParagraph(t *testing.T) {
	ref, err := BuildRef(corpus.PredecessorCode, corpus.OrachChayim, 24, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref != "Tur, Orach Chayim 24" {
		t.Errorf("got %q", ref)
	}
}

func TestBuildRef_VernacularNumeral(t *testing.T) {
	ref, err := BuildRef(corpus.Primary, corpus.OrachChayim, "כ״ד", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref != "Shulchan Arukh, Orach Chayim 24:1" {
		t.Errorf("got %q", ref)
	}
}

func TestBuildRef_UnknownCorpus(t *testing.T) {
	_, err := BuildRef(corpus.ID("bogus"), corpus.OrachChayim, 1, nil)
	if err == nil {
		t.Fatal("expected error for unknown corpus")
	}
}

func TestFetchFragments_FlattensNestedArray(t *testing.T) {
	client := &fakeClient{
		text: &textprovider.TextResponse{
			Ref: "Shulchan Arukh, Orach Chayim 24:1",
			He:  rawHe(t, []any{"פסקה ראשונה", []any{"תת פסקה א", "תת פסקה ב"}}),
		},
	}
	r := New(client)
	res, err := r.FetchFragments(context.Background(), "Shulchan Arukh, Orach Chayim 24:1", "Shulchan Arukh, Orach Chayim 24:1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Fragments) != 3 {
		t.Fatalf("expected 3 flattened fragments, got %d", len(res.Fragments))
	}
	if res.Fragments[0].PathOrRoot() != "1" {
		t.Errorf("fragment 0: expected path 1, got %s", res.Fragments[0].PathOrRoot())
	}
	if res.Fragments[1].PathOrRoot() != "2.1" {
		t.Errorf("fragment 1: expected path 2.1, got %s", res.Fragments[1].PathOrRoot())
	}
	if res.Fragments[2].PathOrRoot() != "2.2" {
		t.Errorf("fragment 2: expected path 2.2, got %s", res.Fragments[2].PathOrRoot())
	}
	if len(res.RawLeaves) != 3 {
		t.Errorf("expected 3 raw leaves, got %d", len(res.RawLeaves))
	}
}

func TestFetchFragments_EmptyLeavesSkipped(t *testing.T) {
	client := &fakeClient{
		text: &textprovider.TextResponse{
			Ref: "ref",
			He:  rawHe(t, []any{"תוכן אמיתי", "", nil}),
		},
	}
	r := New(client)
	res, err := r.FetchFragments(context.Background(), "ref", "ref")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Fragments) != 1 {
		t.Fatalf("expected empty/null leaves dropped, got %d fragments", len(res.Fragments))
	}
}

func TestFetchFragments_NoFragmentsIsUpstreamNotFound(t *testing.T) {
	client := &fakeClient{
		text: &textprovider.TextResponse{
			Ref: "ref",
			He:  rawHe(t, []any{"", nil}),
		},
	}
	r := New(client)
	_, err := r.FetchFragments(context.Background(), "ref", "ref")
	if !apperr.Is(err, apperr.KindUpstreamNotFound) {
		t.Errorf("expected KindUpstreamNotFound, got %v", err)
	}
}

func TestFetchFragments_MalformedHeIsSchemaDrift(t *testing.T) {
	client := &fakeClient{
		text: &textprovider.TextResponse{
			Ref: "ref",
			He:  json.RawMessage(`{not valid json`),
		},
	}
	r := New(client)
	_, err := r.FetchFragments(context.Background(), "ref", "ref")
	if !apperr.Is(err, apperr.KindUpstreamSchemaDrift) {
		t.Errorf("expected KindUpstreamSchemaDrift, got %v", err)
	}
}

func TestFetchLinkedRefs_FiltersByCorpusAndSection(t *testing.T) {
	client := &fakeClient{
		links: &textprovider.LinksResponse{
			Links: []textprovider.Link{
				{Ref: "Tur, Orach Chayim 24"},
				{Ref: "Beit Yosef, Orach Chayim 24"},
				{Ref: "Tur, Yoreh Deah 5"},
				{Ref: "Mishnah Berurah, Orach Chayim 24:1"},
			},
		},
	}
	r := New(client)
	out, err := r.FetchLinkedRefs(context.Background(), "Shulchan Arukh, Orach Chayim 24:1", corpus.OrachChayim)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.PredecessorRefs) != 1 || out.PredecessorRefs[0] != "Tur, Orach Chayim 24" {
		t.Errorf("expected one predecessor ref restricted to section, got %v", out.PredecessorRefs)
	}
	if len(out.CompendiumRefs) != 1 || out.CompendiumRefs[0] != "Beit Yosef, Orach Chayim 24" {
		t.Errorf("expected one compendium ref restricted to section, got %v", out.CompendiumRefs)
	}
}

func TestFetchLinkedRefs_DedupesRepeatedRefs(t *testing.T) {
	client := &fakeClient{
		links: &textprovider.LinksResponse{
			Links: []textprovider.Link{
				{Refs: []string{"Tur, Orach Chayim 24"}, AnchorRef: "Tur, Orach Chayim 24"},
			},
		},
	}
	r := New(client)
	out, err := r.FetchLinkedRefs(context.Background(), "ref", corpus.OrachChayim)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.PredecessorRefs) != 1 {
		t.Errorf("expected dedup to collapse repeated ref, got %v", out.PredecessorRefs)
	}
}

func TestSourceHash_DeterministicAndSensitive(t *testing.T) {
	h1 := SourceHash([]string{"א", "ב"})
	h2 := SourceHash([]string{"א", "ב"})
	if h1 != h2 {
		t.Errorf("expected deterministic hash")
	}
	h3 := SourceHash([]string{"א", "ג"})
	if h1 == h3 {
		t.Errorf("expected different hash for different content")
	}
}
