package chunker

import (
	"strings"
	"testing"

	"github.com/yossefc/studio/pkg/corpus"
)

func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = "מילה"
	}
	return strings.Join(parts, " ")
}

func TestRun_ShortFragmentUnchanged(t *testing.T) {
	frag := corpus.Fragment{Ref: "Primary, Orach Chayim 1:1", Path: []int{1}, Text: words(10)}
	res := Run(corpus.Primary, []corpus.Fragment{frag}, ExplanationProfile())
	if len(res.Chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(res.Chunks))
	}
	if res.Chunks[0].Text != frag.Text {
		t.Errorf("expected unchanged text, got %q", res.Chunks[0].Text)
	}
	if res.Chunks[0].Ref != frag.Ref {
		t.Errorf("expected ref preserved")
	}
}

func TestRun_LongFragmentSplits(t *testing.T) {
	sentence := words(40) + ". "
	text := strings.Repeat(sentence, 10) // 400 words, should split into >1 chunk
	frag := corpus.Fragment{Ref: "Primary, Orach Chayim 1:1", Path: []int{1}, Text: text}
	profile := ExplanationProfile()
	res := Run(corpus.Primary, []corpus.Fragment{frag}, profile)

	if len(res.Chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(res.Chunks))
	}
	for i, c := range res.Chunks {
		if c.Ref != frag.Ref {
			t.Errorf("chunk %d: ref not preserved", i)
		}
		wc := WordCount(c.Text)
		if i < len(res.Chunks)-1 && (wc < profile.MinWords || wc > profile.MaxWords+oversizeSlack) {
			t.Errorf("chunk %d: word count %d out of bounds [%d,%d]", i, wc, profile.MinWords, profile.MaxWords+oversizeSlack)
		}
	}
}

func TestRun_DeterministicIDsAndHashes(t *testing.T) {
	frag := corpus.Fragment{Ref: "Primary, Orach Chayim 1:1", Path: []int{2}, Text: words(200)}
	r1 := Run(corpus.Primary, []corpus.Fragment{frag}, ExplanationProfile())
	r2 := Run(corpus.Primary, []corpus.Fragment{frag}, ExplanationProfile())

	if len(r1.Chunks) != len(r2.Chunks) {
		t.Fatalf("nondeterministic chunk count")
	}
	for i := range r1.Chunks {
		if r1.Chunks[i].ID != r2.Chunks[i].ID {
			t.Errorf("chunk %d: ids differ: %q vs %q", i, r1.Chunks[i].ID, r2.Chunks[i].ID)
		}
		if r1.Chunks[i].ContentHash != r2.Chunks[i].ContentHash {
			t.Errorf("chunk %d: hashes differ", i)
		}
	}
}

func TestRun_OverflowCapped(t *testing.T) {
	var frags []corpus.Fragment
	for i := 0; i < 5; i++ {
		frags = append(frags, corpus.Fragment{
			Ref:  corpus.FragmentRef("Tur, Orach Chayim 1"),
			Path: []int{i + 1},
			Text: words(700),
		})
	}
	profile := AlignmentProfile(3) // (50,25), capped at 60
	res := Run(corpus.PredecessorCode, frags, profile)
	if len(res.Chunks) != 60 {
		t.Errorf("expected exactly 60 chunks (cap), got %d", len(res.Chunks))
	}
	if res.Dropped == 0 {
		t.Errorf("expected some chunks reported dropped")
	}
}

func TestContentHash_Deterministic(t *testing.T) {
	h1 := ContentHash("שלום עולם")
	h2 := ContentHash("שלום עולם")
	if h1 != h2 {
		t.Errorf("expected same hash, got %q vs %q", h1, h2)
	}
	h3 := ContentHash("שלום עולם!")
	if h1 == h3 {
		t.Errorf("expected different hash for different text")
	}
}

func TestAlignmentProfile_Buckets(t *testing.T) {
	if p := AlignmentProfile(3); p.MinWords != 25 || p.MaxWords != 50 {
		t.Errorf("unexpected profile for count<=5: %+v", p)
	}
	if p := AlignmentProfile(15); p.MinWords != 50 || p.MaxWords != 100 {
		t.Errorf("unexpected profile for count<=20: %+v", p)
	}
	if p := AlignmentProfile(100); p.MinWords != 80 || p.MaxWords != 150 {
		t.Errorf("unexpected profile for count>20: %+v", p)
	}
}

func TestNormalizeRefForID(t *testing.T) {
	got := normalizeRefForID("Shulchan Arukh, Orach Chayim 24:1")
	if strings.ContainsAny(got, " ,:") {
		t.Errorf("expected non-alphanumerics collapsed, got %q", got)
	}
}
