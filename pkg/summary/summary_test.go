package summary

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/yossefc/studio/pkg/corpus"
	"github.com/yossefc/studio/pkg/llm"
)

type fakeProvider struct {
	text  string
	calls int
}

func (f *fakeProvider) Generate(ctx context.Context, model, prompt string) (string, error) {
	f.calls++
	return f.text, nil
}

func sections() []CorpusSection {
	return []CorpusSection{
		{CorpusID: corpus.PredecessorCode, Label: "טור", Text: "הסבר א"},
		{CorpusID: corpus.SourceCompendium, Label: "בית יוסף", Text: "הסבר ב"},
		{CorpusID: corpus.Primary, Label: "שולחן ערוך", Text: "הסבר ג"},
	}
}

func TestBuildPrompt_IncludesMajorityAndDecisionSections(t *testing.T) {
	prompt := buildPrompt(sections())
	if !strings.Contains(prompt, "ריבוי הדעות") {
		t.Error("expected majority-of-opinions instruction with 2+ secondary corpora and primary present")
	}
	if !strings.Contains(prompt, "הכרעת ההלכה") {
		t.Error("expected primary-decision instruction")
	}
	if strings.Contains(prompt, "חידושי הפרשנות המאוחרת") {
		t.Error("did not expect later-commentary instruction when that corpus is absent")
	}
}

func TestBuildPrompt_SkipsMajorityWithOneSecondaryCorpus(t *testing.T) {
	prompt := buildPrompt([]CorpusSection{
		{CorpusID: corpus.PredecessorCode, Label: "טור", Text: "הסבר א"},
		{CorpusID: corpus.Primary, Label: "שולחן ערוך", Text: "הסבר ג"},
	})
	if strings.Contains(prompt, "ריבוי הדעות") {
		t.Error("did not expect majority-of-opinions instruction with only one secondary corpus")
	}
}

func TestCleanAndValidate_StripsPreamble(t *testing.T) {
	text := "Here is the summary\nתוכן תקין בעברית\n- נקודה ראשונה"
	cleaned, valid, errs := cleanAndValidate(text)
	if strings.Contains(cleaned, "Here is the summary") {
		t.Errorf("expected preamble line stripped, got %q", cleaned)
	}
	if !valid {
		t.Errorf("expected valid after stripping preamble, errors: %v", errs)
	}
}

func TestCleanAndValidate_MissingBulletIsInvalid(t *testing.T) {
	_, valid, errs := cleanAndValidate("תוכן הלכתי תקין ללא תבליטים כלל")
	if valid {
		t.Error("expected invalid without any bullet line")
	}
	found := false
	for _, e := range errs {
		if strings.Contains(e, "bullet") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a bullet-line validation error, got %v", errs)
	}
}

func TestCleanAndValidate_LowHebrewRatioIsInvalid(t *testing.T) {
	_, valid, errs := cleanAndValidate("- this is entirely english text with a bullet")
	if valid {
		t.Error("expected invalid due to low hebrew ratio")
	}
	found := false
	for _, e := range errs {
		if strings.Contains(e, "hebrew") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a hebrew-ratio validation error, got %v", errs)
	}
}

func TestProduce_ValidSummaryNoRepair(t *testing.T) {
	p := &fakeProvider{text: "תוכן הלכתי תקין\n- נקודה ראשונה\n- נקודה שנייה"}
	res, err := Produce(context.Background(), p, sections(), llm.Candidates{Preferred: "gemini-2.5-pro"}, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Validated {
		t.Errorf("expected validated summary, errors: %v", res.ValidationErrors)
	}
	if p.calls != 1 {
		t.Errorf("expected exactly one generation call, got %d", p.calls)
	}
}

func TestProduce_InvalidSummaryTriggersRepair(t *testing.T) {
	p := &fakeProvider{text: "no bullets and no hebrew at all"}
	res, err := Produce(context.Background(), p, sections(), llm.Candidates{Preferred: "gemini-2.5-pro"}, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Validated {
		t.Error("expected repair round to also fail validation since the fake provider repeats the same text")
	}
	if p.calls < 2 {
		t.Errorf("expected a repair call in addition to the initial generation, got %d calls", p.calls)
	}
}
