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

// Package corpus defines the shared data model of the study-guide pipeline:
// corpus identity, canonical locations, and text fragments. Every other
// package in this module (resolver, chunker, similarity, alignment,
// explanation, summary, orchestrator) operates on these types.
package corpus

import "fmt"

// ID identifies one of the four corpora the system knows.
type ID string

const (
	// Primary is the summary-of-law work whose paragraph structure drives
	// alignment.
	Primary ID = "primary"

	// SourceCompendium is a commentary on Primary that cites prior
	// authorities; its link graph is the authoritative alignment source.
	SourceCompendium ID = "compendium"

	// PredecessorCode is a 14th-century legal code serving as a structural
	// precursor to Primary.
	PredecessorCode ID = "predecessor"

	// LaterCommentary is a 19th-century commentary whose paragraphs align
	// 1-to-1 with Primary. It is only ever used as companion text, never
	// generated independently.
	LaterCommentary ID = "later_commentary"
)

// Meta describes the fixed, compile-time metadata of a corpus.
type Meta struct {
	// ID is the corpus identifier.
	ID ID

	// Label is the human-readable display name.
	Label string

	// ProviderPrefix is the string the upstream provider uses to prefix
	// reference strings for this corpus (e.g. "Mishnah Berurah").
	ProviderPrefix string

	// SectionQualified is true when references for this corpus must include
	// the section name (most commentaries do; some predecessor codes use a
	// section-less global chapter numbering).
	SectionQualified bool

	// AddressesParagraphs is true when the corpus addresses individual
	// paragraphs (seifim), not just chapters (simanim).
	AddressesParagraphs bool

	// SingleSectionOnly restricts the corpus to one section of Primary; a
	// zero value means the corpus applies to all sections.
	SingleSectionOnly Section
}

// registry is the fixed, compile-time table of corpus metadata. It has
// exactly four entries: every corpus this system knows about.
var registry = map[ID]Meta{
	Primary: {
		ID:                  Primary,
		Label:               "Shulchan Aruch",
		ProviderPrefix:      "Shulchan Arukh",
		SectionQualified:    true,
		AddressesParagraphs: true,
	},
	SourceCompendium: {
		ID:                  SourceCompendium,
		Label:               "Beit Yosef",
		ProviderPrefix:      "Beit Yosef",
		SectionQualified:    true,
		AddressesParagraphs: false,
	},
	PredecessorCode: {
		ID:                  PredecessorCode,
		Label:               "Tur",
		ProviderPrefix:      "Tur",
		SectionQualified:    true,
		AddressesParagraphs: false,
	},
	LaterCommentary: {
		ID:                  LaterCommentary,
		Label:               "Mishnah Berurah",
		ProviderPrefix:      "Mishnah Berurah",
		SectionQualified:    true,
		AddressesParagraphs: true,
	},
}

// MetaOf returns the compile-time metadata for id, or false if id is not one
// of the four known corpora.
func MetaOf(id ID) (Meta, bool) {
	m, ok := registry[id]
	return m, ok
}

// All returns every known corpus id, in a stable order: primary,
// predecessor, compendium, later commentary.
func All() []ID {
	return []ID{Primary, PredecessorCode, SourceCompendium, LaterCommentary}
}

// Secondary returns the two corpora the Alignment Engine aligns against the
// primary's paragraphs: predecessor code and source compendium.
func Secondary() []ID {
	return []ID{PredecessorCode, SourceCompendium}
}

func (id ID) String() string { return string(id) }

// Valid reports whether id is one of the four known corpora.
func (id ID) Valid() bool {
	_, ok := registry[id]
	return ok
}

// Section is one of the four top-level divisions of the legal corpus.
type Section string

const (
	OrachChayim  Section = "Orach Chayim"
	YorehDeah    Section = "Yoreh Deah"
	EvenHaEzer   Section = "Even HaEzer"
	ChoshenMishp Section = "Choshen Mishpat"
)

// sections is the fixed set of the four valid sections.
var sections = map[Section]bool{
	OrachChayim:  true,
	YorehDeah:    true,
	EvenHaEzer:   true,
	ChoshenMishp: true,
}

// Valid reports whether s is one of the four fixed sections.
func (s Section) Valid() bool {
	return sections[s]
}

func (s Section) String() string { return string(s) }

// Location is a triple (section, chapter, paragraph?) naming a place in the
// primary work's structure. Paragraph is optional: zero means "whole
// chapter".
type Location struct {
	Section   Section
	Chapter   int
	Paragraph int // 0 means "no paragraph specified"
}

// HasParagraph reports whether the location names a specific paragraph.
func (l Location) HasParagraph() bool {
	return l.Paragraph > 0
}

// Validate checks the structural invariants of a Location: a known section,
// a positive chapter and a non-negative paragraph (0 means no paragraph).
func (l Location) Validate() error {
	if !l.Section.Valid() {
		return fmt.Errorf("corpus: invalid section %q", l.Section)
	}
	if l.Chapter <= 0 {
		return fmt.Errorf("corpus: chapter must be positive, got %d", l.Chapter)
	}
	if l.Paragraph < 0 {
		return fmt.Errorf("corpus: paragraph must be non-negative, got %d", l.Paragraph)
	}
	return nil
}

func (l Location) String() string {
	if l.HasParagraph() {
		return fmt.Sprintf("%s %d:%d", l.Section, l.Chapter, l.Paragraph)
	}
	return fmt.Sprintf("%s %d", l.Section, l.Chapter)
}

// FragmentRef is an opaque string assigned by the upstream provider that
// uniquely names one leaf in the nested text hierarchy. It is treated as a
// black box for equality and prefix matching only — never parsed for
// semantic meaning beyond the documented fallback regex in pkg/alignment.
type FragmentRef string

func (r FragmentRef) String() string { return string(r) }

// Fragment is one leaf of the upstream text's nested array for a given ref:
// a cleaned text string, the ref it came from, and the path describing its
// descent into the nested array.
type Fragment struct {
	// Ref is the provider-assigned reference string for this fragment. All
	// fragments sharing one upstream API call share the same Ref; Path
	// disambiguates between them.
	Ref FragmentRef

	// Path is the 1-based descent path into the nested response array that
	// produced this leaf, e.g. [3] for the third top-level element, or
	// [3, 1] for the first sub-element of the third element.
	Path []int

	// Text is the cleaned fragment text: stripped of markup, cantillation
	// marks, and short parenthesized inserts. Never empty.
	Text string
}

// Validate checks the Fragment invariants: non-empty cleaned text.
func (f Fragment) Validate() error {
	if f.Text == "" {
		return fmt.Errorf("corpus: fragment %s%v has empty text", f.Ref, f.Path)
	}
	return nil
}

// PathOrRoot renders Path for use in deterministic identifiers: the
// dot-joined path, or the literal "root" when Path is empty.
func (f Fragment) PathOrRoot() string {
	if len(f.Path) == 0 {
		return "root"
	}
	out := ""
	for i, p := range f.Path {
		if i > 0 {
			out += "."
		}
		out += fmt.Sprintf("%d", p)
	}
	return out
}
