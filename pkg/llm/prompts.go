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

package llm

import "strings"

// ExplanationPromptVersion is the monotonic tag that invalidates every
// cached explanation when the prompt text changes (spec.md §6).
const ExplanationPromptVersion = "v3.4-rabbanut"

const explanationInstructions = `יש לכתוב אך ורק בעברית.
יש לצטט כל מילה מהמקור לפי סדר הופעתה ולהדגיש אותה בכוכביות כפולות: **מילה**.
יש להבהיר מונחים לא ברורים בתוך הטקסט עצמו, ללא שימוש בסוגריים.
יש לתרגם קטעים בארמית.
יש לפרוש ראשי תיבות בתוך הטקסט.
יש לציין את שם הפוסק ליד כל דעה.
במקרה של מחלוקת, יש לציין את ההכרעה בסוף ההסבר.
אין לכתוב הקדמה או סיכום מחוץ לגוף ההסבר.`

// BuildExplanationPrompt assembles the explanation prompt of spec.md §6:
// instructions, the N-1 context block if present, the companion-text
// section if present, the source header, and the chunk text.
func BuildExplanationPrompt(corpusLabel, chunkText, previousChunkText, previousExplanation, companionText string) string {
	var b strings.Builder
	b.WriteString(explanationInstructions)
	b.WriteString("\n\n")

	if previousChunkText != "" {
		b.WriteString("קטע קודם:\n")
		b.WriteString(previousChunkText)
		b.WriteString("\n\nהסבר הקטע הקודם:\n")
		b.WriteString(previousExplanation)
		b.WriteString("\n\n")
	}

	if companionText != "" {
		b.WriteString("טקסט נלווה (משנה ברורה):\n")
		b.WriteString(companionText)
		b.WriteString("\n\n")
	}

	b.WriteString("מקור להסבר (")
	b.WriteString(corpusLabel)
	b.WriteString("):\n")
	b.WriteString(chunkText)
	b.WriteString("\n\nהסבר:")
	return b.String()
}

// BuildExplanationRepairPrompt instructs a Hebrew rewrite preserving order
// and bold spans, per spec.md §6.
func BuildExplanationRepairPrompt(original string) string {
	var b strings.Builder
	b.WriteString("הטקסט הבא אינו עומד בדרישות הפורמט. יש לשכתב אותו בעברית בלבד, ")
	b.WriteString("תוך שמירה על סדר הציטוטים המקוריים ועל ההדגשות בכוכביות כפולות **כך**.\n\n")
	b.WriteString(original)
	return b.String()
}

// ForbiddenPreamblePrefixes are examined against the first 5 non-empty
// lines of a summary for meta-preamble stripping (spec.md §4.F).
var ForbiddenPreamblePrefixes = []string{
	"הנה",
	"להלן",
	"סיכום מתוקן",
	"ניסוח מחדש",
	"Behold",
	"Here is",
	"Corrected summary",
	"Rephrased",
}
