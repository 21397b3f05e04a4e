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

package summary

import "strings"

var validationErrorHebrew = map[string]string{
	"empty summary":                 "הסיכום ריק",
	"hebrew ratio below threshold":  "חלק גדול מדי מהטקסט אינו בעברית",
	"no bullet line found":          "חסרה רשימת תבליטים בסעיף המלכה למעשה",
}

// buildRepairPrompt instructs a Hebrew re-emission of original that
// specifically addresses verrs, the validator errors raised against it.
func buildRepairPrompt(original string, verrs []string) string {
	var b strings.Builder
	b.WriteString("הסיכום הבא אינו עומד בדרישות הפורמט ויש לשכתב אותו בעברית בלבד, ")
	b.WriteString("תוך תיקון הבעיות הבאות בלבד ושמירה על תוכן הסיכום המקורי:\n")
	for _, e := range verrs {
		if he, ok := validationErrorHebrew[e]; ok {
			b.WriteString("- ")
			b.WriteString(he)
			b.WriteString("\n")
		}
	}
	b.WriteString("\nסיכום לתיקון:\n")
	b.WriteString(original)
	return b.String()
}
