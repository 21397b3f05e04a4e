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

import (
	"strings"

	"github.com/yossefc/studio/pkg/apperr"
)

// Classify maps a raw provider error to the closed taxonomy of spec.md §6
// by substring on the stringified error, exactly as the upstream LLM
// contract is specified: no structured error codes are available, only
// free-text messages.
func Classify(err error) apperr.Kind {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())

	if strings.Contains(msg, "model") && (strings.Contains(msg, "not found") ||
		strings.Contains(msg, "not supported") || strings.Contains(msg, "404")) {
		return apperr.KindLLMModelUnavailable
	}
	if strings.Contains(msg, "429") || strings.Contains(msg, "quota") || strings.Contains(msg, "resource_exhausted") {
		return apperr.KindLLMQuotaExhausted
	}
	if strings.Contains(msg, "503") || strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "temporar") || strings.Contains(msg, "rate limit") {
		return apperr.KindLLMTransient
	}
	return apperr.KindLLMPermanent
}
