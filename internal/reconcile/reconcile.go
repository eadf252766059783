// Package reconcile pulls the assistant text out of whatever JSON shape a
// chat response arrives in: the router's normalized envelope, a raw Gemini
// or OpenAI-compatible body, or either of those wrapped under "data".
//
// The shapes are tried in a fixed priority order. The first one that yields
// a non-empty string wins.
package reconcile

import (
	"encoding/json"
	"errors"
	"fmt"
)

// TruncationNote is appended when Gemini stopped because of max_tokens.
const TruncationNote = "\n\n[Note: Response was truncated due to length. Consider reviewing smaller files or increasing max_tokens.]"

// snippetRunes caps the JSON excerpt carried by ErrUnexpectedFormat.
const snippetRunes = 200

const finishMaxTokens = "MAX_TOKENS"

var (
	ErrTruncated          = errors.New("response was truncated before any text was produced")
	ErrIncompleteResponse = errors.New("response content has no parts")
	ErrUnexpectedFormat   = errors.New("unexpected response format")
)

// FormatError reports why no text could be extracted. Kind is one of the
// sentinels above.
type FormatError struct {
	Kind         error
	FinishReason string
	Snippet      string
}

func (e *FormatError) Error() string {
	switch {
	case e.FinishReason != "" && e.Snippet != "":
		return fmt.Sprintf("%v (finishReason=%s): %s", e.Kind, e.FinishReason, e.Snippet)
	case e.FinishReason != "":
		return fmt.Sprintf("%v (finishReason=%s)", e.Kind, e.FinishReason)
	case e.Snippet != "":
		return fmt.Sprintf("%v: %s", e.Kind, e.Snippet)
	}
	return e.Kind.Error()
}

func (e *FormatError) Unwrap() error { return e.Kind }

// Matcher recognizes one response shape.
type Matcher struct {
	Name  string
	Match func(resp map[string]any) (string, bool)
}

// Matchers is the priority order used by Extract.
var Matchers = []Matcher{
	{Name: "message.content", Match: func(r map[string]any) (string, bool) {
		return text(dig(r, "message", "content"))
	}},
	{Name: "success.data.candidates", Match: func(r map[string]any) (string, bool) {
		if !truthy(r["success"]) {
			return "", false
		}
		return candidateText(dig(r, "data", "candidates", 0))
	}},
	{Name: "success.data.choices", Match: func(r map[string]any) (string, bool) {
		if !truthy(r["success"]) {
			return "", false
		}
		return text(dig(r, "data", "choices", 0, "message", "content"))
	}},
	{Name: "data.candidates", Match: func(r map[string]any) (string, bool) {
		return candidateText(dig(r, "data", "candidates", 0))
	}},
	{Name: "data.choices", Match: func(r map[string]any) (string, bool) {
		return text(dig(r, "data", "choices", 0, "message", "content"))
	}},
	{Name: "choices", Match: func(r map[string]any) (string, bool) {
		return text(dig(r, "choices", 0, "message", "content"))
	}},
	{Name: "success.data.string", Match: func(r map[string]any) (string, bool) {
		if !truthy(r["success"]) {
			return "", false
		}
		s, ok := r["data"].(string)
		return s, ok
	}},
	{Name: "candidates", Match: func(r map[string]any) (string, bool) {
		return candidateText(dig(r, "candidates", 0))
	}},
}

// ExtractJSON decodes body and runs Extract on it.
func ExtractJSON(body []byte) (string, error) {
	var resp map[string]any
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &FormatError{Kind: ErrUnexpectedFormat, Snippet: snippet(string(body))}
	}
	return Extract(resp)
}

// Extract returns the assistant text from a decoded response.
func Extract(resp map[string]any) (string, error) {
	for _, m := range Matchers {
		if s, ok := m.Match(resp); ok {
			return s, nil
		}
	}

	// Nothing matched. Look at the first Gemini candidate to explain why.
	cand, _ := dig(resp, "data", "candidates", 0).(map[string]any)
	if cand == nil {
		cand, _ = dig(resp, "candidates", 0).(map[string]any)
	}
	if cand != nil {
		reason, _ := cand["finishReason"].(string)
		if reason == finishMaxTokens {
			if s, ok := text(dig(cand, "content", "parts", 0, "text")); ok {
				return s + TruncationNote, nil
			}
			return "", &FormatError{Kind: ErrTruncated, FinishReason: reason}
		}
		if content, ok := cand["content"].(map[string]any); ok {
			if _, hasParts := content["parts"]; !hasParts {
				return "", &FormatError{Kind: ErrIncompleteResponse, FinishReason: reason}
			}
		}
	}

	raw, _ := json.Marshal(resp)
	return "", &FormatError{Kind: ErrUnexpectedFormat, Snippet: snippet(string(raw))}
}

// candidateText reads a Gemini candidate's first part and adds the
// truncation note when the candidate hit the token limit.
func candidateText(cand any) (string, bool) {
	s, ok := text(dig(cand, "content", "parts", 0, "text"))
	if !ok {
		return "", false
	}
	if reason, _ := dig(cand, "finishReason").(string); reason == finishMaxTokens {
		s += TruncationNote
	}
	return s, true
}

// dig walks maps by string key and slices by int index. It returns nil as
// soon as a step does not fit.
func dig(v any, path ...any) any {
	for _, step := range path {
		switch k := step.(type) {
		case string:
			m, ok := v.(map[string]any)
			if !ok {
				return nil
			}
			v = m[k]
		case int:
			s, ok := v.([]any)
			if !ok || k >= len(s) {
				return nil
			}
			v = s[k]
		}
	}
	return v
}

// text accepts only a non-empty string.
func text(v any) (string, bool) {
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// truthy mirrors how loosely-typed clients test a "success" flag.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	default:
		return true
	}
}

func snippet(s string) string {
	r := []rune(s)
	if len(r) <= snippetRunes {
		return s
	}
	return string(r[:snippetRunes])
}
