package contract

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// DefaultQuestion is used when an extracted prompt has no leading text.
const DefaultQuestion = "Choose one option."

// optionRe matches an enumerated option line: a 1-2 digit number
// followed by one of ) . : - and a non-empty title.
var optionRe = regexp.MustCompile(`(?:^|\s)(\d{1,2})\s*[).:\-]\s+(.+)$`)

// ChoiceOption is one selectable entry of a choice prompt.
type ChoiceOption struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
}

// ChoicePayload is a structured enumerated-option prompt parsed from
// assistant text. SourceEventID references the event whose text the
// options came from; a later choice_selected signal carrying the same
// id resolves the prompt.
type ChoicePayload struct {
	SourceEventID int64          `json:"source_event_id"`
	Question      string         `json:"question"`
	Options       []ChoiceOption `json:"options"`
}

// ExtractChoice scans free-form assistant text for an enumerated-option
// prompt. Lines strictly before the first option line form the
// question. Options are deduplicated by number (first occurrence wins)
// and sorted ascending. Returns nil when no option line exists.
//
// This is a best-effort structural heuristic: false negatives are
// expected and the caller degrades to plain-text display.
func ExtractChoice(text string) *ChoicePayload {
	var options []ChoiceOption
	optionStart := -1
	seen := make(map[int]bool)

	lines := strings.Split(text, "\n")
	for idx, raw := range lines {
		line := strings.TrimRight(raw, " \t")
		if strings.TrimSpace(line) == "" {
			continue
		}
		m := optionRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		number, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		title := strings.TrimSpace(m[2])
		if title == "" || seen[number] {
			continue
		}
		if optionStart < 0 {
			optionStart = idx
		}
		seen[number] = true
		options = append(options, ChoiceOption{Number: number, Title: title})
	}
	if len(options) == 0 {
		return nil
	}
	sort.Slice(options, func(i, j int) bool { return options[i].Number < options[j].Number })

	var questionLines []string
	for _, raw := range lines[:optionStart] {
		questionLines = append(questionLines, strings.TrimRight(raw, " \t"))
	}
	question := strings.TrimSpace(strings.Join(questionLines, "\n"))
	if question == "" {
		question = DefaultQuestion
	}
	return &ChoicePayload{Question: question, Options: options}
}

// NormalizeChoicePayload validates a stored choice payload map. Returns
// nil unless it carries a positive source event id and at least one
// well-formed option. Options are deduplicated by number and sorted.
func NormalizeChoicePayload(payload map[string]any) *ChoicePayload {
	sourceEventID := asInt(payload["source_event_id"])
	if sourceEventID <= 0 {
		return nil
	}
	rawOptions, ok := payload["options"].([]any)
	if !ok || len(rawOptions) == 0 {
		return nil
	}

	var options []ChoiceOption
	seen := make(map[int]bool)
	for _, raw := range rawOptions {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		number := int(asInt(entry["number"]))
		title := strings.TrimSpace(asString(entry["title"]))
		if number <= 0 || title == "" || seen[number] {
			continue
		}
		seen[number] = true
		options = append(options, ChoiceOption{Number: number, Title: title})
	}
	if len(options) == 0 {
		return nil
	}
	sort.Slice(options, func(i, j int) bool { return options[i].Number < options[j].Number })

	question := strings.TrimSpace(asString(payload["question"]))
	if question == "" {
		question = DefaultQuestion
	}
	return &ChoicePayload{
		SourceEventID: sourceEventID,
		Question:      question,
		Options:       options,
	}
}

// PayloadMap converts a payload back into the generic map shape used
// for recording.
func (c *ChoicePayload) PayloadMap() map[string]any {
	options := make([]any, 0, len(c.Options))
	for _, opt := range c.Options {
		options = append(options, map[string]any{"number": opt.Number, "title": opt.Title})
	}
	return map[string]any{
		"source_event_id": c.SourceEventID,
		"question":        c.Question,
		"options":         options,
	}
}

func asInt(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0
		}
		return i
	}
	return 0
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
