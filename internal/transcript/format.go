package transcript

import (
	"fmt"
	"strings"
)

// FormatSystemEvent renders one system-kind event as a single transcript
// line. Event types without a mapping render as "" and produce no row.
func FormatSystemEvent(eventType string, payload map[string]any, createdAt string) string {
	switch eventType {
	case "task_status_changed":
		return fmt.Sprintf("[%s] Task #%s: %s -> %s",
			createdAt, num(payload["task_id"]), str(payload["from"]), str(payload["to"]))
	case "task_attached":
		return fmt.Sprintf("[%s] Attached task #%s", createdAt, num(payload["task_id"]))
	case "project_attached":
		return fmt.Sprintf("[%s] Attached project: %s", createdAt, str(payload["project_name"]))
	case "context_injected":
		return fmt.Sprintf("[%s] Injected context: %s -> %s",
			createdAt, str(payload["source_pane"]), str(payload["target_pane"]))
	case "task_created":
		return fmt.Sprintf("[%s] Task created: %s", createdAt, str(payload["task_title"]))
	case "project_created":
		return fmt.Sprintf("[%s] Project created: %s", createdAt, str(payload["project_name"]))
	case "pane_created", "pane_removed":
		return fmt.Sprintf("[%s] %s: %s", createdAt, titleWords(eventType), str(payload["pane_id"]))
	case "project_iteration_saved", "project_iteration_save_failed",
		"task_deleted", "project_deleted":
		return fmt.Sprintf("[%s] %s", createdAt, titleWords(eventType))
	case "assistant_choice_selected":
		number := num(payload["choice_number"])
		title := strings.TrimSpace(str(payload["choice_title"]))
		if title != "" {
			return fmt.Sprintf("[%s] Selected option %s: %s", createdAt, number, title)
		}
		return fmt.Sprintf("[%s] Selected option %s", createdAt, number)
	}
	if strings.HasPrefix(eventType, "ui_") {
		return fmt.Sprintf("[%s] %s", createdAt, titleWords(strings.TrimPrefix(eventType, "ui_")))
	}
	return ""
}

// titleWords turns "pane_created" into "Pane Created".
func titleWords(s string) string {
	words := strings.Split(s, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		r := []rune(w)
		words[i] = strings.ToUpper(string(r[0])) + string(r[1:])
	}
	return strings.Join(words, " ")
}

func str(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", s)
	}
}

// num renders a payload number without a float suffix; JSON decodes
// integers as float64.
func num(v any) string {
	switch n := v.(type) {
	case float64:
		if n == float64(int64(n)) {
			return fmt.Sprintf("%d", int64(n))
		}
		return fmt.Sprintf("%v", n)
	case int:
		return fmt.Sprintf("%d", n)
	case int64:
		return fmt.Sprintf("%d", n)
	case string:
		return n
	case nil:
		return "?"
	default:
		return fmt.Sprintf("%v", n)
	}
}
