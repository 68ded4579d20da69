// Package contract normalizes low-level stored events into a small
// closed set of semantic signals. Transcript rendering consumes only
// this contract, never raw event shapes.
package contract

import (
	"encoding/json"
	"strings"

	"github.com/twistedxcom/agentmux/internal/eventlog"
)

// Signal kinds.
const (
	KindUserMessage      = "user_message"
	KindAssistantMessage = "assistant_message"
	KindChoiceRequest    = "choice_request"
	KindChoiceSelected   = "choice_selected"
	KindSystemEvent      = "system_event"
	KindIgnored          = "ignored"
)

// Signal is the normalized, non-persisted view of one event.
// Kind-specific fields are populated per the table in Normalize; the
// raw payload is always carried for system-event formatting.
type Signal struct {
	ID        int64
	PaneID    string
	TaskID    int64
	CreatedAt string
	Agent     string
	EventType string
	Kind      string

	Text    string
	Payload map[string]any

	SourceEventID int64
	Question      string
	Options       []ChoiceOption
	ChoiceNumber  int
	ChoiceTitle   string
}

// ParsePayload decodes stored payload JSON. Malformed or non-object
// payloads decode to an empty map rather than failing the read.
func ParsePayload(payloadJSON string) map[string]any {
	var data map[string]any
	if err := json.Unmarshal([]byte(payloadJSON), &data); err != nil || data == nil {
		return map[string]any{}
	}
	return data
}

// Normalize maps one stored event to its semantic signal. It is a pure
// function of the event's own fields.
func Normalize(event eventlog.Event) Signal {
	payload := ParsePayload(event.PayloadJSON)
	sig := Signal{
		ID:        event.ID,
		PaneID:    event.PaneID,
		TaskID:    event.TaskID,
		CreatedAt: event.CreatedAt,
		Agent:     event.Agent,
		EventType: event.EventType,
		Payload:   payload,
	}

	switch event.EventType {
	case eventlog.TypeTerminalInput:
		text := strings.TrimSpace(asString(payload["text"]))
		sig.Text = text
		if text != "" {
			sig.Kind = KindUserMessage
		} else {
			sig.Kind = KindIgnored
		}

	case eventlog.TypeTerminalOutput:
		text := asString(payload["text"])
		sig.Text = text
		if strings.TrimSpace(text) != "" {
			sig.Kind = KindAssistantMessage
		} else {
			sig.Kind = KindIgnored
		}

	case eventlog.TypeChoiceRequestDetected:
		normalized := NormalizeChoicePayload(payload)
		if normalized == nil {
			sig.Kind = KindIgnored
			break
		}
		sig.Kind = KindChoiceRequest
		sig.SourceEventID = normalized.SourceEventID
		sig.Question = normalized.Question
		sig.Options = normalized.Options

	case eventlog.TypeChoiceSelected:
		sig.Kind = KindChoiceSelected
		sig.SourceEventID = asInt(payload["source_event_id"])
		sig.ChoiceNumber = int(asInt(payload["choice_number"]))
		sig.ChoiceTitle = strings.TrimSpace(asString(payload["choice_title"]))

	default:
		sig.Kind = KindSystemEvent
	}

	return sig
}
