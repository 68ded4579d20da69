package contract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twistedxcom/agentmux/internal/eventlog"
)

func TestParsePayloadMalformed(t *testing.T) {
	assert.Equal(t, map[string]any{}, ParsePayload("not json"))
	assert.Equal(t, map[string]any{}, ParsePayload(""))
	assert.Equal(t, map[string]any{}, ParsePayload("null"))
	assert.Equal(t, map[string]any{"a": float64(1)}, ParsePayload(`{"a":1}`))
}

func TestNormalizeUserMessage(t *testing.T) {
	sig := Normalize(eventlog.Event{
		ID:          7,
		PaneID:      "p1",
		EventType:   eventlog.TypeTerminalInput,
		PayloadJSON: `{"text":"  hello  ","source":"terminal"}`,
	})
	assert.Equal(t, KindUserMessage, sig.Kind)
	assert.Equal(t, "hello", sig.Text)
	assert.Equal(t, int64(7), sig.ID)
	assert.Equal(t, "p1", sig.PaneID)
}

func TestNormalizeBlankInputIgnored(t *testing.T) {
	sig := Normalize(eventlog.Event{
		EventType:   eventlog.TypeTerminalInput,
		PayloadJSON: `{"text":"   "}`,
	})
	assert.Equal(t, KindIgnored, sig.Kind)
}

func TestNormalizeAssistantKeepsRawText(t *testing.T) {
	sig := Normalize(eventlog.Event{
		EventType:   eventlog.TypeTerminalOutput,
		PayloadJSON: `{"text":"  indented output\n"}`,
	})
	assert.Equal(t, KindAssistantMessage, sig.Kind)
	assert.Equal(t, "  indented output\n", sig.Text)
}

func TestNormalizeBlankOutputIgnored(t *testing.T) {
	sig := Normalize(eventlog.Event{
		EventType:   eventlog.TypeTerminalOutput,
		PayloadJSON: `{"text":"\n \n"}`,
	})
	assert.Equal(t, KindIgnored, sig.Kind)
}

func TestNormalizeChoiceRequest(t *testing.T) {
	sig := Normalize(eventlog.Event{
		EventType:   eventlog.TypeChoiceRequestDetected,
		PayloadJSON: `{"source_event_id":12,"question":"Pick","options":[{"number":1,"title":"A"},{"number":2,"title":"B"}]}`,
	})
	require.Equal(t, KindChoiceRequest, sig.Kind)
	assert.Equal(t, int64(12), sig.SourceEventID)
	assert.Equal(t, "Pick", sig.Question)
	require.Len(t, sig.Options, 2)
	assert.Equal(t, ChoiceOption{Number: 1, Title: "A"}, sig.Options[0])
}

func TestNormalizeChoiceRequestInvalidIgnored(t *testing.T) {
	sig := Normalize(eventlog.Event{
		EventType:   eventlog.TypeChoiceRequestDetected,
		PayloadJSON: `{"source_event_id":0,"options":[]}`,
	})
	assert.Equal(t, KindIgnored, sig.Kind)
}

func TestNormalizeChoiceSelected(t *testing.T) {
	sig := Normalize(eventlog.Event{
		EventType:   eventlog.TypeChoiceSelected,
		PayloadJSON: `{"source_event_id":12,"choice_number":2,"choice_title":" Retry "}`,
	})
	assert.Equal(t, KindChoiceSelected, sig.Kind)
	assert.Equal(t, int64(12), sig.SourceEventID)
	assert.Equal(t, 2, sig.ChoiceNumber)
	assert.Equal(t, "Retry", sig.ChoiceTitle)
}

func TestNormalizeUnknownTypeIsSystemEvent(t *testing.T) {
	sig := Normalize(eventlog.Event{
		EventType:   "task_status_changed",
		PayloadJSON: `{"task_id":3,"from":"open","to":"done"}`,
	})
	assert.Equal(t, KindSystemEvent, sig.Kind)
	assert.Equal(t, "task_status_changed", sig.EventType)
	assert.Equal(t, float64(3), sig.Payload["task_id"])
}

func TestNormalizeMalformedPayloadStillSystemEvent(t *testing.T) {
	sig := Normalize(eventlog.Event{
		EventType:   "pane_created",
		PayloadJSON: "{{broken",
	})
	assert.Equal(t, KindSystemEvent, sig.Kind)
	assert.Equal(t, map[string]any{}, sig.Payload)
}
