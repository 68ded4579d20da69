package eventlog

import (
	"encoding/json"

	"github.com/twistedxcom/agentmux/internal/logging"
)

var logRecorder = logging.ForComponent(logging.CompEventLog)

// SchemaMarker is stamped into every payload this pipeline records.
const SchemaMarker = "signal.v1"

// DefaultTextLimit is the payload text truncation threshold in runes.
const DefaultTextLimit = 12000

// Recorder wraps a Store with the append policy the interactive pipeline
// needs: payloads get a schema marker and text truncation, and append
// failures are swallowed so logging can never block a session.
type Recorder struct {
	store     *Store
	textLimit int
}

// NewRecorder creates a recorder over store. textLimit <= 0 selects the
// default of 12000 runes.
func NewRecorder(store *Store, textLimit int) *Recorder {
	if textLimit <= 0 {
		textLimit = DefaultTextLimit
	}
	return &Recorder{store: store, textLimit: textLimit}
}

// Record normalizes the payload and appends one event. Returns the
// assigned id, or 0 if the append failed (the failure is logged and
// otherwise ignored).
func (r *Recorder) Record(paneID string, taskID int64, agent, eventType string, payload map[string]any) int64 {
	normalized := r.NormalizePayload(payload)
	data, err := json.Marshal(normalized)
	if err != nil {
		logRecorder.Warn("payload marshal failed", "event_type", eventType, "error", err)
		data = []byte("{}")
	}
	id, err := r.store.Append(paneID, taskID, agent, eventType, string(data))
	if err != nil {
		// Event logging must never block UI workflows.
		logRecorder.Warn("event append failed", "event_type", eventType, "error", err)
		return 0
	}
	return id
}

// NormalizePayload stamps the schema marker and truncates an oversized
// text field to its trailing textLimit runes, recording the truncation.
func (r *Recorder) NormalizePayload(payload map[string]any) map[string]any {
	normalized := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		normalized[k] = v
	}
	if _, ok := normalized["_schema"]; !ok {
		normalized["_schema"] = SchemaMarker
	}
	if text, ok := normalized["text"].(string); ok {
		runes := []rune(text)
		if len(runes) > r.textLimit {
			normalized["text"] = string(runes[len(runes)-r.textLimit:])
			normalized["truncated"] = true
			normalized["original_length"] = len(runes)
		}
	}
	return normalized
}
