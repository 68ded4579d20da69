// Package transcript folds normalized signals into the conversation view:
// user and system rows, coalesced assistant output, and at most one
// pending choice awaiting an answer.
package transcript

import (
	"github.com/twistedxcom/agentmux/internal/contract"
	"github.com/twistedxcom/agentmux/internal/term"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one rendered transcript row.
type Message struct {
	Role      string
	Text      string
	CreatedAt string
	EventID   int64
}

// DetectFunc is invoked the first time a choice is parsed out of
// assistant text, so the detection can be persisted durably. It runs at
// most once per source event across rebuilds.
type DetectFunc func(payload *contract.ChoicePayload)

// Builder rebuilds the transcript from scratch on every refresh. Only
// the set of already-detected choice sources survives between builds,
// which keeps the durable detection record append-once.
type Builder struct {
	seenChoiceSources map[int64]bool
	onDetect          DetectFunc
}

// NewBuilder creates a builder. onDetect may be nil when no durable
// detection record is wanted.
func NewBuilder(onDetect DetectFunc) *Builder {
	return &Builder{
		seenChoiceSources: make(map[int64]bool),
		onDetect:          onDetect,
	}
}

// Build folds an ascending signal slice into messages plus the pending
// choice, if any. The fold is deterministic for a given event window
// apart from the append-once detection side effect.
func (b *Builder) Build(signals []contract.Signal) ([]Message, *contract.ChoicePayload) {
	messages := []Message{}
	selected := make(map[int64]bool)
	var detected []*contract.ChoicePayload
	lastOutputSignature := ""

	for _, sig := range signals {
		switch sig.Kind {
		case contract.KindUserMessage:
			messages = append(messages, Message{
				Role:      RoleUser,
				Text:      sig.Text,
				CreatedAt: sig.CreatedAt,
				EventID:   sig.ID,
			})
			continue

		case contract.KindAssistantMessage:
			if term.IsRepaintNoise(sig.Text) {
				continue
			}
			outputSig := term.Signature(sig.Text)
			if outputSig != "" && outputSig == lastOutputSignature {
				continue
			}
			lastOutputSignature = outputSig
			if n := len(messages); n > 0 && messages[n-1].Role == RoleAssistant {
				messages[n-1].Text += sig.Text
				messages[n-1].EventID = sig.ID
			} else {
				messages = append(messages, Message{
					Role:      RoleAssistant,
					Text:      sig.Text,
					CreatedAt: sig.CreatedAt,
					EventID:   sig.ID,
				})
			}
			continue

		case contract.KindChoiceRequest:
			if sig.SourceEventID > 0 {
				b.seenChoiceSources[sig.SourceEventID] = true
				detected = append(detected, &contract.ChoicePayload{
					SourceEventID: sig.SourceEventID,
					Question:      sig.Question,
					Options:       sig.Options,
				})
			}
			continue

		case contract.KindIgnored:
			continue

		case contract.KindChoiceSelected:
			if sig.SourceEventID > 0 {
				selected[sig.SourceEventID] = true
			}
		}

		// choice_selected and system_event both render as system rows.
		if text := FormatSystemEvent(sig.EventType, sig.Payload, sig.CreatedAt); text != "" {
			messages = append(messages, Message{
				Role:      RoleSystem,
				Text:      text,
				CreatedAt: sig.CreatedAt,
				EventID:   sig.ID,
			})
		}
	}

	pending := b.resolvePendingChoice(messages, selected, detected)
	return messages, pending
}

// resolvePendingChoice prefers a fresh parse of the newest assistant
// message so the option text stays exact, and falls back to already
// persisted choice requests.
func (b *Builder) resolvePendingChoice(
	messages []Message,
	selected map[int64]bool,
	detected []*contract.ChoicePayload,
) *contract.ChoicePayload {
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		if msg.Role != RoleAssistant {
			continue
		}
		if msg.EventID <= 0 || selected[msg.EventID] {
			continue
		}
		parsed := contract.ExtractChoice(msg.Text)
		if parsed == nil {
			continue
		}
		payload := &contract.ChoicePayload{
			SourceEventID: msg.EventID,
			Question:      parsed.Question,
			Options:       parsed.Options,
		}
		if !b.seenChoiceSources[msg.EventID] {
			b.seenChoiceSources[msg.EventID] = true
			if b.onDetect != nil {
				b.onDetect(payload)
			}
		}
		return payload
	}

	for i := len(detected) - 1; i >= 0; i-- {
		payload := detected[i]
		if payload.SourceEventID <= 0 || selected[payload.SourceEventID] {
			continue
		}
		return payload
	}
	return nil
}
