package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/twistedxcom/agentmux/internal/contract"
	"github.com/twistedxcom/agentmux/internal/transcript"
)

// renderChat renders the active pane's transcript plus the pending
// choice card, if any.
func (h *Home) renderChat() string {
	state := h.activeState()
	if state == nil || (len(state.messages) == 0 && state.pending == nil) {
		return DimStyle.Render("No conversation events yet.")
	}

	bubbleWidth := h.width - 8
	if bubbleWidth < 20 {
		bubbleWidth = 20
	}

	var b strings.Builder
	for _, msg := range state.messages {
		rendered := renderMessage(msg, bubbleWidth)
		if rendered == "" {
			continue
		}
		b.WriteString(rendered)
		b.WriteString("\n")
	}

	if state.pending != nil {
		b.WriteString(renderChoiceCard(state.pending, bubbleWidth))
		b.WriteString("\n")
	}
	return b.String()
}

func renderMessage(msg transcript.Message, width int) string {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return ""
	}

	switch msg.Role {
	case transcript.RoleUser:
		bubble := UserMessageStyle.MaxWidth(width).Render(text)
		return lipgloss.NewStyle().Align(lipgloss.Right).Render(bubble)
	case transcript.RoleAssistant:
		return AssistantMessageStyle.MaxWidth(width).Render(text)
	default:
		return SystemMessageStyle.Render(runewidth.Truncate(text, width, "…"))
	}
}

// renderChoiceCard shows the question and numbered options; typing the
// number into the prompt answers it.
func renderChoiceCard(pending *contract.ChoicePayload, width int) string {
	var b strings.Builder
	b.WriteString(ChoiceQuestionStyle.Render(pending.Question))
	b.WriteString("\n")
	for _, option := range pending.Options {
		b.WriteString(ChoiceNumberStyle.Render(fmt.Sprintf(" %d)", option.Number)))
		b.WriteString(" ")
		b.WriteString(BaseStyle.Render(option.Title))
		b.WriteString("\n")
	}
	b.WriteString(DimStyle.Render("type an option number to answer"))
	return ChoiceCardStyle.MaxWidth(width).Render(b.String())
}
