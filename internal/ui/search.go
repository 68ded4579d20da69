package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-runewidth"
	"github.com/sahilm/fuzzy"

	"github.com/twistedxcom/agentmux/internal/transcript"
)

const maxSearchResults = 10

// SearchResult is one transcript hit.
type SearchResult struct {
	Message transcript.Message
	Score   int
}

// Search is the transcript search overlay: fuzzy matching over the
// current pane's messages.
type Search struct {
	input   textinput.Model
	all     []transcript.Message
	results []SearchResult
	cursor  int
	width   int
	visible bool
}

// NewSearch creates the search overlay.
func NewSearch() *Search {
	ti := textinput.New()
	ti.Placeholder = "Search transcript..."
	ti.CharLimit = 100
	ti.Width = 50

	return &Search{input: ti}
}

// SetMessages sets the transcript to search through.
func (s *Search) SetMessages(messages []transcript.Message) {
	s.all = messages
	s.updateResults()
}

// SetWidth sets the overlay width.
func (s *Search) SetWidth(width int) {
	s.width = width
}

// Show makes the overlay visible and focuses its input.
func (s *Search) Show() {
	s.visible = true
	s.input.Focus()
}

// Hide dismisses the overlay and clears the query.
func (s *Search) Hide() {
	s.visible = false
	s.input.Blur()
	s.input.SetValue("")
	s.updateResults()
}

// IsVisible reports whether the overlay is showing.
func (s *Search) IsVisible() bool {
	return s.visible
}

// Selected returns the highlighted result, nil when there are none.
func (s *Search) Selected() *SearchResult {
	if len(s.results) == 0 {
		return nil
	}
	if s.cursor >= len(s.results) {
		s.cursor = len(s.results) - 1
	}
	return &s.results[s.cursor]
}

// Update handles key events while the overlay is visible.
func (s *Search) Update(msg tea.Msg) (*Search, tea.Cmd) {
	if !s.visible {
		return s, nil
	}

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "esc":
			s.Hide()
			return s, nil
		case "enter":
			if len(s.results) > 0 {
				s.Hide()
			}
			return s, nil
		case "up", "ctrl+k":
			if s.cursor > 0 {
				s.cursor--
			}
			return s, nil
		case "down", "ctrl+j":
			if s.cursor < len(s.results)-1 {
				s.cursor++
			}
			return s, nil
		default:
			var cmd tea.Cmd
			s.input, cmd = s.input.Update(msg)
			s.updateResults()
			return s, cmd
		}
	}
	return s, nil
}

// messageSource implements fuzzy.Source over transcript messages.
type messageSource []transcript.Message

func (m messageSource) String(i int) string { return m[i].Text }
func (m messageSource) Len() int            { return len(m) }

func (s *Search) updateResults() {
	s.cursor = 0
	query := strings.TrimSpace(s.input.Value())
	if query == "" {
		s.results = nil
		return
	}

	matches := fuzzy.FindFrom(query, messageSource(s.all))
	results := make([]SearchResult, 0, len(matches))
	for _, match := range matches {
		results = append(results, SearchResult{
			Message: s.all[match.Index],
			Score:   match.Score,
		})
		if len(results) >= maxSearchResults {
			break
		}
	}
	s.results = results
}

// View renders the overlay.
func (s *Search) View() string {
	if !s.visible {
		return ""
	}

	header := TitleStyle.Render("Transcript search")
	box := SearchBoxStyle.Render(s.input.View())

	var list strings.Builder
	for i, result := range s.results {
		line := fmt.Sprintf("[%s] %s", result.Message.Role, snippet(result.Message.Text, 70))
		if i == s.cursor {
			list.WriteString(SearchSelectedStyle.Render(line))
		} else {
			list.WriteString(SearchResultStyle.Render(line))
		}
		list.WriteString("\n")
	}
	if len(s.results) == 0 && s.input.Value() != "" {
		list.WriteString(DimStyle.Render("  no matches"))
	}

	return header + "\n" + box + "\n" + list.String()
}

// snippet flattens and truncates text to one display-width-bounded line.
func snippet(text string, width int) string {
	flat := strings.Join(strings.Fields(text), " ")
	return runewidth.Truncate(flat, width, "…")
}
