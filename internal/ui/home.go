// Package ui is the terminal front end: a pane strip, a terminal or
// chat view per pane, a prompt line and transcript search.
package ui

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/twistedxcom/agentmux/internal/clipboard"
	"github.com/twistedxcom/agentmux/internal/config"
	"github.com/twistedxcom/agentmux/internal/contract"
	"github.com/twistedxcom/agentmux/internal/eventlog"
	"github.com/twistedxcom/agentmux/internal/logging"
	"github.com/twistedxcom/agentmux/internal/pane"
	"github.com/twistedxcom/agentmux/internal/transcript"
)

var uiLog = logging.ForComponent(logging.CompUI)

// version is stamped by the build; SetVersion overrides it.
var version = "dev"

// SetVersion sets the version string shown in the header.
func SetVersion(v string) {
	version = v
}

// ViewMode selects what the body shows for the active pane.
type ViewMode int

const (
	ViewTerminal ViewMode = iota
	ViewChat
)

// choiceCommandRe matches a bare option number typed into the prompt
// while a choice card is pending.
var choiceCommandRe = regexp.MustCompile(`^\s*(\d{1,2})(?:[).:\-]\s*)?$`)

type tickMsg time.Time

// paneState is the per-pane transcript pipeline: cached event window,
// incremental poller and the fold builder with its durable-detection
// hook.
type paneState struct {
	events  []eventlog.Event
	poller  *eventlog.Poller
	builder *transcript.Builder

	messages []transcript.Message
	pending  *contract.ChoicePayload
}

// Home is the root bubbletea model.
type Home struct {
	manager  *pane.Manager
	store    *eventlog.Store
	recorder *eventlog.Recorder

	paneIDs []string
	active  int
	states  map[string]*paneState

	statusWatcher *pane.StatusWatcher
	paneStatus    map[string]string

	mode     ViewMode
	viewport viewport.Model
	prompt   textinput.Model
	search   *Search

	width  int
	height int
	err    error
	notice string
}

// NewHome creates the root model over an existing pane manager.
func NewHome(manager *pane.Manager, store *eventlog.Store, recorder *eventlog.Recorder) *Home {
	prompt := textinput.New()
	prompt.Placeholder = "Type a message for the active pane..."
	prompt.CharLimit = 4000
	prompt.Focus()

	return &Home{
		manager:    manager,
		store:      store,
		recorder:   recorder,
		states:     make(map[string]*paneState),
		paneStatus: make(map[string]string),
		viewport:   viewport.New(80, 20),
		prompt:     prompt,
		search:     NewSearch(),
	}
}

// AddPane starts a pane and wires its transcript pipeline.
func (h *Home) AddPane(id, agent, cwd string) error {
	p, err := h.manager.StartPane(id, agent, cwd)
	if err != nil {
		return err
	}

	settings := config.GetTranscriptSettings()
	state := &paneState{
		poller: eventlog.NewPoller(h.store,
			eventlog.Filter{PaneID: id, Limit: settings.EventWindow},
			time.Duration(settings.PollMillis)*time.Millisecond),
	}
	state.builder = transcript.NewBuilder(func(payload *contract.ChoicePayload) {
		h.recorder.Record(id, p.TaskID(), p.Agent(),
			eventlog.TypeChoiceRequestDetected, payload.PayloadMap())
	})

	h.states[id] = state
	h.paneStatus[id] = pane.ReadPrevStatus(id)
	h.paneIDs = append(h.paneIDs, id)
	if len(h.paneIDs) == 1 {
		h.active = 0
	}
	return nil
}

// ActivePane returns the focused pane, nil when there are none.
func (h *Home) ActivePane() *pane.Pane {
	if len(h.paneIDs) == 0 {
		return nil
	}
	p, ok := h.manager.Get(h.paneIDs[h.active])
	if !ok {
		return nil
	}
	return p
}

func (h *Home) activeState() *paneState {
	if len(h.paneIDs) == 0 {
		return nil
	}
	return h.states[h.paneIDs[h.active]]
}

// Init starts the status watcher and the refresh tick.
func (h *Home) Init() tea.Cmd {
	if watcher, err := pane.NewStatusWatcher(""); err == nil {
		h.statusWatcher = watcher
		go watcher.Start()
	} else {
		uiLog.Warn("status_watcher_unavailable", slog.String("error", err.Error()))
	}
	return tea.Batch(textinput.Blink, h.tick())
}

func (h *Home) tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// drainStatusEvents applies pane lifecycle transitions published since
// the last tick. The strip exited marker is driven by these status
// events, not by polling the session each render.
func (h *Home) drainStatusEvents() {
	if h.statusWatcher == nil {
		return
	}
	for {
		select {
		case event := <-h.statusWatcher.EventCh():
			h.applyStatus(event)
		default:
			return
		}
	}
}

func (h *Home) applyStatus(event pane.StatusEvent) {
	h.paneStatus[event.PaneID] = event.Status
}

// refreshTranscript pulls new events for the active pane and refolds
// its transcript. The poller rate-limits actual store reads.
func (h *Home) refreshTranscript() {
	if len(h.paneIDs) == 0 {
		return
	}
	id := h.paneIDs[h.active]
	state := h.states[id]
	if state == nil {
		return
	}

	fresh, err := state.poller.Poll()
	if err != nil {
		h.err = err
		return
	}
	if len(fresh) == 0 && len(state.events) > 0 {
		return
	}

	state.events = append(state.events, fresh...)
	window := config.GetTranscriptSettings().EventWindow
	if len(state.events) > window {
		state.events = state.events[len(state.events)-window:]
	}

	signals := make([]contract.Signal, 0, len(state.events))
	for _, event := range state.events {
		signals = append(signals, contract.Normalize(event))
	}
	state.messages, state.pending = state.builder.Build(signals)
}

// Update implements tea.Model.
func (h *Home) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		h.width = msg.Width
		h.height = msg.Height
		h.viewport.Width = msg.Width - 2
		h.viewport.Height = msg.Height - 6
		h.prompt.Width = msg.Width - 6
		h.search.SetWidth(msg.Width)
		if p := h.ActivePane(); p != nil {
			p.Resize(msg.Width-2, h.viewport.Height)
		}
		return h, nil

	case tickMsg:
		h.drainStatusEvents()
		h.refreshTranscript()
		h.syncViewport()
		return h, h.tick()

	case tea.KeyMsg:
		if h.search.IsVisible() {
			var cmd tea.Cmd
			h.search, cmd = h.search.Update(msg)
			return h, cmd
		}
		return h.handleKey(msg)
	}

	var cmd tea.Cmd
	h.prompt, cmd = h.prompt.Update(msg)
	return h, cmd
}

func (h *Home) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	h.notice = ""
	switch msg.String() {
	case "ctrl+c":
		if h.statusWatcher != nil {
			h.statusWatcher.Stop()
		}
		return h, tea.Quit

	case "tab":
		if len(h.paneIDs) > 1 {
			h.active = (h.active + 1) % len(h.paneIDs)
			h.refreshTranscript()
		}
		return h, nil

	case "shift+tab":
		if len(h.paneIDs) > 1 {
			h.active = (h.active - 1 + len(h.paneIDs)) % len(h.paneIDs)
			h.refreshTranscript()
		}
		return h, nil

	case "ctrl+t":
		if h.mode == ViewTerminal {
			h.mode = ViewChat
		} else {
			h.mode = ViewTerminal
		}
		h.viewport.GotoBottom()
		return h, nil

	case "ctrl+f":
		if state := h.activeState(); state != nil {
			h.search.SetMessages(state.messages)
		}
		h.search.Show()
		return h, nil

	case "ctrl+r":
		if p := h.ActivePane(); p != nil {
			if err := p.Restart(); err != nil {
				h.err = err
			}
		}
		return h, nil

	case "ctrl+y":
		h.copyView()
		return h, nil

	case "pgup":
		h.viewport.HalfViewUp()
		return h, nil

	case "pgdown":
		h.viewport.HalfViewDown()
		return h, nil

	case "enter":
		h.submitPrompt()
		return h, nil
	}

	var cmd tea.Cmd
	h.prompt, cmd = h.prompt.Update(msg)
	return h, cmd
}

// copyView copies the visible content of the active pane: the terminal
// snapshot in terminal mode, the latest assistant message in chat mode.
func (h *Home) copyView() {
	var text string
	switch h.mode {
	case ViewTerminal:
		if p := h.ActivePane(); p != nil {
			text = strings.Join(p.SnapshotLines(), "\n")
		}
	case ViewChat:
		if state := h.activeState(); state != nil {
			for i := len(state.messages) - 1; i >= 0; i-- {
				if state.messages[i].Role == transcript.RoleAssistant {
					text = state.messages[i].Text
					break
				}
			}
		}
	}
	if strings.TrimSpace(text) == "" {
		h.notice = "nothing to copy"
		return
	}

	result, err := clipboard.Copy(text)
	if err != nil {
		h.err = err
		return
	}
	h.err = nil
	h.notice = fmt.Sprintf("copied %d lines (%s)", result.LineCount, result.Method)
	uiLog.Debug("clipboard_copy",
		slog.String("method", result.Method),
		slog.Int("bytes", result.ByteSize),
	)
}

// submitPrompt routes the prompt line: a bare number answers a pending
// choice, anything else goes to the pane as a user message.
func (h *Home) submitPrompt() {
	text := h.prompt.Value()
	if strings.TrimSpace(text) == "" {
		return
	}
	p := h.ActivePane()
	if p == nil {
		h.err = fmt.Errorf("no active pane")
		return
	}

	state := h.activeState()
	if state != nil && state.pending != nil {
		if m := choiceCommandRe.FindStringSubmatch(text); m != nil {
			number, _ := strconv.Atoi(m[1])
			if h.selectOption(p, state, number) {
				h.prompt.SetValue("")
				return
			}
		}
	}

	source := "prompt_input"
	if h.mode == ViewChat {
		source = "chat_panel_input"
	}
	p.SubmitInput(text, source)
	h.prompt.SetValue("")
}

// selectOption answers a pending choice: the number is typed into the
// agent and the selection is recorded against its source event.
func (h *Home) selectOption(p *pane.Pane, state *paneState, number int) bool {
	pending := state.pending
	if pending == nil || pending.SourceEventID <= 0 {
		return false
	}
	title := ""
	for _, option := range pending.Options {
		if option.Number == number {
			title = option.Title
			break
		}
	}
	if title == "" {
		return false
	}

	p.SubmitInput(strconv.Itoa(number), "chat_choice_text")
	h.recorder.Record(p.ID, p.TaskID(), p.Agent(), eventlog.TypeChoiceSelected,
		map[string]any{
			"source_event_id": pending.SourceEventID,
			"choice_number":   number,
			"choice_title":    title,
			"input_source":    "chat_choice_text",
		})

	uiLog.Info("choice_selected",
		slog.String("pane", p.ID),
		slog.Int("number", number),
	)
	state.pending = nil
	return true
}

func (h *Home) syncViewport() {
	atBottom := h.viewport.AtBottom()
	switch h.mode {
	case ViewTerminal:
		if p := h.ActivePane(); p != nil {
			h.viewport.SetContent(p.Render())
		} else {
			h.viewport.SetContent(DimStyle.Render("No panes. Start one from the command line."))
		}
	case ViewChat:
		h.viewport.SetContent(h.renderChat())
	}
	if atBottom {
		h.viewport.GotoBottom()
	}
}

// View implements tea.Model.
func (h *Home) View() string {
	if h.width == 0 {
		return "loading..."
	}

	var b strings.Builder
	b.WriteString(h.renderPaneStrip())
	b.WriteString("\n")

	if h.search.IsVisible() {
		b.WriteString(h.search.View())
	} else {
		b.WriteString(PanelStyle.Width(h.width - 2).Render(h.viewport.View()))
	}
	b.WriteString("\n")

	b.WriteString(PromptBoxStyle.Width(h.width - 2).Render(h.prompt.View()))
	b.WriteString("\n")
	b.WriteString(h.renderMenu())

	if h.err != nil {
		b.WriteString("\n")
		b.WriteString(ErrorStyle.Render(h.err.Error()))
	} else if h.notice != "" {
		b.WriteString("\n")
		b.WriteString(DimStyle.Render(h.notice))
	}
	return b.String()
}

func (h *Home) renderPaneStrip() string {
	title := TitleStyle.Render("agentmux " + version)
	if len(h.paneIDs) == 0 {
		return title
	}

	tabs := make([]string, 0, len(h.paneIDs))
	for i, id := range h.paneIDs {
		label := id
		if p, ok := h.manager.Get(id); ok {
			if def := config.GetAgentDef(p.Agent()); def != nil && def.Icon != "" {
				label = def.Icon + " " + id
			}
		}
		if status := h.paneStatus[id]; status == pane.StatusExited || status == pane.StatusFailed {
			label = PaneStatusExited.Render("✗") + " " + label
		}
		if i == h.active {
			tabs = append(tabs, PaneTabActiveStyle.Render(label))
		} else {
			tabs = append(tabs, PaneTabStyle.Render(label))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, title, "  ",
		lipgloss.JoinHorizontal(lipgloss.Top, tabs...))
}

func (h *Home) renderMenu() string {
	items := []string{
		MenuKey("Tab", "Next pane"),
		MenuKey("^T", "Terminal/Chat"),
		MenuKey("^F", "Search"),
		MenuKey("^R", "Restart"),
		MenuKey("^Y", "Copy"),
		MenuKey("Enter", "Send"),
		MenuKey("^C", "Quit"),
	}
	return MenuBarStyle.Width(h.width).Render(strings.Join(items, "  "))
}
