package pane

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/twistedxcom/agentmux/internal/config"
	"github.com/twistedxcom/agentmux/internal/eventlog"
	"github.com/twistedxcom/agentmux/internal/term"
)

func newTestStore(t *testing.T) *eventlog.Store {
	t.Helper()
	store, err := eventlog.Open(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestPane(t *testing.T, agentName string, def config.AgentDef, store *eventlog.Store) (*Pane, *fakeBackend) {
	t.Helper()
	t.Setenv(config.EnvDir, t.TempDir())
	config.ClearCache()

	backend := newFakeBackend()
	p := &Pane{
		ID:           "p1",
		agentName:    agentName,
		agent:        def,
		cols:         80,
		rows:         24,
		historyLines: 200,
		dedupWindow:  20 * time.Second,
		engine:       term.New(80, 24, 200),
	}
	if store != nil {
		p.recorder = eventlog.NewRecorder(store, 0)
	}
	p.session = newSessionWithBackend(agentName, def, backend)
	t.Cleanup(func() { p.Close() })
	return p, backend
}

func paneEvents(t *testing.T, store *eventlog.Store, types ...string) []eventlog.Event {
	t.Helper()
	events, err := store.List(eventlog.Filter{PaneID: "p1", EventTypes: types})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	return events
}

func TestPaneDrainFeedsEngine(t *testing.T) {
	store := newTestStore(t)
	p, backend := newTestPane(t, "shell", config.AgentDef{}, store)

	backend.emit("hello from the child\r\n")
	waitFor(t, func() bool {
		p.Drain()
		return strings.Contains(p.Render(), "hello from the child")
	}, "output to render")
}

func TestPaneDrainRecordsOutputEvent(t *testing.T) {
	store := newTestStore(t)
	p, backend := newTestPane(t, "shell", config.AgentDef{}, store)

	backend.emit("meaningful output line\r\n")
	waitFor(t, func() bool {
		p.Drain()
		return len(paneEvents(t, store, eventlog.TypeTerminalOutput)) == 1
	}, "output event")

	events := paneEvents(t, store, eventlog.TypeTerminalOutput)
	if !strings.Contains(events[0].PayloadJSON, "meaningful output line") {
		t.Fatalf("payload = %s, want cleaned text", events[0].PayloadJSON)
	}
}

func TestPaneOutputDedupWithinWindow(t *testing.T) {
	store := newTestStore(t)
	p, _ := newTestPane(t, "shell", config.AgentDef{}, store)

	p.recordOutput("repeated status line\n")
	p.recordOutput("repeated status line\n")
	if n := len(paneEvents(t, store, eventlog.TypeTerminalOutput)); n != 1 {
		t.Fatalf("events = %d, want 1 after dedup", n)
	}

	// Outside the window the same text records again.
	p.mu.Lock()
	p.lastSigAt = time.Now().Add(-time.Minute)
	p.mu.Unlock()
	p.recordOutput("repeated status line\n")
	if n := len(paneEvents(t, store, eventlog.TypeTerminalOutput)); n != 2 {
		t.Fatalf("events = %d, want 2 after window expiry", n)
	}
}

func TestPaneOutputSkipsRepaintNoise(t *testing.T) {
	store := newTestStore(t)
	p, _ := newTestPane(t, "shell", config.AgentDef{}, store)

	p.recordOutput("────────────────\n")
	p.recordOutput("⠋\n")
	if n := len(paneEvents(t, store, eventlog.TypeTerminalOutput)); n != 0 {
		t.Fatalf("events = %d, want 0 for noise", n)
	}
}

func TestPaneOutputKeepsTableContent(t *testing.T) {
	store := newTestStore(t)
	p, _ := newTestPane(t, "shell", config.AgentDef{}, store)

	p.recordOutput("| Name | Value |\n| ---- | ----- |\n| foo  | 1     |\n")
	if n := len(paneEvents(t, store, eventlog.TypeTerminalOutput)); n != 1 {
		t.Fatalf("events = %d, want 1 for table content", n)
	}
}

func TestPaneOutputSpinnerFramesDedupBySignature(t *testing.T) {
	store := newTestStore(t)
	p, _ := newTestPane(t, "shell", config.AgentDef{}, store)

	p.recordOutput("⠋ Working on it\n")
	p.recordOutput("⠙ Working on it\n")
	if n := len(paneEvents(t, store, eventlog.TypeTerminalOutput)); n != 1 {
		t.Fatalf("events = %d, want 1: frames differ only by spinner glyph", n)
	}
}

func TestPaneSubmitInputRecordsAndDelivers(t *testing.T) {
	store := newTestStore(t)
	p, backend := newTestPane(t, "shell", config.AgentDef{}, store)

	p.SubmitInput("echo hi", "prompt_input")

	events := paneEvents(t, store, eventlog.TypeTerminalInput)
	if len(events) != 1 {
		t.Fatalf("input events = %d, want 1", len(events))
	}
	if !strings.Contains(events[0].PayloadJSON, "prompt_input") {
		t.Fatalf("payload = %s, want source recorded", events[0].PayloadJSON)
	}

	// Non-direct agents get a bracketed paste plus Enter.
	waitFor(t, func() bool {
		writes := backend.written()
		return len(writes) == 2 &&
			writes[0] == "\x1b[200~echo hi\x1b[201~" && writes[1] == "\r"
	}, "bracketed paste delivery")
}

func TestPaneSubmitInputDirectAgent(t *testing.T) {
	store := newTestStore(t)
	p, backend := newTestPane(t, "claude", config.AgentDef{DirectInput: true}, store)

	p.SubmitInput("hello", "prompt_input")

	// Direct agents get plain keystrokes, then Enter after a short delay.
	waitFor(t, func() bool {
		writes := backend.written()
		return len(writes) == 2 && writes[0] == "hello" && writes[1] == "\r"
	}, "direct delivery with enter")
}

func TestPaneSlashCommandAlwaysDirect(t *testing.T) {
	store := newTestStore(t)
	p, backend := newTestPane(t, "codex", config.AgentDef{}, store)

	p.SubmitInput("/compact", "prompt_slash")
	waitFor(t, func() bool {
		writes := backend.written()
		return len(writes) == 2 && writes[0] == "/compact" && writes[1] == "\r"
	}, "slash command direct delivery")
}

func TestPaneSubmitInputDroppedWithoutSession(t *testing.T) {
	store := newTestStore(t)
	p, _ := newTestPane(t, "shell", config.AgentDef{}, store)
	p.mu.Lock()
	p.session = nil
	p.mu.Unlock()

	p.SubmitInput("lost text", "prompt_input")

	if n := len(paneEvents(t, store, eventlog.TypeTerminalInput)); n != 1 {
		t.Fatalf("input events = %d, want 1", n)
	}
	dropped := paneEvents(t, store, eventlog.TypeTerminalInputDropped)
	if len(dropped) != 1 {
		t.Fatalf("dropped events = %d, want 1", len(dropped))
	}
	if !strings.Contains(dropped[0].PayloadJSON, "no_session") {
		t.Fatalf("payload = %s, want no_session reason", dropped[0].PayloadJSON)
	}
}

func TestPaneBlankInputIgnored(t *testing.T) {
	store := newTestStore(t)
	p, backend := newTestPane(t, "shell", config.AgentDef{}, store)

	p.SubmitInput("   \n", "prompt_input")
	if n := len(paneEvents(t, store, eventlog.TypeTerminalInput)); n != 0 {
		t.Fatalf("input events = %d, want 0 for blank input", n)
	}
	if writes := backend.written(); len(writes) != 0 {
		t.Fatalf("writes = %q, want none", writes)
	}
}

func TestPaneMarksExitedWhenSessionEnds(t *testing.T) {
	store := newTestStore(t)
	p, backend := newTestPane(t, "shell", config.AgentDef{}, store)

	backend.finish()
	waitFor(t, func() bool {
		p.Drain()
		return !p.Running()
	}, "pane to observe exit")

	if ReadPrevStatus("p1") != StatusExited {
		t.Fatalf("status = %q, want %q", ReadPrevStatus("p1"), StatusExited)
	}
}

func TestPaneAttachTaskScopesEvents(t *testing.T) {
	store := newTestStore(t)
	p, _ := newTestPane(t, "shell", config.AgentDef{}, store)

	p.AttachTask(7)
	p.recordOutput("task scoped output\n")

	events, err := store.List(eventlog.Filter{PaneID: "p1", TaskID: 7})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("task-scoped events = %d, want 1", len(events))
	}
}
