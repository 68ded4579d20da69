// Package pane runs one interactive agent CLI per pane: a child process
// under a PTY, a virtual terminal fed from its output, and the event
// trail recorded from what flows through.
package pane

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/twistedxcom/agentmux/internal/config"
	"github.com/twistedxcom/agentmux/internal/eventlog"
	"github.com/twistedxcom/agentmux/internal/logging"
	"github.com/twistedxcom/agentmux/internal/term"
)

var paneLog = logging.ForComponent(logging.CompPane)

// DrainInterval is the pane output pump cadence.
const DrainInterval = 50 * time.Millisecond

// drainMaxChunks bounds how many chunks one drain pass consumes so a
// flooding child cannot starve the control loop.
const drainMaxChunks = 64

// submitEnterDelay separates typed text from its Enter so TUI agents
// register them as distinct key events.
const submitEnterDelay = 50 * time.Millisecond

// startupMessageDelay gives a fresh CLI a moment to initialize before
// the configured startup message is typed in.
const startupMessageDelay = 350 * time.Millisecond

// Pane couples a session, its terminal engine and the event recorder.
// All methods are safe for concurrent use; the engine is only mutated
// under the pane lock so grid state stays single-threaded.
type Pane struct {
	ID        string
	agentName string
	agent     config.AgentDef
	cwd       string

	cols         int
	rows         int
	historyLines int
	dedupWindow  time.Duration

	recorder *eventlog.Recorder

	mu        sync.Mutex
	session   *Session
	engine    *term.Engine
	taskID    int64
	lastSig   string
	lastSigAt time.Time
	exited    bool
}

// Options configures a new pane.
type Options struct {
	ID           string
	Agent        string
	Cwd          string
	Cols         int
	Rows         int
	HistoryLines int
	DedupWindow  time.Duration
	Recorder     *eventlog.Recorder
}

// New creates a pane and starts its agent session.
func New(opts Options) (*Pane, error) {
	def := config.GetAgentDef(opts.Agent)
	if def == nil {
		return nil, fmt.Errorf("unknown agent %q", opts.Agent)
	}
	if opts.Cols <= 0 {
		opts.Cols = 80
	}
	if opts.Rows <= 0 {
		opts.Rows = 24
	}
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = 20 * time.Second
	}

	p := &Pane{
		ID:           opts.ID,
		agentName:    opts.Agent,
		agent:        *def,
		cwd:          opts.Cwd,
		cols:         opts.Cols,
		rows:         opts.Rows,
		historyLines: opts.HistoryLines,
		dedupWindow:  opts.DedupWindow,
		recorder:     opts.Recorder,
		engine:       term.New(opts.Cols, opts.Rows, opts.HistoryLines),
	}
	if err := p.startSession(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Pane) startSession() error {
	session, err := NewSession(p.agentName, p.agent, p.cwd, p.cols, p.rows)
	if err != nil {
		writeStatus(p.ID, p.agentName, StatusFailed)
		return err
	}

	p.mu.Lock()
	p.session = session
	p.exited = false
	p.mu.Unlock()

	writeStatus(p.ID, p.agentName, StatusRunning)

	if msg := p.agent.StartupMessage; msg != "" {
		time.AfterFunc(startupMessageDelay, func() {
			p.deliver(msg)
		})
	}
	return nil
}

// Agent returns the pane's agent name.
func (p *Pane) Agent() string {
	return p.agentName
}

// TaskID returns the attached task id, 0 when unattached.
func (p *Pane) TaskID() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.taskID
}

// AttachTask scopes subsequent events to a task. Zero detaches.
func (p *Pane) AttachTask(taskID int64) {
	p.mu.Lock()
	p.taskID = taskID
	p.mu.Unlock()
}

// Running reports whether the pane has a live session.
func (p *Pane) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session != nil && p.session.Running() && !p.exited
}

// Render returns the pane's current terminal text.
func (p *Pane) Render() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.Render()
}

// SnapshotLines returns the pane's terminal lines, history included.
func (p *Pane) SnapshotLines() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.SnapshotLines()
}

// Resize applies new dimensions to both the engine and the child PTY.
func (p *Pane) Resize(cols, rows int) {
	if cols <= 0 || rows <= 0 {
		return
	}
	p.mu.Lock()
	p.cols = cols
	p.rows = rows
	p.engine.Resize(cols, rows)
	session := p.session
	p.mu.Unlock()

	if session != nil {
		if err := session.Resize(cols, rows); err != nil {
			paneLog.Debug("pane_resize_failed",
				slog.String("pane", p.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Drain pumps buffered session output into the engine and records one
// terminal_output event for the pass. Called on the pane control loop
// every DrainInterval.
func (p *Pane) Drain() {
	p.mu.Lock()
	session := p.session
	p.mu.Unlock()
	if session == nil {
		return
	}

	var chunks []string
	closed := false
drain:
	for i := 0; i < drainMaxChunks; i++ {
		select {
		case data, ok := <-session.Chunks():
			if !ok {
				closed = true
				break drain
			}
			chunks = append(chunks, string(data))
		default:
			break drain
		}
	}

	if len(chunks) > 0 {
		bytes := 0
		p.mu.Lock()
		for _, chunk := range chunks {
			p.engine.Feed([]byte(chunk))
			bytes += len(chunk)
		}
		p.mu.Unlock()
		p.recordOutput(strings.Join(chunks, ""))
		logging.Aggregate(logging.CompPane, "drain",
			slog.String("pane", p.ID),
			slog.Int("chunks", len(chunks)),
			slog.Int("bytes", bytes),
		)
	}

	if closed {
		p.markExited()
	}
}

func (p *Pane) markExited() {
	p.mu.Lock()
	already := p.exited
	p.exited = true
	p.mu.Unlock()
	if already {
		return
	}
	writeStatus(p.ID, p.agentName, StatusExited)
	paneLog.Info("pane_session_exited", slog.String("pane", p.ID))
}

// recordOutput appends cleaned, non-noise output to the event log.
// A repeated signature inside the dedup window is dropped to keep TUI
// repaint loops from spamming the log.
func (p *Pane) recordOutput(raw string) {
	if p.recorder == nil || raw == "" {
		return
	}
	cleaned := term.CleanText(raw)
	if strings.TrimSpace(cleaned) == "" {
		return
	}
	if term.IsRepaintNoise(cleaned) {
		return
	}
	signature := term.Signature(cleaned)
	if signature == "" {
		return
	}

	now := time.Now()
	p.mu.Lock()
	if signature == p.lastSig && now.Sub(p.lastSigAt) < p.dedupWindow {
		p.mu.Unlock()
		return
	}
	p.lastSig = signature
	p.lastSigAt = now
	taskID := p.taskID
	p.mu.Unlock()

	p.recorder.Record(p.ID, taskID, p.agentName, eventlog.TypeTerminalOutput,
		map[string]any{"text": cleaned})
}

// SubmitInput records and delivers one user message. The submission is
// always recorded; without a live session a drop marker is recorded
// instead of delivering.
func (p *Pane) SubmitInput(text, source string) {
	stripped := strings.TrimSpace(text)
	if stripped == "" {
		return
	}

	p.mu.Lock()
	session := p.session
	taskID := p.taskID
	exited := p.exited
	p.mu.Unlock()

	p.record(eventlog.TypeTerminalInput, taskID, map[string]any{
		"text":   stripped,
		"source": source,
	})

	if session == nil || !session.Running() || exited {
		p.record(eventlog.TypeTerminalInputDropped, taskID, map[string]any{
			"text":   stripped,
			"source": source,
			"reason": "no_session",
		})
		return
	}

	p.deliver(text)
}

// deliver types text into the agent. Slash commands and direct-input
// agents get plain keystrokes with a separate Enter; everything else
// goes as a bracketed paste so multiline text is not executed per line.
func (p *Pane) deliver(text string) {
	p.mu.Lock()
	session := p.session
	p.mu.Unlock()
	if session == nil {
		return
	}

	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")

	if strings.HasPrefix(strings.TrimSpace(text), "/") || p.agent.DirectInput {
		if err := session.Send(normalized); err != nil {
			paneLog.Warn("pane_send_failed",
				slog.String("pane", p.ID), slog.String("error", err.Error()))
			return
		}
		time.AfterFunc(submitEnterDelay, func() {
			_ = session.Send("\r")
		})
		return
	}

	if err := session.Send("\x1b[200~" + normalized + "\x1b[201~"); err != nil {
		paneLog.Warn("pane_send_failed",
			slog.String("pane", p.ID), slog.String("error", err.Error()))
		return
	}
	_ = session.Send("\r")
}

// SendRaw forwards bytes to the child unchanged, for key passthrough.
func (p *Pane) SendRaw(data string) {
	p.mu.Lock()
	session := p.session
	p.mu.Unlock()
	if session == nil {
		return
	}
	_ = session.Send(data)
}

func (p *Pane) record(eventType string, taskID int64, payload map[string]any) {
	if p.recorder == nil {
		return
	}
	p.recorder.Record(p.ID, taskID, p.agentName, eventType, payload)
}

// Restart tears the session down and starts a fresh one with empty
// terminal and dedup state.
func (p *Pane) Restart() error {
	p.mu.Lock()
	session := p.session
	p.session = nil
	p.engine = term.New(p.cols, p.rows, p.historyLines)
	p.lastSig = ""
	p.lastSigAt = time.Time{}
	p.mu.Unlock()

	if session != nil {
		_ = session.Close()
	}
	return p.startSession()
}

// Close stops the session. The pane's terminal content stays readable.
func (p *Pane) Close() error {
	p.mu.Lock()
	session := p.session
	p.session = nil
	p.mu.Unlock()

	if session == nil {
		return nil
	}
	err := session.Close()
	writeStatus(p.ID, p.agentName, StatusExited)
	return err
}
