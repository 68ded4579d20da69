package pane

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/twistedxcom/agentmux/internal/config"
	"github.com/twistedxcom/agentmux/internal/logging"
)

var sessionLog = logging.ForComponent(logging.CompSession)

// codexSubmitThreshold is the payload size beyond which codex treats
// input as pasted content and keeps focus in its composer.
const codexSubmitThreshold = 800

// Session owns one child process plus the goroutine reading its output.
// Chunks are delivered on a buffered channel consumed by a single pane.
type Session struct {
	agentName string
	agent     config.AgentDef
	cwd       string
	cols      int
	rows      int

	backend Backend
	chunks  chan []byte
	done    chan struct{}
	wg      sync.WaitGroup

	mu                   sync.Mutex
	closed               bool
	startupPromptHandled bool
}

// NewSession spawns the agent's command and starts reading its output.
func NewSession(agentName string, agent config.AgentDef, cwd string, cols, rows int) (*Session, error) {
	command := agent.Command
	if command == "" {
		command = agentName
	}

	env := make([]string, 0, len(agent.Env))
	for k, v := range agent.Env {
		env = append(env, k+"="+v)
	}

	backend, err := NewBackend(command, agent.Args, cwd, env, cols, rows)
	if err != nil {
		return nil, fmt.Errorf("spawn %s: %w", agentName, err)
	}

	s := newSessionWithBackend(agentName, agent, backend)
	s.cwd = cwd
	s.cols = cols
	s.rows = rows

	sessionLog.Info("session_started",
		slog.String("agent", agentName),
		slog.String("command", command),
	)
	return s, nil
}

func newSessionWithBackend(agentName string, agent config.AgentDef, backend Backend) *Session {
	s := &Session{
		agentName: agentName,
		agent:     agent,
		backend:   backend,
		chunks:    make(chan []byte, 256),
		done:      make(chan struct{}),
	}
	s.wg.Add(1)
	go s.readLoop()
	return s
}

func (s *Session) readLoop() {
	defer s.wg.Done()
	defer close(s.chunks)

	buf := make([]byte, 4096)
	for {
		select {
		case <-s.done:
			return
		default:
		}

		n, err := s.backend.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			s.handleStartupPrompts(string(data))
			select {
			case s.chunks <- data:
			case <-s.done:
				return
			}
		}
		if err != nil {
			sessionLog.Debug("session_read_ended",
				slog.String("agent", s.agentName),
				slog.String("error", err.Error()),
			)
			return
		}
	}
}

// handleStartupPrompts answers known one-time startup dialogs so a fresh
// session reaches its prompt without user interaction. Codex update
// menus get "2" (skip), the Claude Code trust dialog gets "1" (yes).
func (s *Session) handleStartupPrompts(text string) {
	s.mu.Lock()
	handled := s.startupPromptHandled
	s.mu.Unlock()
	if handled {
		return
	}

	lowered := strings.ToLower(text)
	var answer string
	switch s.agentName {
	case "codex":
		if strings.Contains(lowered, "update available") ||
			strings.Contains(lowered, "press enter to continue") {
			answer = "2\r"
		}
	case "claude":
		if strings.Contains(lowered, "trust this folder") {
			answer = "1\r"
		}
	}
	if answer == "" {
		return
	}

	s.mu.Lock()
	s.startupPromptHandled = true
	s.mu.Unlock()

	if err := s.Send(answer); err != nil {
		sessionLog.Warn("startup_prompt_answer_failed",
			slog.String("agent", s.agentName),
			slog.String("error", err.Error()),
		)
	}
}

// Chunks returns the output channel. It is closed when the reader ends.
func (s *Session) Chunks() <-chan []byte {
	return s.chunks
}

// Send writes raw input to the child. Writes after Close are no-ops.
func (s *Session) Send(data string) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil
	}
	_, err := s.backend.Write([]byte(data))
	return err
}

// Submit sends a user message terminated with Enter. Codex needs one
// extra Enter for large or multiline payloads, which it stages as
// pasted content instead of submitting.
func (s *Session) Submit(text string) error {
	payload := text
	if !strings.HasSuffix(text, "\r") && !strings.HasSuffix(text, "\n") {
		payload = text + "\r"
	}
	if err := s.Send(payload); err != nil {
		return err
	}
	if s.agentName == "codex" &&
		(len(text) > codexSubmitThreshold || strings.Contains(text, "\n")) {
		return s.Send("\r")
	}
	return nil
}

// Resize applies new dimensions to the child terminal.
func (s *Session) Resize(cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return nil
	}
	s.mu.Lock()
	s.cols = cols
	s.rows = rows
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil
	}
	return s.backend.Resize(cols, rows)
}

// Running reports whether Close has not yet been called.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// Close stops the reader and kills the child. Safe to call from any
// goroutine and more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	err := s.backend.Close()
	s.wg.Wait()

	sessionLog.Info("session_closed", slog.String("agent", s.agentName))
	return err
}
