package pane

import (
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/twistedxcom/agentmux/internal/config"
)

// fakeBackend scripts output chunks and records writes.
type fakeBackend struct {
	script chan []byte

	mu      sync.Mutex
	writes  []string
	resizes [][2]int
	closed  bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{script: make(chan []byte, 16)}
}

func (f *fakeBackend) emit(data string) {
	f.script <- []byte(data)
}

func (f *fakeBackend) finish() {
	close(f.script)
}

func (f *fakeBackend) Read(p []byte) (int, error) {
	select {
	case data, ok := <-f.script:
		if !ok {
			return 0, io.EOF
		}
		return copy(p, data), nil
	case <-time.After(5 * time.Millisecond):
		return 0, nil
	}
}

func (f *fakeBackend) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, string(p))
	return len(p), nil
}

func (f *fakeBackend) Resize(cols, rows int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resizes = append(f.resizes, [2]int{cols, rows})
	return nil
}

func (f *fakeBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeBackend) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.writes))
	copy(out, f.writes)
	return out
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestSessionDeliversChunks(t *testing.T) {
	backend := newFakeBackend()
	s := newSessionWithBackend("shell", config.AgentDef{}, backend)
	defer s.Close()

	backend.emit("hello ")
	backend.emit("world")

	var got strings.Builder
	waitFor(t, func() bool {
		for {
			select {
			case data := <-s.Chunks():
				got.Write(data)
			default:
				return got.String() == "hello world"
			}
		}
	}, "chunks to arrive")
}

func TestSessionChunksCloseOnEOF(t *testing.T) {
	backend := newFakeBackend()
	s := newSessionWithBackend("shell", config.AgentDef{}, backend)
	defer s.Close()

	backend.finish()
	waitFor(t, func() bool {
		select {
		case _, ok := <-s.Chunks():
			return !ok
		default:
			return false
		}
	}, "chunk channel to close")
}

func TestSessionSubmitAppendsEnter(t *testing.T) {
	backend := newFakeBackend()
	s := newSessionWithBackend("shell", config.AgentDef{}, backend)
	defer s.Close()

	if err := s.Submit("ls"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	writes := backend.written()
	if len(writes) != 1 || writes[0] != "ls\r" {
		t.Fatalf("writes = %q, want [\"ls\\r\"]", writes)
	}
}

func TestSessionSubmitKeepsExistingTerminator(t *testing.T) {
	backend := newFakeBackend()
	s := newSessionWithBackend("shell", config.AgentDef{}, backend)
	defer s.Close()

	if err := s.Submit("ls\n"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	writes := backend.written()
	if len(writes) != 1 || writes[0] != "ls\n" {
		t.Fatalf("writes = %q, want [\"ls\\n\"]", writes)
	}
}

func TestSessionCodexMultilineGetsExtraEnter(t *testing.T) {
	backend := newFakeBackend()
	s := newSessionWithBackend("codex", config.AgentDef{}, backend)
	defer s.Close()

	if err := s.Submit("line one\nline two"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	writes := backend.written()
	if len(writes) != 2 || writes[1] != "\r" {
		t.Fatalf("writes = %q, want payload plus extra enter", writes)
	}
}

func TestSessionCodexShortSingleLineNoExtraEnter(t *testing.T) {
	backend := newFakeBackend()
	s := newSessionWithBackend("codex", config.AgentDef{}, backend)
	defer s.Close()

	if err := s.Submit("short"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if writes := backend.written(); len(writes) != 1 {
		t.Fatalf("writes = %q, want single payload", writes)
	}
}

func TestSessionClaudeTrustPromptAutoAnswered(t *testing.T) {
	backend := newFakeBackend()
	s := newSessionWithBackend("claude", config.AgentDef{}, backend)
	defer s.Close()

	backend.emit("Do you trust this folder?\n")
	waitFor(t, func() bool {
		for _, w := range backend.written() {
			if w == "1\r" {
				return true
			}
		}
		return false
	}, "trust prompt answer")

	// The answer is one-time: a second prompt is ignored.
	backend.emit("Do you trust this folder?\n")
	time.Sleep(50 * time.Millisecond)
	count := 0
	for _, w := range backend.written() {
		if w == "1\r" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("trust prompt answered %d times, want 1", count)
	}
}

func TestSessionCodexUpdatePromptAutoAnswered(t *testing.T) {
	backend := newFakeBackend()
	s := newSessionWithBackend("codex", config.AgentDef{}, backend)
	defer s.Close()

	backend.emit("Update available! Press enter to continue\n")
	waitFor(t, func() bool {
		for _, w := range backend.written() {
			if w == "2\r" {
				return true
			}
		}
		return false
	}, "update prompt answer")
}

func TestSessionCloseIdempotent(t *testing.T) {
	backend := newFakeBackend()
	s := newSessionWithBackend("shell", config.AgentDef{}, backend)

	if err := s.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if s.Running() {
		t.Fatal("Running() = true after Close")
	}
	if !backend.closed {
		t.Fatal("backend not closed")
	}
}

func TestSessionSendAfterCloseIsNoop(t *testing.T) {
	backend := newFakeBackend()
	s := newSessionWithBackend("shell", config.AgentDef{}, backend)
	_ = s.Close()

	if err := s.Send("ignored"); err != nil {
		t.Fatalf("Send after Close: %v", err)
	}
	if writes := backend.written(); len(writes) != 0 {
		t.Fatalf("writes after close = %q, want none", writes)
	}
}

func TestSessionResize(t *testing.T) {
	backend := newFakeBackend()
	s := newSessionWithBackend("shell", config.AgentDef{}, backend)
	defer s.Close()

	if err := s.Resize(120, 40); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.resizes) != 1 || backend.resizes[0] != [2]int{120, 40} {
		t.Fatalf("resizes = %v, want [[120 40]]", backend.resizes)
	}
}
