package term

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/hinshun/vt10x"

	"github.com/twistedxcom/agentmux/internal/logging"
)

var termLog = logging.ForComponent(logging.CompTerm)

// ansiFullRe matches CSI, OSC, DCS and charset-select escape sequences.
// Used only on the fallback path where the interpreter rejected the input.
var ansiFullRe = regexp.MustCompile(
	`\x1b[@-_][0-?]*[ -/]*[@-~]` +
		`|\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)` +
		`|\x1bP[^\x1b]*\x1b\\` +
		`|\x1b[()][0-9A-Za-z]`)

// Engine maintains one pane's virtual screen: an escape-sequence
// interpreter over a fixed grid, a bounded scrollback history, and a
// plain-text fallback buffer for input the interpreter cannot handle.
//
// All mutation is expected to happen on the pane's drain loop; the
// internal lock only guards against snapshot reads from other goroutines.
type Engine struct {
	mu sync.Mutex

	vt   vt10x.Terminal
	cols int
	rows int

	historyLimit int
	history      []string

	fallback []string
	carry    string
}

// New creates an engine with the given viewport size and scrollback capacity.
func New(cols, rows, historyLines int) *Engine {
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}
	if historyLines <= 0 {
		historyLines = 5000
	}
	return &Engine{
		vt:           vt10x.New(vt10x.WithSize(cols, rows)),
		cols:         cols,
		rows:         rows,
		historyLimit: historyLines,
	}
}

// Size returns the current viewport dimensions.
func (e *Engine) Size() (cols, rows int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cols, e.rows
}

// HistoryLen returns the number of scrollback lines currently retained.
func (e *Engine) HistoryLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.history)
}

// Feed interprets a chunk of raw terminal output, updating the grid and
// capturing scrolled-off rows into history. A chunk the interpreter
// faults on is routed to the fallback buffer instead; Feed never panics.
func (e *Engine) Feed(data []byte) {
	if len(data) == 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	// Feed newline-delimited segments so each write scrolls the grid by
	// a small amount, letting the before/after diff attribute evicted
	// rows to history. Splitting on LF is safe: the sequences we care
	// about never embed a bare newline.
	for start := 0; start < len(data); {
		end := bytes.IndexByte(data[start:], '\n')
		if end < 0 {
			end = len(data)
		} else {
			end = start + end + 1
		}
		if !e.feedSegment(data[start:end]) {
			e.appendFallbackLocked(data[start:end])
		}
		start = end
	}
}

// feedSegment writes one segment to the interpreter and captures any
// resulting scroll. Returns false when the interpreter faulted.
func (e *Engine) feedSegment(segment []byte) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			termLog.Warn("terminal interpreter fault", "error", fmt.Sprint(r))
			ok = false
		}
	}()

	cursor := e.vt.Cursor()
	atBottom := cursor.Y >= e.rows-1

	var before []string
	if atBottom {
		before = e.displayLines()
	}

	if _, err := e.vt.Write(segment); err != nil {
		return false
	}

	if atBottom {
		e.captureScroll(before, e.displayLines())
	}
	return true
}

// captureScroll compares the grid before and after a write. When the new
// top rows line up with old rows at a lower position, the screen scrolled
// and the rows shifted off the top are retained in history. A full
// repaint has no such overlap and contributes nothing.
//
// A shift match proves nothing when the overlap also matches without the
// shift (blank or repeated rows): a bottom-row rewrite over such a grid
// lines up at every offset. Those ambiguous matches are rejected so a
// repaint can never push grid rows into history; the cost is that a
// genuine scroll of self-identical rows goes uncaptured.
func (e *Engine) captureScroll(before, after []string) {
	rows := len(before)
	if rows == 0 || len(after) != rows {
		return
	}
	for shift := 1; shift < rows; shift++ {
		overlap := rows - shift - 1
		if overlap < 1 {
			break
		}
		matched := true
		distinct := false
		for i := 0; i < overlap; i++ {
			if after[i] != before[i+shift] {
				matched = false
				break
			}
			if after[i] != before[i] {
				distinct = true
			}
		}
		if !matched || !distinct {
			continue
		}
		for _, line := range before[:shift] {
			e.pushHistory(line)
		}
		return
	}
}

func (e *Engine) pushHistory(line string) {
	e.history = append(e.history, line)
	if len(e.history) > e.historyLimit {
		e.history = e.history[len(e.history)-e.historyLimit:]
	}
}

// CleanText strips escape sequences, normalizes line endings to "\n"
// and drops control characters other than newline and tab.
func CleanText(data string) string {
	cleaned := ansiFullRe.ReplaceAllString(data, "")
	cleaned = strings.ReplaceAll(cleaned, "\r\n", "\n")
	cleaned = strings.ReplaceAll(cleaned, "\r", "\n")

	var sb strings.Builder
	for _, r := range cleaned {
		if r == '\n' || r == '\t' || r >= 32 {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// AppendFallback stores a chunk as plain text: escape sequences stripped,
// line endings normalized, control characters other than tab dropped.
// Used when the interpreter rejects input so no output is ever lost.
func (e *Engine) AppendFallback(data []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.appendFallbackLocked(data)
}

func (e *Engine) appendFallbackLocked(data []byte) {
	text := e.carry + CleanText(string(data))
	lines := strings.Split(text, "\n")
	e.carry = lines[len(lines)-1]
	for _, line := range lines[:len(lines)-1] {
		e.fallback = append(e.fallback, line)
	}
	if len(e.fallback) > e.historyLimit {
		e.fallback = e.fallback[len(e.fallback)-e.historyLimit:]
	}
}

// Resize changes the viewport dimensions in place. Interpreter failures
// are swallowed, leaving the previous dimensions in effect.
func (e *Engine) Resize(cols, rows int) {
	if cols <= 0 || rows <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			termLog.Warn("terminal resize fault", "error", fmt.Sprint(r))
		}
	}()
	e.vt.Resize(cols, rows)
	e.cols = cols
	e.rows = rows
}

// SnapshotLines returns the full rendered state: history, then the
// current grid rows, then fallback lines and any unterminated fallback
// carry, each right-trimmed. Calling it repeatedly without an
// intervening Feed returns identical output.
func (e *Engine) SnapshotLines() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	lines := make([]string, 0, len(e.history)+e.rows+len(e.fallback)+1)
	lines = append(lines, e.history...)
	lines = append(lines, e.displayLines()...)
	lines = append(lines, e.fallback...)
	if e.carry != "" {
		lines = append(lines, e.carry)
	}
	return lines
}

// Render returns the snapshot joined into one string with trailing
// empty lines removed.
func (e *Engine) Render() string {
	lines := e.SnapshotLines()
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

// displayLines reads the grid row by row, right-trimmed.
func (e *Engine) displayLines() []string {
	lines := make([]string, e.rows)
	cols, rows := e.vt.Size()
	if rows > e.rows {
		rows = e.rows
	}
	for y := 0; y < rows; y++ {
		var sb strings.Builder
		sb.Grow(cols)
		for x := 0; x < cols; x++ {
			c := e.vt.Cell(x, y)
			ch := c.Char
			if ch == 0 {
				ch = ' '
			}
			sb.WriteRune(ch)
		}
		lines[y] = strings.TrimRight(sb.String(), " ")
	}
	return lines
}
