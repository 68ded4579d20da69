package clipboard

import (
	"encoding/base64"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/twistedxcom/agentmux/internal/platform"
)

// CopyResult describes a completed clipboard copy.
type CopyResult struct {
	Method    string // how the content was copied (e.g. "pbcopy", "xclip", "osc52")
	ByteSize  int
	LineCount int
}

// Copy places text on the system clipboard. Native tools are tried first;
// if none is available the OSC 52 escape sequence is used when the terminal
// advertises support for it.
func Copy(text string) (*CopyResult, error) {
	if text == "" {
		return nil, fmt.Errorf("no content to copy")
	}

	result := &CopyResult{
		ByteSize:  len(text),
		LineCount: countLines(text),
	}

	method, err := copyNative(text)
	if err == nil {
		result.Method = method
		return result, nil
	}

	if terminalSupportsOSC52() {
		if err := copyOSC52(text); err != nil {
			return nil, fmt.Errorf("OSC 52 clipboard failed: %w", err)
		}
		result.Method = "osc52"
		return result, nil
	}

	return nil, fmt.Errorf("no clipboard method available (install pbcopy, xclip, xsel, or wl-copy)")
}

// copyNative attempts a platform-native clipboard command, returning the
// method name on success.
func copyNative(text string) (string, error) {
	switch platform.Detect() {
	case platform.PlatformMacOS:
		return "pbcopy", runClipCmd("pbcopy", nil, text)

	case platform.PlatformWSL1, platform.PlatformWSL2:
		return "clip.exe", runClipCmd("clip.exe", nil, text)

	case platform.PlatformLinux:
		// Wayland takes priority over X11
		if os.Getenv("WAYLAND_DISPLAY") != "" {
			if path, err := exec.LookPath("wl-copy"); err == nil {
				return "wl-copy", runClipCmd(path, nil, text)
			}
		}
		if path, err := exec.LookPath("xclip"); err == nil {
			return "xclip", runClipCmd(path, []string{"-selection", "clipboard"}, text)
		}
		if path, err := exec.LookPath("xsel"); err == nil {
			return "xsel", runClipCmd(path, []string{"--clipboard", "--input"}, text)
		}
		return "", fmt.Errorf("no clipboard command found on Linux")

	default:
		return "", fmt.Errorf("unsupported platform: %s", platform.Detect())
	}
}

func runClipCmd(name string, args []string, text string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdin = strings.NewReader(text)
	return cmd.Run()
}

// terminalSupportsOSC52 reports whether the terminal is one known to handle
// OSC 52 clipboard writes. tmux counts because the sequence can be wrapped
// in a DCS passthrough.
func terminalSupportsOSC52() bool {
	if os.Getenv("TMUX") != "" {
		return true
	}
	switch os.Getenv("TERM_PROGRAM") {
	case "iTerm.app", "WezTerm", "kitty":
		return true
	}
	term := os.Getenv("TERM")
	for _, known := range []string{"kitty", "alacritty", "wezterm", "foot", "xterm"} {
		if strings.Contains(term, known) {
			return true
		}
	}
	return false
}

// copyOSC52 writes the OSC 52 escape sequence straight to the controlling
// terminal, bypassing any stdout redirection.
func copyOSC52(text string) error {
	encoded := base64.StdEncoding.EncodeToString([]byte(text))
	seq := generateOSC52(encoded, os.Getenv("TMUX") != "")

	tty, err := os.OpenFile("/dev/tty", os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("cannot open /dev/tty: %w", err)
	}
	defer tty.Close()

	_, err = tty.WriteString(seq)
	return err
}

// generateOSC52 builds the OSC 52 escape sequence, wrapped in a DCS
// passthrough when running inside tmux.
func generateOSC52(base64Content string, inTmux bool) string {
	osc := "\x1b]52;c;" + base64Content + "\x07"
	if inTmux {
		return "\x1bPtmux;\x1b" + osc + "\x1b\\"
	}
	return osc
}

// countLines counts lines in text. A trailing newline does not add one.
func countLines(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}
