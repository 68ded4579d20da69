package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func setTestDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(EnvDir, dir)
	ClearCache()
	t.Cleanup(ClearCache)
	return dir
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	setTestDir(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg == nil {
		t.Fatal("expected non-nil config")
	}
	if cfg.Agents == nil {
		t.Error("expected non-nil Agents map")
	}
}

func TestLoadParsesAgents(t *testing.T) {
	dir := setTestDir(t)

	content := `
default_agent = "claude"
theme = "light"

[terminal]
history_lines = 100
cols = 80
rows = 24

[agents.custom]
command = "my-cli"
args = ["--flag"]
icon = "X"
startup_message = "hello"
direct_input = true
`
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DefaultAgent != "claude" {
		t.Errorf("DefaultAgent = %q, want claude", cfg.DefaultAgent)
	}
	if GetTheme() != "light" {
		t.Errorf("GetTheme = %q, want light", GetTheme())
	}

	term := GetTerminalSettings()
	if term.HistoryLines != 100 || term.Cols != 80 || term.Rows != 24 {
		t.Errorf("unexpected terminal settings: %+v", term)
	}

	def := GetAgentDef("custom")
	if def == nil {
		t.Fatal("expected custom agent def")
	}
	if def.Command != "my-cli" || !def.DirectInput || def.StartupMessage != "hello" {
		t.Errorf("unexpected agent def: %+v", def)
	}
}

func TestLoadInvalidTOMLReturnsError(t *testing.T) {
	dir := setTestDir(t)

	if err := os.WriteFile(filepath.Join(dir, FileName), []byte("not [ valid toml"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load()
	if err == nil {
		t.Error("expected parse error")
	}
	// Defaults still usable after a parse failure
	if cfg == nil {
		t.Fatal("expected fallback config")
	}
}

func TestBuiltinAgentDefaults(t *testing.T) {
	setTestDir(t)

	def := GetAgentDef("claude")
	if def == nil {
		t.Fatal("expected builtin claude def")
	}
	if def.Command != "claude" || !def.DirectInput {
		t.Errorf("unexpected builtin def: %+v", def)
	}

	if GetAgentDef("nonexistent") != nil {
		t.Error("expected nil for unknown agent")
	}
}

func TestDefaultsApplied(t *testing.T) {
	setTestDir(t)

	term := GetTerminalSettings()
	if term.HistoryLines != 5000 {
		t.Errorf("HistoryLines default = %d, want 5000", term.HistoryLines)
	}

	tr := GetTranscriptSettings()
	if tr.EventWindow != 500 || tr.DedupSeconds != 20 || tr.PollMillis != 800 {
		t.Errorf("unexpected transcript defaults: %+v", tr)
	}

	ev := GetEventSettings()
	if ev.TextLimit != 12000 {
		t.Errorf("TextLimit default = %d, want 12000", ev.TextLimit)
	}
	if filepath.Base(ev.Path) != "events.db" {
		t.Errorf("unexpected events path: %q", ev.Path)
	}

	if GetDefaultAgent() != "shell" {
		t.Errorf("GetDefaultAgent = %q, want shell", GetDefaultAgent())
	}
}

func TestEventPathTildeExpanded(t *testing.T) {
	dir := setTestDir(t)
	content := "[events]\npath = \"~/elsewhere/events.db\"\n"
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	ClearCache()

	ev := GetEventSettings()
	if strings.HasPrefix(ev.Path, "~") {
		t.Errorf("tilde not expanded: %q", ev.Path)
	}
	if filepath.Base(ev.Path) != "events.db" {
		t.Errorf("unexpected path: %q", ev.Path)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := setTestDir(t)

	cfg := &UserConfig{
		DefaultAgent: "gemini",
		Theme:        "dark",
		Agents:       map[string]AgentDef{"x": {Command: "x-cli"}},
	}
	if err := Save(cfg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, FileName)); err != nil {
		t.Fatalf("config file missing: %v", err)
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.DefaultAgent != "gemini" {
		t.Errorf("DefaultAgent = %q, want gemini", loaded.DefaultAgent)
	}
	if loaded.Agents["x"].Command != "x-cli" {
		t.Errorf("agent x command = %q, want x-cli", loaded.Agents["x"].Command)
	}
}

func TestCreateExampleConfigDoesNotOverwrite(t *testing.T) {
	dir := setTestDir(t)

	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte("theme = \"light\"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if err := CreateExampleConfig(); err != nil {
		t.Fatalf("CreateExampleConfig failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if string(data) != "theme = \"light\"\n" {
		t.Error("existing config was overwritten")
	}
}
