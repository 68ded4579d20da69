package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"

	dark "github.com/thiagokokada/dark-mode-go"
)

// FileName is the TOML config file for user preferences
const FileName = "config.toml"

// EnvDir overrides the default ~/.agentmux directory when set
const EnvDir = "AGENTMUX_DIR"

// UserConfig represents user-facing configuration in TOML format
type UserConfig struct {
	// DefaultAgent is the pre-selected agent when creating new panes
	// Valid values: "claude", "gemini", "codex", or any custom agent name
	// If empty or invalid, defaults to "shell" (no pre-selection)
	DefaultAgent string `toml:"default_agent"`

	// Theme sets the color scheme: "dark" (default), "light", or "system"
	Theme string `toml:"theme"`

	// Agents defines custom agent CLI configurations
	Agents map[string]AgentDef `toml:"agents"`

	// Terminal defines virtual terminal settings
	Terminal TerminalSettings `toml:"terminal"`

	// Transcript defines conversation transcript settings
	Transcript TranscriptSettings `toml:"transcript"`

	// Events defines event log storage settings
	Events EventSettings `toml:"events"`

	// Logs defines debug log management settings
	Logs LogSettings `toml:"logs"`
}

// AgentDef defines an agent CLI launched inside a pane
type AgentDef struct {
	// Command is the shell command to run (e.g., "claude", "gemini")
	Command string `toml:"command"`

	// Args are extra command-line arguments
	Args []string `toml:"args"`

	// Icon is the emoji/symbol to display
	Icon string `toml:"icon"`

	// StartupMessage is an optional message typed into the agent once it launches
	StartupMessage string `toml:"startup_message"`

	// DirectInput forces plain keystroke delivery instead of bracketed paste.
	// Slash-commands are always delivered directly regardless of this flag.
	DirectInput bool `toml:"direct_input"`

	// Env is inline environment variables for this agent
	Env map[string]string `toml:"env"`
}

// TerminalSettings defines virtual terminal configuration
type TerminalSettings struct {
	// HistoryLines is the number of scrolled-off lines retained per pane
	// Default: 5000
	HistoryLines int `toml:"history_lines"`

	// Cols/Rows are the initial pane dimensions
	// Default: 200x50
	Cols int `toml:"cols"`
	Rows int `toml:"rows"`
}

// TranscriptSettings defines transcript builder configuration
type TranscriptSettings struct {
	// EventWindow is the number of recent events folded into the transcript
	// Default: 500
	EventWindow int `toml:"event_window"`

	// DedupSeconds suppresses repeated identical output within this window
	// Default: 20
	DedupSeconds int `toml:"dedup_seconds"`

	// PollMillis is the transcript refresh interval in milliseconds
	// Default: 800
	PollMillis int `toml:"poll_millis"`
}

// EventSettings defines event log storage configuration
type EventSettings struct {
	// Path overrides the events database location
	// Default: <agentmux dir>/events.db
	Path string `toml:"path"`

	// TextLimit is the number of characters of a text payload retained
	// when recording; oversized text keeps its tail. Default: 12000
	TextLimit int `toml:"text_limit"`
}

// LogSettings defines debug log file configuration
type LogSettings struct {
	// DebugLevel sets the minimum log level: "debug", "info", "warn", "error"
	// Default: "info"
	DebugLevel string `toml:"debug_level"`

	// DebugFormat sets the log format: "json" (default) or "text"
	DebugFormat string `toml:"debug_format"`

	// DebugMaxMB is the max size in MB for agentmux.log before rotation
	// Default: 10
	DebugMaxMB int `toml:"debug_max_mb"`

	// DebugBackups is the number of rotated log files to keep
	// Default: 5
	DebugBackups int `toml:"debug_backups"`

	// DebugRetentionDays is the number of days to keep rotated logs
	// Default: 10
	DebugRetentionDays int `toml:"debug_retention_days"`

	// DebugCompress enables gzip compression for rotated logs
	// Default: true
	DebugCompress bool `toml:"debug_compress"`

	// RingBufferMB is the in-memory ring buffer size in MB for crash dumps
	// Default: 10
	RingBufferMB int `toml:"ring_buffer_mb"`

	// AggregateIntervalS is the event aggregation flush interval in seconds
	// Default: 30
	AggregateIntervalS int `toml:"aggregate_interval_secs"`
}

// Default user config (empty maps)
var defaultUserConfig = UserConfig{
	Agents: make(map[string]AgentDef),
}

// Cache for user config (loaded once per run)
var (
	cache   *UserConfig
	cacheMu sync.RWMutex
)

// Dir returns the agentmux data directory (~/.agentmux by default).
func Dir() (string, error) {
	if dir := os.Getenv(EnvDir); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".agentmux"), nil
}

// Path returns the path to the user config file
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// Load loads the user configuration from the TOML file.
// Returns cached config after first load.
func Load() (*UserConfig, error) {
	cacheMu.RLock()
	if cache != nil {
		defer cacheMu.RUnlock()
		return cache, nil
	}
	cacheMu.RUnlock()

	cacheMu.Lock()
	defer cacheMu.Unlock()

	// Double-check after acquiring write lock
	if cache != nil {
		return cache, nil
	}

	configPath, err := Path()
	if err != nil {
		cache = &defaultUserConfig
		return cache, nil
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cache = &defaultUserConfig
		return cache, nil
	}

	var config UserConfig
	if _, err := toml.DecodeFile(configPath, &config); err != nil {
		// Still cache default to prevent repeated parse attempts
		cache = &defaultUserConfig
		return cache, fmt.Errorf("config.toml parse error: %w", err)
	}

	if config.Agents == nil {
		config.Agents = make(map[string]AgentDef)
	}

	cache = &config
	return cache, nil
}

// Reload forces a reload of the user config
func Reload() (*UserConfig, error) {
	cacheMu.Lock()
	cache = nil
	cacheMu.Unlock()
	return Load()
}

// ClearCache clears the cached user config, allowing tests to reset state
func ClearCache() {
	cacheMu.Lock()
	cache = nil
	cacheMu.Unlock()
}

// Save writes the config to config.toml using atomic write pattern.
// This clears the cache so the next Load() reads fresh values.
func Save(config *UserConfig) error {
	configPath, err := Path()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	if _, err := buf.WriteString("# Agentmux Configuration\n\n"); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	encoder := toml.NewEncoder(&buf)
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	// Write temp, fsync, then atomic rename so a crash never leaves a
	// half-written config behind.
	tmpPath := configPath + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if f, err := os.Open(tmpPath); err == nil {
		_ = f.Sync()
		f.Close()
	}
	if err := os.Rename(tmpPath, configPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to finalize config save: %w", err)
	}

	ClearCache()
	return nil
}

// GetAgentDef returns an agent definition from user config.
// Built-in agents (claude, gemini, codex, shell) get defaults when not configured.
func GetAgentDef(name string) *AgentDef {
	config, err := Load()
	if err == nil && config != nil {
		if def, ok := config.Agents[name]; ok {
			if def.Command == "" {
				def.Command = name
			}
			return &def
		}
	}
	if builtin, ok := builtinAgents[name]; ok {
		def := builtin
		return &def
	}
	return nil
}

var builtinAgents = map[string]AgentDef{
	"claude": {Command: "claude", Icon: "🤖", DirectInput: true},
	"gemini": {Command: "gemini", Icon: "✨", DirectInput: true},
	"codex":  {Command: "codex", Icon: "💻"},
	"shell":  {Command: "", Icon: "🐚"},
}

// AgentNames returns sorted agent names: built-ins plus custom definitions.
func AgentNames() []string {
	seen := make(map[string]bool)
	var names []string
	for name := range builtinAgents {
		seen[name] = true
		names = append(names, name)
	}
	if config, err := Load(); err == nil && config != nil {
		for name := range config.Agents {
			if !seen[name] {
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names
}

// GetDefaultAgent returns the user's preferred default agent for new panes.
// Returns "shell" if not configured.
func GetDefaultAgent() string {
	config, err := Load()
	if err != nil || config == nil || config.DefaultAgent == "" {
		return "shell"
	}
	return config.DefaultAgent
}

// GetTheme returns the configured theme, defaulting to "dark"
func GetTheme() string {
	config, err := Load()
	if err != nil || config == nil {
		return "dark"
	}
	switch config.Theme {
	case "dark", "light", "system":
		return config.Theme
	default:
		return "dark"
	}
}

// ResolveTheme resolves the configured theme to "dark" or "light".
// If theme is "system", detects the OS dark mode setting.
// Falls back to "dark" on detection failure.
func ResolveTheme() string {
	theme := GetTheme()
	if theme != "system" {
		return theme
	}
	isDark, err := dark.IsDarkMode()
	if err != nil {
		return "dark"
	}
	if isDark {
		return "dark"
	}
	return "light"
}

// GetTerminalSettings returns terminal settings with defaults applied
func GetTerminalSettings() TerminalSettings {
	settings := TerminalSettings{}
	if config, err := Load(); err == nil && config != nil {
		settings = config.Terminal
	}
	if settings.HistoryLines <= 0 {
		settings.HistoryLines = 5000
	}
	if settings.Cols <= 0 {
		settings.Cols = 200
	}
	if settings.Rows <= 0 {
		settings.Rows = 50
	}
	return settings
}

// GetTranscriptSettings returns transcript settings with defaults applied
func GetTranscriptSettings() TranscriptSettings {
	settings := TranscriptSettings{}
	if config, err := Load(); err == nil && config != nil {
		settings = config.Transcript
	}
	if settings.EventWindow <= 0 {
		settings.EventWindow = 500
	}
	if settings.DedupSeconds <= 0 {
		settings.DedupSeconds = 20
	}
	if settings.PollMillis <= 0 {
		settings.PollMillis = 800
	}
	return settings
}

// GetEventSettings returns event log settings with defaults applied
func GetEventSettings() EventSettings {
	settings := EventSettings{}
	if config, err := Load(); err == nil && config != nil {
		settings = config.Events
	}
	if settings.Path == "" {
		if dir, err := Dir(); err == nil {
			settings.Path = filepath.Join(dir, "events.db")
		}
	} else {
		settings.Path = ExpandTilde(settings.Path)
	}
	if settings.TextLimit <= 0 {
		settings.TextLimit = 12000
	}
	return settings
}

// GetLogSettings returns log management settings with defaults applied
func GetLogSettings() LogSettings {
	settings := LogSettings{}
	if config, err := Load(); err == nil && config != nil {
		settings = config.Logs
	}
	if settings.DebugLevel == "" {
		settings.DebugLevel = "info"
	}
	if settings.DebugMaxMB <= 0 {
		settings.DebugMaxMB = 10
	}
	if settings.DebugBackups <= 0 {
		settings.DebugBackups = 5
	}
	if settings.DebugRetentionDays <= 0 {
		settings.DebugRetentionDays = 10
	}
	if settings.RingBufferMB <= 0 {
		settings.RingBufferMB = 10
	}
	if settings.AggregateIntervalS <= 0 {
		settings.AggregateIntervalS = 30
	}
	return settings
}

// CreateExampleConfig creates an example config file if none exists
func CreateExampleConfig() error {
	configPath, err := Path()
	if err != nil {
		return err
	}

	// Don't overwrite existing config
	if _, err := os.Stat(configPath); err == nil {
		return nil
	}

	exampleConfig := `# Agentmux User Configuration
# This file is loaded on startup. Edit to customize agents and behavior.

# Default agent for new panes
# Valid values: "claude", "gemini", "codex", "shell", or any custom agent name
# default_agent = "claude"

# Color scheme: "dark" (default), "light", or "system"
# theme = "dark"

# Virtual terminal settings
# [terminal]
# Number of scrolled-off lines retained per pane (default: 5000)
# history_lines = 5000
# Initial pane dimensions (default: 200x50)
# cols = 200
# rows = 50

# Transcript settings
# [transcript]
# Number of recent events folded into the transcript (default: 500)
# event_window = 500
# Suppress repeated identical output within this many seconds (default: 20)
# dedup_seconds = 20

# Event log storage
# [events]
# Override the events database location (~/ is expanded)
# path = "~/.agentmux/events.db"
# Characters of event text retained (tail kept on truncation)
# text_limit = 12000

# Custom agent definitions
# [agents.my-agent]
# command = "my-agent-cli"
# args = ["--interactive"]
# icon = "🧠"
# startup_message = "hello"
# direct_input = false
# env = { API_KEY = "your-key" }
`

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	return os.WriteFile(configPath, []byte(exampleConfig), 0o600)
}

// ExpandTilde expands a leading ~/ to the user's home directory.
func ExpandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
