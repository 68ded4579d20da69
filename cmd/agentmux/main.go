package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/twistedxcom/agentmux/internal/config"
	"github.com/twistedxcom/agentmux/internal/eventlog"
	"github.com/twistedxcom/agentmux/internal/logging"
	"github.com/twistedxcom/agentmux/internal/pane"
	"github.com/twistedxcom/agentmux/internal/ui"
)

const Version = "0.3.0"

// init sets up the color profile for consistent terminal colors across
// environments.
func init() {
	initColorProfile()
}

// initColorProfile configures lipgloss based on terminal capabilities.
// Prefers TrueColor, falls back to ANSI256 for compatibility.
func initColorProfile() {
	// AGENTMUX_COLOR: truecolor, 256, 16, none
	if colorEnv := os.Getenv("AGENTMUX_COLOR"); colorEnv != "" {
		switch strings.ToLower(colorEnv) {
		case "truecolor", "true", "24bit":
			lipgloss.SetColorProfile(termenv.TrueColor)
			return
		case "256", "ansi256":
			lipgloss.SetColorProfile(termenv.ANSI256)
			return
		case "16", "ansi", "basic":
			lipgloss.SetColorProfile(termenv.ANSI)
			return
		case "none", "off", "ascii":
			lipgloss.SetColorProfile(termenv.Ascii)
			return
		}
	}

	colorTerm := os.Getenv("COLORTERM")
	if colorTerm == "truecolor" || colorTerm == "24bit" {
		lipgloss.SetColorProfile(termenv.TrueColor)
		return
	}

	termName := os.Getenv("TERM")
	trueColorTerms := []string{
		"xterm-256color",
		"screen-256color",
		"tmux-256color",
		"xterm-direct",
		"alacritty",
		"kitty",
		"wezterm",
	}
	for _, t := range trueColorTerms {
		if strings.Contains(termName, t) {
			lipgloss.SetColorProfile(termenv.TrueColor)
			return
		}
	}

	lipgloss.SetColorProfile(termenv.ANSI256)
}

func main() {
	args := os.Args[1:]
	if len(args) > 0 {
		switch args[0] {
		case "version", "--version", "-v":
			fmt.Printf("agentmux v%s\n", Version)
			return
		case "help", "--help", "-h":
			printHelp()
			return
		case "events":
			handleEvents(args[1:])
			return
		case "config":
			handleConfig(args[1:])
			return
		}
	}

	runTUI(args)
}

func printHelp() {
	fmt.Println(`agentmux - multiplex interactive AI agent CLI sessions

Usage:
  agentmux [flags]              Launch the TUI
  agentmux events [flags]       Query the event log (JSON lines)
  agentmux config init          Write an example config file
  agentmux version              Print version

TUI flags:
  -agents <names>   Comma-separated agents to open panes for
  -cwd <path>       Working directory for agent sessions
  -debug            Verbose logging`)
}

func handleConfig(args []string) {
	if len(args) == 0 || args[0] != "init" {
		fmt.Fprintln(os.Stderr, "Usage: agentmux config init")
		os.Exit(1)
	}
	if err := config.CreateExampleConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	path, _ := config.Path()
	fmt.Printf("Wrote %s\n", path)
}

// handleEvents prints matching event rows as JSON lines, for scripting.
func handleEvents(args []string) {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	paneID := fs.String("pane", "", "filter by pane id")
	taskID := fs.Int64("task", 0, "filter by task id")
	types := fs.String("type", "", "comma-separated event types")
	limit := fs.Int("limit", 0, "max rows (default 500, cap 2000)")
	since := fs.Int64("since", 0, "only events with id greater than this")
	_ = fs.Parse(args)

	store, err := openStore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	filter := eventlog.Filter{
		PaneID: *paneID,
		TaskID: *taskID,
		Limit:  *limit,
	}
	if *types != "" {
		filter.EventTypes = strings.Split(*types, ",")
	}

	var events []eventlog.Event
	if *since > 0 {
		events, err = store.ListSince(*since, filter)
	} else {
		events, err = store.List(filter)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	for _, event := range events {
		row := map[string]any{
			"id":         event.ID,
			"pane_id":    event.PaneID,
			"agent":      event.Agent,
			"event_type": event.EventType,
			"payload":    json.RawMessage(event.PayloadJSON),
			"created_at": event.CreatedAt,
		}
		if event.TaskID != 0 {
			row["task_id"] = event.TaskID
		}
		if err := enc.Encode(row); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
}

func openStore() (*eventlog.Store, error) {
	settings := config.GetEventSettings()
	store, err := eventlog.Open(settings.Path)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func runTUI(args []string) {
	fs := flag.NewFlagSet("agentmux", flag.ExitOnError)
	agents := fs.String("agents", "", "comma-separated agents to open panes for")
	cwd := fs.String("cwd", "", "working directory for agent sessions")
	debug := fs.Bool("debug", false, "verbose logging")
	_ = fs.Parse(args)

	if !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Fprintln(os.Stderr, "Error: agentmux requires an interactive terminal")
		os.Exit(1)
	}

	baseDir, err := config.Dir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	initLogging(baseDir, *debug)
	defer logging.Shutdown()

	// SIGUSR1 dumps the log ring buffer for post-mortem debugging.
	usr1Chan := make(chan os.Signal, 1)
	signal.Notify(usr1Chan, syscall.SIGUSR1)
	go func() {
		for range usr1Chan {
			dumpPath := filepath.Join(baseDir, fmt.Sprintf("crash-dump-%d.jsonl", time.Now().Unix()))
			if err := logging.DumpRingBuffer(dumpPath); err != nil {
				logging.ForComponent(logging.CompUI).Error("crash_dump_failed",
					slog.String("error", err.Error()))
			}
		}
	}()

	ui.SetVersion(Version)
	ui.InitTheme(config.ResolveTheme())

	store, err := openStore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	settings := config.GetEventSettings()
	recorder := eventlog.NewRecorder(store, settings.TextLimit)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	manager := pane.NewManager(ctx, recorder)
	defer manager.Close()

	home := ui.NewHome(manager, store, recorder)

	names := parseAgents(*agents)
	for i, name := range names {
		id := fmt.Sprintf("%c", 'a'+i)
		if err := home.AddPane(id, name, *cwd); err != nil {
			fmt.Fprintf(os.Stderr, "Error: start pane %s (%s): %v\n", id, name, err)
			os.Exit(1)
		}
	}

	p := tea.NewProgram(home, tea.WithAltScreen(), tea.WithMouseCellMotion())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseAgents(flagValue string) []string {
	if flagValue == "" {
		return []string{config.GetDefaultAgent()}
	}
	var names []string
	for _, name := range strings.Split(flagValue, ",") {
		name = strings.TrimSpace(name)
		if name != "" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return []string{config.GetDefaultAgent()}
	}
	return names
}

func initLogging(baseDir string, debug bool) {
	settings := config.GetLogSettings()
	level := settings.DebugLevel
	if debug {
		level = "debug"
	}
	logging.Init(logging.Config{
		LogDir:                baseDir,
		Level:                 level,
		Format:                settings.DebugFormat,
		MaxSizeMB:             settings.DebugMaxMB,
		MaxBackups:            settings.DebugBackups,
		MaxAgeDays:            settings.DebugRetentionDays,
		Compress:              settings.DebugCompress,
		RingBufferSize:        settings.RingBufferMB * 1024 * 1024,
		AggregateIntervalSecs: settings.AggregateIntervalS,
		Debug:                 debug,
	})
}
