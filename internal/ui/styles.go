package ui

import (
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Theme represents the current color scheme
type Theme string

const (
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"
)

// currentTheme holds the active theme (set at init)
var currentTheme Theme = ThemeDark

// Dark Theme - Tokyo Night
var darkColors = struct {
	Bg, Surface, Border, Text, TextDim  lipgloss.Color
	Accent, Purple, Cyan, Green, Yellow lipgloss.Color
	Orange, Red                         lipgloss.Color
}{
	Bg:      lipgloss.Color("#1a1b26"),
	Surface: lipgloss.Color("#24283b"),
	Border:  lipgloss.Color("#414868"),
	Text:    lipgloss.Color("#c0caf5"),
	TextDim: lipgloss.Color("#787fa0"),
	Accent:  lipgloss.Color("#7aa2f7"),
	Purple:  lipgloss.Color("#bb9af7"),
	Cyan:    lipgloss.Color("#7dcfff"),
	Green:   lipgloss.Color("#9ece6a"),
	Yellow:  lipgloss.Color("#e0af68"),
	Orange:  lipgloss.Color("#ff9e64"),
	Red:     lipgloss.Color("#f7768e"),
}

// Light Theme - Tokyo Night Light variant
var lightColors = struct {
	Bg, Surface, Border, Text, TextDim  lipgloss.Color
	Accent, Purple, Cyan, Green, Yellow lipgloss.Color
	Orange, Red                         lipgloss.Color
}{
	Bg:      lipgloss.Color("#d5d6db"),
	Surface: lipgloss.Color("#e9e9ec"),
	Border:  lipgloss.Color("#9699a3"),
	Text:    lipgloss.Color("#343b58"),
	TextDim: lipgloss.Color("#6a6d7c"),
	Accent:  lipgloss.Color("#34548a"),
	Purple:  lipgloss.Color("#7847bd"),
	Cyan:    lipgloss.Color("#166775"),
	Green:   lipgloss.Color("#485e30"),
	Yellow:  lipgloss.Color("#8f5e15"),
	Orange:  lipgloss.Color("#965027"),
	Red:     lipgloss.Color("#8c4351"),
}

// Active color variables (set by InitTheme)
var (
	ColorBg      lipgloss.Color
	ColorSurface lipgloss.Color
	ColorBorder  lipgloss.Color
	ColorText    lipgloss.Color
	ColorTextDim lipgloss.Color
	ColorAccent  lipgloss.Color
	ColorPurple  lipgloss.Color
	ColorCyan    lipgloss.Color
	ColorGreen   lipgloss.Color
	ColorYellow  lipgloss.Color
	ColorOrange  lipgloss.Color
	ColorRed     lipgloss.Color
)

// themeMu protects global color/style variables during live theme switches.
var themeMu sync.RWMutex

// InitTheme sets the active color palette based on theme name.
// Must be called before any UI rendering.
func InitTheme(theme string) {
	themeMu.Lock()
	defer themeMu.Unlock()
	if theme == "light" {
		currentTheme = ThemeLight
		ColorBg = lightColors.Bg
		ColorSurface = lightColors.Surface
		ColorBorder = lightColors.Border
		ColorText = lightColors.Text
		ColorTextDim = lightColors.TextDim
		ColorAccent = lightColors.Accent
		ColorPurple = lightColors.Purple
		ColorCyan = lightColors.Cyan
		ColorGreen = lightColors.Green
		ColorYellow = lightColors.Yellow
		ColorOrange = lightColors.Orange
		ColorRed = lightColors.Red
	} else {
		currentTheme = ThemeDark
		ColorBg = darkColors.Bg
		ColorSurface = darkColors.Surface
		ColorBorder = darkColors.Border
		ColorText = darkColors.Text
		ColorTextDim = darkColors.TextDim
		ColorAccent = darkColors.Accent
		ColorPurple = darkColors.Purple
		ColorCyan = darkColors.Cyan
		ColorGreen = darkColors.Green
		ColorYellow = darkColors.Yellow
		ColorOrange = darkColors.Orange
		ColorRed = darkColors.Red
	}
	initStyles()
}

// GetCurrentTheme returns the active theme
func GetCurrentTheme() Theme {
	return currentTheme
}

func init() {
	InitTheme("dark")
}

// Base Styles
var (
	BaseStyle  lipgloss.Style
	TitleStyle lipgloss.Style
	PanelStyle lipgloss.Style
	DimStyle   lipgloss.Style
	ErrorStyle lipgloss.Style
)

// Pane Strip Styles
var (
	PaneTabStyle       lipgloss.Style
	PaneTabActiveStyle lipgloss.Style
	PaneStatusRunning  lipgloss.Style
	PaneStatusExited   lipgloss.Style
)

// Menu Bar Styles
var (
	MenuBarStyle  lipgloss.Style
	MenuKeyStyle  lipgloss.Style
	MenuDescStyle lipgloss.Style
)

// Chat Styles
var (
	UserMessageStyle      lipgloss.Style
	AssistantMessageStyle lipgloss.Style
	SystemMessageStyle    lipgloss.Style
	ChoiceCardStyle       lipgloss.Style
	ChoiceQuestionStyle   lipgloss.Style
	ChoiceNumberStyle     lipgloss.Style
)

// Search Styles
var (
	SearchBoxStyle      lipgloss.Style
	SearchResultStyle   lipgloss.Style
	SearchSelectedStyle lipgloss.Style
)

// Prompt Style
var PromptBoxStyle lipgloss.Style

func initStyles() {
	BaseStyle = lipgloss.NewStyle().Foreground(ColorText)
	TitleStyle = lipgloss.NewStyle().Foreground(ColorAccent).Bold(true)
	PanelStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorBorder)
	DimStyle = lipgloss.NewStyle().Foreground(ColorTextDim)
	ErrorStyle = lipgloss.NewStyle().Foreground(ColorRed)

	PaneTabStyle = lipgloss.NewStyle().
		Foreground(ColorTextDim).
		Padding(0, 1)
	PaneTabActiveStyle = lipgloss.NewStyle().
		Foreground(ColorBg).
		Background(ColorAccent).
		Bold(true).
		Padding(0, 1)
	PaneStatusRunning = lipgloss.NewStyle().Foreground(ColorGreen)
	PaneStatusExited = lipgloss.NewStyle().Foreground(ColorRed)

	MenuBarStyle = lipgloss.NewStyle().
		Foreground(ColorTextDim).
		Background(ColorSurface)
	MenuKeyStyle = lipgloss.NewStyle().Foreground(ColorAccent).Bold(true)
	MenuDescStyle = lipgloss.NewStyle().Foreground(ColorTextDim)

	UserMessageStyle = lipgloss.NewStyle().
		Foreground(ColorGreen).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorGreen).
		Padding(0, 1)
	AssistantMessageStyle = lipgloss.NewStyle().
		Foreground(ColorText).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorBorder).
		Padding(0, 1)
	SystemMessageStyle = lipgloss.NewStyle().Foreground(ColorYellow)

	ChoiceCardStyle = lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(ColorPurple).
		Padding(0, 1)
	ChoiceQuestionStyle = lipgloss.NewStyle().Foreground(ColorPurple).Bold(true)
	ChoiceNumberStyle = lipgloss.NewStyle().Foreground(ColorAccent).Bold(true)

	SearchBoxStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorAccent).
		Padding(0, 1)
	SearchResultStyle = lipgloss.NewStyle().Padding(0, 2)
	SearchSelectedStyle = lipgloss.NewStyle().
		Padding(0, 2).
		Background(ColorAccent).
		Foreground(ColorBg)

	PromptBoxStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorBorder).
		Padding(0, 1)
}

// MenuKey renders one key hint for the bottom menu bar.
func MenuKey(key, desc string) string {
	return MenuKeyStyle.Render(key) + " " + MenuDescStyle.Render(desc)
}
