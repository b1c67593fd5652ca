package ui

import (
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Theme is a set of ANSI escape codes for line-oriented output.
type Theme struct {
	Name    string
	Primary string
	Muted   string
	Success string
	Warning string
	Error   string
	Bold    string
	Reset   string
}

var (
	// DarkTheme suits dark terminal backgrounds.
	DarkTheme = Theme{
		Name:    "dark",
		Primary: "\033[38;5;39m",
		Muted:   "\033[38;5;245m",
		Success: "\033[38;5;82m",
		Warning: "\033[38;5;220m",
		Error:   "\033[38;5;196m",
		Bold:    "\033[1m",
		Reset:   "\033[0m",
	}

	// LightTheme suits light terminal backgrounds.
	LightTheme = Theme{
		Name:    "light",
		Primary: "\033[38;5;27m",
		Muted:   "\033[38;5;240m",
		Success: "\033[38;5;28m",
		Warning: "\033[38;5;130m",
		Error:   "\033[38;5;124m",
		Bold:    "\033[1m",
		Reset:   "\033[0m",
	}

	// NoColorTheme emits no escape codes at all.
	NoColorTheme = Theme{Name: "none"}

	currentTheme = DarkTheme
	themeMutex   sync.RWMutex
)

// Palette holds the lipgloss colors of the watch dashboard.
type Palette struct {
	Border  lipgloss.TerminalColor
	Accent  lipgloss.TerminalColor
	Text    lipgloss.TerminalColor
	Dim     lipgloss.TerminalColor
	Success lipgloss.TerminalColor
	Error   lipgloss.TerminalColor
}

var (
	darkPalette = Palette{
		Border:  lipgloss.Color("#3A7BD5"),
		Accent:  lipgloss.Color("#00BFFF"),
		Text:    lipgloss.Color("#E0E0E0"),
		Dim:     lipgloss.Color("#666666"),
		Success: lipgloss.Color("#9ECE6A"),
		Error:   lipgloss.Color("#FF4444"),
	}
	lightPalette = Palette{
		Border:  lipgloss.Color("#1F4E9A"),
		Accent:  lipgloss.Color("#005FAF"),
		Text:    lipgloss.Color("#202020"),
		Dim:     lipgloss.Color("#808080"),
		Success: lipgloss.Color("#2E7D32"),
		Error:   lipgloss.Color("#B00020"),
	}
	noColorPalette = Palette{
		Border:  lipgloss.NoColor{},
		Accent:  lipgloss.NoColor{},
		Text:    lipgloss.NoColor{},
		Dim:     lipgloss.NoColor{},
		Success: lipgloss.NoColor{},
		Error:   lipgloss.NoColor{},
	}
)

// Current returns the active theme.
func Current() Theme {
	themeMutex.RLock()
	defer themeMutex.RUnlock()
	return currentTheme
}

// CurrentPalette returns the dashboard palette matching the active theme.
func CurrentPalette() Palette {
	switch Current().Name {
	case "light":
		return lightPalette
	case "none":
		return noColorPalette
	default:
		return darkPalette
	}
}

// SetTheme activates a theme by name: "dark", "light" or "none". Unknown
// names select dark.
func SetTheme(name string) {
	themeMutex.Lock()
	defer themeMutex.Unlock()
	switch name {
	case "light":
		currentTheme = LightTheme
	case "none":
		currentTheme = NoColorTheme
	default:
		currentTheme = DarkTheme
	}
}

// InitTheme selects the theme from the --no-color flag, the NO_COLOR
// environment variable (https://no-color.org/) and the theme name, in that
// order.
func InitTheme(noColor bool, name string) {
	if _, set := os.LookupEnv("NO_COLOR"); noColor || set {
		name = "none"
	}
	SetTheme(name)
}

// Paint wraps s in code and a reset, or returns s unchanged when code is
// empty.
func Paint(code, s string) string {
	if code == "" {
		return s
	}
	return code + s + Current().Reset
}
