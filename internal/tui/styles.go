package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/agbru/primecount/internal/ui"
)

// Dashboard styles, rebuilt from the ui palette by initStyles.
var (
	panelStyle      lipgloss.Style
	titleStyle      lipgloss.Style
	labelStyle      lipgloss.Style
	valueStyle      lipgloss.Style
	successStyle    lipgloss.Style
	errorStyle      lipgloss.Style
	sparklineStyle  lipgloss.Style
	footerKeyStyle  lipgloss.Style
	footerDescStyle lipgloss.Style
)

func init() {
	initStyles()
}

// initStyles rebuilds every style from the current ui theme. Run calls it
// again after the theme has been chosen.
func initStyles() {
	p := ui.CurrentPalette()

	panelStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(p.Border).
		Foreground(p.Text).
		Padding(0, 1)
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(p.Accent)
	labelStyle = lipgloss.NewStyle().Foreground(p.Dim)
	valueStyle = lipgloss.NewStyle().Bold(true).Foreground(p.Text)
	successStyle = lipgloss.NewStyle().Bold(true).Foreground(p.Success)
	errorStyle = lipgloss.NewStyle().Bold(true).Foreground(p.Error)
	sparklineStyle = lipgloss.NewStyle().Foreground(p.Accent)
	footerKeyStyle = lipgloss.NewStyle().Bold(true).Foreground(p.Accent)
	footerDescStyle = lipgloss.NewStyle().Foreground(p.Dim)
}
