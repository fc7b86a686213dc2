package tui

import "github.com/charmbracelet/lipgloss"

var (
	// Colors
	runningColor    = lipgloss.Color("10") // Green
	pendingColor    = lipgloss.Color("11") // Yellow
	transitionColor = lipgloss.Color("6")  // Cyan
	completedColor  = lipgloss.Color("8")  // Gray
	failedColor     = lipgloss.Color("9")  // Red
	cancelledColor  = lipgloss.Color("5")  // Magenta
	selectedBg      = lipgloss.Color("4")  // Blue
	borderColor     = lipgloss.Color("8")  // Gray

	// Panel styles
	listPanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(borderColor).
			Padding(0, 1)

	logPanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(borderColor).
			Padding(0, 1)

	// Selection style
	selectedStyle = lipgloss.NewStyle().
			Background(selectedBg).
			Foreground(lipgloss.Color("15")).
			Bold(true)

	// State styles
	runningStyle = lipgloss.NewStyle().
			Foreground(runningColor)

	pendingStyle = lipgloss.NewStyle().
			Foreground(pendingColor)

	// completing, suspended
	transitionStyle = lipgloss.NewStyle().
			Foreground(transitionColor)

	completedStyle = lipgloss.NewStyle().
			Foreground(completedColor)

	// failed, timeout, out of memory, node failure
	failedStyle = lipgloss.NewStyle().
			Foreground(failedColor)

	// cancelled, preempted
	cancelledStyle = lipgloss.NewStyle().
			Foreground(cancelledColor)

	// Text styles
	headerStyle = lipgloss.NewStyle().
			Bold(true)

	titleStyle = lipgloss.NewStyle().
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(pendingColor)

	statusMsgStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	// Flash messages
	flashInfoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	flashErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)
)
