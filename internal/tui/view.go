package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	rtruncate "github.com/muesli/reflow/truncate"
	"github.com/muesli/reflow/wordwrap"
	"github.com/muesli/reflow/wrap"

	"github.com/osteele/slurm-jobs/internal/journal"
	"github.com/osteele/slurm-jobs/internal/slurm"
)

// View renders the UI
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	listHeight, logHeight := m.panelHeights()

	listView := m.renderJobList(listHeight)
	var lower string
	if m.showHistory {
		lower = m.renderHistory(logHeight)
	} else {
		lower = m.renderLogPanel(logHeight)
	}

	mainView := lipgloss.JoinVertical(
		lipgloss.Left,
		listView,
		lower,
		m.renderFlash(),
		m.renderStatusBar(),
	)

	if m.showHelp {
		return m.renderHelpOverlay(mainView)
	}
	return mainView
}

// Below this width the job list shows compact state codes
const compactWidth = 100

// panelHeights splits the screen between the job list and the log panel,
// leaving two lines for the flash message and the status bar
func (m Model) panelHeights() (int, int) {
	avail := m.height - 2
	list := avail * 2 / 5
	if list < 5 {
		list = 5
	}
	return list, avail - list
}

// resize fits the log viewport to the log panel
func (m *Model) resize() {
	_, logHeight := m.panelHeights()
	// border (2) + header line (1)
	m.viewport.Height = max(logHeight-3, 1)
	// border (2) + padding (2)
	m.viewport.Width = max(m.width-4, 1)
	m.refreshLog()
}

// refreshLog re-renders the buffered log lines into the viewport
func (m *Model) refreshLog() {
	if m.tail == nil {
		m.viewport.SetContent("")
		return
	}
	lines := m.tail.Lines()
	if partial := m.tail.Partial(); partial != "" {
		lines = append(lines[:len(lines):len(lines)], partial)
	}

	width := m.viewport.Width
	rendered := make([]string, len(lines))
	for i, line := range lines {
		rendered[i] = formatLogLine(line, width, m.wrap)
	}
	m.viewport.SetContent(strings.Join(rendered, "\n"))
	if m.follow {
		m.viewport.GotoBottom()
	}
}

func formatLogLine(line string, width int, wrapLines bool) string {
	line = strings.ReplaceAll(line, "\t", "    ")
	if line == "" || width <= 0 {
		return line
	}
	if wrapLines {
		return wrap.String(wordwrap.String(line, width), width)
	}
	return rtruncate.String(line, uint(width))
}

func (m Model) renderJobList(height int) string {
	var rows []string

	title := " Jobs"
	if m.arrayID != "" {
		title = fmt.Sprintf(" Array %s", m.arrayID)
		if m.baseline {
			title += " (loading)"
		}
	}
	title += dimStyle.Render(fmt.Sprintf("  %d", m.jobs.Len()))
	rows = append(rows, titleStyle.Render(title))

	// Header
	// narrow terminals get squeue's compact state codes
	compact := m.width < compactWidth
	stateWidth, stateHeader := 11, "STATE"
	if compact {
		stateWidth, stateHeader = 5, "ST"
	}
	header := fmt.Sprintf(" %-16s %-20s %-10s %-*s %-11s %-10s %s",
		"ID", "NAME", "USER", stateWidth, stateHeader, "TIME", "PARTITION", "NODES / REASON")
	rows = append(rows, headerStyle.Render(header))

	contentHeight := height - 4 // borders, title and header
	if contentHeight < 1 {
		contentHeight = 1
	}
	selected := m.jobs.Index()
	start := 0
	if selected >= contentHeight {
		start = selected - contentHeight + 1
	}

	jobs := m.jobs.Jobs()
	if len(jobs) == 0 {
		msg := "No jobs"
		if m.lastPoll.IsZero() {
			msg = "Waiting for squeue..."
		}
		rows = append(rows, dimStyle.Render(" "+msg))
	}

	for i := start; i < len(jobs) && i < start+contentHeight; i++ {
		job := jobs[i]
		where := job.NodeList
		if job.State == slurm.StatePending || where == "" {
			where = job.Reason
		}
		if job.Nodes > 1 && job.State != slurm.StatePending {
			where = fmt.Sprintf("%d: %s", job.Nodes, where)
		}

		line := fmt.Sprintf(" %-16s %-20s %-10s %-*s %-11s %-10s %s",
			truncate(job.DisplayID(), 16),
			truncate(job.Name, 20),
			truncate(job.User, 10),
			stateWidth, truncate(formatState(job, compact), stateWidth),
			job.TimeUsed,
			truncate(job.Partition, 10),
			where)
		line = truncate(line, m.width-4)

		if i == selected {
			line = selectedStyle.Width(m.width - 4).Render(line)
		} else {
			line = styleForState(job.State).Render(line)
		}
		rows = append(rows, line)
	}

	content := strings.Join(rows, "\n")
	return listPanelStyle.Width(m.width - 2).Height(height - 2).Render(content)
}

func (m Model) renderLogPanel(height int) string {
	output := "stdout"
	if m.stderr {
		output = "stderr"
	}

	var header string
	job, ok := m.jobs.Selected()
	switch {
	case !ok:
		header = dimStyle.Render("No job selected")
	case job.IsArray():
		header = fmt.Sprintf("%s %s", titleStyle.Render(output), dimStyle.Render(fmt.Sprintf("array of %d tasks, press enter to list them", job.Tasks)))
	case m.tailPath == "":
		tmpl := job.StdoutTemplate
		if m.stderr {
			tmpl = job.StderrTemplate
		}
		reason := "log path not known yet"
		if tmpl != "" {
			reason = fmt.Sprintf("%s resolves once the job starts", tmpl)
		}
		header = fmt.Sprintf("%s %s", titleStyle.Render(output), dimStyle.Render(reason))
	default:
		header = titleStyle.Render(output) + " " + m.tailPath
		var info []string
		switch {
		case job.State.Active():
			info = append(info, "live")
		case job.State != slurm.StatePending && job.State != slurm.StateUnknown:
			info = append(info, "job ended")
		}
		switch {
		case m.logErr != nil:
			info = append(info, errorStyle.Render(firstLine(m.logErr.Error())))
		case m.tail != nil && !m.tail.Available():
			info = append(info, "waiting for file")
		case m.tail != nil:
			info = append(info, humanize.Bytes(uint64(m.tail.Size())))
			if d := m.tail.Dropped(); d > 0 {
				info = append(info, humanize.Comma(int64(d))+" older lines dropped")
			}
		}
		if m.wrap {
			info = append(info, "wrap")
		}
		if !m.follow {
			info = append(info, fmt.Sprintf("%3.f%%", m.viewport.ScrollPercent()*100))
		}
		if len(info) > 0 {
			header += dimStyle.Render("  " + strings.Join(info, " · "))
		}
	}
	header = truncate(header, m.width-4)

	content := header + "\n" + m.viewport.View()
	return logPanelStyle.Width(m.width - 2).Height(height - 2).Render(content)
}

func (m Model) renderHistory(height int) string {
	var rows []string
	title := "Session history"
	hint := "  H for the selected job"
	if m.historyJob != "" {
		title += " of " + m.historyJob
		hint = "  H to close"
	}
	rows = append(rows, titleStyle.Render(title)+dimStyle.Render(hint))

	contentHeight := height - 3
	if len(m.history) == 0 {
		rows = append(rows, dimStyle.Render("No transitions yet"))
	}
	for i, e := range m.history {
		if i >= contentHeight {
			break
		}
		rows = append(rows, truncate(formatEvent(e), m.width-4))
	}

	return logPanelStyle.Width(m.width - 2).Height(height - 2).Render(strings.Join(rows, "\n"))
}

func formatEvent(e *journal.Event) string {
	when := e.At.Format("15:04:05")
	name := ""
	if e.Name != "" {
		name = " (" + e.Name + ")"
	}
	switch e.Kind {
	case journal.KindAppeared:
		return fmt.Sprintf("%s  + %s%s %s", when, e.JobID, name, e.NewState)
	case journal.KindLeft:
		return fmt.Sprintf("%s  - %s%s left the queue (was %s)", when, e.JobID, name, e.OldState)
	default:
		return fmt.Sprintf("%s  ~ %s%s %s → %s", when, e.JobID, name, e.OldState, e.NewState)
	}
}

func (m Model) renderFlash() string {
	if m.flashMessage == "" {
		return ""
	}

	var style lipgloss.Style
	if m.flashIsError {
		style = flashErrorStyle
	} else {
		style = flashInfoStyle
	}

	return " " + style.Render(truncate(m.flashMessage, m.width-4))
}

func (m Model) renderStatusBar() string {
	var parts []string
	switch {
	case m.lastPoll.IsZero():
		parts = append(parts, "waiting for squeue")
	case m.jobs.LastError() != nil:
		parts = append(parts, errorStyle.Render("squeue failed")+" "+humanize.Time(m.lastPoll))
	default:
		parts = append(parts, fmt.Sprintf("updated %s (%s, every %s)", humanize.Time(m.lastPoll), formatDuration(m.pollTook), formatDuration(m.interval)))
	}
	if m.rowWarnings > 0 {
		parts = append(parts, warnStyle.Render(fmt.Sprintf("%d rows unparsed", m.rowWarnings)))
	}
	if m.counts.Left > 0 {
		parts = append(parts, fmt.Sprintf("%d left queue", m.counts.Left))
	}
	status := statusMsgStyle.Render(" " + strings.Join(parts, " · "))

	m.help.Width = m.width - lipgloss.Width(status) - 2
	help := m.help.ShortHelpView(keys.ShortHelp())

	// Right-align the help text
	gap := m.width - lipgloss.Width(status) - lipgloss.Width(help) - 1
	if gap < 1 {
		gap = 1
	}
	return status + strings.Repeat(" ", gap) + help
}

func (m Model) renderHelpOverlay(background string) string {
	modalStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(1, 2).
		Width(56)

	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69"))
	keyStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true).Width(14) // Cyan, bold
	descStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("255"))                    // Bright white

	var b strings.Builder
	b.WriteString(titleStyle.Render("Keyboard Shortcuts"))
	b.WriteString("\n")

	sections := []string{"Jobs", "Log", "View", "General"}
	for i, group := range keys.FullHelp() {
		b.WriteString("\n")
		b.WriteString(titleStyle.Render(sections[i]))
		b.WriteString("\n")
		for _, binding := range group {
			h := binding.Help()
			b.WriteString(keyStyle.Render(h.Key))
			b.WriteString(descStyle.Render(h.Desc))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(dimStyle.Render("Mouse wheel scrolls the panel under the pointer"))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("Press ? or Esc to close"))

	modal := modalStyle.Render(b.String())

	return lipgloss.Place(
		m.width, m.height,
		lipgloss.Center, lipgloss.Center,
		modal,
	)
}

func formatState(job slurm.Job, compact bool) string {
	label := job.StateLabel()
	if compact && (job.State != slurm.StateUnknown || job.RawState == "") {
		label = job.State.Code()
	}
	switch job.State {
	case slurm.StateRunning:
		return "● " + label
	case slurm.StatePending:
		return "○ " + label
	case slurm.StateCompleting, slurm.StateSuspended:
		return "◐ " + label
	case slurm.StateCompleted:
		return "✓ " + label
	case slurm.StateUnknown:
		return "? " + label
	default:
		return "✗ " + label
	}
}

func styleForState(state slurm.State) lipgloss.Style {
	switch state {
	case slurm.StateRunning:
		return runningStyle
	case slurm.StatePending:
		return pendingStyle
	case slurm.StateCompleting, slurm.StateSuspended:
		return transitionStyle
	case slurm.StateCompleted:
		return completedStyle
	case slurm.StateCancelled, slurm.StatePreempted:
		return cancelledStyle
	case slurm.StateFailed, slurm.StateTimeout, slurm.StateOutOfMemory, slurm.StateNodeFail:
		return failedStyle
	default:
		return lipgloss.NewStyle()
	}
}

// formatDuration formats a duration in a human-readable form
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	d = d.Truncate(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if lipgloss.Width(s) <= max {
		return s
	}
	return truncateString(s, max-1) + "…"
}

func truncateString(s string, width int) string {
	return rtruncate.String(s, uint(width))
}
