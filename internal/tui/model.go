package tui

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	osc52 "github.com/aymanbagabas/go-osc52/v2"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/osteele/slurm-jobs/internal/journal"
	"github.com/osteele/slurm-jobs/internal/logging"
	"github.com/osteele/slurm-jobs/internal/logtail"
	"github.com/osteele/slurm-jobs/internal/poll"
	"github.com/osteele/slurm-jobs/internal/slurm"
	"github.com/osteele/slurm-jobs/internal/store"
	"github.com/osteele/slurm-jobs/internal/watch"
)

const (
	// Lines scrolled by FastUp/FastDown
	fastScroll = 50
	// Lines scrolled per mouse wheel step
	wheelScroll = 3
	// Events shown in the history panel
	historyLimit = 200
)

// JobSource delivers scheduler snapshots. *poll.Poller implements it.
type JobSource interface {
	C() <-chan poll.Result
	SetArgs(args []string) uint64
	Refresh()
}

// TriggerSource says when the selected log should be re-read.
// *watch.Multiplexer implements it.
type TriggerSource interface {
	C() <-chan watch.Trigger
	Watch(path string) uint64
}

// Messages
type snapshotMsg poll.Result

type triggerMsg watch.Trigger

type logReadMsg struct {
	gen uint64
	res logtail.Result
}

type journalMsg struct {
	counts  journal.Counts
	recent  []*journal.Event
	history bool   // recent is set
	jobID   string // recent is limited to this job
	err     error
}

type tickMsg time.Time
type flashExpiredMsg struct{}

// Model is the main TUI state. It is the only place where the job store
// and the log tail are mutated.
type Model struct {
	jobs    *store.Store
	source  JobSource
	trigger TriggerSource
	journal *sql.DB
	log     logging.Logger

	// squeue scope: the user's arguments, or one array's tasks
	baseArgs      []string
	arrayID       string
	returnTo      string
	epoch         uint64
	baseline      bool // next snapshot starts a new scope and is not journaled
	pendingSelect string
	userCleared   bool

	// Poll status
	interval    time.Duration
	lastPoll    time.Time
	pollTook    time.Duration
	rowWarnings int

	// Log tail for the selected job
	tail      *logtail.Tail
	tailGen   uint64
	watchGen  uint64
	tailJobID string
	tailPath  string
	reading   bool
	dirty     bool
	logErr    error
	maxLines  int
	stderr    bool
	wrap      bool
	follow    bool
	viewport  viewport.Model
	watchWarn bool

	// Journal
	counts      journal.Counts
	history     []*journal.Event
	showHistory bool
	historyJob  string // history limited to one job when set

	// UI State
	flashMessage string
	flashIsError bool
	flashExpiry  time.Time
	showHelp     bool
	help         help.Model

	// Layout
	width  int
	height int
}

// ModelOptions contains configuration for the TUI model
type ModelOptions struct {
	// Args are the squeue arguments the source was started with
	Args []string
	// Interval is the poll period, shown in the status bar
	Interval    time.Duration
	LogMaxLines int
	Stderr      bool
	Wrap        bool
	Journal     *sql.DB
	Logger      logging.Logger
}

// NewModel creates a new TUI model
func NewModel(source JobSource, trigger TriggerSource, opts ModelOptions) Model {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Interval <= 0 {
		opts.Interval = poll.DefaultInterval
	}
	return Model{
		jobs:     store.New(),
		source:   source,
		trigger:  trigger,
		journal:  opts.Journal,
		log:      opts.Logger,
		baseArgs: append([]string(nil), opts.Args...),
		baseline: true,
		interval: opts.Interval,
		maxLines: opts.LogMaxLines,
		stderr:   opts.Stderr,
		wrap:     opts.Wrap,
		follow:   true,
		viewport: viewport.New(0, 0),
		help:     help.New(),
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.waitForSnapshot(),
		m.waitForTrigger(),
		m.startClock(),
	)
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		return m, nil

	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.MouseMsg:
		return m.handleMouse(msg)

	case snapshotMsg:
		cmd := m.applySnapshot(poll.Result(msg))
		return m, tea.Batch(m.waitForSnapshot(), cmd)

	case triggerMsg:
		cmds := []tea.Cmd{m.waitForTrigger()}
		if msg.Err != nil {
			m.log.Warn("log trigger", "source", msg.Source, "err", msg.Err)
			if !m.watchWarn {
				m.watchWarn = true
				cmds = append(cmds, m.setFlash("File notifications unavailable; polling logs", true))
			}
		}
		if msg.Gen == m.watchGen {
			cmds = append(cmds, m.readLog())
		}
		return m, tea.Batch(cmds...)

	case logReadMsg:
		return m, m.applyLogRead(msg)

	case journalMsg:
		if msg.err != nil {
			m.log.Warn("journal", "err", msg.err)
			return m, nil
		}
		m.counts = msg.counts
		if msg.history && msg.jobID == m.historyJob {
			m.history = msg.recent
		}
		return m, nil

	case tickMsg:
		return m, m.startClock()

	case flashExpiredMsg:
		if !m.flashExpiry.IsZero() && time.Now().After(m.flashExpiry) {
			m.flashMessage = ""
			m.flashIsError = false
			m.flashExpiry = time.Time{}
		}
		return m, nil
	}

	return m, nil
}

// applySnapshot merges one poll result into the store and re-targets the
// log tail if the selection moved
func (m *Model) applySnapshot(res poll.Result) tea.Cmd {
	if res.Epoch != m.epoch {
		// produced with arguments that have since been replaced
		return nil
	}
	m.lastPoll = res.At
	m.pollTook = res.Duration

	if res.Err != nil {
		m.jobs.ApplyResult(nil, res.Err)
		return m.setFlash("squeue: "+firstLine(res.Err.Error()), true)
	}

	next := res.Jobs
	if m.arrayID == "" {
		next = slurm.CollapseArrays(next)
	}
	prev := m.jobs.Jobs()
	prevIndex := m.jobs.Index()
	fresh := m.baseline
	m.baseline = false

	diff := m.jobs.ApplyResult(next, nil)
	m.rowWarnings = len(res.Rows)

	switch {
	case m.pendingSelect != "" && m.jobs.Select(m.pendingSelect):
	case m.jobs.SelectedID() != "" || m.userCleared:
	case diff.SelectionLost && !fresh:
		// keep the cursor where the vanished job was
		m.jobs.SelectIndex(prevIndex)
	default:
		m.jobs.SelectFirst()
	}
	m.pendingSelect = ""

	var cmds []tea.Cmd
	if !fresh {
		cmds = append(cmds, m.recordJournal(res.At, diff, prev, m.jobs.Jobs()))
	}
	cmds = append(cmds, m.syncTail())
	return tea.Batch(cmds...)
}

// syncTail starts a fresh tail when the selected job or its log path
// changed. Selecting another job always resets, even onto the same path.
func (m *Model) syncTail() tea.Cmd {
	id, path := "", ""
	if job, ok := m.jobs.Selected(); ok {
		id = job.ID
		if !job.IsArray() {
			path = job.LogPath(m.stderr)
		}
	}
	if id == m.tailJobID && path == m.tailPath {
		return nil
	}
	m.log.Debug("tail", "job", id, "path", path)

	m.tailJobID = id
	m.tailPath = path
	m.tailGen++
	m.watchGen = m.trigger.Watch(path)
	m.reading = false
	m.dirty = false
	m.logErr = nil
	m.follow = true
	m.tail = nil
	if path != "" {
		m.tail = logtail.New(path, m.maxLines)
	}
	m.refreshLog()
	return m.readLog()
}

// readLog starts a read of the selected log unless one is in flight, in
// which case another read follows when it lands
func (m *Model) readLog() tea.Cmd {
	if m.tail == nil {
		return nil
	}
	if m.reading {
		m.dirty = true
		return nil
	}
	m.reading = true
	req := m.tail.Request()
	gen := m.tailGen
	return func() tea.Msg {
		return logReadMsg{gen: gen, res: logtail.Read(req)}
	}
}

func (m *Model) applyLogRead(msg logReadMsg) tea.Cmd {
	if msg.gen != m.tailGen || m.tail == nil {
		return nil
	}
	m.reading = false

	var cmds []tea.Cmd
	inc, err := m.tail.Apply(msg.res)
	switch {
	case errors.Is(err, logtail.ErrStale):
		m.dirty = true
	case err != nil:
		if m.logErr == nil || m.logErr.Error() != err.Error() {
			m.log.Warn("log read", "path", m.tailPath, "err", err)
			cmds = append(cmds, m.setFlash(firstLine(err.Error()), true))
		}
		m.logErr = err
	default:
		m.logErr = nil
		m.refreshLog()
	}

	if m.dirty || inc.More {
		m.dirty = false
		cmds = append(cmds, m.readLog())
	}
	return tea.Batch(cmds...)
}

func (m *Model) moveSelection(delta int) tea.Cmd {
	m.userCleared = false
	m.jobs.Move(delta)
	return m.syncTail()
}

func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// Help overlay - dismiss with ? or Esc
	if m.showHelp {
		if key.Matches(msg, keys.Help) || key.Matches(msg, keys.Escape) {
			m.showHelp = false
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, keys.Suspend):
		return m, tea.Suspend

	case key.Matches(msg, keys.Help):
		m.showHelp = true
		return m, nil

	case key.Matches(msg, keys.Up):
		return m, m.moveSelection(-1)

	case key.Matches(msg, keys.Down):
		return m, m.moveSelection(1)

	case key.Matches(msg, keys.PageUp):
		m.scrollLog(-m.viewport.Height)
		return m, nil

	case key.Matches(msg, keys.PageDown):
		m.scrollLog(m.viewport.Height)
		return m, nil

	case key.Matches(msg, keys.FastUp):
		m.scrollLog(-fastScroll)
		return m, nil

	case key.Matches(msg, keys.FastDown):
		m.scrollLog(fastScroll)
		return m, nil

	case key.Matches(msg, keys.Top):
		m.follow = false
		m.viewport.GotoTop()
		return m, nil

	case key.Matches(msg, keys.Bottom):
		m.follow = true
		m.viewport.GotoBottom()
		return m, nil

	case key.Matches(msg, keys.Enter):
		return m, m.openArray()

	case key.Matches(msg, keys.Escape):
		if m.arrayID != "" {
			return m, m.closeArray()
		}
		m.userCleared = true
		m.jobs.Clear()
		return m, m.syncTail()

	case key.Matches(msg, keys.ToggleOutput):
		m.stderr = !m.stderr
		name := "stdout"
		if m.stderr {
			name = "stderr"
		}
		return m, tea.Batch(m.syncTail(), m.setFlash("Showing "+name, false))

	case key.Matches(msg, keys.ToggleWrap):
		m.wrap = !m.wrap
		m.refreshLog()
		return m, nil

	case key.Matches(msg, keys.CopyPath):
		if m.tailPath == "" {
			return m, m.setFlash("No log path to copy", true)
		}
		return m, tea.Batch(osc52CopyCmd(m.tailPath), m.setFlash("Copied "+m.tailPath, false))

	case key.Matches(msg, keys.History):
		// all jobs, then the selected job, then closed
		switch {
		case !m.showHistory:
			m.showHistory = true
			m.historyJob = ""
		case m.historyJob == "" && m.jobs.SelectedID() != "":
			m.historyJob = m.jobs.SelectedID()
		default:
			m.showHistory = false
			m.historyJob = ""
			return m, nil
		}
		m.history = nil
		return m, m.loadHistory()

	case key.Matches(msg, keys.Refresh):
		m.source.Refresh()
		return m, m.setFlash("Refreshing...", false)
	}

	return m, nil
}

func (m Model) handleMouse(msg tea.MouseMsg) (tea.Model, tea.Cmd) {
	if msg.Action != tea.MouseActionPress {
		return m, nil
	}
	delta := 0
	switch msg.Button {
	case tea.MouseButtonWheelUp:
		delta = -1
	case tea.MouseButtonWheelDown:
		delta = 1
	default:
		return m, nil
	}

	listHeight, _ := m.panelHeights()
	if msg.Y < listHeight {
		return m, m.moveSelection(delta)
	}
	m.scrollLog(delta * wheelScroll)
	return m, nil
}

// openArray narrows the listing to the tasks of the selected array row
func (m *Model) openArray() tea.Cmd {
	job, ok := m.jobs.Selected()
	if !ok || !job.IsArray() || m.arrayID != "" {
		return nil
	}
	m.arrayID = job.ArrayJobID
	m.returnTo = job.ID
	m.pendingSelect = ""
	m.userCleared = false
	m.baseline = true
	args := append(append([]string(nil), m.baseArgs...), "--jobs="+job.ArrayJobID)
	m.epoch = m.source.SetArgs(args)
	m.log.Info("open array", "array", job.ArrayJobID)
	return m.setFlash(fmt.Sprintf("Array %s (esc to go back)", job.ArrayJobID), false)
}

// closeArray returns to the user's listing, reselecting the array row
func (m *Model) closeArray() tea.Cmd {
	m.log.Info("close array", "array", m.arrayID)
	m.arrayID = ""
	m.pendingSelect = m.returnTo
	m.returnTo = ""
	m.userCleared = false
	m.baseline = true
	m.epoch = m.source.SetArgs(m.baseArgs)
	return nil
}

func (m *Model) scrollLog(delta int) {
	m.viewport.SetYOffset(m.viewport.YOffset + delta)
	m.follow = m.viewport.AtBottom()
}

// Flash message duration
const flashDuration = 3 * time.Second

// setFlash sets a flash message and returns a timer command to clear it
func (m *Model) setFlash(msg string, isError bool) tea.Cmd {
	m.flashMessage = msg
	m.flashIsError = isError
	m.flashExpiry = time.Now().Add(flashDuration)
	return tea.Tick(flashDuration, func(t time.Time) tea.Msg {
		return flashExpiredMsg{}
	})
}

// Commands

func (m Model) waitForSnapshot() tea.Cmd {
	ch := m.source.C()
	return func() tea.Msg {
		res, ok := <-ch
		if !ok {
			return nil
		}
		return snapshotMsg(res)
	}
}

func (m Model) waitForTrigger() tea.Cmd {
	ch := m.trigger.C()
	return func() tea.Msg {
		t, ok := <-ch
		if !ok {
			return nil
		}
		return triggerMsg(t)
	}
}

func (m Model) startClock() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) recordJournal(at time.Time, diff store.Diff, prev, next []slurm.Job) tea.Cmd {
	if m.journal == nil || diff.Empty() {
		return nil
	}
	db := m.journal
	withHistory := m.showHistory
	jobID := m.historyJob
	return func() tea.Msg {
		if _, err := journal.Record(db, at, diff, prev, next); err != nil {
			return journalMsg{err: err}
		}
		return readJournal(db, withHistory, jobID)
	}
}

func (m Model) loadHistory() tea.Cmd {
	if m.journal == nil {
		return nil
	}
	db := m.journal
	jobID := m.historyJob
	return func() tea.Msg {
		return readJournal(db, true, jobID)
	}
}

func readJournal(db *sql.DB, withHistory bool, jobID string) journalMsg {
	counts, err := journal.CountEvents(db)
	if err != nil {
		return journalMsg{err: err}
	}
	msg := journalMsg{counts: counts, jobID: jobID}
	if !withHistory {
		return msg
	}
	if jobID == "" {
		msg.recent, err = journal.Recent(db, historyLimit)
	} else {
		msg.recent, err = journal.ForJob(db, jobID)
		// newest first, like Recent
		slices.Reverse(msg.recent)
	}
	msg.history = err == nil
	msg.err = err
	return msg
}

func osc52CopyCmd(text string) tea.Cmd {
	return func() tea.Msg {
		seq := osc52.New(text).Limit(100 * 1024)

		term := strings.ToLower(os.Getenv("TERM"))
		if tmux := os.Getenv("TMUX"); tmux != "" || strings.HasPrefix(term, "tmux") {
			seq = seq.Tmux()
		} else if strings.HasPrefix(term, "screen") {
			seq = seq.Screen()
		}

		_, _ = seq.WriteTo(os.Stdout)
		return nil
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
