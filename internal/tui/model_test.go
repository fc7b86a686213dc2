package tui

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osteele/slurm-jobs/internal/journal"
	"github.com/osteele/slurm-jobs/internal/logtail"
	"github.com/osteele/slurm-jobs/internal/poll"
	"github.com/osteele/slurm-jobs/internal/slurm"
	"github.com/osteele/slurm-jobs/internal/store"
	"github.com/osteele/slurm-jobs/internal/watch"
)

type fakeSource struct {
	ch        chan poll.Result
	epoch     uint64
	args      [][]string
	refreshed int
}

func newFakeSource() *fakeSource {
	return &fakeSource{ch: make(chan poll.Result)}
}

func (s *fakeSource) C() <-chan poll.Result { return s.ch }

func (s *fakeSource) SetArgs(args []string) uint64 {
	s.args = append(s.args, append([]string(nil), args...))
	s.epoch++
	return s.epoch
}

func (s *fakeSource) Refresh() { s.refreshed++ }

type fakeTrigger struct {
	ch    chan watch.Trigger
	gen   uint64
	paths []string
}

func newFakeTrigger() *fakeTrigger {
	return &fakeTrigger{ch: make(chan watch.Trigger)}
}

func (w *fakeTrigger) C() <-chan watch.Trigger { return w.ch }

func (w *fakeTrigger) Watch(path string) uint64 {
	w.paths = append(w.paths, path)
	w.gen++
	return w.gen
}

type harness struct {
	t       *testing.T
	m       Model
	source  *fakeSource
	trigger *fakeTrigger
	dir     string
}

func newHarness(t *testing.T, args ...string) *harness {
	h := &harness{
		t:       t,
		source:  newFakeSource(),
		trigger: newFakeTrigger(),
		dir:     t.TempDir(),
	}
	h.m = NewModel(h.source, h.trigger, ModelOptions{Args: args, LogMaxLines: 100})
	h.send(tea.WindowSizeMsg{Width: 120, Height: 40})
	return h
}

// send feeds one message through Update. Returned commands are not run:
// most of them block on the fake channels.
func (h *harness) send(msg tea.Msg) {
	h.t.Helper()
	next, _ := h.m.Update(msg)
	h.m = next.(Model)
}

func (h *harness) snapshot(epoch uint64, jobs ...slurm.Job) {
	h.t.Helper()
	h.send(snapshotMsg(poll.Result{Epoch: epoch, At: time.Now(), Jobs: jobs}))
}

// read performs the log read that the model has in flight
func (h *harness) read() logReadMsg {
	h.t.Helper()
	require.NotNil(h.t, h.m.tail)
	return logReadMsg{gen: h.m.tailGen, res: logtail.Read(h.m.tail.Request())}
}

func (h *harness) job(id string, state slurm.State) slurm.Job {
	return slurm.Job{
		ID:     id,
		JobID:  id,
		Name:   "train",
		User:   "alice",
		State:  state,
		Stdout: filepath.Join(h.dir, id+".out"),
		Stderr: filepath.Join(h.dir, id+".err"),
	}
}

func (h *harness) task(array, task string) slurm.Job {
	j := h.job(array+"_"+task, slurm.StateRunning)
	j.JobID = array + task
	j.ArrayJobID = array
	j.ArrayTaskID = task
	return j
}

func (h *harness) write(name, content string) {
	h.t.Helper()
	require.NoError(h.t, os.WriteFile(filepath.Join(h.dir, name), []byte(content), 0644))
}

func keyPress(s string) tea.KeyMsg {
	switch s {
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestFirstSnapshotSelectsFirstJobAndStartsTail(t *testing.T) {
	h := newHarness(t)
	h.write("1.out", "hello\nworld\n")

	h.snapshot(0, h.job("1", slurm.StateRunning), h.job("2", slurm.StatePending))

	assert.Equal(t, "1", h.m.jobs.SelectedID())
	assert.True(t, h.m.reading, "a log read is in flight")
	assert.Equal(t, filepath.Join(h.dir, "1.out"), h.m.tailPath)
	assert.Equal(t, []string{filepath.Join(h.dir, "1.out")}, h.trigger.paths)

	h.send(h.read())
	assert.False(t, h.m.reading)
	assert.Equal(t, []string{"hello", "world"}, h.m.tail.Lines())
	assert.Contains(t, h.m.viewport.View(), "world")
}

func TestSnapshotFromReplacedScopeIsIgnored(t *testing.T) {
	h := newHarness(t)
	h.snapshot(0, h.job("1", slurm.StateRunning))

	h.m.epoch = 3
	h.snapshot(2, h.job("9", slurm.StateRunning))

	assert.Equal(t, 1, h.m.jobs.Len())
	assert.Equal(t, "1", h.m.jobs.SelectedID())
}

func TestPollErrorKeepsJobs(t *testing.T) {
	h := newHarness(t)
	h.snapshot(0, h.job("1", slurm.StateRunning), h.job("2", slurm.StateRunning))

	h.send(snapshotMsg(poll.Result{At: time.Now(), Err: errors.New("squeue: exit status 1\nslurm_load_jobs error")}))

	assert.Equal(t, 2, h.m.jobs.Len())
	assert.Error(t, h.m.jobs.LastError())
	assert.True(t, h.m.flashIsError)
	assert.Equal(t, "squeue: squeue: exit status 1", h.m.flashMessage)

	h.snapshot(0, h.job("1", slurm.StateRunning))
	assert.NoError(t, h.m.jobs.LastError())
}

func TestStaleLogReadIsDiscarded(t *testing.T) {
	h := newHarness(t)
	h.write("1.out", "from job one\n")
	h.write("2.out", "from job two\n")
	h.snapshot(0, h.job("1", slurm.StateRunning), h.job("2", slurm.StateRunning))

	stale := h.read()
	h.send(keyPress("down"))
	require.Equal(t, "2", h.m.jobs.SelectedID())

	h.send(stale)
	assert.Empty(t, h.m.tail.Lines(), "job one's lines must not land in job two's tail")
	assert.True(t, h.m.reading, "job two's read is still in flight")

	h.send(h.read())
	assert.Equal(t, []string{"from job two"}, h.m.tail.Lines())
}

func TestTriggerDuringReadSchedulesFollowUp(t *testing.T) {
	h := newHarness(t)
	h.write("1.out", "one\n")
	h.snapshot(0, h.job("1", slurm.StateRunning))

	inFlight := h.read()
	h.write("1.out", "one\ntwo\n")
	h.send(triggerMsg(watch.Trigger{Gen: h.trigger.gen, Source: watch.SourceNotify}))
	assert.True(t, h.m.dirty)

	h.send(inFlight)
	assert.Equal(t, []string{"one"}, h.m.tail.Lines())
	assert.True(t, h.m.reading, "a follow-up read starts")
	assert.False(t, h.m.dirty)

	h.send(h.read())
	assert.Equal(t, []string{"one", "two"}, h.m.tail.Lines())
}

func TestTriggerFromOldWatchIsIgnored(t *testing.T) {
	h := newHarness(t)
	h.snapshot(0, h.job("1", slurm.StateRunning), h.job("2", slurm.StateRunning))
	h.send(h.read())
	oldGen := h.trigger.gen

	h.send(keyPress("down"))
	h.send(h.read())
	require.False(t, h.m.reading)

	h.send(triggerMsg(watch.Trigger{Gen: oldGen, Source: watch.SourceTimer}))
	assert.False(t, h.m.reading)
	h.send(triggerMsg(watch.Trigger{Gen: h.trigger.gen, Source: watch.SourceTimer}))
	assert.True(t, h.m.reading)
}

func TestSelectionLostMovesToSameIndex(t *testing.T) {
	h := newHarness(t)
	h.snapshot(0, h.job("1", slurm.StateRunning), h.job("2", slurm.StateRunning), h.job("3", slurm.StateRunning))
	h.send(keyPress("down"))
	require.Equal(t, "2", h.m.jobs.SelectedID())

	h.snapshot(0, h.job("1", slurm.StateRunning), h.job("3", slurm.StateRunning))
	assert.Equal(t, "3", h.m.jobs.SelectedID())
	assert.Equal(t, filepath.Join(h.dir, "3.out"), h.m.tailPath)
}

func TestEscapeClearsSelection(t *testing.T) {
	h := newHarness(t)
	h.snapshot(0, h.job("1", slurm.StateRunning))

	h.send(keyPress("esc"))
	assert.Empty(t, h.m.jobs.SelectedID())
	assert.Nil(t, h.m.tail)

	h.snapshot(0, h.job("1", slurm.StateRunning), h.job("2", slurm.StateRunning))
	assert.Empty(t, h.m.jobs.SelectedID(), "no auto-select after the user cleared")

	h.send(keyPress("j"))
	assert.Equal(t, "1", h.m.jobs.SelectedID())
}

func TestArrayDrillDown(t *testing.T) {
	h := newHarness(t, "--user=alice")
	h.snapshot(0, h.job("10", slurm.StateRunning), h.task("20", "1"), h.task("20", "2"))
	require.Equal(t, 2, h.m.jobs.Len())

	h.send(keyPress("down"))
	row, ok := h.m.jobs.Selected()
	require.True(t, ok)
	require.True(t, row.IsArray())
	assert.Empty(t, h.m.tailPath, "array rows have no log of their own")

	h.send(keyPress("enter"))
	require.Len(t, h.source.args, 1)
	assert.Equal(t, []string{"--user=alice", "--jobs=20"}, h.source.args[0])
	assert.Equal(t, "20", h.m.arrayID)

	// a late result for the old scope
	h.snapshot(0, h.job("10", slurm.StateRunning))
	assert.Equal(t, "20_*", h.m.jobs.SelectedID())

	h.snapshot(1, h.task("20", "1"), h.task("20", "2"))
	assert.Equal(t, 2, h.m.jobs.Len())
	assert.Equal(t, "20_1", h.m.jobs.SelectedID())
	assert.Equal(t, filepath.Join(h.dir, "20_1.out"), h.m.tailPath)

	h.send(keyPress("esc"))
	require.Len(t, h.source.args, 2)
	assert.Equal(t, []string{"--user=alice"}, h.source.args[1])
	assert.Empty(t, h.m.arrayID)

	h.snapshot(2, h.job("10", slurm.StateRunning), h.task("20", "1"), h.task("20", "2"))
	assert.Equal(t, "20_*", h.m.jobs.SelectedID())
}

func TestToggleOutputSwitchesPath(t *testing.T) {
	h := newHarness(t)
	h.snapshot(0, h.job("1", slurm.StateRunning))
	require.Equal(t, filepath.Join(h.dir, "1.out"), h.m.tailPath)

	h.send(keyPress("o"))
	assert.True(t, h.m.stderr)
	assert.Equal(t, filepath.Join(h.dir, "1.err"), h.m.tailPath)
	assert.Equal(t, filepath.Join(h.dir, "1.err"), h.trigger.paths[len(h.trigger.paths)-1])
	assert.Equal(t, "Showing stderr", h.m.flashMessage)
}

func TestRefreshKey(t *testing.T) {
	h := newHarness(t)
	h.send(keyPress("r"))
	assert.Equal(t, 1, h.source.refreshed)
}

func TestViewRenders(t *testing.T) {
	h := newHarness(t)
	assert.Contains(t, h.m.View(), "Waiting for squeue")

	h.write("1.out", strings.Repeat("x", 300)+"\n")
	h.snapshot(0, h.job("1", slurm.StateRunning), h.task("20", "1"))
	h.send(h.read())

	view := h.m.View()
	assert.Contains(t, view, "train")
	assert.Contains(t, view, "20_[1]")
	assert.Contains(t, view, "1.out")

	h.send(keyPress("w"))
	assert.True(t, h.m.wrap)
	assert.NotPanics(t, func() { _ = h.m.View() })

	h.send(keyPress("?"))
	assert.Contains(t, h.m.View(), "Keyboard Shortcuts")
}

func TestViewBeforeSize(t *testing.T) {
	m := NewModel(newFakeSource(), newFakeTrigger(), ModelOptions{})
	assert.Equal(t, "Loading...", m.View())
}

func TestFormatLogLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		wrap bool
		want string
	}{
		{"short", "hello", false, "hello"},
		{"truncated", "abcdefghij", false, "abcde"},
		{"wrapped", "abcdefghij", true, "abcde\nfghij"},
		{"tabs", "a\tb", false, "a    "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatLogLine(tt.line, 5, tt.wrap))
		})
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "250ms", formatDuration(250*time.Millisecond))
	assert.Equal(t, "2s", formatDuration(2*time.Second))
	assert.Equal(t, "1m 5s", formatDuration(65*time.Second))
	assert.Equal(t, "1h 0m 1s", formatDuration(time.Hour+time.Second))
}

func TestLogPathResolvedLater(t *testing.T) {
	h := newHarness(t)
	pending := h.job("1", slurm.StatePending)
	pending.Stdout = ""
	pending.StdoutTemplate = "slurm-%j-%N.out"
	h.snapshot(0, pending)

	assert.Equal(t, "1", h.m.jobs.SelectedID())
	assert.Nil(t, h.m.tail)
	assert.Equal(t, []string{""}, h.trigger.paths)
	assert.Contains(t, h.m.View(), "resolves once the job starts")

	h.write("1.out", "started\n")
	h.snapshot(0, h.job("1", slurm.StateRunning))

	path := filepath.Join(h.dir, "1.out")
	require.NotNil(t, h.m.tail)
	assert.Equal(t, path, h.m.tailPath)
	assert.Equal(t, []string{"", path}, h.trigger.paths)
	h.send(h.read())
	assert.Equal(t, []string{"started"}, h.m.tail.Lines())
}

func TestSharedLogPathResetsOnSelection(t *testing.T) {
	h := newHarness(t)
	shared := filepath.Join(h.dir, "shared.out")
	first, second := h.job("1", slurm.StateCompleted), h.job("2", slurm.StateRunning)
	first.Stdout, second.Stdout = shared, shared
	h.write("shared.out", "from the first run\n")
	h.snapshot(0, first, second)

	h.send(h.read())
	require.Equal(t, []string{"from the first run"}, h.m.tail.Lines())
	gen := h.m.tailGen

	h.send(keyPress("down"))
	assert.Equal(t, "2", h.m.jobs.SelectedID())
	assert.Equal(t, gen+1, h.m.tailGen)
	assert.Empty(t, h.m.tail.Lines(), "a new selection starts from an empty buffer")
	assert.Equal(t, int64(0), h.m.tail.Offset())
	assert.Equal(t, []string{shared, shared}, h.trigger.paths)
}

func TestNarrowTerminalUsesStateCodes(t *testing.T) {
	h := newHarness(t)
	h.snapshot(0, h.job("1", slurm.StateRunning), h.job("2", slurm.StatePending))

	assert.Contains(t, h.m.View(), "RUNNING")

	h.send(tea.WindowSizeMsg{Width: 80, Height: 30})
	view := h.m.View()
	assert.NotContains(t, view, "RUNNING")
	assert.Contains(t, view, "PD")
}

func TestFormatState(t *testing.T) {
	tests := []struct {
		name    string
		job     slurm.Job
		compact bool
		want    string
	}{
		{"long", slurm.Job{State: slurm.StateRunning}, false, "● RUNNING"},
		{"compact", slurm.Job{State: slurm.StateOutOfMemory}, true, "✗ OOM"},
		{"unknown keeps raw text", slurm.Job{State: slurm.StateUnknown, RawState: "REQUEUE_HOLD"}, true, "? REQUEUE_HOLD"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatState(tt.job, tt.compact))
		})
	}
}

func TestLogHeaderShowsWhetherJobIsLive(t *testing.T) {
	h := newHarness(t)
	h.write("1.out", "x\n")
	h.write("2.out", "y\n")
	h.snapshot(0, h.job("1", slurm.StateRunning), h.job("2", slurm.StateFailed))
	h.send(h.read())
	assert.Contains(t, h.m.View(), "live")

	h.send(keyPress("down"))
	h.send(h.read())
	assert.Contains(t, h.m.View(), "job ended")
}

func TestHistoryKeyCycles(t *testing.T) {
	h := newHarness(t)
	h.snapshot(0, h.job("1", slurm.StateRunning))

	h.send(keyPress("H"))
	assert.True(t, h.m.showHistory)
	assert.Empty(t, h.m.historyJob)

	h.send(keyPress("H"))
	assert.True(t, h.m.showHistory)
	assert.Equal(t, "1", h.m.historyJob)
	assert.Contains(t, h.m.View(), "Session history of 1")

	h.send(keyPress("H"))
	assert.False(t, h.m.showHistory)
	assert.Empty(t, h.m.historyJob)
}

func TestReadJournalForOneJob(t *testing.T) {
	db, err := journal.Open()
	require.NoError(t, err)
	defer db.Close()

	t0 := time.Now()
	first := []slurm.Job{
		{ID: "1", JobID: "1", State: slurm.StatePending},
		{ID: "2", JobID: "2", State: slurm.StatePending},
	}
	second := []slurm.Job{
		{ID: "1", JobID: "1", State: slurm.StateRunning},
		{ID: "2", JobID: "2", State: slurm.StatePending},
	}
	_, err = journal.Record(db, t0, store.Diff{Added: []string{"1", "2"}}, nil, first)
	require.NoError(t, err)
	_, err = journal.Record(db, t0.Add(time.Second), store.Diff{Changed: []string{"1"}}, first, second)
	require.NoError(t, err)

	msg := readJournal(db, true, "1")
	require.NoError(t, msg.err)
	assert.True(t, msg.history)
	assert.Equal(t, "1", msg.jobID)
	require.Len(t, msg.recent, 2)
	assert.Equal(t, journal.KindState, msg.recent[0].Kind, "newest first")
	assert.Equal(t, journal.KindAppeared, msg.recent[1].Kind)

	all := readJournal(db, true, "")
	assert.Len(t, all.recent, 3)
	assert.Equal(t, 2, all.counts.Appeared)
}
