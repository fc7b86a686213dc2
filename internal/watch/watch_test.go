package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func next(t *testing.T, m *Multiplexer, timeout time.Duration) (Trigger, bool) {
	t.Helper()
	select {
	case tr := <-m.C():
		return tr, true
	case <-time.After(timeout):
		return Trigger{}, false
	}
}

func TestTimerTriggers(t *testing.T) {
	m := New(Options{Interval: 20 * time.Millisecond, DisableNotify: true})
	defer m.Close()

	gen := m.Watch(filepath.Join(t.TempDir(), "slurm-1.out"))

	tr, ok := next(t, m, time.Second)
	require.True(t, ok, "timer should fire")
	assert.Equal(t, gen, tr.Gen)
	assert.Equal(t, SourceTimer, tr.Source)
	assert.NoError(t, tr.Err)
}

func TestNotifyTriggersOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slurm-1.out")
	m := New(Options{Interval: time.Hour})
	defer m.Close()

	gen := m.Watch(path)
	require.NoError(t, os.WriteFile(path, []byte("hello\n"), 0644))

	tr, ok := next(t, m, 2*time.Second)
	require.True(t, ok, "write should trigger")
	assert.Equal(t, gen, tr.Gen)
	assert.Equal(t, SourceNotify, tr.Source)
}

func TestNotifyIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	m := New(Options{Interval: time.Hour})
	defer m.Close()

	m.Watch(filepath.Join(dir, "slurm-1.out"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "slurm-2.out"), []byte("x\n"), 0644))

	_, ok := next(t, m, 200*time.Millisecond)
	assert.False(t, ok)
}

func TestBurstIsCoalesced(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slurm-1.out")
	m := New(Options{Interval: time.Hour})
	defer m.Close()
	m.Watch(path)

	f, err := os.Create(path)
	require.NoError(t, err)
	for i := 0; i < 200; i++ {
		_, err := f.WriteString("tick\n")
		require.NoError(t, err)
	}
	require.NoError(t, f.Close())

	_, ok := next(t, m, 2*time.Second)
	require.True(t, ok)

	// the burst is over; only the trailing flushes may still arrive
	time.Sleep(250 * time.Millisecond)
	extra := 0
	for {
		if _, ok := next(t, m, 50*time.Millisecond); !ok {
			break
		}
		extra++
	}
	assert.LessOrEqual(t, extra, 2)
}

func TestEmptyPathPauses(t *testing.T) {
	m := New(Options{Interval: 10 * time.Millisecond, DisableNotify: true})
	defer m.Close()

	m.Watch("")
	_, ok := next(t, m, 100*time.Millisecond)
	assert.False(t, ok)
	assert.Equal(t, "", m.Path())
}

func TestWatchBumpsGeneration(t *testing.T) {
	dir := t.TempDir()
	m := New(Options{Interval: 10 * time.Millisecond, DisableNotify: true})
	defer m.Close()

	g1 := m.Watch(filepath.Join(dir, "a.out"))
	time.Sleep(50 * time.Millisecond)
	g2 := m.Watch(filepath.Join(dir, "b.out"))
	assert.Greater(t, g2, g1)
	assert.Equal(t, g2, m.Gen())
	assert.Equal(t, filepath.Join(dir, "b.out"), m.Path())

	tr, ok := next(t, m, time.Second)
	require.True(t, ok)
	assert.Equal(t, g2, tr.Gen, "pending trigger for the old file is discarded")
}

func TestWatchMissingDirectoryFallsBackToTimer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-yet", "slurm-1.out")
	m := New(Options{Interval: 20 * time.Millisecond})
	defer m.Close()

	gen := m.Watch(path)
	tr, ok := next(t, m, time.Second)
	require.True(t, ok)
	assert.Equal(t, gen, tr.Gen)
	assert.Equal(t, SourceTimer, tr.Source)
}

func TestCloseIsIdempotent(t *testing.T) {
	m := New(Options{Interval: 10 * time.Millisecond})
	m.Watch(filepath.Join(t.TempDir(), "x.out"))
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	// drain anything sent before Close, then expect silence
	for {
		if _, ok := next(t, m, 30*time.Millisecond); !ok {
			break
		}
	}
	_, ok := next(t, m, 50*time.Millisecond)
	assert.False(t, ok)
}

func TestNotifyResumesAfterDirectoryRecreated(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run")
	require.NoError(t, os.Mkdir(dir, 0755))
	path := filepath.Join(dir, "slurm-1.out")

	m := New(Options{Interval: 20 * time.Millisecond})
	defer m.Close()
	m.Watch(path)

	require.NoError(t, os.RemoveAll(dir))
	require.NoError(t, os.Mkdir(dir, 0755))
	// let a few ticks re-add the directory
	time.Sleep(150 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("rerun\n"), 0644))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case tr := <-m.C():
			if tr.Source == SourceNotify && tr.Err == nil {
				return
			}
		case <-deadline:
			t.Fatal("no notification after the directory was recreated")
		}
	}
}

func TestNoOldGenerationAfterWatch(t *testing.T) {
	dir := t.TempDir()
	m := New(Options{Interval: time.Millisecond, DisableNotify: true})
	defer m.Close()

	for i := 0; i < 200; i++ {
		gen := m.Watch(filepath.Join(dir, "a.out"))
		tr, ok := next(t, m, time.Second)
		require.True(t, ok)
		require.Equal(t, gen, tr.Gen, "trigger from before Watch returned")
	}
}
