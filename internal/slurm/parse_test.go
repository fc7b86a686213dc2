package slurm

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var shortLayout = Layout{
	Delimiter: "|",
	Fields:    []Field{FieldJobID, FieldState, FieldPartition, FieldNodes, FieldTimeUsed},
}

func TestParseTwoJobs(t *testing.T) {
	snap, err := shortLayout.Parse("12345|RUNNING|gpu|2|00:10:00\n67890|PENDING|cpu|1|00:00:00")
	require.NoError(t, err)
	require.Len(t, snap.Jobs, 2)
	assert.Empty(t, snap.Rows)

	assert.Equal(t, "12345", snap.Jobs[0].ID)
	assert.Equal(t, StateRunning, snap.Jobs[0].State)
	assert.Equal(t, "gpu", snap.Jobs[0].Partition)
	assert.Equal(t, 2, snap.Jobs[0].Nodes)
	assert.Equal(t, "00:10:00", snap.Jobs[0].TimeUsed)

	assert.Equal(t, "67890", snap.Jobs[1].ID)
	assert.Equal(t, StatePending, snap.Jobs[1].State)
	assert.Equal(t, "cpu", snap.Jobs[1].Partition)
}

func TestParseEmptyInput(t *testing.T) {
	for _, input := range []string{"", "\n", "  \n\n"} {
		snap, err := shortLayout.Parse(input)
		require.NoError(t, err)
		assert.NotNil(t, snap.Jobs)
		assert.Empty(t, snap.Jobs)
	}
}

func TestParseSkipsHeaderStructurally(t *testing.T) {
	layout := shortLayout
	layout.Header = true

	// a job whose fields look like a header must still be parsed
	input := "JOBID|STATE|PARTITION|NODES|TIME\n" +
		"JOBID|RUNNING|JOBID|1|00:00:01\n" +
		"42|PENDING|cpu|1|0:00\n"
	snap, err := layout.Parse(input)
	require.NoError(t, err)
	require.Len(t, snap.Jobs, 2)
	assert.Equal(t, "JOBID", snap.Jobs[0].ID)
	assert.Equal(t, "42", snap.Jobs[1].ID)
}

func TestParseMalformedRows(t *testing.T) {
	input := strings.Join([]string{
		"1|RUNNING|gpu|1|00:01:00",
		"garbage without delimiters",
		"|RUNNING|gpu|1|00:01:00",
		"2|BOOT_FAIL|cpu|1|00:00:00",
		"3|PENDING",
		"1|RUNNING|gpu|1|00:02:00",
	}, "\n")

	snap, err := shortLayout.Parse(input)
	require.NoError(t, err)

	ids := make([]string, len(snap.Jobs))
	for i, j := range snap.Jobs {
		ids[i] = j.ID
	}
	assert.Equal(t, []string{"1", "2", "3"}, ids)

	assert.Equal(t, StateUnknown, snap.Jobs[1].State)
	assert.Equal(t, "BOOT_FAIL", snap.Jobs[1].StateLabel())
	assert.Equal(t, StatePending, snap.Jobs[2].State)
	assert.Empty(t, snap.Jobs[2].Partition)

	require.Len(t, snap.Rows, 4)
	assert.Equal(t, 2, snap.Rows[0].Line)
	assert.True(t, snap.Rows[0].Skipped)
	assert.True(t, snap.Rows[1].Skipped)
	assert.False(t, snap.Rows[2].Skipped, "short row is kept as a partial record")
	assert.True(t, snap.Rows[3].Skipped, "duplicate id")
	assert.Contains(t, snap.Rows[3].Error(), "duplicate")
}

func TestParseAllRowsBad(t *testing.T) {
	_, err := shortLayout.Parse("nonsense\nmore nonsense\n")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnparseable))
}

func TestParseDefaultLayout(t *testing.T) {
	row := func(cells ...string) string {
		return strings.Join(cells, DefaultDelimiter)
	}
	input := row("101", "101", "N/A", "RUNNING", "R", "None", "alice", "gpu", "2", "gpu-[01-02]",
		"cpu=8,mem=16G,node=2", "1:02:03", "23:00:00", "/home/alice/run",
		"/home/alice/run/slurm-%j.out", "", "train", "python train.py --sep |#| x") + "\n" +
		row("200", "200", "3", "PENDING", "PD", "Priority", "bob", "cpu", "1", "",
			"", "0:00", "1:00:00", "/scratch/bob",
			"logs/%x-%A_%a.out", "logs/%x-%A_%a.err", "sweep", "sweep.sh") + "\n" +
		row("201", "200", "4", "PENDING", "PD", "Priority", "bob", "cpu", "1", "",
			"", "0:00", "1:00:00", "/scratch/bob",
			"logs/%N.out", "", "sweep", "sweep.sh")

	snap, err := DefaultLayout().Parse(input)
	require.NoError(t, err)
	require.Len(t, snap.Jobs, 3)
	assert.Empty(t, snap.Rows)

	j := snap.Jobs[0]
	assert.Equal(t, "101", j.ID)
	assert.False(t, j.IsArrayTask())
	assert.Empty(t, j.Reason)
	assert.Equal(t, "/home/alice/run/slurm-101.out", j.Stdout)
	assert.Equal(t, j.Stdout, j.Stderr, "stderr defaults to the stdout file")
	assert.Equal(t, "python train.py --sep |#| x", j.Command)
	assert.Equal(t, "23:00:00", j.TimeLeft)

	j = snap.Jobs[1]
	assert.Equal(t, "200_3", j.ID)
	assert.True(t, j.IsArrayTask())
	assert.Equal(t, "Priority", j.Reason)
	assert.Equal(t, "/scratch/bob/logs/sweep-200_3.out", j.Stdout)
	assert.Equal(t, "/scratch/bob/logs/sweep-200_3.err", j.Stderr)

	j = snap.Jobs[2]
	assert.Equal(t, "200_4", j.ID)
	assert.Empty(t, j.Stdout, "%N is unresolvable before allocation")
}

func TestFormatArg(t *testing.T) {
	layout := Layout{Delimiter: "|#|", Fields: []Field{FieldJobID, FieldState, FieldStdout}}
	assert.Equal(t, "--Format=JobID:0|#|,State:0|#|,STDOUT:0", layout.FormatArg())
}
