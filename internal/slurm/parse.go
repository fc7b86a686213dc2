package slurm

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Field is one squeue --Format column
type Field int

const (
	FieldJobID Field = iota
	FieldArrayJobID
	FieldArrayTaskID
	FieldState
	FieldStateCompact
	FieldName
	FieldUser
	FieldPartition
	FieldReason
	FieldNodes
	FieldNodeList
	FieldTRES
	FieldTimeUsed
	FieldTimeLeft
	FieldWorkDir
	FieldStdout
	FieldStderr
	FieldCommand
)

// formatNames are the squeue --Format type names for each field
var formatNames = map[Field]string{
	FieldJobID:        "JobID",
	FieldArrayJobID:   "ArrayJobID",
	FieldArrayTaskID:  "ArrayTaskID",
	FieldState:        "State",
	FieldStateCompact: "StateCompact",
	FieldName:         "Name",
	FieldUser:         "UserName",
	FieldPartition:    "Partition",
	FieldReason:       "Reason",
	FieldNodes:        "NumNodes",
	FieldNodeList:     "NodeList",
	FieldTRES:         "tres-alloc",
	FieldTimeUsed:     "TimeUsed",
	FieldTimeLeft:     "TimeLeft",
	FieldWorkDir:      "WorkDir",
	FieldStdout:       "STDOUT",
	FieldStderr:       "STDERR",
	FieldCommand:      "Command",
}

// String returns the squeue --Format name of the field
func (f Field) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("Field(%d)", int(f))
}

// DefaultDelimiter separates squeue columns. It is passed to squeue as the
// suffix of every --Format field, so column boundaries never depend on
// whitespace alignment.
const DefaultDelimiter = "|#|"

// Layout describes the columns of one squeue invocation's output
type Layout struct {
	Delimiter string
	Fields    []Field
	// Header is set when the first non-empty line is a column header
	Header bool
}

// DefaultLayout returns the layout requested by CommandQuerier.
// Command is last so a delimiter inside it cannot shift other columns.
func DefaultLayout() Layout {
	return Layout{
		Delimiter: DefaultDelimiter,
		Fields: []Field{
			FieldJobID,
			FieldArrayJobID,
			FieldArrayTaskID,
			FieldState,
			FieldStateCompact,
			FieldReason,
			FieldUser,
			FieldPartition,
			FieldNodes,
			FieldNodeList,
			FieldTRES,
			FieldTimeUsed,
			FieldTimeLeft,
			FieldWorkDir,
			FieldStdout,
			FieldStderr,
			FieldName,
			FieldCommand,
		},
	}
}

// FormatArg returns the squeue --Format argument for the layout.
// A width of 0 disables squeue's padding and truncation.
func (l Layout) FormatArg() string {
	parts := make([]string, len(l.Fields))
	for i, f := range l.Fields {
		parts[i] = f.String() + ":0"
		if i < len(l.Fields)-1 {
			parts[i] += l.Delimiter
		}
	}
	return "--Format=" + strings.Join(parts, ",")
}

// ErrUnparseable is returned when a non-empty snapshot yields no usable rows
var ErrUnparseable = errors.New("no parseable rows in squeue output")

// RowError describes a row that was skipped or only partially parsed
type RowError struct {
	Line    int // 1-based line number in the snapshot
	Text    string
	Skipped bool
	Err     error
}

func (e RowError) Error() string {
	verb := "partial"
	if e.Skipped {
		verb = "skipped"
	}
	return fmt.Sprintf("line %d %s: %v", e.Line, verb, e.Err)
}

func (e RowError) Unwrap() error {
	return e.Err
}

// Snapshot is the parsed output of one squeue invocation
type Snapshot struct {
	Jobs []Job
	Rows []RowError
}

// Parse converts one squeue output into job records, in squeue's order.
// Malformed rows are reported in Snapshot.Rows and never abort the snapshot;
// an error is returned only when rows were present but none could be used.
func (l Layout) Parse(text string) (Snapshot, error) {
	snap := Snapshot{Jobs: []Job{}}
	if len(l.Fields) == 0 {
		return snap, fmt.Errorf("layout has no fields")
	}
	delim := l.Delimiter
	if delim == "" {
		delim = DefaultDelimiter
	}
	minFields := 2
	if len(l.Fields) < minFields {
		minFields = len(l.Fields)
	}

	seen := make(map[string]bool)
	headerPending := l.Header
	rows := 0

	for i, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if headerPending {
			headerPending = false
			continue
		}
		rows++
		lineNo := i + 1

		cells := strings.SplitN(line, delim, len(l.Fields))
		if len(cells) < minFields {
			snap.Rows = append(snap.Rows, RowError{
				Line: lineNo, Text: line, Skipped: true,
				Err: fmt.Errorf("expected %d fields, got %d", len(l.Fields), len(cells)),
			})
			continue
		}

		job := l.record(cells)
		if job.ID == "" {
			snap.Rows = append(snap.Rows, RowError{
				Line: lineNo, Text: line, Skipped: true,
				Err: fmt.Errorf("missing job id"),
			})
			continue
		}
		if seen[job.ID] {
			snap.Rows = append(snap.Rows, RowError{
				Line: lineNo, Text: line, Skipped: true,
				Err: fmt.Errorf("duplicate job id %s", job.ID),
			})
			continue
		}
		seen[job.ID] = true

		if len(cells) < len(l.Fields) {
			snap.Rows = append(snap.Rows, RowError{
				Line: lineNo, Text: line,
				Err: fmt.Errorf("expected %d fields, got %d", len(l.Fields), len(cells)),
			})
		}
		snap.Jobs = append(snap.Jobs, job)
	}

	if rows > 0 && len(snap.Jobs) == 0 {
		return snap, fmt.Errorf("%w (%d rows)", ErrUnparseable, rows)
	}
	return snap, nil
}

func (l Layout) record(cells []string) Job {
	var job Job
	var compact string
	for i, cell := range cells {
		value := strings.TrimSpace(cell)
		if value == "(null)" {
			value = ""
		}
		switch l.Fields[i] {
		case FieldJobID:
			job.JobID = value
		case FieldArrayJobID:
			job.ArrayJobID = value
		case FieldArrayTaskID:
			job.ArrayTaskID = value
		case FieldState:
			job.RawState = value
		case FieldStateCompact:
			compact = value
		case FieldName:
			job.Name = value
		case FieldUser:
			job.User = value
		case FieldPartition:
			job.Partition = value
		case FieldReason:
			if value != "None" {
				job.Reason = value
			}
		case FieldNodes:
			if n, err := strconv.Atoi(value); err == nil {
				job.Nodes = n
			}
		case FieldNodeList:
			job.NodeList = value
		case FieldTRES:
			job.TRES = value
		case FieldTimeUsed:
			job.TimeUsed = value
		case FieldTimeLeft:
			job.TimeLeft = value
		case FieldWorkDir:
			job.WorkDir = value
		case FieldStdout:
			job.StdoutTemplate = value
		case FieldStderr:
			job.StderrTemplate = value
		case FieldCommand:
			job.Command = value
		}
	}

	if job.RawState == "" {
		job.RawState = compact
	}
	job.State = ParseState(job.RawState)
	if job.ArrayTaskID == "N/A" {
		job.ArrayTaskID = ""
	}
	job.ID = identity(job.JobID, job.ArrayJobID, job.ArrayTaskID)

	job.Stdout, _ = ResolvePath(job.StdoutTemplate, &job)
	job.Stderr, _ = ResolvePath(job.StderrTemplate, &job)
	if job.Stderr == "" && job.StderrTemplate == "" {
		// sbatch sends stderr to the stdout file unless --error is given
		job.Stderr = job.Stdout
	}
	return job
}
