package slurm

import (
	"strconv"
	"strings"
)

// State is the scheduling state of a job
type State int

const (
	StateUnknown State = iota
	StatePending
	StateRunning
	StateSuspended
	StateCompleting
	StateCompleted
	StateCancelled
	StateFailed
	StateTimeout
	StateOutOfMemory
	StateNodeFail
	StatePreempted
)

var stateNames = map[State]string{
	StateUnknown:     "UNKNOWN",
	StatePending:     "PENDING",
	StateRunning:     "RUNNING",
	StateSuspended:   "SUSPENDED",
	StateCompleting:  "COMPLETING",
	StateCompleted:   "COMPLETED",
	StateCancelled:   "CANCELLED",
	StateFailed:      "FAILED",
	StateTimeout:     "TIMEOUT",
	StateOutOfMemory: "OUT_OF_MEMORY",
	StateNodeFail:    "NODE_FAIL",
	StatePreempted:   "PREEMPTED",
}

var stateCodes = map[State]string{
	StateUnknown:     "?",
	StatePending:     "PD",
	StateRunning:     "R",
	StateSuspended:   "S",
	StateCompleting:  "CG",
	StateCompleted:   "CD",
	StateCancelled:   "CA",
	StateFailed:      "F",
	StateTimeout:     "TO",
	StateOutOfMemory: "OOM",
	StateNodeFail:    "NF",
	StatePreempted:   "PR",
}

var statesByText map[string]State

func init() {
	statesByText = make(map[string]State, 2*len(stateNames))
	for s, name := range stateNames {
		statesByText[name] = s
	}
	for s, code := range stateCodes {
		statesByText[code] = s
	}
	// sacct spelling
	statesByText["CANCELED"] = StateCancelled
	delete(statesByText, "?")
}

// ParseState maps a long or compact state string to a State.
// Unrecognised text maps to StateUnknown.
func ParseState(s string) State {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return StateUnknown
	}
	if st, ok := statesByText[s]; ok {
		return st
	}
	// "CANCELLED by 1000", "RUNNING+" and similar decorated forms
	if i := strings.IndexAny(s, " +"); i > 0 {
		if st, ok := statesByText[s[:i]]; ok {
			return st
		}
	}
	return StateUnknown
}

// String returns the long scheduler name of the state
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return stateNames[StateUnknown]
}

// Code returns the compact scheduler code of the state (e.g. "PD", "R")
func (s State) Code() string {
	if code, ok := stateCodes[s]; ok {
		return code
	}
	return stateCodes[StateUnknown]
}

// Active reports whether a job in this state may still write to its logs
func (s State) Active() bool {
	switch s {
	case StateRunning, StateCompleting, StateSuspended:
		return true
	}
	return false
}

// Job is one cluster job as reported by a single squeue snapshot
type Job struct {
	ID          string // identity: "<array>_<task>" for array tasks, else JobID
	JobID       string
	ArrayJobID  string
	ArrayTaskID string

	State    State
	RawState string // text as reported, kept for unknown states

	Name      string
	User      string
	Partition string
	Reason    string
	Nodes     int
	NodeList  string
	TRES      string
	TimeUsed  string
	TimeLeft  string
	WorkDir   string
	Command   string

	StdoutTemplate string
	StderrTemplate string
	Stdout         string // resolved path; empty while unresolvable
	Stderr         string

	Tasks int // number of tasks when this row stands for a collapsed array
}

// IsArrayTask reports whether the job is one task of a job array
func (j *Job) IsArrayTask() bool {
	return j.ArrayTaskID != "" && j.ArrayTaskID != "N/A"
}

// IsArray reports whether the job is a collapsed array row
func (j *Job) IsArray() bool {
	return j.Tasks > 0
}

// DisplayID returns the id shown in the job list
func (j *Job) DisplayID() string {
	if j.IsArray() {
		return j.ArrayJobID + "_[" + strconv.Itoa(j.Tasks) + "]"
	}
	return j.ID
}

// StateLabel returns the state text, falling back to the raw scheduler text
// for states this package does not know about
func (j *Job) StateLabel() string {
	if j.State == StateUnknown && j.RawState != "" {
		return j.RawState
	}
	return j.State.String()
}

// LogPath returns the resolved stdout or stderr path
func (j *Job) LogPath(stderr bool) string {
	if stderr {
		return j.Stderr
	}
	return j.Stdout
}

func identity(jobID, arrayJobID, arrayTaskID string) string {
	if arrayTaskID != "" && arrayTaskID != "N/A" && arrayJobID != "" {
		return arrayJobID + "_" + arrayTaskID
	}
	return jobID
}
