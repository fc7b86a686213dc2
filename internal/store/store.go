// Package store holds the current job list and the user's selection.
//
// Selection is kept as a job identity and re-resolved to a position after
// every snapshot, so it survives jobs being added or removed around it.
package store

import (
	"github.com/osteele/slurm-jobs/internal/slurm"
)

// Diff describes what changed between two snapshots
type Diff struct {
	Added   []string
	Removed []string
	Changed []string
	// SelectionLost is set when the selected job was absent from the new
	// snapshot and the selection was cleared
	SelectionLost bool
	// LostID is the identity that was selected before it was cleared
	LostID string
}

// Empty reports whether the snapshot changed nothing
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0 && !d.SelectionLost
}

// Store is the job list plus selection cursor. It is not safe for
// concurrent use; the event loop owns it.
type Store struct {
	jobs     []slurm.Job
	index    map[string]int
	selected string
	lastErr  error
}

// New returns an empty store
func New() *Store {
	return &Store{index: make(map[string]int)}
}

// Apply replaces the job list with a new snapshot, in the order given.
// The selection is kept if its job is still present, and cleared otherwise.
func (s *Store) Apply(jobs []slurm.Job) Diff {
	var diff Diff

	next := make([]slurm.Job, len(jobs))
	copy(next, jobs)
	nextIndex := make(map[string]int, len(next))
	for i, job := range next {
		nextIndex[job.ID] = i
	}

	for _, job := range next {
		i, ok := s.index[job.ID]
		if !ok {
			diff.Added = append(diff.Added, job.ID)
		} else if s.jobs[i] != job {
			diff.Changed = append(diff.Changed, job.ID)
		}
	}
	for _, job := range s.jobs {
		if _, ok := nextIndex[job.ID]; !ok {
			diff.Removed = append(diff.Removed, job.ID)
		}
	}

	s.jobs = next
	s.index = nextIndex
	s.lastErr = nil

	if s.selected != "" {
		if _, ok := s.index[s.selected]; !ok {
			diff.SelectionLost = true
			diff.LostID = s.selected
			s.selected = ""
		}
	}
	return diff
}

// ApplyResult applies a poll outcome. A non-nil err leaves the job list and
// selection untouched and is kept for display until the next success.
func (s *Store) ApplyResult(jobs []slurm.Job, err error) Diff {
	if err != nil {
		s.lastErr = err
		return Diff{}
	}
	return s.Apply(jobs)
}

// LastError returns the error from the most recent failed poll, or nil if
// the latest poll succeeded
func (s *Store) LastError() error {
	return s.lastErr
}

// Jobs returns the current job list. The caller must not modify it.
func (s *Store) Jobs() []slurm.Job {
	return s.jobs
}

// Len returns the number of jobs
func (s *Store) Len() int {
	return len(s.jobs)
}

// Job looks up a job by identity
func (s *Store) Job(id string) (slurm.Job, bool) {
	i, ok := s.index[id]
	if !ok {
		return slurm.Job{}, false
	}
	return s.jobs[i], true
}

// Selected returns the selected job
func (s *Store) Selected() (slurm.Job, bool) {
	if s.selected == "" {
		return slurm.Job{}, false
	}
	return s.Job(s.selected)
}

// SelectedID returns the identity of the selected job, or "" if none
func (s *Store) SelectedID() string {
	return s.selected
}

// Index returns the position of the selected job, or -1 if none
func (s *Store) Index() int {
	if s.selected == "" {
		return -1
	}
	if i, ok := s.index[s.selected]; ok {
		return i
	}
	return -1
}

// Select selects the job with the given identity. It returns false and
// leaves the selection unchanged if no such job is present.
func (s *Store) Select(id string) bool {
	if _, ok := s.index[id]; !ok {
		return false
	}
	s.selected = id
	return true
}

// SelectIndex selects the job at position i, clamped to the list
func (s *Store) SelectIndex(i int) {
	if len(s.jobs) == 0 {
		return
	}
	if i < 0 {
		i = 0
	}
	if i >= len(s.jobs) {
		i = len(s.jobs) - 1
	}
	s.selected = s.jobs[i].ID
}

// SelectFirst selects the first job, if any
func (s *Store) SelectFirst() {
	s.SelectIndex(0)
}

// Clear removes the selection
func (s *Store) Clear() {
	s.selected = ""
}

// Move moves the selection by delta positions, clamped to the list.
// With no selection, any move selects the first job.
func (s *Store) Move(delta int) {
	if len(s.jobs) == 0 {
		return
	}
	i := s.Index()
	if i < 0 {
		s.SelectFirst()
		return
	}
	s.SelectIndex(i + delta)
}
