package slurm

// ArrayRowSuffix marks the identity of a collapsed array row
const ArrayRowSuffix = "_*"

// CollapseArrays replaces the tasks of each job array with a single row.
// The row takes the place of the array's first task so squeue's ordering is
// kept; its fields are copied from that task and Tasks holds the task count.
func CollapseArrays(jobs []Job) []Job {
	out := make([]Job, 0, len(jobs))
	rowIndex := make(map[string]int)
	for _, job := range jobs {
		if !job.IsArrayTask() {
			out = append(out, job)
			continue
		}
		if i, ok := rowIndex[job.ArrayJobID]; ok {
			out[i].Tasks++
			continue
		}
		row := job
		row.ID = job.ArrayJobID + ArrayRowSuffix
		row.ArrayTaskID = ""
		row.Tasks = 1
		rowIndex[job.ArrayJobID] = len(out)
		out = append(out, row)
	}
	return out
}
