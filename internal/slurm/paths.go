package slurm

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// filenamePattern matches sbatch filename substitutions such as %j, %4a, %%
var filenamePattern = regexp.MustCompile(`%(\d*)([%AajJNnstux])`)

// ResolvePath expands the sbatch filename pattern of a job's --output or
// --error path. It reports false when the pattern refers to something the
// scheduler has not decided yet (for example %N before nodes are allocated);
// the returned path is empty in that case.
func ResolvePath(template string, job *Job) (string, bool) {
	if template == "" {
		return "", false
	}

	var path string
	if strings.Contains(template, `\`) {
		// a backslash anywhere disables substitution
		path = strings.ReplaceAll(template, `\`, "")
	} else {
		resolved := true
		path = filenamePattern.ReplaceAllStringFunc(template, func(m string) string {
			sub := filenamePattern.FindStringSubmatch(m)
			value, ok := expand(sub[2][0], job)
			if !ok {
				resolved = false
				return m
			}
			return pad(value, sub[1])
		})
		if !resolved {
			return "", false
		}
	}

	if !filepath.IsAbs(path) && job.WorkDir != "" {
		path = filepath.Join(job.WorkDir, path)
	}
	return path, true
}

func expand(spec byte, job *Job) (string, bool) {
	switch spec {
	case '%':
		return "%", true
	case 'A':
		if job.ArrayJobID != "" {
			return job.ArrayJobID, true
		}
		return job.JobID, job.JobID != ""
	case 'a':
		return job.ArrayTaskID, job.ArrayTaskID != ""
	case 'j':
		return job.JobID, job.JobID != ""
	case 'J':
		return job.JobID + ".batch", job.JobID != ""
	case 'N':
		node := FirstNode(job.NodeList)
		return node, node != ""
	case 'n', 't':
		return "0", true
	case 's':
		return "batch", true
	case 'u':
		return job.User, job.User != ""
	case 'x':
		return job.Name, job.Name != ""
	}
	return "", false
}

// pad zero-pads numeric values to the width given between % and the specifier
func pad(value, width string) string {
	if width == "" {
		return value
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return value
		}
	}
	w, err := strconv.Atoi(width)
	if err != nil || len(value) >= w {
		return value
	}
	return strings.Repeat("0", w-len(value)) + value
}

// FirstNode returns the first host of a Slurm hostlist expression,
// e.g. "gpu-[003-004,007],cpu01" -> "gpu-003".
// Placeholders like "(None)" or an empty list yield "".
func FirstNode(nodeList string) string {
	nodeList = strings.TrimSpace(nodeList)
	if nodeList == "" || strings.HasPrefix(nodeList, "(") || nodeList == "None assigned" {
		return ""
	}

	// first top-level element
	depth := 0
	end := len(nodeList)
	for i, r := range nodeList {
		switch r {
		case '[':
			depth++
		case ']':
			depth--
		case ',':
			if depth == 0 {
				end = i
			}
		}
		if end != len(nodeList) {
			break
		}
	}
	host := nodeList[:end]

	open := strings.IndexByte(host, '[')
	if open < 0 {
		return host
	}
	closing := strings.IndexByte(host[open:], ']')
	if closing < 0 {
		return ""
	}
	ranges := host[open+1 : open+closing]
	first := ranges
	if i := strings.IndexByte(first, ','); i >= 0 {
		first = first[:i]
	}
	if i := strings.IndexByte(first, '-'); i >= 0 {
		first = first[:i]
	}
	return host[:open] + first + host[open+closing+1:]
}
