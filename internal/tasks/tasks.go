// Package tasks parses the plan document that the agents maintain and
// answers the questions the build loop asks of it: how many tasks are in
// each status, whether everything in range is done, which tasks are
// blocked, and whether any statuses changed since the last iteration.
//
// The plan is plain markdown. A task is a level 2-4 heading starting
// with "Task" followed by a number; its status and pass are read from
// bold key lines beneath the heading:
//
//	### Task 3: Wire the adapter
//	**Status:** IN_PROGRESS
//	**Pass:** 2
package tasks

import (
	"fmt"
	"hash/fnv"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// Task statuses as written in the plan document.
const (
	StatusTodo       = "TODO"
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
	StatusBlocked    = "BLOCKED"
)

var (
	taskHeadingRe = regexp.MustCompile(`(?i)^#{2,4}\s+Task\s+\d`)
	statusRe      = regexp.MustCompile(`\*\*Status:\*\*\s+(\w+)`)
	passRe        = regexp.MustCompile(`\*\*Pass:\*\*\s*(\d+)`)
)

// Task is one parsed plan entry.
type Task struct {
	Title  string
	Status string
	Pass   int
}

// Counts aggregates tasks by status.
type Counts struct {
	Total      int
	Todo       int
	InProgress int
	Done       int
	Blocked    int
}

// String renders counts for status output.
func (c Counts) String() string {
	return fmt.Sprintf("%d tasks: %d done, %d in progress, %d todo, %d blocked",
		c.Total, c.Done, c.InProgress, c.Todo, c.Blocked)
}

// Parse reads the plan document and returns its tasks in order. A missing
// file yields no tasks and no error: before the first refine phase the
// plan simply doesn't exist yet.
func Parse(path string) ([]Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}

	var tasks []Task
	lines := strings.Split(string(data), "\n")
	for i := 0; i < len(lines); i++ {
		if !taskHeadingRe.MatchString(lines[i]) {
			continue
		}

		task := Task{
			Title:  strings.TrimSpace(strings.TrimLeft(lines[i], "# ")),
			Status: StatusTodo,
			Pass:   1,
		}

		// Scan the body until the next task heading.
		for j := i + 1; j < len(lines) && !taskHeadingRe.MatchString(lines[j]); j++ {
			if m := statusRe.FindStringSubmatch(lines[j]); m != nil {
				task.Status = strings.ToUpper(m[1])
			}
			if m := passRe.FindStringSubmatch(lines[j]); m != nil {
				if n, err := strconv.Atoi(m[1]); err == nil {
					task.Pass = n
				}
			}
		}

		tasks = append(tasks, task)
	}
	return tasks, nil
}

// Count aggregates the plan's tasks by status.
func Count(path string) (Counts, error) {
	tasks, err := Parse(path)
	if err != nil {
		return Counts{}, err
	}

	var c Counts
	for _, t := range tasks {
		c.Total++
		switch t.Status {
		case StatusTodo:
			c.Todo++
		case StatusInProgress:
			c.InProgress++
		case StatusDone:
			c.Done++
		case StatusBlocked:
			c.Blocked++
		}
	}
	return c, nil
}

// AllDone reports whether no TODO or IN_PROGRESS task remains with a
// pass at or below maxPass. Tasks deferred beyond maxPass don't hold up
// the current pass; BLOCKED tasks are surfaced separately via Blocked.
// A missing plan counts as done.
func AllDone(path string, maxPass int) (bool, error) {
	tasks, err := Parse(path)
	if err != nil {
		return false, err
	}

	for _, t := range tasks {
		if t.Pass > maxPass {
			continue
		}
		if t.Status == StatusTodo || t.Status == StatusInProgress {
			return false, nil
		}
	}
	return true, nil
}

// Blocked returns the titles of BLOCKED tasks with a pass at or below
// maxPass, in plan order. Tasks blocked on a later pass are not the
// current pass's problem.
func Blocked(path string, maxPass int) ([]string, error) {
	tasks, err := Parse(path)
	if err != nil {
		return nil, err
	}

	var titles []string
	for _, t := range tasks {
		if t.Pass > maxPass {
			continue
		}
		if t.Status == StatusBlocked {
			titles = append(titles, t.Title)
		}
	}
	return titles, nil
}

// Fingerprint hashes the ordered (index, status) pairs of the plan's
// tasks. Prose edits that leave every status unchanged produce the same
// value; any status flip changes it. A missing plan hashes to the empty
// fingerprint.
func Fingerprint(path string) (uint64, error) {
	tasks, err := Parse(path)
	if err != nil {
		return 0, err
	}

	h := fnv.New64a()
	for i, t := range tasks {
		fmt.Fprintf(h, "%d:%s;", i, t.Status)
	}
	return h.Sum64(), nil
}
