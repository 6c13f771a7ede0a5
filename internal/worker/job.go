package worker

import (
	"fmt"
	"strconv"
	"strings"

	"subfee/internal/models"
)

// Job is one configured batch the worker drives on every tick
type Job struct {
	Subscriber   string
	ServiceIndex uint32
	Kind         models.OperationKind
}

// Key identifies the job in the queue
func (j Job) Key() string {
	return fmt.Sprintf("%s:%d:%s", j.Subscriber, j.ServiceIndex, j.Kind)
}

// ParseJob parses "<subscriber>:<index>" or "<subscriber>:<index>:mex"
func ParseJob(s string) (Job, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" {
		return Job{}, fmt.Errorf("invalid job %q: expected <subscriber>:<index>[:mex]", s)
	}

	idx, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return Job{}, fmt.Errorf("invalid service index in job %q: %w", s, err)
	}

	job := Job{
		Subscriber:   parts[0],
		ServiceIndex: uint32(idx),
		Kind:         models.OperationKindPerformService,
	}
	if len(parts) == 3 {
		if parts[2] != "mex" {
			return Job{}, fmt.Errorf("invalid job kind %q in %q", parts[2], s)
		}
		job.Kind = models.OperationKindMexOperations
	}
	return job, nil
}

// ParseJobs parses every configured job, rejecting duplicates
func ParseJobs(specs []string) ([]Job, error) {
	jobs := make([]Job, 0, len(specs))
	seen := make(map[string]bool, len(specs))
	for _, spec := range specs {
		job, err := ParseJob(spec)
		if err != nil {
			return nil, err
		}
		if seen[job.Key()] {
			return nil, fmt.Errorf("duplicate job %q", spec)
		}
		seen[job.Key()] = true
		jobs = append(jobs, job)
	}
	return jobs, nil
}
