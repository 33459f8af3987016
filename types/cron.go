package types

import (
	"time"
)

type CronManager interface {
	LifecycleManager
	Add(jobName, spec string, job func()) error
	Remove(jobName string) error
	Jobs() []JobEntry
}

type JobEntry struct {
	Name     string    `json:"name"`
	Spec     string    `json:"spec"`
	LastRun  time.Time `json:"last_run,omitempty"`
	NextRun  time.Time `json:"next_run,omitempty"`
	RunCount uint64    `json:"run_count"`
}
