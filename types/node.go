package types

import (
	"context"
	"time"
)

type WorkerKind string

const (
	ThreadWorker  WorkerKind = "thread"
	ProcessWorker WorkerKind = "process"
)

// WorkerRecord traces one worker of a launched program.
type WorkerRecord struct {
	Name      string
	Label     string
	Kind      WorkerKind
	Status    StatusType
	StartTime time.Time
	EndTime   time.Time
	Error     string `json:",omitempty"`
	ExitCode  int    `json:",omitempty"`
}

// Job is one cloud job built from a group of a program.
type Job struct {
	Label string
	// PayloadPath points at the serialized entry points of the group.
	PayloadPath string
	Replicas    int
	Resources   Data
	Env         map[string]string
}

// JobSubmitter hands jobs to a cloud backend. It is given to the vertex_ai
// launcher through the backend option "submitter".
type JobSubmitter interface {
	Submit(ctx context.Context, programName string, jobs []Job) error
}

// JobCanceller cancels the cloud job the current process belongs to.
type JobCanceller interface {
	Cancel(ctx context.Context) error
}
