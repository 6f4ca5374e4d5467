package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"whatsched/internal/dispatch"
	"whatsched/internal/task/engine"
)

// command is a message to the control loop.
type command interface {
	apply(s *Service)
}

type submitReply struct {
	id  string
	err error
}

type submitCmd struct {
	req   Request
	rec   Recurrence
	sched cron.Schedule
	reply chan<- submitReply
}

type cancelCmd struct {
	id    string
	reply chan<- error
}

type listCmd struct {
	reply chan<- []JobStatus
}

// fireCmd is posted by the cron runner at trigger time.
type fireCmd struct {
	id string
}

// firedCmd is posted by the firing task when dispatch returns.
type firedCmd struct {
	id      string
	results []dispatch.Result
	err     error
}

func (c submitCmd) apply(s *Service) { s.handleSubmit(c) }
func (c cancelCmd) apply(s *Service) { s.handleCancel(c) }
func (c listCmd) apply(s *Service)   { s.handleList(c) }
func (c fireCmd) apply(s *Service)   { s.handleFire(c) }
func (c firedCmd) apply(s *Service)  { s.handleFired(c) }

// engineTask wraps a firing. The job's RunState makes the engine refuse a
// second firing while the previous one is still queued or running.
func engineTask(jobID string, state *engine.RunState, timeout time.Duration, run func(ctx context.Context) error) engine.Task {
	return engine.Task{
		Name:    "job." + jobID,
		Timeout: timeout,
		Run:     run,
		State:   state,
	}
}
