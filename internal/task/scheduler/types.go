package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"whatsched/internal/dispatch"
	"whatsched/internal/domain"
	"whatsched/internal/task/engine"
)

type Config struct {
	Timezone   string // IANA TZ, e.g. "Asia/Jakarta"; empty means local
	ShortMonth string // ShortMonthClamp (default) or ShortMonthSkip

	// FireTimeout bounds one firing; 0 leaves it to the engine default.
	FireTimeout time.Duration
	// KeepFinished is how many completed/cancelled jobs List keeps showing.
	KeepFinished int
}

// Dispatcher delivers one firing to every recipient.
type Dispatcher interface {
	Fanout(ctx context.Context, recipients []domain.Recipient, category string) ([]dispatch.Result, error)
}

// Executor runs firings off the control loop.
type Executor interface {
	Enqueue(t engine.Task) error
}

// Request is a job submission.
type Request struct {
	Recipients []domain.Recipient
	// Recurrence is parsed by ParseRecurrence.
	Recurrence string
	// Category is a template category; "" or "any" picks one at random.
	Category string
	// Label is a free-form description shown by List.
	Label string
}

type JobState string

const (
	StateScheduled JobState = "scheduled"
	StateFiring    JobState = "firing"
	StateCompleted JobState = "completed"
	StateCancelled JobState = "cancelled"
)

func (s JobState) Terminal() bool { return s == StateCompleted || s == StateCancelled }

// RecipientResult is the outcome of the last firing for one target.
type RecipientResult struct {
	Name    string
	Address string
	Error   string
}

// JobStatus is a copy of a job's state as seen by the control loop.
type JobStatus struct {
	ID         string
	Label      string
	Recurrence string
	Category   string
	Recipients []string
	State      JobState
	Created    time.Time
	// Next is the next trigger time; zero for one-shot and terminal jobs.
	Next      time.Time
	LastFired time.Time
	Fires     int
	Skipped   int
	LastError string
	Results   []RecipientResult
}

type job struct {
	id      string
	req     Request
	rec     Recurrence
	sched   cron.Schedule
	entry   cron.EntryID
	run     *engine.RunState // held by the engine while a firing is queued or running
	state   JobState
	created time.Time
	finish  time.Time

	lastFired time.Time
	fires     int
	skipped   int
	lastErr   string
	results   []RecipientResult
}
