package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"whatsched/internal/dispatch"
	"whatsched/internal/domain"
	"whatsched/internal/eventbus"
	"whatsched/internal/task/engine"
	logx "whatsched/pkg/logx"
)

// ErrStopped is returned by the control surface once Run has returned.
var ErrStopped = errors.New("scheduler stopped")

type Service struct {
	cfg      Config
	loc      *time.Location
	parser   cron.Parser
	log      logx.Logger
	bus      eventbus.Bus
	exec     Executor
	dispatch Dispatcher
	now      func() time.Time

	cmds chan command
	done chan struct{}

	// owned by the control loop
	c    *cron.Cron
	jobs map[string]*job
}

type Option func(*Service)

// WithClock overrides time.Now for trigger computation.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func New(cfg Config, exec Executor, d Dispatcher, log logx.Logger, bus eventbus.Bus, opts ...Option) (*Service, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("scheduler timezone: %w", err)
		}
		loc = l
	}
	if cfg.ShortMonth == "" {
		cfg.ShortMonth = ShortMonthClamp
	}
	if cfg.KeepFinished <= 0 {
		cfg.KeepFinished = 50
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	s := &Service{
		cfg:      cfg,
		loc:      loc,
		parser:   parser,
		log:      log.With(logx.String("comp", "scheduler")),
		bus:      bus,
		exec:     exec,
		dispatch: d,
		now:      time.Now,
		cmds:     make(chan command, 64),
		done:     make(chan struct{}),
		c:        cron.New(cron.WithParser(parser), cron.WithLocation(loc)),
		jobs:     make(map[string]*job),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *Service) Location() *time.Location { return s.loc }

// Run is the control loop. It starts the cron runner and returns when ctx
// is done; pending jobs are dropped.
func (s *Service) Run(ctx context.Context) error {
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.String("short_month", s.cfg.ShortMonth))
	defer func() {
		// Closing done first unblocks cron jobs stuck in post.
		close(s.done)
		<-s.c.Stop().Done()
		s.log.Info("scheduler stopped", logx.Int("jobs_dropped", s.pendingCount()))
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-s.cmds:
			cmd.apply(s)
		}
	}
}

// Submit validates req and registers a job. It returns the job id or a
// *domain.SchedulingError.
func (s *Service) Submit(ctx context.Context, req Request) (string, error) {
	rec, err := ParseRecurrence(req.Recurrence)
	if err != nil {
		return "", err
	}
	if len(req.Recipients) == 0 {
		return "", &domain.SchedulingError{Spec: req.Recurrence, Reason: "no recipients"}
	}
	var sched cron.Schedule
	if rec.Recurring() {
		if sched, err = rec.Schedule(s.parser, s.cfg.ShortMonth); err != nil {
			return "", err
		}
	}
	reply := make(chan submitReply, 1)
	if err := s.send(ctx, submitCmd{req: req, rec: rec, sched: sched, reply: reply}); err != nil {
		return "", err
	}
	select {
	case r := <-reply:
		return r.id, r.err
	case <-s.done:
		return "", ErrStopped
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Cancel moves a job to cancelled. A firing in flight completes but the job
// never fires again.
func (s *Service) Cancel(ctx context.Context, id string) error {
	reply := make(chan error, 1)
	if err := s.send(ctx, cancelCmd{id: strings.TrimSpace(id), reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// List returns every live job and the most recent finished ones, oldest first.
func (s *Service) List(ctx context.Context) ([]JobStatus, error) {
	reply := make(chan []JobStatus, 1)
	if err := s.send(ctx, listCmd{reply: reply}); err != nil {
		return nil, err
	}
	select {
	case out := <-reply:
		return out, nil
	case <-s.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Get returns one job's status.
func (s *Service) Get(ctx context.Context, id string) (JobStatus, error) {
	all, err := s.List(ctx)
	if err != nil {
		return JobStatus{}, err
	}
	for _, st := range all {
		if st.ID == id {
			return st, nil
		}
	}
	return JobStatus{}, &domain.NotFoundError{What: "job", Key: id}
}

func (s *Service) send(ctx context.Context, cmd command) error {
	select {
	case s.cmds <- cmd:
		return nil
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post is used from cron and engine goroutines that have no caller context.
func (s *Service) post(cmd command) {
	select {
	case s.cmds <- cmd:
	case <-s.done:
	}
}

// ---- loop-side handlers ----

func (s *Service) newID() string {
	for {
		id := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
		if _, taken := s.jobs[id]; !taken {
			return id
		}
	}
}

func (s *Service) handleSubmit(c submitCmd) {
	j := &job{
		id:      s.newID(),
		req:     c.req,
		rec:     c.rec,
		sched:   c.sched,
		run:     &engine.RunState{},
		state:   StateScheduled,
		created: s.now(),
	}
	j.req.Recipients = slices.Clone(c.req.Recipients)

	if j.rec.Recurring() {
		id := j.id
		entry := s.c.Schedule(j.sched, cron.FuncJob(func() { s.post(fireCmd{id: id}) }))
		j.entry = entry
	}
	s.jobs[j.id] = j
	c.reply <- submitReply{id: j.id}

	s.log.Info("job submitted",
		logx.String("job", j.id),
		logx.String("recurrence", j.rec.String()),
		logx.String("category", j.req.Category),
		logx.Int("recipients", len(j.req.Recipients)),
	)
	s.publish(eventbus.JobSubmitted, j)

	if !j.rec.Recurring() {
		s.handleFire(fireCmd{id: j.id})
	}
}

func (s *Service) handleFire(c fireCmd) {
	j, ok := s.jobs[c.id]
	if !ok || j.state.Terminal() {
		return
	}
	if j.state == StateFiring {
		j.skipped++
		s.log.Warn("trigger skipped: job still firing", logx.String("job", j.id))
		return
	}

	id, recips, category := j.id, slices.Clone(j.req.Recipients), j.req.Category
	err := s.exec.Enqueue(engineTask(id, j.run, s.cfg.FireTimeout, func(ctx context.Context) (err error) {
		var results []dispatch.Result
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("dispatch panic: %v", r)
			}
			s.post(firedCmd{id: id, results: results, err: err})
		}()
		results, err = s.dispatch.Fanout(ctx, recips, category)
		if err == nil {
			err = dispatch.Summary(results)
		}
		return err
	}))
	switch {
	case errors.Is(err, engine.ErrOverlapSkip):
		// The previous firing has reported back but not yet left the engine.
		j.skipped++
		s.log.Warn("trigger skipped: previous firing still in the engine", logx.String("job", j.id))
	case err != nil:
		s.log.Error("firing not started", logx.String("job", j.id), logx.Err(err))
		j.lastFired = s.now()
		s.finishFiring(j, nil, fmt.Errorf("enqueue: %w", err))
	default:
		j.state = StateFiring
		j.lastFired = s.now()
		s.publish(eventbus.JobFired, j)
	}
}

func (s *Service) handleFired(c firedCmd) {
	j, ok := s.jobs[c.id]
	if !ok {
		return
	}
	s.finishFiring(j, c.results, c.err)
}

func (s *Service) finishFiring(j *job, results []dispatch.Result, err error) {
	j.fires++
	j.results = j.results[:0]
	for _, r := range results {
		rr := RecipientResult{Name: r.Recipient.Name, Address: r.Recipient.Address}
		if r.Err != nil {
			rr.Error = r.Err.Error()
		}
		j.results = append(j.results, rr)
	}
	if err == nil {
		err = dispatch.Summary(results)
	}
	j.lastErr = ""
	if err != nil {
		j.lastErr = err.Error()
	}

	switch {
	case j.state == StateCancelled:
		// stays cancelled
	case j.rec.Recurring():
		j.state = StateScheduled
	default:
		j.state = StateCompleted
		j.finish = s.now()
		s.publish(eventbus.JobCompleted, j)
		s.pruneFinished()
	}
	s.log.Info("job fired",
		logx.String("job", j.id),
		logx.String("state", string(j.state)),
		logx.Int("delivered", len(results)-dispatch.Failed(results)),
		logx.Int("failed", dispatch.Failed(results)),
	)
}

func (s *Service) handleCancel(c cancelCmd) {
	j, ok := s.jobs[c.id]
	if !ok {
		c.reply <- &domain.NotFoundError{What: "job", Key: c.id}
		return
	}
	if j.state.Terminal() {
		c.reply <- fmt.Errorf("job %s is already %s", j.id, j.state)
		return
	}
	if j.entry != 0 {
		s.c.Remove(j.entry)
		j.entry = 0
	}
	j.state = StateCancelled
	j.finish = s.now()
	c.reply <- nil
	s.log.Info("job cancelled", logx.String("job", j.id))
	s.publish(eventbus.JobCancelled, j)
	s.pruneFinished()
}

func (s *Service) handleList(c listCmd) {
	out := make([]JobStatus, 0, len(s.jobs))
	now := s.now().In(s.loc)
	for _, j := range s.jobs {
		out = append(out, s.status(j, now))
	}
	slices.SortFunc(out, func(a, b JobStatus) int {
		if c := a.Created.Compare(b.Created); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	c.reply <- out
}

func (s *Service) status(j *job, now time.Time) JobStatus {
	st := JobStatus{
		ID:         j.id,
		Label:      j.req.Label,
		Recurrence: j.rec.String(),
		Category:   j.req.Category,
		State:      j.state,
		Created:    j.created,
		LastFired:  j.lastFired,
		Fires:      j.fires,
		Skipped:    j.skipped,
		LastError:  j.lastErr,
		Results:    slices.Clone(j.results),
	}
	for _, r := range j.req.Recipients {
		st.Recipients = append(st.Recipients, r.Name)
	}
	if j.sched != nil && !j.state.Terminal() {
		st.Next = j.sched.Next(now)
	}
	return st
}

// pruneFinished drops the oldest terminal jobs beyond KeepFinished.
func (s *Service) pruneFinished() {
	var done []*job
	for _, j := range s.jobs {
		if j.state.Terminal() {
			done = append(done, j)
		}
	}
	if len(done) <= s.cfg.KeepFinished {
		return
	}
	slices.SortFunc(done, func(a, b *job) int { return a.finish.Compare(b.finish) })
	for _, j := range done[:len(done)-s.cfg.KeepFinished] {
		delete(s.jobs, j.id)
	}
}

func (s *Service) pendingCount() int {
	n := 0
	for _, j := range s.jobs {
		if !j.state.Terminal() {
			n++
		}
	}
	return n
}

func (s *Service) publish(typ string, j *job) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: s.status(j, s.now().In(s.loc))})
}
