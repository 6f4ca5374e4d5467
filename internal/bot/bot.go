// Package bot holds the Telegram commands of the daemon. Handlers read the
// contact store, talk to the scheduler through its control surface and
// drive the delivery session.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"whatsched/internal/delivery"
	"whatsched/internal/domain"
	"whatsched/internal/task/scheduler"
	"whatsched/internal/transport/telegram/router"
)

type Store interface {
	ListRecipients(ctx context.Context, kind domain.Kind) ([]domain.Recipient, error)
	ListTemplates(ctx context.Context, category string) ([]domain.Template, error)
	Categories(ctx context.Context) ([]string, error)
	FindRecipient(ctx context.Context, kind domain.Kind, name string) (domain.Recipient, error)
	GroupMembers(ctx context.Context, groupID int64) ([]domain.Recipient, error)
}

type Jobs interface {
	Submit(ctx context.Context, req scheduler.Request) (string, error)
	Cancel(ctx context.Context, id string) error
	List(ctx context.Context) ([]scheduler.JobStatus, error)
	Get(ctx context.Context, id string) (scheduler.JobStatus, error)
	Location() *time.Location
}

type Session interface {
	Status() delivery.Status
	Establish(ctx context.Context) error
}

type Handlers struct {
	store   Store
	jobs    Jobs
	session Session
	// ConnectTimeout bounds /session connect; the QR handshake is manual.
	connectTimeout time.Duration
}

func New(store Store, jobs Jobs, session Session, connectTimeout time.Duration) *Handlers {
	if connectTimeout <= 0 {
		connectTimeout = delivery.DefaultConnectTimeout
	}
	return &Handlers{store: store, jobs: jobs, session: session, connectTimeout: connectTimeout}
}

func (h *Handlers) Commands() []router.Command {
	return []router.Command{
		{
			Route:       "contacts",
			Description: "list friends",
			Usage:       "/contacts",
			Handle:      h.contacts,
		},
		{
			Route:       "groups",
			Description: "list groups and their members",
			Usage:       "/groups",
			Handle:      h.groups,
		},
		{
			Route:       "templates",
			Description: "list message templates",
			Usage:       "/templates [category]",
			Handle:      h.templates,
		},
		{
			Route:       "schedule",
			Aliases:     []string{"sched"},
			Description: "schedule a message",
			Usage:       "/schedule <friend|group> <name> <now|daily HH:MM|weekly DAY HH:MM|monthly D HH:MM> [-category=c] [-label=text]",
			Handle:      h.schedule,
		},
		{
			Route:       "cancel",
			Description: "cancel a job",
			Usage:       "/cancel <job-id>",
			Handle:      h.cancel,
		},
		{
			Route:       "jobs",
			Description: "list scheduled jobs",
			Usage:       "/jobs [job-id]",
			Handle:      h.listJobs,
		},
		{
			Route:       "session",
			Description: "show the delivery session",
			Usage:       "/session",
			Handle:      h.sessionStatus,
		},
		{
			Route:       "session connect",
			Description: "establish the delivery session",
			Usage:       "/session connect",
			Timeout:     h.connectTimeout + 15*time.Second,
			Handle:      h.sessionConnect,
		},
	}
}

func (h *Handlers) contacts(ctx context.Context, req *router.Request) error {
	friends, err := h.store.ListRecipients(ctx, domain.KindIndividual)
	if err != nil {
		return err
	}
	if len(friends) == 0 {
		return req.Reply(ctx, "no friends stored")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Friends (%d)\n", len(friends))
	for _, f := range friends {
		fmt.Fprintf(&b, "%d. %s  %s\n", f.ID, f.Name, f.Address)
	}
	return req.Reply(ctx, b.String())
}

func (h *Handlers) groups(ctx context.Context, req *router.Request) error {
	groups, err := h.store.ListRecipients(ctx, domain.KindGroup)
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		return req.Reply(ctx, "no groups stored")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Groups (%d)\n", len(groups))
	for _, g := range groups {
		members, err := h.store.GroupMembers(ctx, g.ID)
		if err != nil {
			return err
		}
		names := make([]string, 0, len(members))
		for _, m := range members {
			names = append(names, m.Name)
		}
		fmt.Fprintf(&b, "%d. %s", g.ID, g.Name)
		if g.Address != "" {
			fmt.Fprintf(&b, " [%s]", g.Address)
		}
		if len(names) > 0 {
			fmt.Fprintf(&b, ": %s", strings.Join(names, ", "))
		}
		b.WriteByte('\n')
	}
	return req.Reply(ctx, b.String())
}

func (h *Handlers) templates(ctx context.Context, req *router.Request) error {
	category := ""
	if len(req.Args) > 0 {
		category = strings.ToLower(req.Args[0])
	}
	tpls, err := h.store.ListTemplates(ctx, category)
	if err != nil {
		return err
	}
	if len(tpls) == 0 {
		return req.Reply(ctx, "no templates stored")
	}
	var b strings.Builder
	if category == "" {
		cats, err := h.store.Categories(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(&b, "Categories: %s\n\n", strings.Join(cats, ", "))
	}
	for _, t := range tpls {
		kind := ""
		if t.IsImage {
			kind = " (image)"
		}
		fmt.Fprintf(&b, "%d. [%s]%s %s\n", t.ID, t.Category, kind, truncate(t.Text, 80))
	}
	return req.Reply(ctx, b.String())
}

func (h *Handlers) schedule(ctx context.Context, req *router.Request) error {
	if len(req.Args) < 3 {
		return fmt.Errorf("usage: /schedule <friend|group> <name> <recurrence> [-category=c]")
	}
	kind, err := domain.ParseKind(req.Args[0])
	if err != nil {
		return err
	}
	r, err := h.store.FindRecipient(ctx, kind, req.Args[1])
	if err != nil {
		return err
	}
	label := req.Flag("label", "")
	if label == "" {
		label = r.String()
	}
	id, err := h.jobs.Submit(ctx, scheduler.Request{
		Recipients: []domain.Recipient{r},
		Recurrence: strings.Join(req.Args[2:], " "),
		Category:   req.Flag("category", ""),
		Label:      label,
	})
	if err != nil {
		return err
	}
	st, err := h.jobs.Get(ctx, id)
	if err != nil {
		return req.Reply(ctx, "job "+id+" submitted")
	}
	return req.Reply(ctx, "job submitted\n"+h.formatJob(st))
}

func (h *Handlers) cancel(ctx context.Context, req *router.Request) error {
	if len(req.Args) != 1 {
		return errors.New("usage: /cancel <job-id>")
	}
	if err := h.jobs.Cancel(ctx, req.Args[0]); err != nil {
		return err
	}
	return req.Reply(ctx, "job "+req.Args[0]+" cancelled")
}

func (h *Handlers) listJobs(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 1 {
		st, err := h.jobs.Get(ctx, req.Args[0])
		if err != nil {
			return err
		}
		return req.Reply(ctx, h.formatJobDetail(st))
	}
	jobs, err := h.jobs.List(ctx)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return req.Reply(ctx, "no jobs")
	}
	blocks := make([]string, 0, len(jobs))
	for _, j := range jobs {
		blocks = append(blocks, h.formatJob(j))
	}
	return req.Reply(ctx, strings.Join(blocks, "\n\n"))
}

func (h *Handlers) sessionStatus(ctx context.Context, req *router.Request) error {
	return req.Reply(ctx, formatSession(h.session.Status()))
}

func (h *Handlers) sessionConnect(ctx context.Context, req *router.Request) error {
	st := h.session.Status()
	if st.State == delivery.StateReady {
		return req.Reply(ctx, "session already ready")
	}
	if st.Driver == "bridge" {
		_ = req.Reply(ctx, fmt.Sprintf("connecting; scan the QR code in the bridge within %s", h.connectTimeout))
	}
	if err := h.session.Establish(ctx); err != nil {
		return err
	}
	return req.Reply(ctx, formatSession(h.session.Status()))
}
