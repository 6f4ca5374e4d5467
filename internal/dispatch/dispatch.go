// Package dispatch resolves a message for a recipient and hands it to the
// automation session.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"whatsched/internal/domain"
	"whatsched/internal/message"
	logx "whatsched/pkg/logx"
)

// Selector picks a message body for a category.
type Selector interface {
	Select(ctx context.Context, category string) (message.Message, error)
}

// Deliverer is the session capability.
type Deliverer interface {
	Deliver(ctx context.Context, address string, msg message.Message) error
}

// MemberSource expands address-less groups.
type MemberSource interface {
	GroupMembers(ctx context.Context, groupID int64) ([]domain.Recipient, error)
}

// Result is the outcome for one delivery target.
type Result struct {
	Recipient domain.Recipient
	Category  string
	Err       error
	At        time.Time
}

func (r Result) OK() bool { return r.Err == nil }

// Action sends one freshly selected message per target.
type Action struct {
	sel     Selector
	session Deliverer
	members MemberSource
	log     logx.Logger
}

func New(sel Selector, session Deliverer, members MemberSource, log logx.Logger) *Action {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Action{sel: sel, session: session, members: members, log: log.With(logx.String("comp", "dispatch"))}
}

// Send delivers to one addressable recipient. Failures are returned, never retried.
func (a *Action) Send(ctx context.Context, r domain.Recipient, category string) error {
	if r.Address == "" {
		return &domain.DeliveryError{Err: fmt.Errorf("%s has no address", r)}
	}
	msg, err := a.sel.Select(ctx, category)
	if err != nil {
		return err
	}
	return a.session.Deliver(ctx, r.Address, msg)
}

// expand resolves one recipient to delivery targets: individuals and
// groups with an address are one chat, other groups become their members.
// An address-less group without members is a NotFoundError.
func (a *Action) expand(ctx context.Context, r domain.Recipient) ([]domain.Recipient, error) {
	if r.Kind != domain.KindGroup || r.Address != "" {
		return []domain.Recipient{r}, nil
	}
	if a.members == nil {
		return nil, fmt.Errorf("cannot expand %s: no member source", r)
	}
	members, err := a.members.GroupMembers(ctx, r.ID)
	if err != nil {
		return nil, fmt.Errorf("expand %s: %w", r, err)
	}
	if len(members) == 0 {
		return nil, &domain.NotFoundError{What: "group member", Key: r.Name}
	}
	return members, nil
}

// Fanout attempts every target in order. A recipient that cannot be
// expanded gets its own failed Result; one failure never stops the others.
// Duplicate addresses are delivered once. A canceled ctx ends the loop
// early and the remaining targets are reported with ctx's error.
func (a *Action) Fanout(ctx context.Context, recipients []domain.Recipient, category string) ([]Result, error) {
	results := make([]Result, 0, len(recipients))
	seen := make(map[string]bool, len(recipients))
	record := func(res Result) {
		res.At = time.Now()
		if res.Err != nil {
			a.log.Warn("dispatch failed", logx.String("to", res.Recipient.Name), logx.Err(res.Err))
		} else {
			a.log.Info("dispatched", logx.String("to", res.Recipient.Name))
		}
		results = append(results, res)
	}

	for _, r := range recipients {
		targets, err := a.expand(ctx, r)
		if err != nil {
			record(Result{Recipient: r, Category: category, Err: err})
			continue
		}
		for _, t := range targets {
			if t.Address != "" {
				if seen[t.Address] {
					continue
				}
				seen[t.Address] = true
			}
			res := Result{Recipient: t, Category: category}
			if cerr := ctx.Err(); cerr != nil {
				res.Err = cerr
			} else {
				res.Err = a.Send(ctx, t, category)
			}
			record(res)
		}
	}
	return results, nil
}

// Failed counts results with an error.
func Failed(results []Result) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}

// Summary is nil when every result succeeded. Otherwise it counts the
// failures and carries the first one.
func Summary(results []Result) error {
	n := Failed(results)
	if n == 0 {
		return nil
	}
	for _, r := range results {
		if r.Err != nil {
			return fmt.Errorf("%d of %d deliveries failed: %s: %w", n, len(results), r.Recipient.Name, r.Err)
		}
	}
	return nil
}
