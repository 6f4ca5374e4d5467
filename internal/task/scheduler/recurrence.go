package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"whatsched/internal/domain"
)

type Kind string

const (
	KindNow     Kind = "now"
	KindDaily   Kind = "daily"
	KindWeekly  Kind = "weekly"
	KindMonthly Kind = "monthly"
)

// Short-month policies for monthly recurrences.
const (
	ShortMonthClamp = "clamp"
	ShortMonthSkip  = "skip"
)

// Recurrence is a parsed schedule.
//
// Supported forms:
//   - "now"
//   - "daily HH:MM"
//   - "weekly <weekday> HH:MM" (monday or mon ...)
//   - "monthly <day> HH:MM" (day 1..31)
type Recurrence struct {
	Kind    Kind
	Hour    int
	Minute  int
	Weekday time.Weekday
	Day     int
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday, "tues": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday, "thurs": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

// ParseRecurrence parses raw. Errors are *domain.SchedulingError.
func ParseRecurrence(raw string) (Recurrence, error) {
	fields := strings.Fields(strings.ToLower(raw))
	fail := func(format string, args ...any) (Recurrence, error) {
		return Recurrence{}, &domain.SchedulingError{Spec: raw, Reason: fmt.Sprintf(format, args...)}
	}
	if len(fields) == 0 {
		return fail("schedule required (now, daily HH:MM, weekly DAY HH:MM, monthly D HH:MM)")
	}

	var r Recurrence
	want := 0
	switch Kind(fields[0]) {
	case KindNow:
		r.Kind, want = KindNow, 1
	case KindDaily:
		r.Kind, want = KindDaily, 2
	case KindWeekly:
		r.Kind, want = KindWeekly, 3
	case KindMonthly:
		r.Kind, want = KindMonthly, 3
	default:
		return fail("unknown schedule kind %q", fields[0])
	}
	if len(fields) != want {
		return fail("%s takes %d argument(s)", r.Kind, want-1)
	}
	if r.Kind == KindNow {
		return r, nil
	}

	h, m, err := parseClock(fields[len(fields)-1])
	if err != nil {
		return fail("%v", err)
	}
	r.Hour, r.Minute = h, m

	switch r.Kind {
	case KindWeekly:
		wd, ok := weekdays[fields[1]]
		if !ok {
			return fail("unknown weekday %q", fields[1])
		}
		r.Weekday = wd
	case KindMonthly:
		d, err := strconv.Atoi(fields[1])
		if err != nil || d < 1 || d > 31 {
			return fail("day of month must be 1..31, got %q", fields[1])
		}
		r.Day = d
	}
	return r, nil
}

func parseClock(s string) (int, int, error) {
	hs, ms, ok := strings.Cut(s, ":")
	if !ok || len(ms) != 2 || len(hs) == 0 || len(hs) > 2 {
		return 0, 0, fmt.Errorf("time must be HH:MM, got %q", s)
	}
	h, err1 := strconv.Atoi(hs)
	m, err2 := strconv.Atoi(ms)
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid time of day %q", s)
	}
	return h, m, nil
}

func (r Recurrence) Recurring() bool { return r.Kind != KindNow }

func (r Recurrence) String() string {
	clock := fmt.Sprintf("%02d:%02d", r.Hour, r.Minute)
	switch r.Kind {
	case KindDaily:
		return "daily " + clock
	case KindWeekly:
		return fmt.Sprintf("weekly %s %s", strings.ToLower(r.Weekday.String()), clock)
	case KindMonthly:
		return fmt.Sprintf("monthly %d %s", r.Day, clock)
	default:
		return string(r.Kind)
	}
}

// CronSpec is the 5-field cron expression for recurring kinds.
func (r Recurrence) CronSpec() string {
	switch r.Kind {
	case KindDaily:
		return fmt.Sprintf("%d %d * * *", r.Minute, r.Hour)
	case KindWeekly:
		return fmt.Sprintf("%d %d * * %d", r.Minute, r.Hour, int(r.Weekday))
	case KindMonthly:
		return fmt.Sprintf("%d %d %d * *", r.Minute, r.Hour, r.Day)
	default:
		return ""
	}
}

// Schedule builds the trigger schedule. Monthly days past a month's end
// fire on its last day under clamp and skip the month under skip. Days
// 1..28 exist in every month and use the plain cron spec either way.
func (r Recurrence) Schedule(parser cron.Parser, shortMonth string) (cron.Schedule, error) {
	if !r.Recurring() {
		return nil, &domain.SchedulingError{Spec: r.String(), Reason: "one-shot jobs have no schedule"}
	}
	if r.Kind == KindMonthly && r.Day > 28 && shortMonth != ShortMonthSkip {
		return monthlyClampSchedule{day: r.Day, hour: r.Hour, minute: r.Minute}, nil
	}
	sched, err := parser.Parse(r.CronSpec())
	if err != nil {
		return nil, &domain.SchedulingError{Spec: r.String(), Reason: err.Error()}
	}
	return sched, nil
}

// monthlyClampSchedule fires on day, or on the month's last day when the
// month is shorter. Times are taken in the location of the t passed to Next.
type monthlyClampSchedule struct {
	day, hour, minute int
}

func (s monthlyClampSchedule) Next(t time.Time) time.Time {
	loc := t.Location()
	y, m, _ := t.Date()
	for i := 0; i < 24; i++ {
		month := time.Month(int(m) + i)
		d := min(s.day, daysIn(y, month, loc))
		cand := time.Date(y, month, d, s.hour, s.minute, 0, 0, loc)
		if cand.After(t) {
			return cand
		}
	}
	return time.Time{}
}

func daysIn(y int, m time.Month, loc *time.Location) int {
	// Day 0 of the next month is the last day of m; Date normalizes overflow.
	return time.Date(y, m+1, 0, 12, 0, 0, 0, loc).Day()
}
