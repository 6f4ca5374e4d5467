package scheduler

import (
	"testing"
	"time"

	"github.com/robfig/cron/v3"

	"whatsched/internal/domain"
)

var testParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

func TestParseRecurrence(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want string
		cron string
	}{
		{"now", "now", ""},
		{"  NOW ", "now", ""},
		{"daily 09:00", "daily 09:00", "0 9 * * *"},
		{"daily 7:05", "daily 07:05", "5 7 * * *"},
		{"weekly Mon 09:00", "weekly monday 09:00", "0 9 * * 1"},
		{"weekly sunday 23:59", "weekly sunday 23:59", "59 23 * * 0"},
		{"monthly 31 08:30", "monthly 31 08:30", "30 8 31 * *"},
	}
	for _, tc := range cases {
		r, err := ParseRecurrence(tc.in)
		if err != nil {
			t.Fatalf("ParseRecurrence(%q): %v", tc.in, err)
		}
		if r.String() != tc.want || r.CronSpec() != tc.cron {
			t.Fatalf("ParseRecurrence(%q) = %q / %q, want %q / %q", tc.in, r.String(), r.CronSpec(), tc.want, tc.cron)
		}
	}
}

func TestParseRecurrenceRejects(t *testing.T) {
	t.Parallel()
	for _, in := range []string{
		"",
		"yearly 09:00",
		"daily",
		"daily 24:00",
		"daily 09:60",
		"daily 9am",
		"weekly funday 09:00",
		"weekly 09:00",
		"monthly 0 09:00",
		"monthly 32 09:00",
		"now please",
	} {
		_, err := ParseRecurrence(in)
		if !domain.IsScheduling(err) {
			t.Fatalf("ParseRecurrence(%q) err = %v, want SchedulingError", in, err)
		}
	}
}

func nextOf(t *testing.T, spec, policy string, from time.Time) time.Time {
	t.Helper()
	r, err := ParseRecurrence(spec)
	if err != nil {
		t.Fatal(err)
	}
	s, err := r.Schedule(testParser, policy)
	if err != nil {
		t.Fatal(err)
	}
	return s.Next(from)
}

func TestDailyNextIsSameTimeEachDay(t *testing.T) {
	t.Parallel()
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	first := nextOf(t, "daily 09:00", ShortMonthClamp, at.Add(-time.Hour))
	if !first.Equal(at) {
		t.Fatalf("first = %v, want %v", first, at)
	}
	second := nextOf(t, "daily 09:00", ShortMonthClamp, first)
	if !second.Equal(at.AddDate(0, 0, 1)) {
		t.Fatalf("second = %v, want %v", second, at.AddDate(0, 0, 1))
	}
}

func TestWeeklyFromFridayFiresMonday(t *testing.T) {
	t.Parallel()
	friday := time.Date(2026, 10, 16, 15, 0, 0, 0, time.UTC)
	got := nextOf(t, "weekly monday 09:00", ShortMonthClamp, friday)
	want := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("next = %v, want %v", got, want)
	}
}

func TestMonthlyShortMonthPolicy(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		spec   string
		policy string
		from   time.Time
		want   time.Time
	}{
		{"clamp april", "monthly 31 09:00", ShortMonthClamp, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 4, 30, 9, 0, 0, 0, time.UTC)},
		{"clamp feb", "monthly 31 09:00", ShortMonthClamp, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 2, 28, 9, 0, 0, 0, time.UTC)},
		{"clamp leap feb", "monthly 30 09:00", ShortMonthClamp, time.Date(2028, 2, 1, 0, 0, 0, 0, time.UTC), time.Date(2028, 2, 29, 9, 0, 0, 0, time.UTC)},
		{"clamp long month", "monthly 31 09:00", ShortMonthClamp, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 5, 31, 9, 0, 0, 0, time.UTC)},
		{"clamp after fire", "monthly 31 09:00", ShortMonthClamp, time.Date(2026, 12, 31, 9, 0, 0, 0, time.UTC), time.Date(2027, 1, 31, 9, 0, 0, 0, time.UTC)},
		{"skip april", "monthly 31 09:00", ShortMonthSkip, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 5, 31, 9, 0, 0, 0, time.UTC)},
		{"skip feb", "monthly 30 09:00", ShortMonthSkip, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 3, 30, 9, 0, 0, 0, time.UTC)},
		{"short day unaffected", "monthly 15 09:00", ShortMonthSkip, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 2, 15, 9, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := nextOf(t, tc.spec, tc.policy, tc.from); !got.Equal(tc.want) {
				t.Fatalf("next = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestScheduleUsesLocationOfNow(t *testing.T) {
	t.Parallel()
	jkt := time.FixedZone("WIB", 7*3600)
	from := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC).In(jkt) // 07:00 local
	got := nextOf(t, "daily 09:00", ShortMonthClamp, from)
	if got.In(jkt).Hour() != 9 || !got.Equal(time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC)) {
		t.Fatalf("next = %v, want 09:00 WIB", got)
	}
}
