package bot

import (
	"fmt"
	"strings"
	"time"

	"whatsched/internal/delivery"
	"whatsched/internal/task/scheduler"
)

const timeLayout = "Mon 02 Jan 15:04"

func (h *Handlers) formatJob(st scheduler.JobStatus) string {
	loc := h.jobs.Location()
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s  %s", st.ID, st.State, st.Recurrence)
	if st.Label != "" {
		fmt.Fprintf(&b, "\n  %s", st.Label)
	}
	cat := st.Category
	if cat == "" {
		cat = "any"
	}
	fmt.Fprintf(&b, "\n  category %s, fired %d", cat, st.Fires)
	if st.Skipped > 0 {
		fmt.Fprintf(&b, ", skipped %d", st.Skipped)
	}
	if !st.Next.IsZero() {
		fmt.Fprintf(&b, "\n  next %s", st.Next.In(loc).Format(timeLayout))
	}
	if st.LastError != "" {
		fmt.Fprintf(&b, "\n  last error: %s", st.LastError)
	}
	return b.String()
}

func (h *Handlers) formatJobDetail(st scheduler.JobStatus) string {
	loc := h.jobs.Location()
	var b strings.Builder
	b.WriteString(h.formatJob(st))
	fmt.Fprintf(&b, "\n  recipients: %s", strings.Join(st.Recipients, ", "))
	fmt.Fprintf(&b, "\n  created %s", st.Created.In(loc).Format(timeLayout))
	if !st.LastFired.IsZero() {
		fmt.Fprintf(&b, "\n  last fired %s", st.LastFired.In(loc).Format(timeLayout))
	}
	for _, r := range st.Results {
		mark := "ok"
		if r.Error != "" {
			mark = r.Error
		}
		fmt.Fprintf(&b, "\n  - %s: %s", r.Name, mark)
	}
	return b.String()
}

func formatSession(st delivery.Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "session %s (%s)", st.State, st.Driver)
	if !st.Since.IsZero() {
		fmt.Fprintf(&b, " since %s", st.Since.Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "\nsent %d, failed %d", st.Sent, st.Failed)
	if st.LastError != "" {
		fmt.Fprintf(&b, "\nlast error: %s", st.LastError)
	}
	if st.State == delivery.StateLost || st.State == delivery.StateDisconnected {
		b.WriteString("\nuse /session connect to establish it")
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return string(rs[:n-1]) + "…"
}
