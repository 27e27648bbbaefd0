package cli

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"shaper/internal/models"
)

// renderSnapshot renders decoded policies, limits and Retry-After.
func renderSnapshot(snap models.HeaderSnapshot) string {
	var b strings.Builder

	if len(snap.Policies) > 0 {
		t := table.NewWriter()
		t.SetStyle(table.StyleRounded)
		t.SetTitle("RateLimit-Policy")
		t.AppendHeader(table.Row{"Policy", "Quota", "Window", "Unit", "Partition"})
		for _, p := range snap.Policies {
			t.AppendRow(table.Row{p.Name, p.Quota, seconds(p.WindowSeconds), p.QuotaUnit, deref(p.PartitionKey)})
		}
		b.WriteString(t.Render())
		b.WriteString("\n")
	}

	if len(snap.Limits) > 0 {
		t := table.NewWriter()
		t.SetStyle(table.StyleRounded)
		t.SetTitle("RateLimit")
		t.AppendHeader(table.Row{"Policy", "Remaining", "Reset", "Partition"})
		for _, l := range snap.Limits {
			t.AppendRow(table.Row{l.PolicyName, l.Remaining, seconds(l.ResetSeconds), deref(l.PartitionKey)})
		}
		b.WriteString(t.Render())
		b.WriteString("\n")
	}

	if snap.RetryAfterSeconds != nil {
		fmt.Fprintf(&b, "Retry-After: %s\n", seconds(snap.RetryAfterSeconds))
	}

	if snap.Empty() {
		b.WriteString("no rate limit information\n")
	}
	return b.String()
}

// renderStates renders tracked states sorted by key.
func renderStates(states map[string]models.TrackedState, now time.Time) string {
	keys := make([]string, 0, len(states))
	for k := range states {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetTitle("Tracked state")
	t.AppendHeader(table.Row{"Key", "Remaining", "Quota", "Resets In", "Updated"})
	for _, k := range keys {
		s := states[k]
		quota := "-"
		if s.Quota != nil {
			quota = strconv.FormatInt(*s.Quota, 10)
		}
		resets := "-"
		if s.ResetAt != nil {
			resets = max(s.ResetAt.Sub(now), 0).Round(time.Second).String()
		}
		t.AppendRow(table.Row{k, s.Remaining, quota, resets, s.LastUpdated.Format(time.RFC3339)})
	}
	if len(keys) == 0 {
		t.AppendRow(table.Row{"(none)", "", "", "", ""})
	}
	return t.Render() + "\n"
}

func seconds(v *int64) string {
	if v == nil {
		return "-"
	}
	return (time.Duration(*v) * time.Second).String()
}

func deref(v *string) string {
	if v == nil {
		return "-"
	}
	return *v
}
