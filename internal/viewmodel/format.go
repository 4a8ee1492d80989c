package viewmodel

import (
	"fmt"
	"strconv"
	"time"
)

const (
	maxBadgeCount = 99
	recentWindow  = 5 * time.Minute
)

// TimeAgo renders how long before now t happened: "now", "5m", "3h", "2d",
// then a calendar date once a week has passed.
func TimeAgo(t, now time.Time) string {
	diff := now.Sub(t)
	switch {
	case diff < time.Minute:
		return "now"
	case diff < time.Hour:
		return fmt.Sprintf("%dm", int(diff/time.Minute))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh", int(diff/time.Hour))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%dd", int(diff/(24*time.Hour)))
	}
	return shortDate(t, now)
}

// ChatDateLabel is the day separator shown above a group of messages.
func ChatDateLabel(t, now time.Time) string {
	if SameDay(t, now) {
		return "Today"
	}
	if SameDay(t, now.AddDate(0, 0, -1)) {
		return "Yesterday"
	}
	return shortDate(t, now)
}

// SameDay compares calendar days in b's location.
func SameDay(a, b time.Time) bool {
	a = a.In(b.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func IsRecent(t, now time.Time) bool {
	return now.Sub(t) < recentWindow
}

// ClockTime renders t as 24h "15:04".
func ClockTime(t time.Time) string {
	return t.Format("15:04")
}

// UnreadBadgeLabel is empty when there is nothing to show.
func UnreadBadgeLabel(count int) string {
	if count <= 0 {
		return ""
	}
	if count > maxBadgeCount {
		return strconv.Itoa(maxBadgeCount) + "+"
	}
	return strconv.Itoa(count)
}

func shortDate(t, now time.Time) string {
	t = t.In(now.Location())
	if t.Year() == now.Year() {
		return t.Format("Jan 2")
	}
	return t.Format("Jan 2, 2006")
}
