package viewmodel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimeAgo(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		ago  time.Duration
		want string
	}{
		{30 * time.Second, "now"},
		{time.Minute, "1m"},
		{59 * time.Minute, "59m"},
		{2*time.Hour + 30*time.Minute, "2h"},
		{23 * time.Hour, "23h"},
		{3 * 24 * time.Hour, "3d"},
		{10 * 24 * time.Hour, "Jun 5"},
		{400 * 24 * time.Hour, "May 12, 2023"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TimeAgo(now.Add(-tt.ago), now), tt.ago.String())
	}
}

func TestChatDateLabel(t *testing.T) {
	now := time.Date(2024, 6, 15, 0, 30, 0, 0, time.UTC)

	assert.Equal(t, "Today", ChatDateLabel(now.Add(-10*time.Minute), now))
	assert.Equal(t, "Yesterday", ChatDateLabel(now.Add(-time.Hour), now))
	assert.Equal(t, "Jun 13", ChatDateLabel(now.Add(-48*time.Hour), now))
	assert.Equal(t, "Dec 31, 2023", ChatDateLabel(time.Date(2023, 12, 31, 9, 0, 0, 0, time.UTC), now))
}

func TestSameDayUsesReferenceLocation(t *testing.T) {
	madrid := time.FixedZone("CEST", 2*60*60)
	late := time.Date(2024, 6, 14, 23, 30, 0, 0, time.UTC)
	ref := time.Date(2024, 6, 15, 8, 0, 0, 0, madrid)

	assert.True(t, SameDay(late, ref))
	assert.False(t, SameDay(late, ref.Add(-48*time.Hour)))
}

func TestIsRecent(t *testing.T) {
	now := time.Now()
	assert.True(t, IsRecent(now.Add(-4*time.Minute), now))
	assert.False(t, IsRecent(now.Add(-5*time.Minute), now))
}

func TestClockTime(t *testing.T) {
	assert.Equal(t, "09:05", ClockTime(time.Date(2024, 1, 1, 9, 5, 0, 0, time.UTC)))
}

func TestUnreadBadgeLabel(t *testing.T) {
	assert.Equal(t, "", UnreadBadgeLabel(0))
	assert.Equal(t, "", UnreadBadgeLabel(-1))
	assert.Equal(t, "7", UnreadBadgeLabel(7))
	assert.Equal(t, "99", UnreadBadgeLabel(99))
	assert.Equal(t, "99+", UnreadBadgeLabel(100))
}
