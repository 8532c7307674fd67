package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatRunState_KnownStates(t *testing.T) {
	b := NewTableBuilder()
	for _, state := range []string{"running", "starting", "stopping", "error", "stopped"} {
		assert.Contains(t, b.FormatRunState(state), state)
	}
}

func TestFormatHealth_UnknownFallsBackToUnknown(t *testing.T) {
	b := NewTableBuilder()
	assert.Contains(t, b.FormatHealth("something-unexpected"), "unknown")
}

func TestFormatUptime_ZeroTimeIsDash(t *testing.T) {
	b := NewTableBuilder()
	assert.Equal(t, "-", b.FormatUptime(time.Time{}))
}

func TestFormatDurationShort_Buckets(t *testing.T) {
	cases := []struct {
		d        time.Duration
		expected string
	}{
		{30 * time.Second, "30s"},
		{5 * time.Minute, "5m"},
		{2*time.Hour + 15*time.Minute, "2h15m"},
		{50 * time.Hour, "2d2h"},
	}
	for _, c := range cases {
		assert.Equal(t, c.expected, formatDurationShort(c.d))
	}
}
