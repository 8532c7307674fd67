package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/text"
)

// emojiDisabled caches whether emoji display is disabled via environment variable.
var emojiDisabled = os.Getenv("NO_EMOJI") != "" || os.Getenv("HELM_NO_EMOJI") != ""

// IsEmojiDisabled returns true if emoji display is disabled via environment
// variables. Users can set NO_EMOJI=1 or HELM_NO_EMOJI=1 to disable emoji.
func IsEmojiDisabled() bool {
	return emojiDisabled
}

// stateIcon returns emoji, falling back to a plain-ASCII marker when
// emoji display is disabled.
func stateIcon(emoji, fallback string) string {
	if emojiDisabled {
		return fallback
	}
	return emoji
}

// TableBuilder formats individual cell values for the service status and
// list tables, applying consistent color and iconography.
type TableBuilder struct{}

// NewTableBuilder creates a new table builder. The builder is stateless
// and can be reused across commands.
func NewTableBuilder() *TableBuilder {
	return &TableBuilder{}
}

// FormatRunState colors a supervisor process state (stopped/starting/
// running/stopping/error) with a status icon.
func (b *TableBuilder) FormatRunState(state string) string {
	switch state {
	case "running":
		return fmt.Sprintf("%s %s", stateIcon("✅", "[OK]"), text.FgGreen.Sprint(state))
	case "starting", "stopping":
		return fmt.Sprintf("%s %s", stateIcon("🔄", "[..]"), text.FgYellow.Sprint(state))
	case "error":
		return fmt.Sprintf("%s %s", stateIcon("❌", "[ERR]"), text.FgRed.Sprint(state))
	default: // stopped
		return fmt.Sprintf("%s %s", stateIcon("⏹", "[--]"), text.FgHiBlack.Sprint(state))
	}
}

// FormatHealth colors a monitor health classification.
func (b *TableBuilder) FormatHealth(health string) string {
	switch health {
	case "healthy":
		return fmt.Sprintf("%s %s", stateIcon("✅", "[OK]"), text.FgGreen.Sprint(health))
	case "degraded":
		return fmt.Sprintf("%s %s", stateIcon("⚠", "[WARN]"), text.FgYellow.Sprint(health))
	case "unreachable":
		return fmt.Sprintf("%s %s", stateIcon("❌", "[DOWN]"), text.FgRed.Sprint(health))
	default:
		return fmt.Sprintf("%s %s", stateIcon("?", "[?]"), text.FgHiBlack.Sprint("unknown"))
	}
}

// FormatUptime renders the duration since startedAt in a short human form,
// or "-" if the service was never started.
func (b *TableBuilder) FormatUptime(startedAt time.Time) string {
	if startedAt.IsZero() {
		return "-"
	}
	return formatDurationShort(time.Since(startedAt))
}

func formatDurationShort(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	default:
		return fmt.Sprintf("%dd%dh", int(d.Hours())/24, int(d.Hours())%24)
	}
}
