// Package tui renders maintenance-command output. Plain streaming
// output, no interactive screens.
package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/schollz/progressbar/v3"
)

// Colors
var (
	accent  = lipgloss.Color("#FF5F5F")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	white   = lipgloss.Color("#FFFFFF")
)

// Styles
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
)

// Header prints the command banner.
func Header(version string) {
	fmt.Println()
	fmt.Println(titleStyle.Render("  PULSEKIT") + mutedStyle.Render(" v"+version))
	fmt.Println()
}

// Success prints a green check line.
func Success(msg string) {
	fmt.Println(successStyle.Render("  ✓ " + msg))
}

// Failure prints a red cross line.
func Failure(msg string) {
	fmt.Println(accentStyle.Render("  ✗ " + msg))
}

// Row prints one aligned label/value line.
func Row(label, value string) {
	fmt.Printf("  %s %s\n",
		mutedStyle.Render(fmt.Sprintf("%-22s", label)),
		titleStyle.Render(value))
}

// Divider prints a muted horizontal rule.
func Divider() {
	fmt.Println(mutedStyle.Render("  ─────────────────────────────────────"))
}

// ShowProgress creates a progress bar for multi-batch operations.
func ShowProgress(total int64, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(false),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "",
			BarEnd:        "",
		}),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

// FormatBytes renders a byte count with a binary unit suffix.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}

// FormatNumber renders a count compactly.
func FormatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1000000)
}
