package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/BadgerOps/glc/internal/engine"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
)

// Color palette.
var (
	primaryColor = lipgloss.Color("#7C3AED") // Purple
	successColor = lipgloss.Color("#10B981") // Green
	warningColor = lipgloss.Color("#F59E0B") // Amber
	errorColor   = lipgloss.Color("#EF4444") // Red
	mutedColor   = lipgloss.Color("#6B7280") // Gray
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
	labelStyle   = lipgloss.NewStyle().Foreground(mutedColor).Width(14)
	successStyle = lipgloss.NewStyle().Foreground(successColor)
	warningStyle = lipgloss.NewStyle().Foreground(warningColor)
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(errorColor)
	mutedStyle   = lipgloss.NewStyle().Foreground(mutedColor)
)

// field prints one "label value" line.
func field(w io.Writer, label string, value any) {
	fmt.Fprintf(w, "%s %v\n", labelStyle.Render(label), value)
}

// progressRenderer draws the overall upload bar on a terminal, or logs
// label changes as plain lines when output is not a terminal.
type progressRenderer struct {
	mu        sync.Mutex
	out       io.Writer
	bar       progress.Model
	tty       bool
	tracker   *engine.Tracker // optional; adds throughput and ETA while transferring
	lastLabel string
	lastDraw  time.Time
}

func newProgressRenderer(out *os.File) *progressRenderer {
	return &progressRenderer{
		out: out,
		bar: progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		tty: isatty.IsTerminal(out.Fd()) || isatty.IsCygwinTerminal(out.Fd()),
	}
}

// Update matches engine.ProgressFunc.
func (p *progressRenderer) Update(fraction float64, label string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.tty {
		if label != p.lastLabel {
			fmt.Fprintf(p.out, "[%3.0f%%] %s\n", fraction*100, label)
			p.lastLabel = label
		}
		return
	}

	now := time.Now()
	if label == p.lastLabel && fraction < 1 && now.Sub(p.lastDraw) < 100*time.Millisecond {
		return
	}
	p.lastLabel = label
	p.lastDraw = now
	line := p.bar.ViewAs(fraction) + " " + mutedStyle.Render(label)
	if p.tracker != nil {
		if stats := transferStats(p.tracker.Snapshot()); stats != "" {
			line += " " + mutedStyle.Render(stats)
		}
	}
	fmt.Fprintf(p.out, "\r\033[K%s", line)
}

// transferStats summarizes bytes, rate and ETA of a transferring run.
func transferStats(s engine.Progress) string {
	if s.State != engine.StateTransferring || s.TotalBytes <= 0 {
		return ""
	}
	out := formatBytes(s.BytesSent) + "/" + formatBytes(s.TotalBytes)
	if s.BytesPerSecond > 0 {
		out += ", " + formatBytes(s.BytesPerSecond) + "/s"
	}
	if s.ETA != "" {
		out += ", " + s.ETA + " left"
	}
	return out
}

// Done ends the bar line.
func (p *progressRenderer) Done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tty && p.lastLabel != "" {
		fmt.Fprintln(p.out)
	}
}

// formatBytes formats a byte count into human-readable format
func formatBytes(bytes int64) string {
	if bytes < 0 {
		return "unknown"
	}
	return humanize.IBytes(uint64(bytes))
}

// formatWhen formats a timestamp for tables.
func formatWhen(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}

// truncate shortens s to n runes for table columns.
func truncate(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
