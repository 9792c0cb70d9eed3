// Package output provides consistent human-facing CLI formatting for the
// mnemo commands.
package output

import (
	"fmt"
	"io"
	"strings"
)

// Writer provides formatted output for CLI.
type Writer struct {
	out io.Writer
}

// New creates a new output Writer.
func New(out io.Writer) *Writer {
	return &Writer{out: out}
}

// Status prints a status message with an icon. An empty icon indents the
// message to align with iconed lines. Write errors are intentionally
// ignored for console output.
func (w *Writer) Status(icon, msg string) {
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
	} else {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
	}
}

// Statusf prints a formatted status message with an icon.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Success prints a success message with checkmark.
func (w *Writer) Success(msg string) {
	w.Status("✅", msg)
}

// Successf prints a formatted success message.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning message.
func (w *Writer) Warning(msg string) {
	w.Status("⚠️ ", msg)
}

// Warningf prints a formatted warning message.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Error prints an error message.
func (w *Writer) Error(msg string) {
	w.Status("❌", msg)
}

// Errorf prints a formatted error message.
func (w *Writer) Errorf(format string, args ...any) {
	w.Error(fmt.Sprintf(format, args...))
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

// Download renders an in-place progress line for a byte transfer, used while
// pulling models. Call DownloadDone when the transfer finishes.
func (w *Writer) Download(status string, completed, total int64) {
	if total <= 0 {
		_, _ = fmt.Fprintf(w.out, "\r%s...", status)
		return
	}

	pct := float64(completed) / float64(total) * 100
	bar := renderProgressBar(completed, total, 30)
	_, _ = fmt.Fprintf(w.out, "\r[%s] %.0f%% %s (%d/%d MB)",
		bar, pct, status, completed/(1024*1024), total/(1024*1024))
}

// DownloadDone terminates an in-place progress line.
func (w *Writer) DownloadDone() {
	_, _ = fmt.Fprintln(w.out)
}

// renderProgressBar creates a text progress bar.
func renderProgressBar(completed, total int64, width int) string {
	if total <= 0 {
		return strings.Repeat("░", width)
	}

	filled := int(float64(completed) / float64(total) * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}

	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}
