package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriter_Status_PrintsIconAndMessage(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Status("🔌", "Checking backend...")

	output := buf.String()
	assert.Contains(t, output, "🔌")
	assert.Contains(t, output, "Checking backend...")
}

func TestWriter_Status_EmptyIconIndents(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Status("", "aligned detail line")

	assert.Equal(t, "   aligned detail line\n", buf.String())
}

func TestWriter_Success_PrintsCheckmark(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Success("Backend ready")

	output := buf.String()
	assert.Contains(t, output, "✅")
	assert.Contains(t, output, "Backend ready")
}

func TestWriter_Warning_PrintsWarningIcon(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Warning("Embedding backend unavailable")

	output := buf.String()
	assert.Contains(t, output, "⚠️")
	assert.Contains(t, output, "Embedding backend unavailable")
}

func TestWriter_Error_PrintsErrorIcon(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Error("Failed to connect")

	output := buf.String()
	assert.Contains(t, output, "❌")
	assert.Contains(t, output, "Failed to connect")
}

func TestWriter_Statusf_FormatsMessage(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Statusf("📄", "[%d] %s (relevance %.2f)", 1, "note-42", 0.87)

	output := buf.String()
	assert.Contains(t, output, "📄")
	assert.Contains(t, output, "[1] note-42 (relevance 0.87)")
}

func TestWriter_Download_RendersPercentAndSize(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Download("downloading", 50*1024*1024, 100*1024*1024)

	output := buf.String()
	assert.Contains(t, output, "50%")
	assert.Contains(t, output, "downloading")
	assert.Contains(t, output, "(50/100 MB)")
}

func TestWriter_Download_UnknownTotal(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Download("pulling manifest", 0, 0)

	assert.Contains(t, buf.String(), "pulling manifest...")
}

func TestProgressBar_Render(t *testing.T) {
	tests := []struct {
		name      string
		completed int64
		total     int64
		width     int
		wantFull  int
	}{
		{name: "0 percent", completed: 0, total: 100, width: 10, wantFull: 0},
		{name: "50 percent", completed: 50, total: 100, width: 10, wantFull: 5},
		{name: "100 percent", completed: 100, total: 100, width: 10, wantFull: 10},
		{name: "25 percent", completed: 25, total: 100, width: 20, wantFull: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bar := renderProgressBar(tt.completed, tt.total, tt.width)

			assert.Equal(t, tt.wantFull, strings.Count(bar, "█"))
			assert.Equal(t, tt.width, len([]rune(bar)))
		})
	}
}

func TestWriter_Newline_PrintsEmptyLine(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Newline()

	assert.Equal(t, "\n", buf.String())
}
