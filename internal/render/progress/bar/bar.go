// Package bar draws the progress of a run as a few recent targets above a
// bar that is redrawn in place.
//
//	Header
//	  ✓ folio-org/platform-lsp@R1-2025
//	  ⏳ folio-org/platform-lsp@R2-2025
//	  [████░░░░]  50% 1/2
//
// Failed targets are listed with their reason once the run finished.
package bar

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/platformsync/releaseflow/internal/render/progress"
)

const barWidth = 40

const (
	clearLine = "\033[2K"
	cursorUp  = "\033[1A"
)

const (
	reset    = "\033[0m"
	bold     = "\033[1m"
	darkGray = "\033[38;5;238m"
	white    = "\033[38;5;252m"
	green    = "\033[38;5;71m"
	yellow   = "\033[38;5;178m"
	red      = "\033[38;5;196m"
)

// Option configures the bar visualizer.
type Option[T any] func(*barVisualizer[T])

// WithHeader sets a line printed above the recent targets.
func WithHeader[T any](header string) Option[T] {
	return func(v *barVisualizer[T]) {
		v.header = header
	}
}

// WithNameFormatter sets how a target is displayed. The event ID is used otherwise.
func WithNameFormatter[T any](f func(T) string) Option[T] {
	return func(v *barVisualizer[T]) {
		v.formatter = f
	}
}

type barVisualizer[T any] struct {
	out       io.Writer
	total     int
	events    []progress.Event[T]
	index     map[string]int
	maxLogs   int
	header    string
	formatter func(T) string
	logBuffer *bytes.Buffer
	done      bool
}

// NewBarVisualizer returns a factory for the bar visualizer.
func NewBarVisualizer[T any](opts ...Option[T]) progress.VisualizerFactory[T] {
	return func(out io.Writer, total int) progress.Visualizer[T] {
		v := &barVisualizer[T]{
			out:     out,
			total:   total,
			index:   make(map[string]int, total),
			maxLogs: 4,
		}
		for _, opt := range opts {
			opt(v)
		}
		v.maxLogs = min(v.maxLogs, total)
		for range v.fixedLines() {
			fmt.Fprintln(v.out)
		}
		return v
	}
}

func (v *barVisualizer[T]) SetLogBuffer(buf *bytes.Buffer) {
	v.logBuffer = buf
}

func (v *barVisualizer[T]) fixedLines() int {
	lines := v.maxLogs + 1
	if v.header != "" {
		lines++
	}
	return lines
}

// HandleEvent records the event and redraws. Targets in a final state are
// not updated again.
func (v *barVisualizer[T]) HandleEvent(event progress.Event[T]) {
	if i, ok := v.index[event.ID]; ok {
		if v.events[i].State.Final() {
			return
		}
		v.events[i] = event
	} else {
		v.index[event.ID] = len(v.events)
		v.events = append(v.events, event)
	}
	v.render()
}

func (v *barVisualizer[T]) render() {
	if v.done {
		return
	}
	for range v.fixedLines() {
		fmt.Fprint(v.out, cursorUp+clearLine)
	}
	v.drainLogBuffer()
	if v.header != "" {
		fmt.Fprintf(v.out, "%s%s%s\n", bold+white, v.header, reset)
	}

	visible := v.events[max(0, len(v.events)-v.maxLogs):]
	for _, event := range visible {
		fmt.Fprintln(v.out, v.formatItem(event))
	}
	for range v.maxLogs - len(visible) {
		fmt.Fprintln(v.out)
	}
	fmt.Fprintln(v.out, v.bar())
}

func (v *barVisualizer[T]) drainLogBuffer() {
	if v.logBuffer == nil || v.logBuffer.Len() == 0 {
		return
	}
	raw := v.logBuffer.String()
	v.logBuffer.Reset()
	for _, line := range strings.Split(strings.TrimRight(raw, "\n"), "\n") {
		if line != "" {
			fmt.Fprintf(v.out, "%s%s\n", line, reset)
		}
	}
}

func (v *barVisualizer[T]) counts() (done, failed, skipped int) {
	for _, event := range v.events {
		switch event.State {
		case progress.Completed:
			done++
		case progress.Failed:
			done++
			failed++
		case progress.Skipped, progress.Cancelled:
			done++
			skipped++
		}
	}
	return done, failed, skipped
}

func (v *barVisualizer[T]) bar() string {
	done, failed, skipped := v.counts()
	pct := 0
	if v.total > 0 {
		pct = done * 100 / v.total
	}
	filled := barWidth * done / max(v.total, 1)

	status := fmt.Sprintf("%s%d/%d%s", bold+white, done, v.total, reset)
	if failed > 0 {
		status += fmt.Sprintf(" %s(%d failed)%s", red, failed, reset)
	}
	if skipped > 0 {
		status += fmt.Sprintf(" %s(%d skipped)%s", darkGray, skipped, reset)
	}
	return fmt.Sprintf("  %s[%s%s%s%s%s]%s %3d%% %s",
		darkGray, white, strings.Repeat("█", filled),
		darkGray, strings.Repeat("░", barWidth-filled), darkGray,
		reset, pct, status)
}

func (v *barVisualizer[T]) formatItem(event progress.Event[T]) string {
	var symbol, color string
	switch event.State {
	case progress.Running:
		symbol, color = "⏳", darkGray
	case progress.Completed:
		symbol, color = "✓", green
	case progress.Skipped:
		symbol, color = "-", yellow
	case progress.Failed:
		symbol, color = "✗", red
	case progress.Cancelled:
		symbol, color = "⊘", darkGray
	default:
		symbol, color = "?", darkGray
	}
	name := event.ID
	if v.formatter != nil {
		name = v.formatter(event.Data)
	}
	return fmt.Sprintf("  %s%s%s %s", color, symbol, reset, name)
}

// Summary stops redrawing and lists failed targets.
func (v *barVisualizer[T]) Summary(err error) {
	if v.out == nil || v.done {
		return
	}
	v.done = true
	v.drainLogBuffer()

	var failed []progress.Event[T]
	for _, event := range v.events {
		if event.State == progress.Failed {
			failed = append(failed, event)
		}
	}
	if len(failed) == 0 && err == nil {
		return
	}
	fmt.Fprint(v.out, "\nErrors:\n")
	for _, event := range failed {
		fmt.Fprintf(v.out, "  %s✗%s %s\n", red, reset, event.ID)
		if event.Err != nil {
			fmt.Fprintf(v.out, "    %s\n", event.Err)
		}
	}
	if err != nil {
		fmt.Fprintf(v.out, "  %s\n", err)
	}
}
