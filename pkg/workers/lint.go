package workers

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/fatih/color"

	"switchboard/pkg/proto"
)

// lintHandler renders LINT_REPORT messages as text.
type lintHandler struct {
	emitter
	colored bool

	mu  sync.Mutex
	out io.Writer
}

func (h *lintHandler) HandleMessage(_ context.Context, msg *proto.Message) error {
	report, err := msg.Payload.ExtractLintReport()
	if err != nil {
		return payloadError(h.name, err)
	}

	text, counts := FormatLintReport(report, h.colored)

	h.mu.Lock()
	_, werr := io.WriteString(h.out, text)
	h.mu.Unlock()
	if werr != nil {
		return fmt.Errorf("%s: writing report: %w", h.name, werr)
	}

	h.emit(msg, counts.Errors == 0, counts.String(), text)
	return nil
}

// LintCounts tallies findings by severity.
type LintCounts struct {
	Errors   int
	Warnings int
	Info     int
}

// Total returns the number of findings.
func (c LintCounts) Total() int { return c.Errors + c.Warnings + c.Info }

func (c LintCounts) String() string {
	if c.Total() == 0 {
		return "no problems"
	}
	noun := "problems"
	if c.Total() == 1 {
		noun = "problem"
	}
	return fmt.Sprintf("%d %s (%d errors, %d warnings, %d info)", c.Total(), noun, c.Errors, c.Warnings, c.Info)
}

// FormatLintReport renders findings sorted by file, line and column, one per line, followed
// by a summary line. Severities are coloured when colored is set.
func FormatLintReport(report *proto.LintReportPayload, colored bool) (string, LintCounts) {
	findings := make([]proto.LintFinding, len(report.Findings))
	copy(findings, report.Findings)
	sort.SliceStable(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Column < b.Column
	})

	palette := map[string]*color.Color{
		"error":   color.New(color.FgRed, color.Bold),
		"warning": color.New(color.FgYellow),
		"info":    color.New(color.FgCyan),
	}
	for _, c := range palette {
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}

	var (
		sb     strings.Builder
		counts LintCounts
	)
	if report.Tool != "" {
		fmt.Fprintf(&sb, "%s report\n", report.Tool)
	}
	for _, f := range findings {
		severity := f.Severity
		if severity == "" {
			severity = "info"
		}
		switch severity {
		case "error":
			counts.Errors++
		case "warning":
			counts.Warnings++
		default:
			counts.Info++
		}

		label := severity
		if c, ok := palette[severity]; ok {
			label = c.Sprint(severity)
		}
		fmt.Fprintf(&sb, "%s:%d:%d: %s %s", f.File, f.Line, f.Column, label, f.Message)
		if f.Rule != "" {
			fmt.Fprintf(&sb, " [%s]", f.Rule)
		}
		sb.WriteByte('\n')
	}
	sb.WriteString(counts.String())
	sb.WriteByte('\n')
	return sb.String(), counts
}
