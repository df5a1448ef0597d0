// Package report renders run ledger entries as Markdown and HTML.
package report

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/hpungsan/docwatch/internal/db"
)

// maxReportFiles bounds the file list in a report.
const maxReportFiles = 200

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// Markdown renders run as a Markdown document.
func Markdown(run *db.Run) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Run %s\n\n", run.ID)
	b.WriteString("| Field | Value |\n|---|---|\n")
	row(&b, "Collection", run.Collection)
	row(&b, "Status", run.Status)
	row(&b, "Trigger", run.Trigger)
	row(&b, "Started", formatTime(run.StartedAt))
	if run.FinishedAt != nil {
		row(&b, "Finished", formatTime(*run.FinishedAt))
		row(&b, "Duration", (time.Duration(run.DurationMS) * time.Millisecond).String())
	}
	row(&b, "Files", fmt.Sprintf("%d", run.FileCount))
	if run.FailedStep != "" {
		row(&b, "Failed step", run.FailedStep)
	}

	if run.Error != "" {
		fmt.Fprintf(&b, "\n## Error\n\n%s\n", run.Error)
	}

	if len(run.Files) > 0 {
		b.WriteString("\n## Changed files\n\n")
		for i, file := range run.Files {
			if i == maxReportFiles {
				fmt.Fprintf(&b, "- ... and %d more\n", len(run.Files)-maxReportFiles)
				break
			}
			fmt.Fprintf(&b, "- `%s`\n", file)
		}
	}

	if run.Output != "" {
		b.WriteString("\n## Output\n\n")
		fence := "```"
		for strings.Contains(run.Output, fence) {
			fence += "`"
		}
		fmt.Fprintf(&b, "%s\n%s\n%s\n", fence, strings.TrimRight(run.Output, "\n"), fence)
	}
	return b.String()
}

// HTML renders run as an HTML fragment.
func HTML(run *db.Run) template.HTML {
	return RenderMarkdown(Markdown(run))
}

// RenderMarkdown converts markdown text to HTML using goldmark. Raw HTML in the
// input is not passed through.
func RenderMarkdown(md string) template.HTML {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(md), &buf); err != nil {
		return template.HTML("<pre>" + template.HTMLEscapeString(md) + "</pre>")
	}
	return template.HTML(buf.String())
}

func row(b *strings.Builder, field, value string) {
	value = strings.ReplaceAll(value, "|", `\|`)
	fmt.Fprintf(b, "| %s | %s |\n", field, value)
}

// formatTime formats t as "2006-01-02 15:04:05" UTC.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05")
}
