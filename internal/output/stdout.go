package output

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/jakopako/tagprobe/internal/pipeline"
	"github.com/olekukonko/tablewriter"
)

// StdoutWriter prints a summary table of the report
type StdoutWriter struct {
	*WriterConfig
	out    io.Writer
	logger *slog.Logger
}

// NewStdoutWriter returns a new StdoutWriter
func NewStdoutWriter(wc *WriterConfig) *StdoutWriter {
	return &StdoutWriter{
		WriterConfig: wc,
		out:          os.Stdout,
		logger:       slog.With(slog.String("writer", string(STDOUT_WRITER_TYPE))),
	}
}

func (w *StdoutWriter) Write(report *pipeline.Report) error {
	w.logger.Info("printing analysis summary")

	table := tablewriter.NewWriter(w.out)
	header := []string{"ID", "Page Type", "Conf", "Predicted", "Correct", "Missed", "Wrong", "Accuracy", "Time (ms)"}
	if w.Details {
		header = append(header, "Missed Events", "Wrong Events")
	}
	table.Header(header)

	for _, r := range report.Results {
		pageType := string(r.PageType)
		if r.HasConflict {
			pageType += " (!)"
		}
		row := []string{
			r.ID,
			pageType,
			strconv.Itoa(r.PageTypeConfidence),
			strconv.Itoa(len(r.Predicted)),
			strconv.Itoa(len(r.Correct)),
			strconv.Itoa(len(r.Missed)),
			strconv.Itoa(len(r.Wrong)),
			fmt.Sprintf("%.1f%%", r.Accuracy),
			strconv.FormatInt(r.ProcessingTimeMS, 10),
		}
		if w.Details {
			row = append(row, strings.Join(r.Missed, ", "), strings.Join(r.Wrong, ", "))
		}
		if err := table.Append(row); err != nil {
			return err
		}
	}
	for _, e := range report.Exclusions {
		row := []string{e.UnitID, "excluded (" + string(e.Phase) + ")", "-", "-", "-", "-", "-", "-", "-"}
		if w.Details {
			row = append(row, e.Reason, "")
		}
		if err := table.Append(row); err != nil {
			return err
		}
	}

	footer := []string{"total", fmt.Sprintf("%d/%d analysed", len(report.Results), report.Total), "", "", "", "", "", fmt.Sprintf("%.1f%%", report.MeanAccuracy()), ""}
	if w.Details {
		footer = append(footer, "", "")
	}
	table.Footer(footer)
	return table.Render()
}
