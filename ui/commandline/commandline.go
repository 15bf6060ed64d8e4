// Copyright 2023-2026 The Analyzer Authors. SPDX-License-Identifier: Apache-2.0

// Package commandline contains convenience UI tools for training sessions run from the command line:
// a progress bar for each pass, a summary table of the epochs and the parsing of hyperparameter settings.
package commandline

import (
	"fmt"
	"io"

	"github.com/analyzer-lab/analyzer/pkg/session"
	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle    = lipgloss.NewStyle().Faint(false).PaddingLeft(1).PaddingRight(1)
	evenRowStyle   = lipgloss.NewStyle().Faint(true).PaddingLeft(1).PaddingRight(1)
)

func newTable() *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == lgtable.HeaderRow:
				return headerRowStyle
			case row%2 == 0:
				return evenRowStyle
			default:
				return oddRowStyle
			}
		})
}

// SummaryTable renders one row per epoch of history.
func SummaryTable(history []session.EpochMetrics) string {
	table := newTable().Headers("Epoch", "Train Loss", "Valid Loss", "Accuracy", "Examples", "Train Time", "Valid Time")
	for _, m := range history {
		table.Row(
			fmt.Sprintf("%d", m.Epoch),
			fmt.Sprintf("%.4f", m.TrainLoss),
			fmt.Sprintf("%.4f", m.ValidLoss),
			fmt.Sprintf("%.2f%%", 100*m.Accuracy),
			fmt.Sprintf("%s / %s", humanize.Comma(int64(m.TrainExamples)), humanize.Comma(int64(m.ValidExamples))),
			FormatDuration(m.TrainDuration),
			FormatDuration(m.ValidDuration),
		)
	}
	return table.String()
}

// PrintSummary writes the SummaryTable of history to w, followed by where the traces were exported.
func PrintSummary(w io.Writer, history []session.EpochMetrics) {
	if len(history) == 0 {
		return
	}
	_, _ = fmt.Fprintln(w, SummaryTable(history))
	var last string
	for _, m := range history {
		if m.TracePath != "" && m.TracePath != last {
			_, _ = fmt.Fprintf(w, "Trace: %s\n", m.TracePath)
			last = m.TracePath
		}
	}
}
