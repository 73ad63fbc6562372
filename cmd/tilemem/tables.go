// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/pkg/errors"
)

// status of a scenario run, which selects how its row is rendered.
type status int

const (
	statusPassed status = iota
	statusSkipped
	statusFailed
)

func statusOf(r result) status {
	switch {
	case r.Err == nil:
		return statusPassed
	case errors.Is(r.Err, errSkipped):
		return statusSkipped
	}
	return statusFailed
}

// String is the text of the "Result" column.
func (s status) String() string {
	switch s {
	case statusPassed:
		return "ok"
	case statusSkipped:
		return "skipped"
	}
	return "FAILED"
}

var (
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	headerStyle = cellStyle.Bold(true).Underline(true).Align(lipgloss.Center)
	titleStyle  = lipgloss.NewStyle().Bold(true).Margin(1, 0, 1, 2)

	statusStyles = map[status]lipgloss.Style{
		statusPassed:  cellStyle.Foreground(lipgloss.AdaptiveColor{Light: "28", Dark: "42"}),
		statusSkipped: cellStyle.Faint(true).Italic(true),
		statusFailed:  cellStyle.Foreground(lipgloss.AdaptiveColor{Light: "160", Dark: "203"}).Bold(true),
	}
)

// reportTable renders one row per scenario: the status column is colored by the row status, and
// failed rows are colored entirely.
type reportTable struct {
	table      *lgtable.Table
	statuses   []status
	statusCol  int
	alignments []lipgloss.Position
}

// newReportTable with the given headers, one of them being the status column.
// Columns without an alignment are left aligned.
func newReportTable(headers []string, statusCol int, alignments ...lipgloss.Position) *reportTable {
	t := &reportTable{statusCol: statusCol, alignments: alignments}
	t.table = lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Faint(true)).
		Headers(headers...).
		StyleFunc(t.style)
	return t
}

func (t *reportTable) style(row, col int) lipgloss.Style {
	if row < 0 {
		return headerStyle
	}
	s := cellStyle
	if row >= len(t.statuses) {
		return s
	}
	if st := t.statuses[row]; st == statusFailed || col == t.statusCol {
		s = statusStyles[st]
	}
	if col < len(t.alignments) {
		s = s.Align(t.alignments[col])
	}
	return s
}

// Row appends the cells of a scenario with the given status.
func (t *reportTable) Row(st status, cells ...string) {
	t.statuses = append(t.statuses, st)
	t.table.Row(cells...)
}

// Render the table.
func (t *reportTable) Render() string {
	return t.table.Render()
}
