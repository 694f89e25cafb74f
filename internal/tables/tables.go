// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tables renders the summaries printed by the command-line tools, using lipgloss tables.
package tables

import (
	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)
	highlightRowStyle = lipgloss.NewStyle().
				Foreground(lipgloss.AdaptiveColor{Light: "9", Dark: "9"}).
				Bold(true).
				PaddingLeft(1).PaddingRight(1)
)

// Table with alternating row styles, where some rows can be highlighted (e.g.: totals or problems).
type Table struct {
	table       *lgtable.Table
	count       int
	highlighted map[int]bool
}

// New creates a table with the given headers (it can be empty). Columns are aligned with the
// given alignments: the last one is used for any extra column, and the default is lipgloss.Left.
func New(headers []string, alignments ...lipgloss.Position) *Table {
	t := &Table{highlighted: make(map[int]bool)}
	t.table = lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if row < 0 {
				s = headerRowStyle
				return
			}
			switch {
			case t.highlighted[row]:
				s = highlightRowStyle
			case row%2 == 0:
				s = oddRowStyle
			default:
				s = evenRowStyle
			}
			alignment := lipgloss.Left
			if col < len(alignments) {
				alignment = alignments[col]
			} else if len(alignments) > 0 {
				alignment = alignments[len(alignments)-1]
			}
			s = s.Align(alignment)
			return
		})
	if len(headers) > 0 {
		t.table.Headers(headers...)
	}
	return t
}

// Row appends a row, highlighted or not.
func (t *Table) Row(highlight bool, row ...string) *Table {
	if highlight {
		t.highlighted[t.count] = true
	}
	t.table.Row(row...)
	t.count++
	return t
}

// NumRows returns the number of rows added so far, not counting the header.
func (t *Table) NumRows() int { return t.count }

// String renders the table.
func (t *Table) String() string {
	return t.table.String()
}
