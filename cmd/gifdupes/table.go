package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"gifdupes/internal/dupe"
	"gifdupes/internal/scan"
)

// maxPathWidth bounds path columns; longer paths wrap at separators.
const maxPathWidth = 60

type columnKind int

const (
	columnText columnKind = iota
	columnNumber
	columnPath
)

type column struct {
	title string
	kind  columnKind
}

var (
	pairColumns = []column{
		{"File A", columnPath},
		{"File B", columnPath},
		{"Verdict", columnText},
		{"Conf", columnNumber},
		{"Level", columnText},
		{"Notes", columnText},
	}
	exclusionColumns = []column{
		{"File", columnPath},
		{"Reason", columnText},
		{"Detail", columnText},
	}
	fieldColumns = []column{
		{"Field", columnText},
		{"Value", columnText},
	}
	runColumns = []column{
		{"Started", columnText},
		{"Status", columnText},
		{"Roots", columnPath},
		{"Files", columnNumber},
		{"Compared", columnNumber},
		{"Deep", columnNumber},
		{"Groups", columnNumber},
		{"Settings", columnText},
	}
)

// pairTable lists comparison results, one row per pair.
func pairTable(pairs []scan.PairResult) string {
	rows := make([][]string, 0, len(pairs))
	for _, pair := range pairs {
		rows = append(rows, pairRow(pair))
	}
	return renderTable(pairColumns, rows)
}

// exclusionTable lists files left out of a scan and why.
func exclusionTable(excluded []dupe.Exclusion) string {
	rows := make([][]string, 0, len(excluded))
	for _, ex := range excluded {
		rows = append(rows, []string{ex.Path, ex.Reason, ex.Detail})
	}
	return renderTable(exclusionColumns, rows)
}

// renderTable draws rows in the rounded style. Numbers align right and path
// columns wrap at maxPathWidth. Short rows are padded with empty cells.
func renderTable(columns []column, rows [][]string) string {
	if len(columns) == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(columns))
	configs := make([]table.ColumnConfig, len(columns))
	for i, col := range columns {
		header[i] = col.title
		configs[i] = table.ColumnConfig{Number: i + 1, Align: text.AlignLeft, AlignHeader: text.AlignLeft}
		switch col.kind {
		case columnNumber:
			configs[i].Align = text.AlignRight
		case columnPath:
			configs[i].WidthMax = maxPathWidth
			configs[i].WidthMaxEnforcer = text.WrapSoft
		}
	}
	tw.AppendHeader(header)
	tw.SetColumnConfigs(configs)

	for _, row := range rows {
		r := make(table.Row, len(columns))
		for i := range columns {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}
	return tw.Render()
}
