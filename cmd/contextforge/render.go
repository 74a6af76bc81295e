package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/contextforge/contextforge/internal/analytics"
)

type tableRow = table.Row

func rowOf(values ...any) tableRow {
	return tableRow(values)
}

func (c *cli) newTable(title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(c.out)
	t.SetTitle(title)
	t.SetStyle(table.StyleRounded)

	t.Style().Title.Align = text.AlignCenter
	t.Style().Format.Header = text.FormatDefault

	return t
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) printDegraded(status analytics.Status, reads []string) {
	if status != analytics.StatusDegraded {
		return
	}
	fmt.Fprintf(c.out, "Warning: partial data, unavailable reads: %s\n", strings.Join(reads, ", "))
}
