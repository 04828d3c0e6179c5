// Package output writes collected items to their destination and renders
// the end-of-run summary.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"harvest/internal/acquire"
	"harvest/internal/formatter"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/xuri/excelize/v2"
)

// LinksHeader heads the first column of exported workbooks. The download
// command reads that column back.
const LinksHeader = "Links"

// Write renders items as format into dest. An empty dest writes to stdout;
// an empty format is inferred from dest and falls back to text.
func Write(items []acquire.Item, dest, format string, stdout io.Writer) error {
	if format == "" {
		format = formatter.InferFormat(dest)
	}
	if format == "" {
		format = "text"
	}

	if strings.EqualFold(format, "xlsx") {
		if dest == "" {
			return fmt.Errorf("xlsx output needs a file destination")
		}
		return WriteXLSX(items, dest)
	}

	content, err := formatter.Format(items, format)
	if err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}
	if dest == "" {
		_, err := io.WriteString(stdout, content)
		return err
	}
	if err := os.WriteFile(dest, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write to file: %w", err)
	}
	return nil
}

// WriteXLSX saves items to a single-sheet workbook: links in column A under
// LinksHeader, link text in column B.
func WriteXLSX(items []acquire.Item, path string) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	if err := f.SetSheetRow(sheet, "A1", &[]any{LinksHeader, "Text"}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for i, it := range items {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &[]any{it.URL, it.Text}); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

// Summary prints per-source outcome counts and, when any, the failed targets.
func Summary(w io.Writer, res acquire.AggregateResult) {
	type counts struct{ success, empty, failed, attempts int }
	var order []string
	bySource := map[string]*counts{}
	for _, o := range res.Outcomes {
		name := o.Source
		if name == "" {
			name = "-"
		}
		c, ok := bySource[name]
		if !ok {
			c = &counts{}
			bySource[name] = c
			order = append(order, name)
		}
		switch o.Kind {
		case acquire.KindSuccess:
			c.success++
		case acquire.KindEmpty:
			c.empty++
		case acquire.KindFailed:
			c.failed++
		}
		c.attempts += len(o.Attempts)
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Source", "Success", "Empty", "Failed", "Attempts"})
	for _, name := range order {
		c := bySource[name]
		t.AppendRow(table.Row{name, c.success, c.empty, c.failed, c.attempts})
	}
	t.AppendFooter(table.Row{"Total", res.Count(acquire.KindSuccess), res.Count(acquire.KindEmpty), res.Count(acquire.KindFailed), res.TotalAttempts()})
	t.SetStyle(table.StyleRounded)
	t.Render()

	failed := res.Failed()
	if len(failed) == 0 {
		return
	}
	ft := table.NewWriter()
	ft.SetOutputMirror(w)
	ft.AppendHeader(table.Row{"#", "Target", "Error"})
	for _, o := range failed {
		ft.AppendRow(table.Row{o.Target.Index, o.Target.Locator, fmt.Sprint(o.Err)})
	}
	ft.SetStyle(table.StyleRounded)
	ft.Render()
}
