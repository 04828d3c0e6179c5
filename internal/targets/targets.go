// Package targets enumerates locators before a run starts: numbered listing
// pages, or a row list read from a spreadsheet or text file.
package targets

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Pages returns base+n for n in [from, to].
func Pages(base string, from, to int) ([]string, error) {
	if from < 1 || to < from {
		return nil, fmt.Errorf("invalid page range %d..%d", from, to)
	}
	out := make([]string, 0, to-from+1)
	for n := from; n <= to; n++ {
		out = append(out, base+strconv.Itoa(n))
	}
	return out, nil
}

// FromFile reads locators from the first column of path. The format follows
// the extension: .xlsx reads the first sheet and skips its header row, .csv
// skips a header row that is not a URL, anything else is one locator per
// line with blank lines and # comments ignored. max > 0 caps the result.
func FromFile(path string, max int) ([]string, error) {
	var (
		locs []string
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		locs, err = fromXLSX(path)
	case ".csv":
		locs, err = fromCSV(path)
	default:
		locs, err = fromLines(path)
	}
	if err != nil {
		return nil, err
	}
	if max > 0 && len(locs) > max {
		locs = locs[:max]
	}
	return locs, nil
}

func fromXLSX(path string) ([]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}
	if len(rows) > 0 {
		rows = rows[1:]
	}
	var out []string
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		if v := strings.TrimSpace(row[0]); v != "" {
			out = append(out, v)
		}
	}
	return out, nil
}

func fromCSV(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open targets file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	var out []string
	for first := true; ; first = false {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		if len(rec) == 0 {
			continue
		}
		v := strings.TrimSpace(rec[0])
		if v == "" || (first && !isURL(v)) {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func fromLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open targets file: %w", err)
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		v := strings.TrimSpace(sc.Text())
		if v == "" || strings.HasPrefix(v, "#") {
			continue
		}
		out = append(out, v)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return out, nil
}

func isURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.Scheme != "" && u.Host != ""
}
