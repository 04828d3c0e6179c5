package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html"
	"path/filepath"
	"strings"

	"harvest/internal/acquire"

	md "github.com/JohannesKaufmann/html-to-markdown"
)

// Formats lists the text formats Format accepts.
var Formats = []string{"html", "text", "markdown", "json", "csv"}

// Format renders items in the given text format.
func Format(items []acquire.Item, format string) (string, error) {
	switch strings.ToLower(format) {
	case "html":
		return toHTML(items), nil
	case "text":
		return toText(items), nil
	case "markdown":
		return toMarkdown(items)
	case "csv":
		return toCSV(items)
	case "json":
		b, err := json.MarshalIndent(items, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to marshal JSON: %w", err)
		}
		return string(b), nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", format)
	}
}

// InferFormat maps a file extension to a format name; "" when unknown.
func InferFormat(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".md", ".markdown":
		return "markdown"
	case ".json":
		return "json"
	case ".html", ".htm":
		return "html"
	case ".txt":
		return "text"
	case ".csv":
		return "csv"
	case ".xlsx":
		return "xlsx"
	default:
		return ""
	}
}

func toHTML(items []acquire.Item) string {
	var b strings.Builder
	b.WriteString("<ul>\n")
	for _, it := range items {
		text := it.Text
		if text == "" {
			text = it.URL
		}
		fmt.Fprintf(&b, "<li><a href=\"%s\">%s</a></li>\n", html.EscapeString(it.URL), html.EscapeString(text))
	}
	b.WriteString("</ul>\n")
	return b.String()
}

func toText(items []acquire.Item) string {
	var b strings.Builder
	for _, it := range items {
		b.WriteString(it.URL)
		b.WriteByte('\n')
	}
	return b.String()
}

func toMarkdown(items []acquire.Item) (string, error) {
	converter := md.NewConverter("", true, nil)
	markdown, err := converter.ConvertString(toHTML(items))
	if err != nil {
		return "", fmt.Errorf("failed to convert HTML to Markdown: %w", err)
	}
	return markdown, nil
}

func toCSV(items []acquire.Item) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Write([]string{"text", "link"})
	for _, it := range items {
		w.Write([]string{it.Text, it.URL})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("failed to write CSV: %w", err)
	}
	return buf.String(), nil
}
