// Package output renders api responses and cache bookkeeping for the CLI.
package output

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"gopkg.in/yaml.v3"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatMarkdown Format = "markdown"
	FormatRaw      Format = "raw"
)

// Tabular is implemented by views that can render as rows.
type Tabular interface {
	TableHeader() table.Row
	TableRows() []table.Row
}

// Footer is optionally implemented by tabular views with a summary row.
type Footer interface {
	TableFooter() table.Row
}

// Raw is implemented by views carrying the verbatim upstream body.
type Raw interface {
	RawBody() []byte
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatYAML), "yml":
		return FormatYAML, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	case string(FormatRaw):
		return FormatRaw, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// Render formats value. Table and markdown need a Tabular value; raw needs a Raw one
// and falls back to JSON otherwise.
func Render(format Format, value any) (string, error) {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(value, "", "  ")
		if err != nil {
			return "", err
		}
		return string(data), nil
	case FormatYAML:
		data, err := yaml.Marshal(toPlain(value))
		if err != nil {
			return "", err
		}
		return strings.TrimRight(string(data), "\n"), nil
	case FormatRaw:
		if raw, ok := value.(Raw); ok {
			return string(raw.RawBody()), nil
		}
		return Render(FormatJSON, value)
	case FormatMarkdown:
		tab, ok := value.(Tabular)
		if !ok {
			return "", fmt.Errorf("%T cannot be rendered as markdown", value)
		}
		return renderMarkdown(tab), nil
	default:
		tab, ok := value.(Tabular)
		if !ok {
			return "", fmt.Errorf("%T cannot be rendered as a table", value)
		}
		return renderTable(tab), nil
	}
}

func renderTable(tab Tabular) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(tab.TableHeader())
	for _, row := range tab.TableRows() {
		t.AppendRow(row)
	}
	if footer, ok := tab.(Footer); ok {
		if row := footer.TableFooter(); row != nil {
			t.AppendFooter(row)
		}
	}
	return t.Render()
}

func renderMarkdown(tab Tabular) string {
	var sb strings.Builder

	header := tab.TableHeader()
	writeMarkdownRow(&sb, header)
	sb.WriteString("|")
	for range header {
		sb.WriteString("---|")
	}
	sb.WriteString("\n")
	for _, row := range tab.TableRows() {
		writeMarkdownRow(&sb, row)
	}
	if footer, ok := tab.(Footer); ok {
		if row := footer.TableFooter(); row != nil {
			writeMarkdownRow(&sb, row)
		}
	}
	return sb.String()
}

func writeMarkdownRow(sb *strings.Builder, row table.Row) {
	sb.WriteString("|")
	for _, cell := range row {
		sb.WriteString(" ")
		sb.WriteString(escapeMarkdownCell(fmt.Sprint(cell)))
		sb.WriteString(" |")
	}
	sb.WriteString("\n")
}

func escapeMarkdownCell(value string) string {
	value = strings.ReplaceAll(value, "|", "\\|")
	return strings.ReplaceAll(value, "\n", " ")
}

// toPlain round-trips value through JSON so yaml output honors json tags.
func toPlain(value any) any {
	data, err := json.Marshal(value)
	if err != nil {
		return value
	}
	var plain any
	if err := json.Unmarshal(data, &plain); err != nil {
		return value
	}
	return plain
}
