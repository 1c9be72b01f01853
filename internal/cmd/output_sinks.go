package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/stdlens/stdlens/internal/output"
)

type outputSink struct {
	writer io.Writer
	close  func() error
	path   string
}

func outputExtension(format output.Format) string {
	switch format {
	case output.FormatJSON, output.FormatRaw:
		return "json"
	case output.FormatYAML:
		return "yaml"
	case output.FormatMarkdown:
		return "md"
	default:
		return "txt"
	}
}

var nonFilename = regexp.MustCompile(`[^a-z0-9._-]+`)

func sanitizeFilename(value string) string {
	clean := strings.ToLower(strings.TrimSpace(value))
	clean = nonFilename.ReplaceAllString(clean, "-")
	clean = strings.Trim(clean, "-.")
	if clean == "" {
		return "output"
	}
	return clean
}

func resolveOutputFormat(cmd *cobra.Command) (output.Format, error) {
	value, err := cmd.Flags().GetString("output-format")
	if err != nil {
		return "", err
	}
	return output.ParseFormat(value)
}

func resolveOutputTargets(cmd *cobra.Command) (outPath string, outDir string, err error) {
	outPath, err = cmd.Flags().GetString("out")
	if err != nil {
		return "", "", err
	}
	outDir, err = cmd.Flags().GetString("out-dir")
	if err != nil {
		return "", "", err
	}
	if strings.TrimSpace(outPath) != "" && strings.TrimSpace(outDir) != "" {
		return "", "", fmt.Errorf("--out and --out-dir are mutually exclusive")
	}
	return strings.TrimSpace(outPath), strings.TrimSpace(outDir), nil
}

func openSink(path string) (*outputSink, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || trimmed == "-" {
		return &outputSink{writer: os.Stdout, close: func() error { return nil }, path: "-"}, nil
	}

	if err := os.MkdirAll(filepath.Dir(trimmed), 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	file, err := os.Create(trimmed)
	if err != nil {
		return nil, err
	}
	return &outputSink{writer: file, close: file.Close, path: trimmed}, nil
}

func ensureOutDir(dir string) (string, error) {
	clean := strings.TrimSpace(dir)
	if clean == "" {
		return "", nil
	}
	if err := os.MkdirAll(clean, 0755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	abs, err := filepath.Abs(clean)
	if err != nil {
		return clean, nil
	}
	return abs, nil
}

// writeView renders value in format and writes it to --out, --out-dir/<name>.<ext> or stdout.
func writeView(cmd *cobra.Command, name string, format output.Format, value any) error {
	outPath, outDir, err := resolveOutputTargets(cmd)
	if err != nil {
		return err
	}
	if outDir != "" {
		outDir, err = ensureOutDir(outDir)
		if err != nil {
			return err
		}
		outPath = filepath.Join(outDir, fmt.Sprintf("%s.%s", sanitizeFilename(name), outputExtension(format)))
	}

	rendered, err := output.Render(format, value)
	if err != nil {
		return err
	}

	sink, err := openSink(outPath)
	if err != nil {
		return err
	}
	defer func() { _ = sink.close() }()

	if sink.path == "-" && outPath == "" {
		sink.writer = cmd.OutOrStdout()
	}
	_, err = fmt.Fprintln(sink.writer, rendered)
	return err
}

// addOutputFlags registers the shared --output-format, --out and --out-dir flags.
func addOutputFlags(cmd *cobra.Command, defaultFormat output.Format) {
	cmd.Flags().String("output-format", string(defaultFormat), "Output format: table|json|yaml|markdown|raw")
	cmd.Flags().String("out", "", "Write output to a file (default stdout)")
	cmd.Flags().String("out-dir", "", "Write output to a directory")
}

// deletionResult reports a purge or reset, real or dry-run.
type deletionResult struct {
	Matched int   `json:"matched"`
	Deleted int64 `json:"deleted"`
	DryRun  bool  `json:"dry_run"`

	noun string
}

func (r deletionResult) TableHeader() table.Row { return table.Row{"Result"} }

func (r deletionResult) TableRows() []table.Row {
	if r.DryRun {
		return []table.Row{{fmt.Sprintf("Would delete %d %s(s)", r.Matched, r.noun)}}
	}
	return []table.Row{{fmt.Sprintf("Deleted %d/%d %s(s)", r.Deleted, r.Matched, r.noun)}}
}
