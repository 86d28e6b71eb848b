package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"gifdupes/internal/dupe"
	"gifdupes/internal/services"
)

type outputFormat string

const (
	outputTable outputFormat = "table"
	outputJSON  outputFormat = "json"
	outputYAML  outputFormat = "yaml"
)

func parseOutputFormat(value string) (outputFormat, error) {
	switch f := outputFormat(strings.ToLower(strings.TrimSpace(value))); f {
	case outputTable, outputJSON, outputYAML:
		return f, nil
	case "":
		return outputTable, nil
	default:
		return "", services.Wrap(services.ErrConfiguration, "cli", "output", fmt.Sprintf("unsupported output format %q (table, json, yaml)", value), nil)
	}
}

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeYAML encodes v as YAML to the command's stdout.
func writeYAML(cmd *cobra.Command, v any) error {
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func writeStructured(cmd *cobra.Command, format outputFormat, v any) error {
	if format == outputYAML {
		return writeYAML(cmd, v)
	}
	return writeJSON(cmd, v)
}

// configureColor disables colour unless out is a terminal.
func configureColor(out io.Writer, disabled bool) {
	if disabled || os.Getenv("NO_COLOR") != "" {
		color.NoColor = true
		return
	}
	f, ok := out.(*os.File)
	if !ok {
		color.NoColor = true
		return
	}
	color.NoColor = !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd())
}

var (
	colorMatch   = color.New(color.FgGreen, color.Bold)
	colorNoMatch = color.New(color.FgRed)
	colorMaybe   = color.New(color.FgYellow)
	colorMuted   = color.New(color.Faint)
	colorHeading = color.New(color.FgCyan, color.Bold)
)

func verdictLabel(v dupe.Verdict) string {
	switch v {
	case dupe.Match:
		return colorMatch.Sprint(string(v))
	case dupe.NoMatch:
		return colorNoMatch.Sprint(string(v))
	default:
		return colorMaybe.Sprint(string(v))
	}
}
