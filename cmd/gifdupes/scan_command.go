package main

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"gifdupes/internal/deps"
	"gifdupes/internal/dupe"
	"gifdupes/internal/logging"
	"gifdupes/internal/preflight"
	"gifdupes/internal/scan"
	"gifdupes/internal/services"
)

func newScanCommand(ctx *commandContext) *cobra.Command {
	var (
		output   string
		workers  int
		allPairs bool
	)

	cmd := &cobra.Command{
		Use:   "scan [roots...]",
		Short: "Find duplicate groups under the given directories",
		Long: `Walk the given directories (or scan.roots from the config), fingerprint every
media file and classify candidate pairs. Results are cached, so repeated scans
only do new work.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutputFormat(output)
			if err != nil {
				return err
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("workers") {
				if workers < 0 {
					return services.Wrap(services.ErrConfiguration, "cli", "scan", "--workers must be >= 0", nil)
				}
				cfg.Scan.Workers = workers
			}
			roots := args
			if len(roots) == 0 {
				roots = cfg.Scan.Roots
			}
			if len(roots) == 0 {
				return services.Wrap(services.ErrConfiguration, "cli", "scan", "no roots given and scan.roots is empty", nil)
			}

			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			if failed := preflight.Failed(preflight.RunAll(cfg)); len(failed) > 0 {
				details := make([]string, 0, len(failed))
				for _, r := range failed {
					details = append(details, r.Name+": "+r.Detail)
				}
				return services.Wrap(services.ErrConfiguration, "cli", "preflight", strings.Join(details, "; "), nil)
			}
			for _, missing := range deps.Missing(preflight.CheckSystemDeps(cmd.Context(), cfg)) {
				logging.WarnWithContext(logger, "media tool unavailable", "tool_unavailable",
					logging.String("tool", missing.Name),
					logging.String("command", missing.Command),
					logging.String(logging.FieldErrorHint, "install "+strings.ToLower(missing.Name)+" or set its binary in [fingerprint]"),
					logging.String(logging.FieldImpact, "affected files are compared on cheaper signals only"),
				)
			}

			coord, err := scan.Open(cfg, logger)
			if err != nil {
				return err
			}
			defer coord.Close()

			report, scanErr := coord.Scan(cmd.Context(), roots)
			if report.RunID == "" {
				return scanErr
			}
			var renderErr error
			switch format {
			case outputTable:
				renderScanReport(cmd.OutOrStdout(), report, allPairs)
			default:
				renderErr = writeStructured(cmd, format, report)
			}
			return errors.Join(scanErr, renderErr)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table, json or yaml")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "Worker count (0 = one per CPU)")
	cmd.Flags().BoolVar(&allPairs, "all", false, "List every compared pair, not only duplicate groups")
	return cmd
}

func renderScanReport(out io.Writer, report scan.Report, allPairs bool) {
	if report.CacheRebuilt {
		fmt.Fprintln(out, colorMaybe.Sprint("Comparison cache was corrupt and has been rebuilt; this run recomputed everything."))
	}
	if report.Cancelled {
		fmt.Fprintln(out, colorMaybe.Sprint("Scan interrupted; results cover finished work only."))
	}

	if len(report.Groups) == 0 {
		fmt.Fprintln(out, "No duplicates found.")
	}
	for i, group := range report.Groups {
		fmt.Fprintln(out, colorHeading.Sprintf("Group %d (%d files)", i+1, len(group.Files)))
		fmt.Fprintln(out, pairTable(group.Pairs))
	}

	if allPairs && len(report.Pairs) > 0 {
		fmt.Fprintln(out, colorHeading.Sprint("All compared pairs"))
		fmt.Fprintln(out, pairTable(report.Pairs))
	}

	if len(report.Excluded) > 0 {
		fmt.Fprintln(out, colorHeading.Sprint("Excluded files"))
		fmt.Fprintln(out, exclusionTable(report.Excluded))
	}
	if len(report.Degraded) > 0 {
		fmt.Fprintln(out, colorMaybe.Sprintf("%d degraded entries (tools unavailable or deep analysis skipped); rerun once tools are installed.", len(report.Degraded)))
	}

	s := report.Stats
	fmt.Fprintln(out, colorMuted.Sprintf(
		"%d files (%d excluded), %d candidates, %d compared, %d cache hits, %d deep, %d matching pairs in %d groups in %s",
		s.Files, s.Excluded, s.Candidates, s.Comparisons, s.CacheHits, s.DeepAnalyses, len(report.Matches()), s.DuplicateGroups, s.Duration.Round(time.Millisecond),
	))
}

func pairRow(pair scan.PairResult) []string {
	notes := append([]string(nil), pair.Annotations...)
	if pair.Cached {
		notes = append(notes, "cached")
	}
	return []string{
		displayPath(pair.A),
		displayPath(pair.B),
		verdictLabel(pair.Verdict),
		strconv.Itoa(pair.Confidence),
		levelLabel(pair.Level),
		strings.Join(notes, ", "),
	}
}

func levelLabel(level dupe.Level) string {
	return fmt.Sprintf("%d %s", int(level), level.String())
}

// displayPath shortens paths to their last two elements for table output.
func displayPath(path string) string {
	dir, base := filepath.Split(path)
	parent := filepath.Base(filepath.Clean(dir))
	if parent == "." || parent == string(filepath.Separator) || parent == "" {
		return base
	}
	return filepath.Join(parent, base)
}
