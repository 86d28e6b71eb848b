package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"gifdupes/internal/config"
	"gifdupes/internal/decisionlog"
	"gifdupes/internal/preflight"
)

const recentRunLimit = 5

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var runs int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show tool availability, directory health and recent scans",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			snap := preflight.Collect(cmd.Context(), cfg)
			renderSnapshot(out, snap)

			if !cfg.DecisionLog.Enabled {
				return nil
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			log, err := decisionlog.Open(cfg.DecisionLog.Path, logger)
			if err != nil {
				fmt.Fprintln(out, renderStatusLine("Recent runs", statusWarn, err.Error()))
				return nil
			}
			defer log.Close()
			recent, err := log.RecentRuns(cmd.Context(), runs)
			if err != nil {
				return err
			}
			renderRecentRuns(out, cfg, recent)
			return nil
		},
	}
	cmd.Flags().IntVarP(&runs, "runs", "n", recentRunLimit, "Number of recent runs to list")
	return cmd
}

func renderSnapshot(out io.Writer, snap preflight.Snapshot) {
	for _, line := range renderSectionHeader("Tools") {
		fmt.Fprintln(out, line)
	}
	for _, tool := range snap.Tools {
		kind := statusOK
		detail := tool.Path
		if tool.Version != "" {
			detail = tool.Version
		}
		if !tool.Available {
			kind = statusError
			if tool.Optional {
				kind = statusWarn
			}
			detail = tool.Detail
		}
		fmt.Fprintln(out, renderStatusLine(tool.Name, kind, detail))
	}

	fmt.Fprintln(out)
	for _, line := range renderSectionHeader("Storage") {
		fmt.Fprintln(out, line)
	}
	for _, dir := range snap.Directories {
		fmt.Fprintln(out, renderStatusLine(dir.Name, resultKind(dir), dir.Detail))
	}
	fmt.Fprintln(out, renderStatusLine(snap.Cache.Name, resultKind(snap.Cache), snap.Cache.Detail))
	kind := resultKind(snap.DecisionLog)
	if snap.DecisionLog.Detail == "Disabled" {
		kind = statusInfo
	}
	fmt.Fprintln(out, renderStatusLine(snap.DecisionLog.Name, kind, snap.DecisionLog.Detail))

	fmt.Fprintln(out)
	if snap.Ready() {
		fmt.Fprintln(out, renderStatusLine("Ready", statusOK, "scans can run"))
	} else {
		fmt.Fprintln(out, renderStatusLine("Ready", statusError, "fix the errors above"))
	}
}

func renderRecentRuns(out io.Writer, cfg *config.Config, runs []decisionlog.Run) {
	fmt.Fprintln(out)
	for _, line := range renderSectionHeader("Recent runs") {
		fmt.Fprintln(out, line)
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, statusIndent+"No runs recorded")
		return
	}
	generation := cfg.Generation()
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		gen := "current"
		if run.Generation != generation {
			gen = "older"
		}
		rows = append(rows, []string{
			formatTime(run.StartedAt),
			run.Status,
			strings.Join(run.Roots, ", "),
			strconv.Itoa(run.Files),
			strconv.Itoa(run.Comparisons),
			strconv.Itoa(run.DeepAnalyses),
			strconv.Itoa(run.DuplicateGroups),
			gen,
		})
	}
	fmt.Fprintln(out, renderTable(runColumns, rows))
}

func resultKind(r preflight.Result) statusKind {
	if r.Passed {
		return statusOK
	}
	return statusError
}
