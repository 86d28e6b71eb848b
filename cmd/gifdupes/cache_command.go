package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"gifdupes/internal/compcache"
	"gifdupes/internal/scan"
	"gifdupes/internal/services"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the comparison cache",
	}
	cacheCmd.AddCommand(newCacheStatsCommand(ctx))
	cacheCmd.AddCommand(newCachePruneCommand(ctx))
	cacheCmd.AddCommand(newCacheRebuildCommand(ctx))
	return cacheCmd
}

// withCache opens the cache for the duration of fn.
func withCache(ctx *commandContext, fn func(*compcache.Store) error) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := ctx.ensureLogger()
	if err != nil {
		return err
	}
	store, err := scan.OpenCache(cfg, logger)
	if err != nil {
		return err
	}
	if err := fn(store); err != nil {
		_ = store.Close()
		return err
	}
	return store.Close()
}

func newCacheStatsCommand(ctx *commandContext) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show comparison cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutputFormat(output)
			if err != nil {
				return err
			}
			return withCache(ctx, func(store *compcache.Store) error {
				stats := store.Stats()
				if format != outputTable {
					return writeStructured(cmd, format, stats)
				}
				rows := [][]string{
					{"Path", stats.Path},
					{"Schema version", fmt.Sprintf("%d", stats.SchemaVersion)},
					{"Generation", stats.Generation},
					{"Fingerprints", fmt.Sprintf("%d", stats.Fingerprints)},
					{"Comparisons", fmt.Sprintf("%d", stats.Comparisons)},
					{"Size", humanize.IBytes(uint64(max(stats.SizeBytes, 0)))},
					{"Last pruned", formatTime(stats.LastPrunedAt)},
					{"Rebuilt on open", yesNo(stats.Rebuilt)},
				}
				if stats.Rebuilt {
					rows = append(rows, []string{"Rebuild reason", stats.RebuildReason})
					if stats.BackupPath != "" {
						rows = append(rows, []string{"Backup", stats.BackupPath})
					}
				}
				if stats.Migrated {
					rows = append(rows, []string{"Migrated", "yes (legacy format)"})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(fieldColumns, rows))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table, json or yaml")
	return cmd
}

func newCachePruneCommand(ctx *commandContext) *cobra.Command {
	var maxAgeDays int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Drop cache entries older than the configured age",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			maxAge := cfg.CacheMaxAge()
			if cmd.Flags().Changed("max-age-days") {
				if maxAgeDays <= 0 {
					return services.Wrap(services.ErrConfiguration, "cli", "cache prune", "--max-age-days must be positive", nil)
				}
				maxAge = time.Duration(maxAgeDays) * 24 * time.Hour
			}
			return withCache(ctx, func(store *compcache.Store) error {
				res, err := store.Prune(cmd.Context(), maxAge)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d fingerprints and %d comparisons (missing files or older than %s)\n",
					res.Fingerprints, res.Comparisons, maxAge)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&maxAgeDays, "max-age-days", 0, "Override cache.max_age_days for this prune")
	return cmd
}

func newCacheRebuildCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Discard every cached fingerprint and comparison",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(ctx, func(store *compcache.Store) error {
				before := store.Stats()
				if err := store.Rebuild(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d fingerprints and %d comparisons from %s\n",
					before.Fingerprints, before.Comparisons, store.Path())
				return nil
			})
		},
	}
}


func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return "never"
	}
	return ts.Local().Format("2006-01-02 15:04:05")
}
