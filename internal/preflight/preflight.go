package preflight

import (
	"path/filepath"

	"gifdupes/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes the directory checks applicable to cfg.
func RunAll(cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	// Cache directory (always checked)
	results = append(results, CheckDirectoryAccess("Cache directory", cfg.Paths.CacheDir))

	if dir := filepath.Dir(cfg.Cache.Path); dir != cfg.Paths.CacheDir {
		results = append(results, CheckDirectoryAccess("Comparison cache directory", dir))
	}
	if cfg.Paths.TempDir != "" {
		results = append(results, CheckDirectoryAccess("Temp directory", cfg.Paths.TempDir))
	}
	if cfg.Logging.File {
		results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))
	}
	if cfg.DecisionLog.Enabled {
		if dir := filepath.Dir(cfg.DecisionLog.Path); dir != cfg.Paths.CacheDir {
			results = append(results, CheckDirectoryAccess("Decision log directory", dir))
		}
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
