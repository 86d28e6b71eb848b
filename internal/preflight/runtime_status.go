package preflight

import (
	"context"

	"gifdupes/internal/config"
	"gifdupes/internal/deps"
)

// Snapshot is the readiness view rendered by the status command.
type Snapshot struct {
	Tools       []deps.Status
	Directories []Result
	Cache       Result
	DecisionLog Result
}

// Ready reports whether a scan can start: directories are usable and every
// required tool resolved.
func (s Snapshot) Ready() bool {
	return len(Failed(s.Directories)) == 0 && len(deps.Missing(s.Tools)) == 0 && s.Cache.Passed
}

// Collect gathers tool, directory and store status for cfg.
func Collect(ctx context.Context, cfg *config.Config) Snapshot {
	if cfg == nil {
		return Snapshot{}
	}
	snap := Snapshot{
		Tools:       CheckSystemDeps(ctx, cfg),
		Directories: RunAll(cfg),
		Cache:       CheckFile("Comparison cache", cfg.Cache.Path, "not created yet"),
		DecisionLog: Result{Name: "Decision log", Passed: true, Detail: "Disabled"},
	}
	if cfg.DecisionLog.Enabled {
		snap.DecisionLog = CheckFile("Decision log", cfg.DecisionLog.Path, "not created yet")
	}
	return snap
}
