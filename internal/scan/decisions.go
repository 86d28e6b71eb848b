package scan

import (
	"context"
	"time"

	"gifdupes/internal/decisionlog"
	"gifdupes/internal/dupe"
	"gifdupes/internal/logging"
	"gifdupes/internal/prefilter"
)

const decisionLogTimeout = 10 * time.Second

// recordDecisions appends trigger decisions with their final verdicts.
// Failures are logged; the decision log never affects a verdict.
func (c *Coordinator) recordDecisions(ctx context.Context, runID string, decisions []prefilter.TriggerDecision, finals map[dupe.PairKey]dupe.ComparisonResult, inputs map[dupe.PairKey]pending) {
	now := c.now()
	rows := make([]decisionlog.Decision, 0, len(decisions))
	for _, d := range decisions {
		final, ok := finals[d.Input.Pair]
		if !ok {
			continue
		}
		a, b := d.Input.Pair.Paths()
		rows = append(rows, decisionlog.Decision{
			PathA:              a,
			PathB:              b,
			CandidateRatio:     d.Input.CandidateRatio,
			ProvisionalLevel:   int(d.Input.Provisional.LevelReached),
			ProvisionalVerdict: string(d.Input.Provisional.Verdict),
			Level3Agreed:       inputs[d.Input.Pair].outcome.PriorBoost > 0,
			CollectionSize:     d.Input.CollectionSize,
			Score:              d.Score,
			Threshold:          d.Threshold,
			Admitted:           d.Admitted,
			Reason:             d.Reason,
			FinalVerdict:       string(final.Verdict),
			FinalConfidence:    final.Confidence,
			DecidedAt:          now,
		})
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), decisionLogTimeout)
	defer cancel()
	if err := c.decisions.RecordDecisions(writeCtx, runID, rows); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, c.logger), "trigger decisions not logged", "decision_log_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "delete "+c.decisions.Path()+" if the schema is outdated"),
			logging.String(logging.FieldImpact, "threshold tuning data missing for this run"),
		)
		return
	}
	logging.WithContext(ctx, c.logger).Debug("trigger decisions logged", logging.Int("decisions", len(rows)))
}

// recordRun appends the run summary to the decision log.
func (c *Coordinator) recordRun(ctx context.Context, report Report, runErr error) {
	status := "completed"
	switch {
	case report.Cancelled:
		status = "cancelled"
	case runErr != nil:
		status = "failed"
	}
	run := decisionlog.Run{
		RunID:           report.RunID,
		StartedAt:       report.StartedAt,
		FinishedAt:      report.FinishedAt,
		Roots:           report.Roots,
		Generation:      c.cfg.Generation(),
		Files:           report.Stats.Files,
		Excluded:        report.Stats.Excluded,
		Candidates:      report.Stats.Candidates,
		Comparisons:     report.Stats.Comparisons,
		CacheHits:       report.Stats.CacheHits,
		DeepAnalyses:    report.Stats.DeepAnalyses,
		Degraded:        report.Stats.Degraded,
		DuplicateGroups: report.Stats.DuplicateGroups,
		CacheRebuilt:    report.CacheRebuilt,
		Status:          status,
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), decisionLogTimeout)
	defer cancel()
	if err := c.decisions.RecordRun(writeCtx, run); err != nil {
		logging.WarnWithContext(c.logger, "scan run not logged", "decision_log_failed",
			logging.String(logging.FieldRunID, report.RunID),
			logging.Error(err),
			logging.String(logging.FieldImpact, "run history incomplete"),
		)
	}
}
