package logging

import (
	"context"
	"log/slog"

	"gifdupes/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldRunID is the standardized key for the scan run identifier.
	FieldRunID = "run_id"
	// FieldPhase is the standardized key for the pipeline phase
	// (walk, fingerprint, prefilter, escalate, deep).
	FieldPhase = "phase"
	// FieldPair is the standardized key for the pair under comparison.
	FieldPair = "pair"
	// FieldLevel is the escalation level a verdict was reached at.
	FieldLevel = "level"
	// FieldVerdict carries MATCH, NO_MATCH or INCONCLUSIVE.
	FieldVerdict = "verdict"
	// FieldConfidence carries a verdict confidence in [0, 100].
	FieldConfidence = "confidence"
	// FieldEventType classifies a record for filtering.
	FieldEventType = "event_type"
	// FieldErrorHint tells the operator what to try next.
	FieldErrorHint = "error_hint"
	// FieldErrorCode carries the failure reason of a classified error.
	FieldErrorCode = "error_code"
	// FieldDecisionType names the decision a record explains.
	FieldDecisionType = "decision_type"
	// FieldProgressPercent carries scan progress in [0, 100].
	FieldProgressPercent = "progress_percent"
	// FieldAlert flags warnings or anomalies that should stand out in structured logs.
	FieldAlert = "alert"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 3)
	if id, ok := services.RunIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldRunID, id))
	}
	if phase, ok := services.PhaseFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldPhase, phase))
	}
	if pair, ok := services.PairFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldPair, pair))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
