// Package decisionlog records scan runs and escalation-trigger decisions in
// an append-only SQLite database.
//
// The log is diagnostic: it exists so trigger thresholds can be tuned
// against real outcomes. Callers treat write failures as warnings and never
// let them affect a verdict. Schema changes bump schemaVersion; an older
// database is rejected with ErrSchemaMismatch and can simply be deleted.
package decisionlog
