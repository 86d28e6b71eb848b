// Package matcher classifies file pairs with a six-level escalation ladder.
//
// Evaluate runs the cheap levels 1 to 5 and stops at the first verdict.
// Levels 1 and 2 matches and level 3 mismatches are definitive. Level 4 and
// level 5 verdicts are provisional: Deep may replace them with the result of
// the frame-level comparison when the trigger model admits the pair.
//
// Deep frame signals are extracted at most once per file per run; call Reset
// between runs.
package matcher
