// Package preflight provides readiness checks for the external tools and
// filesystem paths gifdupes depends on.
//
// These checks run in two contexts:
//   - The scan command calls RunAll before walking. A failed directory check
//     aborts the run; missing tools only degrade it.
//   - The "gifdupes status" command renders Snapshot to show tool versions,
//     directory health and the cache file.
//
// Checks for optional features are skipped when the feature is disabled.
package preflight
