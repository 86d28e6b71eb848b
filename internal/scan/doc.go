// Package scan coordinates a duplicate scan: it walks the roots, fingerprints
// files on a bounded pool, generates candidates, runs the escalation matcher
// with the comparison cache in front of it and groups the matches.
//
// Only configuration errors and cache store failures abort a run. Per-file
// and per-pair failures are recorded in the Report.
package scan
