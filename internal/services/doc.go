// Package services defines shared utilities consumed by the scan pipeline
// and its external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp scan run IDs, pipeline phases, and pair keys
//     for logging and tracing.
//   - Structured error markers plus the Wrap helper that classify failures
//     into the recoverable (per file or per pair) and fatal (run level) kinds.
//   - Subpackages wrapping external tools (ffmpeg) behind narrow interfaces so
//     their failures surface with typed markers.
//
// Use these helpers when wiring new pipeline code so operational behaviour
// (error handling, observability, degradation) stays uniform.
package services
