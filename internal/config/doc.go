// Package config loads, normalizes, and validates gifdupes configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours the GIFDUPES_CACHE_DIR
// environment fallback. The Config type centralizes every knob the scanner
// and CLI need: walk roots, fingerprint sampling, pre-filter weights,
// escalation thresholds, the trigger model, and cache housekeeping.
//
// Validation never clamps. An out-of-range value is a configuration error
// wrapping services.ErrConfiguration so callers fail fast at startup.
package config
