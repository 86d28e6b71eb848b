// Package compcache persists derived fingerprints and pair comparison
// results between scans.
//
// The store is a single JSON snapshot wrapped in a versioned envelope that
// carries a checksum of its payload. Every write goes through
// fileutil.WriteFileAtomic, so a reader only ever sees a complete snapshot.
// A snapshot that fails validation on load is moved aside to
// "<name>.corrupt-<timestamp>" and the store starts empty; corruption costs
// recomputation, never a wrong answer.
//
// Entries are validated lazily: a fingerprint is returned only while the
// file's size and modification time still match, and a comparison only
// while both files do. Results computed under a different configuration
// generation are dropped at load time while fingerprints survive.
//
// One process at a time may hold the store open; Open takes an advisory
// lock on "<name>.lock" and fails with services.ErrCacheUnavailable if it
// cannot be acquired before the lock timeout.
package compcache
