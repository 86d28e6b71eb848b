// Package prefilter decides which file pairs are worth comparing and which
// compared pairs are worth the deep frame analysis.
//
// Scorer awards points for cheap signals (names, sizes, perceptual hashes,
// metadata, timestamps, directories) and keeps pairs whose total reaches a
// fraction of the attainable maximum. TriggerModel then gates level 6 of the
// matcher with a continuous score and a per-run budget.
package prefilter
