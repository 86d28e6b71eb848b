// Package fingerprint derives the per-file signals the matcher compares: an
// exact content digest, an ordered list of frame difference hashes, an
// averaged color histogram, and probed media metadata.
//
// Extraction consults the comparison cache first and only writes complete
// fingerprints back. When ffprobe or ffmpeg is missing the record keeps the
// cheaper signals and is marked Partial instead of failing.
package fingerprint
