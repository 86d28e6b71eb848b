package dupe

import (
	"path/filepath"
	"time"

	"gifdupes/internal/imagehash"
	"gifdupes/internal/media"
)

// FileKey identifies the on-disk state a derived value was computed against.
type FileKey struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mtime"`
	// CoarseMTime marks a key whose modification time was recorded in whole
	// seconds, as in version 1 cache files.
	CoarseMTime bool `json:"coarse_mtime,omitempty"`
}

// Matches reports whether other describes the same file state. Modification
// times compare at nanosecond precision ignoring location and monotonic data,
// or at second precision when either key is coarse.
func (k FileKey) Matches(other FileKey) bool {
	if k.Path != other.Path || k.Size != other.Size {
		return false
	}
	if k.CoarseMTime || other.CoarseMTime {
		return k.ModTime.Unix() == other.ModTime.Unix()
	}
	return k.ModTime.UnixNano() == other.ModTime.UnixNano()
}

// Fingerprint holds the derived signals for one file.
type Fingerprint struct {
	ExactDigest    string              `json:"digest"`
	StructuralHash []imagehash.DHash   `json:"hashes,omitempty"`
	ColorProfile   imagehash.Histogram `json:"color,omitempty"`
	Metadata       media.Metadata      `json:"metadata"`
	// Sampled is the frame count requested when the hashes were derived.
	// StructuralHash may be shorter when frames could not be hashed.
	Sampled int `json:"sampled,omitempty"`
}

// HasStructure reports whether at least one frame hash is present.
func (f Fingerprint) HasStructure() bool {
	return len(f.StructuralHash) > 0
}

// Complete reports whether every signal was derived.
func (f Fingerprint) Complete() bool {
	return f.ExactDigest != "" && f.HasStructure() && len(f.ColorProfile) > 0 && f.Metadata.Analyzable()
}

// FileRecord is one file under consideration in a scan.
type FileRecord struct {
	Path        string      `json:"path"`
	Size        int64       `json:"size"`
	ModTime     time.Time   `json:"mtime"`
	Fingerprint Fingerprint `json:"fingerprint"`
	// Analyzable is false until extraction succeeds at least partially.
	Analyzable bool `json:"analyzable"`
	// Partial is set when a tool was unavailable and only cheaper signals
	// were derived.
	Partial bool `json:"partial,omitempty"`
}

// Key returns the validity key for the record's current on-disk state.
func (r FileRecord) Key() FileKey {
	return FileKey{Path: r.Path, Size: r.Size, ModTime: r.ModTime}
}

// Dir returns the directory containing the file.
func (r FileRecord) Dir() string {
	return filepath.Dir(r.Path)
}

// Base returns the file name without directory.
func (r FileRecord) Base() string {
	return filepath.Base(r.Path)
}

// Exclusion names a file dropped from a run and why.
type Exclusion struct {
	Path   string `json:"path" yaml:"path"`
	Reason string `json:"reason" yaml:"reason"`
	Detail string `json:"detail,omitempty" yaml:"detail,omitempty"`
}
