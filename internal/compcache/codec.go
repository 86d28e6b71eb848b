package compcache

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gifdupes/internal/dupe"
	"gifdupes/internal/imagehash"
	"gifdupes/internal/media"
)

// SchemaVersion is the envelope version written by this package.
const SchemaVersion = 2

const (
	legacyVersion = 1
	legacyHeader  = "# gifdupes cache v1"
	legacyFields  = 11
)

var (
	errChecksum           = errors.New("payload checksum mismatch")
	errUnsupportedVersion = errors.New("unsupported schema version")
)

// FingerprintEntry is a cached fingerprint and the file state it describes.
type FingerprintEntry struct {
	Key         dupe.FileKey     `json:"key"`
	Fingerprint dupe.Fingerprint `json:"fingerprint"`
	StoredAt    time.Time        `json:"stored_at"`
}

type payload struct {
	Fingerprints map[string]FingerprintEntry            `json:"fingerprints"`
	Comparisons  map[dupe.PairKey]dupe.ComparisonResult `json:"comparisons"`
}

type envelope struct {
	SchemaVersion int             `json:"schema_version"`
	Generation    string          `json:"generation"`
	WrittenAt     time.Time       `json:"written_at"`
	LastPrunedAt  time.Time       `json:"last_pruned_at"`
	Checksum      string          `json:"checksum"`
	Payload       json.RawMessage `json:"payload"`
}

// snapshot is the decoded content of a store file.
type snapshot struct {
	version      int
	generation   string
	writtenAt    time.Time
	lastPrunedAt time.Time
	payload      payload
}

func emptyPayload() payload {
	return payload{
		Fingerprints: make(map[string]FingerprintEntry),
		Comparisons:  make(map[dupe.PairKey]dupe.ComparisonResult),
	}
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// encode serializes snap as a version 2 envelope. The envelope is written
// compact so the raw payload bytes are the bytes the checksum covers.
func encode(snap snapshot) ([]byte, error) {
	body, err := json.Marshal(snap.payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	env := envelope{
		SchemaVersion: SchemaVersion,
		Generation:    snap.generation,
		WrittenAt:     snap.writtenAt.UTC(),
		LastPrunedAt:  snap.lastPrunedAt.UTC(),
		Checksum:      checksum(body),
		Payload:       body,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return append(data, '\n'), nil
}

// decode parses a store file of any known version. Legacy files are
// returned with version set to legacyVersion and no comparisons.
func decode(data []byte) (snapshot, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return snapshot{}, errors.New("empty store file")
	}
	if trimmed[0] != '{' {
		return decodeLegacy(trimmed)
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return snapshot{}, fmt.Errorf("parse envelope: %w", err)
	}
	if env.SchemaVersion != SchemaVersion {
		return snapshot{}, fmt.Errorf("%w: %d", errUnsupportedVersion, env.SchemaVersion)
	}
	if len(env.Payload) == 0 {
		return snapshot{}, errors.New("envelope has no payload")
	}
	if got := checksum(env.Payload); got != env.Checksum {
		return snapshot{}, errChecksum
	}

	body := emptyPayload()
	if err := json.Unmarshal(env.Payload, &body); err != nil {
		return snapshot{}, fmt.Errorf("parse payload: %w", err)
	}
	if body.Fingerprints == nil {
		body.Fingerprints = make(map[string]FingerprintEntry)
	}
	if body.Comparisons == nil {
		body.Comparisons = make(map[dupe.PairKey]dupe.ComparisonResult)
	}
	if err := validatePayload(body); err != nil {
		return snapshot{}, err
	}
	return snapshot{
		version:      env.SchemaVersion,
		generation:   env.Generation,
		writtenAt:    env.WrittenAt,
		lastPrunedAt: env.LastPrunedAt,
		payload:      body,
	}, nil
}

func validatePayload(body payload) error {
	for path, entry := range body.Fingerprints {
		if path == "" || entry.Key.Path != path {
			return fmt.Errorf("fingerprint entry %q keyed under %q", entry.Key.Path, path)
		}
		if entry.Fingerprint.ExactDigest == "" {
			return fmt.Errorf("fingerprint entry %q has no digest", path)
		}
	}
	for key, result := range body.Comparisons {
		a, b := key.Paths()
		if a == "" || b == "" || result.Pair != key {
			return fmt.Errorf("comparison entry %q is malformed", key.String())
		}
		if !result.LevelReached.Valid() || !result.Verdict.Valid() {
			return fmt.Errorf("comparison entry %q has invalid level or verdict", key.String())
		}
		if result.Confidence < 0 || result.Confidence > 100 {
			return fmt.Errorf("comparison entry %q has confidence %d", key.String(), result.Confidence)
		}
	}
	return nil
}

// decodeLegacy reads the pipe-delimited version 1 format:
//
//	fp|path|size|mtime_unix|digest|hash,hash,...|frames|duration_ms|fps|width|height
//
// Version 1 comparison lines carry no file keys and are dropped.
func decodeLegacy(data []byte) (snapshot, error) {
	snap := snapshot{version: legacyVersion, payload: emptyPayload()}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	sawHeader := false
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if strings.HasPrefix(text, "#") {
			if text == legacyHeader {
				sawHeader = true
			}
			continue
		}
		kind, _, _ := strings.Cut(text, "|")
		switch kind {
		case "fp":
			entry, err := parseLegacyFingerprint(text)
			if err != nil {
				return snapshot{}, fmt.Errorf("legacy line %d: %w", line, err)
			}
			snap.payload.Fingerprints[entry.Key.Path] = entry
		case "cmp":
		default:
			return snapshot{}, fmt.Errorf("legacy line %d: unknown record %q", line, kind)
		}
	}
	if err := scanner.Err(); err != nil {
		return snapshot{}, fmt.Errorf("read legacy store: %w", err)
	}
	if !sawHeader {
		return snapshot{}, errors.New("not a cache file: missing header")
	}
	return snap, nil
}

func parseLegacyFingerprint(text string) (FingerprintEntry, error) {
	fields := strings.Split(text, "|")
	if len(fields) != legacyFields {
		return FingerprintEntry{}, fmt.Errorf("expected %d fields, got %d", legacyFields, len(fields))
	}
	size, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return FingerprintEntry{}, fmt.Errorf("size: %w", err)
	}
	mtime, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return FingerprintEntry{}, fmt.Errorf("mtime: %w", err)
	}
	if fields[1] == "" || fields[4] == "" {
		return FingerprintEntry{}, errors.New("path and digest are required")
	}
	var hashes []imagehash.DHash
	if fields[5] != "" {
		for _, raw := range strings.Split(fields[5], ",") {
			h, err := imagehash.ParseDHash(raw)
			if err != nil {
				return FingerprintEntry{}, err
			}
			hashes = append(hashes, h)
		}
	}
	ints := make([]int64, 0, 4)
	for _, idx := range []int{6, 7, 9, 10} {
		v, err := strconv.ParseInt(fields[idx], 10, 64)
		if err != nil {
			return FingerprintEntry{}, fmt.Errorf("field %d: %w", idx, err)
		}
		ints = append(ints, v)
	}
	fps, err := strconv.ParseFloat(fields[8], 64)
	if err != nil {
		return FingerprintEntry{}, fmt.Errorf("fps: %w", err)
	}

	return FingerprintEntry{
		Key: dupe.FileKey{Path: fields[1], Size: size, ModTime: time.Unix(mtime, 0), CoarseMTime: true},
		Fingerprint: dupe.Fingerprint{
			ExactDigest:    fields[4],
			StructuralHash: hashes,
			Metadata: media.Metadata{
				FrameCount: int(ints[0]),
				DurationMs: ints[1],
				FPS:        fps,
				Width:      int(ints[2]),
				Height:     int(ints[3]),
			},
		},
	}, nil
}
