package config

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"gifdupes/internal/services"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	CacheDir string `toml:"cache_dir"`
	LogDir   string `toml:"log_dir"`
	// TempDir holds per-call frame directories. Empty means the OS default.
	TempDir string `toml:"temp_dir"`
}

// Scan contains walker and worker pool configuration.
type Scan struct {
	Roots         []string `toml:"roots"`
	Extensions    []string `toml:"extensions"`
	IncludeHidden bool     `toml:"include_hidden"`
	MinSizeBytes  int64    `toml:"min_size_bytes"`
	// Workers bounds concurrent fingerprint and comparison work. Zero means
	// one per CPU.
	Workers int `toml:"workers"`
}

// Fingerprint contains frame sampling and external tool configuration.
type Fingerprint struct {
	Frames            int    `toml:"frames"`
	ProbeTimeout      int    `toml:"probe_timeout"`
	SampleTimeout     int    `toml:"sample_timeout"`
	CountFrames       bool   `toml:"count_frames"`
	MaxFrameDimension int    `toml:"max_frame_dimension"`
	ExiftoolFallback  bool   `toml:"exiftool_fallback"`
	FFmpegBinary      string `toml:"ffmpeg_binary"`
	FFprobeBinary     string `toml:"ffprobe_binary"`
	ExiftoolBinary    string `toml:"exiftool_binary"`
}

// PrefixTier awards Points when the normalized names share at least
// MinLength leading characters.
type PrefixTier struct {
	MinLength int     `toml:"min_length" json:"min_length"`
	Points    float64 `toml:"points" json:"points"`
}

// SizeTier awards Points when the relative size difference is at most
// MaxDiff (0..1).
type SizeTier struct {
	MaxDiff float64 `toml:"max_diff" json:"max_diff"`
	Points  float64 `toml:"points" json:"points"`
}

// TimeTier awards Points when modification times are at most MaxSeconds apart.
type TimeTier struct {
	MaxSeconds int64   `toml:"max_seconds" json:"max_seconds"`
	Points     float64 `toml:"points" json:"points"`
}

// PreFilterWeights configures the candidate generator. Name, size and
// perceptual factors are primary; metadata, timestamp and directory factors
// only corroborate.
type PreFilterWeights struct {
	NamePrefixTiers []PrefixTier `toml:"name_prefix_tiers" json:"name_prefix_tiers"`
	SizeTiers       []SizeTier   `toml:"size_tiers" json:"size_tiers"`
	TimestampTiers  []TimeTier   `toml:"timestamp_tiers" json:"timestamp_tiers"`

	PerceptualAllPoints    float64 `toml:"perceptual_all_points" json:"perceptual_all_points"`
	PerceptualFirstPoints  float64 `toml:"perceptual_first_points" json:"perceptual_first_points"`
	PerceptualNearPoints   float64 `toml:"perceptual_near_points" json:"perceptual_near_points"`
	PerceptualNearDistance float64 `toml:"perceptual_near_distance" json:"perceptual_near_distance"`

	MetadataFramePoints         float64 `toml:"metadata_frame_points" json:"metadata_frame_points"`
	MetadataDurationPoints      float64 `toml:"metadata_duration_points" json:"metadata_duration_points"`
	MetadataResolutionPoints    float64 `toml:"metadata_resolution_points" json:"metadata_resolution_points"`
	MetadataFrameTolerance      int     `toml:"metadata_frame_tolerance" json:"metadata_frame_tolerance"`
	MetadataDurationToleranceMs int64   `toml:"metadata_duration_tolerance_ms" json:"metadata_duration_tolerance_ms"`

	SameDirectoryPoints float64 `toml:"same_directory_points" json:"same_directory_points"`

	ThresholdRatio       float64 `toml:"threshold_ratio" json:"threshold_ratio"`
	RequirePrimarySignal bool    `toml:"require_primary_signal" json:"require_primary_signal"`
}

// NameTier classifies a level-5 pair as MATCH at Confidence when the best
// name similarity is at least MinSimilarity percent and the size difference
// is below MaxSizeDiff percent.
type NameTier struct {
	MinSimilarity float64 `toml:"min_similarity" json:"min_similarity"`
	MaxSizeDiff   float64 `toml:"max_size_diff" json:"max_size_diff"`
	Confidence    int     `toml:"confidence" json:"confidence"`
}

// EscalationThresholds configures the six-level matcher.
type EscalationThresholds struct {
	DisabledLevels []int `toml:"disabled_levels" json:"disabled_levels"`

	Level2Confidence int `toml:"level2_confidence" json:"level2_confidence"`

	FrameCountTolerance      int     `toml:"frame_count_tolerance" json:"frame_count_tolerance"`
	DurationToleranceMs      int64   `toml:"duration_tolerance_ms" json:"duration_tolerance_ms"`
	FPSTolerance             float64 `toml:"fps_tolerance" json:"fps_tolerance"`
	Level3PriorBoost         float64 `toml:"level3_prior_boost" json:"level3_prior_boost"`
	Level3MismatchDefinitive bool    `toml:"level3_mismatch_definitive" json:"level3_mismatch_definitive"`
	Level3MismatchConfidence int     `toml:"level3_mismatch_confidence" json:"level3_mismatch_confidence"`

	SizeRatioBand    float64 `toml:"size_ratio_band" json:"size_ratio_band"`
	Level4Confidence int     `toml:"level4_confidence" json:"level4_confidence"`

	NameTiers               []NameTier `toml:"name_tiers" json:"name_tiers"`
	Level5NoMatchConfidence int        `toml:"level5_no_match_confidence" json:"level5_no_match_confidence"`

	DeepFrames            int     `toml:"deep_frames" json:"deep_frames"`
	DeepHammingThreshold  int     `toml:"deep_hamming_threshold" json:"deep_hamming_threshold"`
	DeepColorThreshold    float64 `toml:"deep_color_threshold" json:"deep_color_threshold"`
	DeepStructuralPass    float64 `toml:"deep_structural_pass" json:"deep_structural_pass"`
	DeepColorPass         float64 `toml:"deep_color_pass" json:"deep_color_pass"`
	DeepFailureConfidence int     `toml:"deep_failure_confidence" json:"deep_failure_confidence"`
	DeepTimeout           int     `toml:"deep_timeout" json:"deep_timeout"`
}

// LevelEnabled reports whether level is not listed in DisabledLevels.
// Level 1 can never be disabled.
func (e EscalationThresholds) LevelEnabled(level int) bool {
	if level == 1 {
		return true
	}
	for _, disabled := range e.DisabledLevels {
		if disabled == level {
			return false
		}
	}
	return true
}

// Trigger configures the deep-analysis admission model.
type Trigger struct {
	ConfidenceThreshold  float64 `toml:"confidence_threshold" json:"confidence_threshold"`
	CandidateWeight      float64 `toml:"candidate_weight" json:"candidate_weight"`
	HeuristicMatchPoints float64 `toml:"heuristic_match_points" json:"heuristic_match_points"`
	PriorFailurePoints   float64 `toml:"prior_failure_points" json:"prior_failure_points"`
	SmallCollection      int     `toml:"small_collection" json:"small_collection"`
	CollectionPenalty    float64 `toml:"collection_penalty" json:"collection_penalty"`
	DeepBudgetRatio      float64 `toml:"deep_budget_ratio" json:"deep_budget_ratio"`
	MinDeepPairs         int     `toml:"min_deep_pairs" json:"min_deep_pairs"`
}

// Cache contains comparison cache housekeeping configuration.
type Cache struct {
	Path               string `toml:"path"`
	FlushEvery         int    `toml:"flush_every"`
	LockTimeout        int    `toml:"lock_timeout"`
	MaxAgeDays         int    `toml:"max_age_days"`
	PruneIntervalHours int    `toml:"prune_interval_hours"`
}

// DecisionLog contains configuration for the trigger decision log.
type DecisionLog struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
	// File additionally writes each run's log to paths.log_dir.
	File bool `toml:"file"`
	// RetentionDays prunes run logs older than this; 0 keeps them forever.
	RetentionDays int `toml:"retention_days"`
}

// Config encapsulates all configuration values for gifdupes.
//
// Configuration sections by subsystem:
//   - Paths: cache, log and temp directories
//   - Scan: walk roots, extension filter, worker count
//   - Fingerprint: frame sampling, tool binaries, timeouts
//   - PreFilter: candidate generator weights and threshold
//   - Escalation: matcher thresholds per level
//   - Trigger: deep-analysis admission model and budget
//   - Cache: comparison cache location and housekeeping
//   - DecisionLog: optional SQLite log of trigger decisions
//   - Logging: log format and level
type Config struct {
	Paths       Paths                `toml:"paths"`
	Scan        Scan                 `toml:"scan"`
	Fingerprint Fingerprint          `toml:"fingerprint"`
	PreFilter   PreFilterWeights     `toml:"prefilter"`
	Escalation  EscalationThresholds `toml:"escalation"`
	Trigger     Trigger              `toml:"trigger"`
	Cache       Cache                `toml:"cache"`
	DecisionLog DecisionLog          `toml:"decision_log"`
	Logging     Logging              `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		lists := cfg.detachLists()
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, services.Wrap(services.ErrConfiguration, "config", "parse", resolvedPath, err)
		}
		cfg.restoreLists(lists)
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, services.Wrap(services.ErrConfiguration, "config", "normalize", "", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// listDefaults holds list-valued defaults. They are detached before decoding
// so entries in the file replace the defaults instead of extending them.
type listDefaults struct {
	extensions []string
	prefix     []PrefixTier
	size       []SizeTier
	timestamp  []TimeTier
	names      []NameTier
}

func (c *Config) detachLists() listDefaults {
	lists := listDefaults{
		extensions: c.Scan.Extensions,
		prefix:     c.PreFilter.NamePrefixTiers,
		size:       c.PreFilter.SizeTiers,
		timestamp:  c.PreFilter.TimestampTiers,
		names:      c.Escalation.NameTiers,
	}
	c.Scan.Extensions = nil
	c.PreFilter.NamePrefixTiers = nil
	c.PreFilter.SizeTiers = nil
	c.PreFilter.TimestampTiers = nil
	c.Escalation.NameTiers = nil
	return lists
}

func (c *Config) restoreLists(lists listDefaults) {
	if c.Scan.Extensions == nil {
		c.Scan.Extensions = lists.extensions
	}
	if c.PreFilter.NamePrefixTiers == nil {
		c.PreFilter.NamePrefixTiers = lists.prefix
	}
	if c.PreFilter.SizeTiers == nil {
		c.PreFilter.SizeTiers = lists.size
	}
	if c.PreFilter.TimestampTiers == nil {
		c.PreFilter.TimestampTiers = lists.timestamp
	}
	if c.Escalation.NameTiers == nil {
		c.Escalation.NameTiers = lists.names
	}
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("gifdupes.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the cache directory, and the log directory when
// file logging is enabled.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.CacheDir, filepath.Dir(c.Cache.Path), c.Paths.TempDir}
	if c.Logging.File {
		dirs = append(dirs, c.Paths.LogDir)
	}
	if c.DecisionLog.Enabled {
		dirs = append(dirs, filepath.Dir(c.DecisionLog.Path))
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// ProbeTimeout returns the per-file metadata probe bound.
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Fingerprint.ProbeTimeout) * time.Second
}

// SampleTimeout returns the per-file frame sampling bound.
func (c *Config) SampleTimeout() time.Duration {
	return time.Duration(c.Fingerprint.SampleTimeout) * time.Second
}

// DeepTimeout returns the bound on level-6 frame extraction for one file.
func (c *Config) DeepTimeout() time.Duration {
	return time.Duration(c.Escalation.DeepTimeout) * time.Second
}

// LockTimeout returns how long to wait for the cache lock.
func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.Cache.LockTimeout) * time.Second
}

// CacheMaxAge returns the age beyond which cache entries are pruned.
func (c *Config) CacheMaxAge() time.Duration {
	return time.Duration(c.Cache.MaxAgeDays) * 24 * time.Hour
}

// PruneInterval returns the minimum time between automatic prunes.
func (c *Config) PruneInterval() time.Duration {
	return time.Duration(c.Cache.PruneIntervalHours) * time.Hour
}

// Generation fingerprints every setting that influences a pair verdict.
// Cached comparison results computed under a different generation are
// discarded; cached fingerprints survive as long as the frame count matches.
func (c *Config) Generation() string {
	payload := struct {
		Frames     int                  `json:"frames"`
		MaxDim     int                  `json:"max_dim"`
		PreFilter  PreFilterWeights     `json:"prefilter"`
		Escalation EscalationThresholds `json:"escalation"`
		Trigger    Trigger              `json:"trigger"`
	}{
		Frames:     c.Fingerprint.Frames,
		MaxDim:     c.Fingerprint.MaxFrameDimension,
		PreFilter:  c.PreFilter,
		Escalation: c.Escalation,
		Trigger:    c.Trigger,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
