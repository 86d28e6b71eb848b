package config

const (
	defaultConfigPath       = "~/.config/gifdupes/config.toml"
	defaultCacheDir         = "~/.cache/gifdupes"
	defaultLogDir           = "~/.local/share/gifdupes/logs"
	defaultCacheFileName    = "comparisons.json"
	defaultDecisionLogName  = "decisions.db"
	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
	defaultLogRetentionDays = 30
	defaultFrames           = 5
	defaultProbeTimeout     = 30
	defaultSampleTimeout    = 60
	defaultMaxFrameDim      = 256
	defaultFlushEvery       = 64
	defaultLockTimeout      = 10
	defaultMaxAgeDays       = 90
	defaultPruneInterval    = 24
	defaultDeepFrames       = 10
	defaultDeepTimeout      = 120
	defaultThresholdRatio   = 0.15
	defaultTriggerThreshold = 60
)

var defaultExtensions = []string{".gif", ".webp", ".png", ".apng", ".mp4", ".webm", ".mov", ".mkv"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			CacheDir: defaultCacheDir,
			LogDir:   defaultLogDir,
		},
		Scan: Scan{
			Extensions: append([]string(nil), defaultExtensions...),
		},
		Fingerprint: Fingerprint{
			Frames:            defaultFrames,
			ProbeTimeout:      defaultProbeTimeout,
			SampleTimeout:     defaultSampleTimeout,
			CountFrames:       true,
			MaxFrameDimension: defaultMaxFrameDim,
			ExiftoolFallback:  true,
			FFmpegBinary:      "ffmpeg",
			FFprobeBinary:     "ffprobe",
			ExiftoolBinary:    "exiftool",
		},
		PreFilter:  DefaultPreFilterWeights(),
		Escalation: DefaultEscalationThresholds(),
		Trigger:    DefaultTrigger(),
		Cache: Cache{
			FlushEvery:         defaultFlushEvery,
			LockTimeout:        defaultLockTimeout,
			MaxAgeDays:         defaultMaxAgeDays,
			PruneIntervalHours: defaultPruneInterval,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}

// DefaultPreFilterWeights returns the tuned candidate generator weights.
// The maximum attainable score with these weights is 180.
func DefaultPreFilterWeights() PreFilterWeights {
	return PreFilterWeights{
		NamePrefixTiers: []PrefixTier{
			{MinLength: 16, Points: 40},
			{MinLength: 10, Points: 30},
			{MinLength: 6, Points: 20},
			{MinLength: 3, Points: 10},
		},
		SizeTiers: []SizeTier{
			{MaxDiff: 0.02, Points: 35},
			{MaxDiff: 0.10, Points: 25},
			{MaxDiff: 0.25, Points: 10},
		},
		TimestampTiers: []TimeTier{
			{MaxSeconds: 300, Points: 20},
			{MaxSeconds: 3600, Points: 10},
			{MaxSeconds: 86400, Points: 5},
		},
		PerceptualAllPoints:         50,
		PerceptualFirstPoints:       35,
		PerceptualNearPoints:        20,
		PerceptualNearDistance:      8,
		MetadataFramePoints:         10,
		MetadataDurationPoints:      10,
		MetadataResolutionPoints:    5,
		MetadataFrameTolerance:      2,
		MetadataDurationToleranceMs: 100,
		SameDirectoryPoints:         10,
		ThresholdRatio:              defaultThresholdRatio,
		RequirePrimarySignal:        true,
	}
}

// DefaultEscalationThresholds returns the matcher defaults.
func DefaultEscalationThresholds() EscalationThresholds {
	return EscalationThresholds{
		Level2Confidence:         98,
		FrameCountTolerance:      2,
		DurationToleranceMs:      100,
		FPSTolerance:             0.5,
		Level3PriorBoost:         20,
		Level3MismatchDefinitive: true,
		Level3MismatchConfidence: 90,
		SizeRatioBand:            0.90,
		Level4Confidence:         85,
		NameTiers: []NameTier{
			{MinSimilarity: 75, MaxSizeDiff: 15, Confidence: 95},
			{MinSimilarity: 60, MaxSizeDiff: 20, Confidence: 80},
			{MinSimilarity: 50, MaxSizeDiff: 10, Confidence: 70},
		},
		Level5NoMatchConfidence: 60,
		DeepFrames:              defaultDeepFrames,
		DeepHammingThreshold:    5,
		DeepColorThreshold:      0.85,
		DeepStructuralPass:      0.80,
		DeepColorPass:           0.85,
		DeepFailureConfidence:   10,
		DeepTimeout:             defaultDeepTimeout,
	}
}

// DefaultTrigger returns the deep-analysis admission defaults.
func DefaultTrigger() Trigger {
	return Trigger{
		ConfidenceThreshold:  defaultTriggerThreshold,
		CandidateWeight:      40,
		HeuristicMatchPoints: 35,
		PriorFailurePoints:   25,
		SmallCollection:      100,
		CollectionPenalty:    10,
		DeepBudgetRatio:      0.25,
		MinDeepPairs:         20,
	}
}
