package config

import (
	"errors"
	"fmt"
	"slices"

	"gifdupes/internal/services"
)

// Validate ensures the configuration is usable. Every failure wraps
// services.ErrConfiguration.
func (c *Config) Validate() error {
	checks := []func() error{
		c.validateScan,
		c.validateFingerprint,
		c.validatePreFilter,
		c.validateEscalation,
		c.validateTrigger,
		c.validateCache,
		c.validateLogging,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return services.Wrap(services.ErrConfiguration, "config", "validate", "", err)
		}
	}
	return nil
}

func (c *Config) validateScan() error {
	if len(c.Scan.Extensions) == 0 {
		return errors.New("scan.extensions must include at least one extension")
	}
	if c.Scan.Workers < 0 {
		return errors.New("scan.workers must be >= 0")
	}
	if c.Scan.MinSizeBytes < 0 {
		return errors.New("scan.min_size_bytes must be >= 0")
	}
	return nil
}

func (c *Config) validateFingerprint() error {
	if c.Fingerprint.Frames <= 0 {
		return errors.New("fingerprint.frames must be positive")
	}
	return ensurePositive(
		namedInt{"fingerprint.probe_timeout", c.Fingerprint.ProbeTimeout},
		namedInt{"fingerprint.sample_timeout", c.Fingerprint.SampleTimeout},
		namedInt{"fingerprint.max_frame_dimension", c.Fingerprint.MaxFrameDimension},
	)
}

func (c *Config) validatePreFilter() error {
	w := c.PreFilter
	if w.ThresholdRatio <= 0 || w.ThresholdRatio > 1 {
		return errors.New("prefilter.threshold_ratio must be in (0, 1]")
	}
	for i, tier := range w.NamePrefixTiers {
		if tier.MinLength <= 0 || tier.Points < 0 {
			return fmt.Errorf("prefilter.name_prefix_tiers[%d] must have positive min_length and non-negative points", i)
		}
		if i > 0 && tier.MinLength >= w.NamePrefixTiers[i-1].MinLength {
			return errors.New("prefilter.name_prefix_tiers must be ordered by descending min_length")
		}
	}
	for i, tier := range w.SizeTiers {
		if tier.MaxDiff < 0 || tier.MaxDiff > 1 || tier.Points < 0 {
			return fmt.Errorf("prefilter.size_tiers[%d] must have max_diff in [0, 1] and non-negative points", i)
		}
		if i > 0 && tier.MaxDiff <= w.SizeTiers[i-1].MaxDiff {
			return errors.New("prefilter.size_tiers must be ordered by ascending max_diff")
		}
	}
	for i, tier := range w.TimestampTiers {
		if tier.MaxSeconds < 0 || tier.Points < 0 {
			return fmt.Errorf("prefilter.timestamp_tiers[%d] must be non-negative", i)
		}
		if i > 0 && tier.MaxSeconds <= w.TimestampTiers[i-1].MaxSeconds {
			return errors.New("prefilter.timestamp_tiers must be ordered by ascending max_seconds")
		}
	}
	for name, value := range map[string]float64{
		"prefilter.perceptual_all_points":      w.PerceptualAllPoints,
		"prefilter.perceptual_first_points":    w.PerceptualFirstPoints,
		"prefilter.perceptual_near_points":     w.PerceptualNearPoints,
		"prefilter.perceptual_near_distance":   w.PerceptualNearDistance,
		"prefilter.metadata_frame_points":      w.MetadataFramePoints,
		"prefilter.metadata_duration_points":   w.MetadataDurationPoints,
		"prefilter.metadata_resolution_points": w.MetadataResolutionPoints,
		"prefilter.same_directory_points":      w.SameDirectoryPoints,
	} {
		if value < 0 {
			return fmt.Errorf("%s must be >= 0", name)
		}
	}
	if w.MetadataFrameTolerance < 0 || w.MetadataDurationToleranceMs < 0 {
		return errors.New("prefilter metadata tolerances must be >= 0")
	}
	if w.MaxAttainable() <= 0 {
		return errors.New("prefilter weights must allow a positive maximum score")
	}
	return nil
}

func (c *Config) validateEscalation() error {
	e := c.Escalation
	for _, level := range e.DisabledLevels {
		if level < 2 || level > 6 {
			return fmt.Errorf("escalation.disabled_levels: level %d cannot be disabled (allowed 2-6)", level)
		}
	}
	for name, value := range map[string]int{
		"escalation.level2_confidence":          e.Level2Confidence,
		"escalation.level3_mismatch_confidence": e.Level3MismatchConfidence,
		"escalation.level4_confidence":          e.Level4Confidence,
		"escalation.level5_no_match_confidence": e.Level5NoMatchConfidence,
		"escalation.deep_failure_confidence":    e.DeepFailureConfidence,
	} {
		if value < 0 || value > 100 {
			return fmt.Errorf("%s must be between 0 and 100", name)
		}
	}
	if e.FrameCountTolerance < 0 || e.DurationToleranceMs < 0 || e.FPSTolerance < 0 {
		return errors.New("escalation tolerances must be >= 0")
	}
	if e.Level3PriorBoost < 0 || e.Level3PriorBoost > 100 {
		return errors.New("escalation.level3_prior_boost must be between 0 and 100")
	}
	if e.SizeRatioBand <= 0 || e.SizeRatioBand > 1 {
		return errors.New("escalation.size_ratio_band must be in (0, 1]")
	}
	if len(e.NameTiers) == 0 {
		return errors.New("escalation.name_tiers must include at least one tier")
	}
	for i, tier := range e.NameTiers {
		if tier.MinSimilarity < 0 || tier.MinSimilarity > 100 || tier.MaxSizeDiff < 0 || tier.MaxSizeDiff > 100 {
			return fmt.Errorf("escalation.name_tiers[%d] percentages must be between 0 and 100", i)
		}
		if tier.Confidence < 0 || tier.Confidence > 100 {
			return fmt.Errorf("escalation.name_tiers[%d].confidence must be between 0 and 100", i)
		}
	}
	if e.DeepFrames <= 0 {
		return errors.New("escalation.deep_frames must be positive")
	}
	if e.DeepHammingThreshold <= 0 || e.DeepHammingThreshold > 64 {
		return errors.New("escalation.deep_hamming_threshold must be between 1 and 64")
	}
	for name, value := range map[string]float64{
		"escalation.deep_color_threshold": e.DeepColorThreshold,
		"escalation.deep_structural_pass": e.DeepStructuralPass,
		"escalation.deep_color_pass":      e.DeepColorPass,
	} {
		if value < 0 || value > 1 {
			return fmt.Errorf("%s must be between 0 and 1", name)
		}
	}
	if e.DeepTimeout <= 0 {
		return errors.New("escalation.deep_timeout must be positive")
	}
	return nil
}

func (c *Config) validateTrigger() error {
	t := c.Trigger
	if t.ConfidenceThreshold < 0 || t.ConfidenceThreshold > 100 {
		return errors.New("trigger.confidence_threshold must be between 0 and 100")
	}
	if t.CandidateWeight < 0 || t.HeuristicMatchPoints < 0 || t.PriorFailurePoints < 0 || t.CollectionPenalty < 0 {
		return errors.New("trigger weights must be >= 0")
	}
	if t.SmallCollection <= 0 {
		return errors.New("trigger.small_collection must be positive")
	}
	if t.DeepBudgetRatio < 0 || t.DeepBudgetRatio > 1 {
		return errors.New("trigger.deep_budget_ratio must be between 0 and 1")
	}
	if t.MinDeepPairs < 0 {
		return errors.New("trigger.min_deep_pairs must be >= 0")
	}
	return nil
}

func (c *Config) validateCache() error {
	return ensurePositive(
		namedInt{"cache.flush_every", c.Cache.FlushEvery},
		namedInt{"cache.lock_timeout", c.Cache.LockTimeout},
		namedInt{"cache.max_age_days", c.Cache.MaxAgeDays},
		namedInt{"cache.prune_interval_hours", c.Cache.PruneIntervalHours},
	)
}

func (c *Config) validateLogging() error {
	if !slices.Contains([]string{"console", "json"}, c.Logging.Format) {
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	if !slices.Contains([]string{"debug", "info", "warn", "warning", "error"}, c.Logging.Level) {
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return fmt.Errorf("logging.retention_days must be >= 0, got %d", c.Logging.RetentionDays)
	}
	return nil
}

type namedInt struct {
	name  string
	value int
}

func ensurePositive(values ...namedInt) error {
	for _, v := range values {
		if v.value <= 0 {
			return fmt.Errorf("%s must be positive", v.name)
		}
	}
	return nil
}

// MaxAttainable returns the highest total score the weights allow.
func (w PreFilterWeights) MaxAttainable() float64 {
	total := maxPoints(w.NamePrefixTiers, func(t PrefixTier) float64 { return t.Points }) +
		maxPoints(w.SizeTiers, func(t SizeTier) float64 { return t.Points }) +
		maxPoints(w.TimestampTiers, func(t TimeTier) float64 { return t.Points })
	total += max(w.PerceptualAllPoints, w.PerceptualFirstPoints, w.PerceptualNearPoints)
	total += w.MetadataFramePoints + w.MetadataDurationPoints + w.MetadataResolutionPoints
	total += w.SameDirectoryPoints
	return total
}

func maxPoints[T any](tiers []T, points func(T) float64) float64 {
	best := 0.0
	for _, tier := range tiers {
		best = max(best, points(tier))
	}
	return best
}
