package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeScan(); err != nil {
		return err
	}
	c.normalizeFingerprint()
	c.normalizeEscalation()
	if err := c.normalizeCache(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	if value, ok := os.LookupEnv("GIFDUPES_CACHE_DIR"); ok && strings.TrimSpace(value) != "" {
		c.Paths.CacheDir = strings.TrimSpace(value)
	}
	if strings.TrimSpace(c.Paths.CacheDir) == "" {
		c.Paths.CacheDir = defaultCacheDir
	}
	var err error
	if c.Paths.CacheDir, err = expandPath(c.Paths.CacheDir); err != nil {
		return fmt.Errorf("paths.cache_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.TempDir, err = expandPath(strings.TrimSpace(c.Paths.TempDir)); err != nil {
		return fmt.Errorf("paths.temp_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeScan() error {
	roots := make([]string, 0, len(c.Scan.Roots))
	for _, root := range c.Scan.Roots {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		expanded, err := expandPath(root)
		if err != nil {
			return fmt.Errorf("scan.roots: %w", err)
		}
		if !slices.Contains(roots, expanded) {
			roots = append(roots, expanded)
		}
	}
	c.Scan.Roots = roots

	exts := make([]string, 0, len(c.Scan.Extensions))
	for _, ext := range c.Scan.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if !slices.Contains(exts, ext) {
			exts = append(exts, ext)
		}
	}
	c.Scan.Extensions = exts

	if c.Scan.Workers == 0 {
		c.Scan.Workers = runtime.NumCPU()
	}
	return nil
}

func (c *Config) normalizeFingerprint() {
	c.Fingerprint.FFmpegBinary = strings.TrimSpace(c.Fingerprint.FFmpegBinary)
	if c.Fingerprint.FFmpegBinary == "" {
		c.Fingerprint.FFmpegBinary = "ffmpeg"
	}
	c.Fingerprint.FFprobeBinary = strings.TrimSpace(c.Fingerprint.FFprobeBinary)
	if c.Fingerprint.FFprobeBinary == "" {
		c.Fingerprint.FFprobeBinary = "ffprobe"
	}
	c.Fingerprint.ExiftoolBinary = strings.TrimSpace(c.Fingerprint.ExiftoolBinary)
	if c.Fingerprint.ExiftoolBinary == "" {
		c.Fingerprint.ExiftoolBinary = "exiftool"
	}
}

func (c *Config) normalizeEscalation() {
	if len(c.Escalation.DisabledLevels) == 0 {
		c.Escalation.DisabledLevels = nil
		return
	}
	levels := slices.Clone(c.Escalation.DisabledLevels)
	slices.Sort(levels)
	c.Escalation.DisabledLevels = slices.Compact(levels)
}

func (c *Config) normalizeCache() error {
	var err error
	if strings.TrimSpace(c.Cache.Path) == "" {
		c.Cache.Path = filepath.Join(c.Paths.CacheDir, defaultCacheFileName)
	}
	if c.Cache.Path, err = expandPath(c.Cache.Path); err != nil {
		return fmt.Errorf("cache.path: %w", err)
	}
	if strings.TrimSpace(c.DecisionLog.Path) == "" {
		c.DecisionLog.Path = filepath.Join(c.Paths.CacheDir, defaultDecisionLogName)
	}
	if c.DecisionLog.Path, err = expandPath(c.DecisionLog.Path); err != nil {
		return fmt.Errorf("decision_log.path: %w", err)
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
