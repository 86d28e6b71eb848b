package scan

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"gifdupes/internal/config"
	"gifdupes/internal/dupe"
	"gifdupes/internal/services"
)

// Exclusion reasons produced by the walker.
const (
	ReasonUnreadable = "unreadable"
	ReasonTooSmall   = "below_min_size"
)

// Walk enumerates media files under roots. Hidden entries are skipped unless
// settings.IncludeHidden is set. Paths are cleaned and absolute; files
// reachable from several roots are listed once. A missing root is a
// configuration error.
func Walk(fsys afero.Fs, roots []string, settings config.Scan) ([]dupe.FileRecord, []dupe.Exclusion, error) {
	if len(roots) == 0 {
		return nil, nil, services.Wrap(services.ErrConfiguration, "scan", "walk", "no roots to scan", nil)
	}
	extensions := make(map[string]struct{}, len(settings.Extensions))
	for _, ext := range settings.Extensions {
		extensions[strings.ToLower(ext)] = struct{}{}
	}

	seen := make(map[string]struct{})
	var (
		records  []dupe.FileRecord
		excluded []dupe.Exclusion
	)
	for _, root := range roots {
		root, err := filepath.Abs(filepath.Clean(root))
		if err != nil {
			return nil, nil, services.Wrap(services.ErrConfiguration, "scan", "walk", root, err)
		}
		info, err := fsys.Stat(root)
		if err != nil {
			return nil, nil, services.Wrap(services.ErrConfiguration, "scan", "walk", "root "+root, err)
		}
		if !info.IsDir() {
			return nil, nil, services.Wrap(services.ErrConfiguration, "scan", "walk", fmt.Sprintf("root %s is not a directory", root), nil)
		}

		walkErr := afero.Walk(fsys, root, func(path string, info fs.FileInfo, err error) error {
			if err != nil {
				if path == root {
					return err
				}
				excluded = append(excluded, dupe.Exclusion{Path: path, Reason: ReasonUnreadable, Detail: err.Error()})
				if info != nil && info.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			name := info.Name()
			if path != root && !settings.IncludeHidden && strings.HasPrefix(name, ".") {
				if info.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if info.IsDir() || !info.Mode().IsRegular() {
				return nil
			}
			if _, ok := extensions[strings.ToLower(filepath.Ext(name))]; !ok {
				return nil
			}
			if _, dup := seen[path]; dup {
				return nil
			}
			seen[path] = struct{}{}
			if info.Size() < settings.MinSizeBytes {
				excluded = append(excluded, dupe.Exclusion{
					Path:   path,
					Reason: ReasonTooSmall,
					Detail: fmt.Sprintf("%d bytes", info.Size()),
				})
				return nil
			}
			records = append(records, dupe.FileRecord{Path: path, Size: info.Size(), ModTime: info.ModTime()})
			return nil
		})
		if walkErr != nil && !errors.Is(walkErr, filepath.SkipDir) {
			return nil, nil, services.Wrap(services.ErrConfiguration, "scan", "walk", "root "+root, walkErr)
		}
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Path < records[j].Path })
	sort.Slice(excluded, func(i, j int) bool { return excluded[i].Path < excluded[j].Path })
	return records, excluded, nil
}
