package deps

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Requirement defines an external tool gifdupes relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	// VersionArgs, when set, are passed to the resolved binary to capture a
	// one-line version string.
	VersionArgs []string
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Path        string
	Version     string
	Detail      string
}

const versionTimeout = 5 * time.Second

var lookPath = exec.LookPath

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(ctx context.Context, requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		resolved, err := lookPath(cmd)
		if err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		status.Path = resolved
		if len(req.VersionArgs) > 0 {
			status.Version = Version(ctx, resolved, req.VersionArgs...)
		}
		results = append(results, status)
	}
	return results
}

// Version runs binary with args and returns the first non-empty output line,
// or "" when the command fails.
func Version(ctx context.Context, binary string, args ...string) string {
	runCtx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()
	out, err := exec.CommandContext(runCtx, binary, args...).Output()
	if err != nil {
		return ""
	}
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			return line
		}
	}
	return ""
}

// MediaTools returns the requirements for the configured media tools.
// exiftool is only listed when the metadata fallback is enabled.
func MediaTools(ffmpeg, ffprobe, exiftool string, exiftoolFallback bool) []Requirement {
	reqs := []Requirement{
		{
			Name:        "FFmpeg",
			Command:     ffmpeg,
			Description: "Samples frames for fingerprints and deep analysis",
			VersionArgs: []string{"-version"},
		},
		{
			Name:        "FFprobe",
			Command:     ffprobe,
			Description: "Reads frame count, duration, fps and resolution",
			VersionArgs: []string{"-version"},
		},
	}
	if exiftoolFallback {
		reqs = append(reqs, Requirement{
			Name:        "ExifTool",
			Command:     exiftool,
			Description: "Metadata fallback when ffprobe cannot read a file",
			Optional:    true,
			VersionArgs: []string{"-ver"},
		})
	}
	return reqs
}

// Missing returns the required dependencies that are unavailable.
func Missing(statuses []Status) []Status {
	var out []Status
	for _, s := range statuses {
		if !s.Available && !s.Optional {
			out = append(out, s)
		}
	}
	return out
}
