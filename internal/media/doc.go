// Package media declares the two external collaborators the duplicate
// detector consumes, the Media Prober and the Frame Sampler, together with
// the typed Metadata they exchange.
//
// Implementations live in subpackages (ffprobe, exiftool) and in
// services/ffmpeg. The helpers here compose them: ChainProber falls back
// across probers and fills fields one tool could not report, and the
// timeout decorators bound every blocking call so a hung tool surfaces as
// services.ErrTimeout instead of stalling a worker.
package media
