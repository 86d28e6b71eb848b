// Package ffmpeg samples decoded frames from media files with the ffmpeg
// binary and implements media.Sampler.
//
// Frames are written as PNG into a private temporary directory which is
// always removed before Sample returns, including on cancellation.
package ffmpeg
