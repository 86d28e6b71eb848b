// Command gifdupes finds duplicate GIFs and short clips in local
// directories.
//
// Subcommands:
//   - scan: walk roots, classify candidate pairs, print duplicate groups
//   - cache: inspect, prune or rebuild the comparison cache
//   - config: write a sample config or validate the active one
//   - status: tool availability, directory health and recent runs
package main
