// Package builtin ships the capabilities bundled with the engine:
//
//   - delay: timed pause with progress ticks
//   - file-scan: glob search over a directory tree with a report artifact
//   - flatten-dirs: collapse single-child directory chains
//   - batch-rename: prefix/suffix/find-replace renaming
//
// They double as realistic fixtures for exercising flows end to end.
package builtin
