// Package logging configures the process-wide slog logger for docqa.
//
// Records go to a size-rotated JSON log file and, optionally, to stderr.
// Stderr gets a human-readable text handler when attached to a terminal
// and JSON otherwise, so container log collectors see structured lines.
package logging
