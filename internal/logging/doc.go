// Package logging sets up structured JSON logging for dropwatch.
//
// Logs go to <data-dir>/logs/dropwatch.log, rotated by size with lumberjack,
// and are mirrored to stderr unless disabled. The Viewer reads that file back
// for the `dropwatch logs` command.
package logging
