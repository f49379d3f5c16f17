// Package preflight runs system checks before dropwatch starts watching.
//
// The package validates:
//   - Disk space on the processed root (minimum 100MB)
//   - Write permissions on the root, the processed root and the data dir
//   - File descriptor limits (minimum 1024)
//   - Presence of each category inbox (missing ones are created at startup)
//
//	checker := preflight.New()
//	results := checker.RunAll(ctx, preflight.Targets{Root: root, ...})
//	if checker.HasCriticalFailures(results) {
//	    // refuse to start
//	}
package preflight
