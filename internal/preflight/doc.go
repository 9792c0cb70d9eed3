// Package preflight provides system validation and pre-flight checks
// to ensure mnemo can run successfully before serving requests.
//
// The package validates:
//   - Disk space availability (minimum 100MB)
//   - Memory availability (minimum 1GB)
//   - Write permissions in the data directory
//   - File descriptor limits (minimum 1024)
//   - Reachability of the embedding and generation backends
//
// Use the Checker type to run all validations:
//
//	checker := preflight.New()
//	results := checker.RunAll(ctx, "/path/to/data")
//	if checker.HasCriticalFailures(results) {
//	    // Handle failures
//	}
package preflight
