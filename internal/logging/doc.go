// Package logging provides structured JSON logging with file rotation for
// Mnemo. Logs are written to ~/.mnemo/logs/ and mirrored to stderr so that
// both interactive runs and the HTTP server leave a queryable trail.
package logging
