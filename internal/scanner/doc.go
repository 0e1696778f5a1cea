// Package scanner walks directory trees with a bounded worker pool. Files are
// classified against per-kind glob rules and emitted exactly once per real
// path; the shared seen set also terminates symlink loops.
package scanner
