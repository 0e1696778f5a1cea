// Package slots bounds conversion concurrency with a fixed pool of worker
// slots and carries the in-flight dedup state: while one slot converts a
// fingerprint, sibling slots that hash to the same fingerprint hand their
// occurrence over and exit instead of duplicating the work.
package slots
