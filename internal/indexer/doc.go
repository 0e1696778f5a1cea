// Package indexer wires the scanner, the slot pool and the conversion
// pipelines into a run: files flow from traversal through classification into
// bounded parallel conversion, with run statistics and an indexed-path cache
// persisted at the end.
package indexer
