// Package mediatypes defines the media kinds known to the indexer and the
// default extension patterns used to classify scanned files.
package mediatypes
