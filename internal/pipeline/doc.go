// Package pipeline implements the per-kind conversion pipelines. Every file
// goes through the same front half (skip check, fingerprint, in-flight and
// catalog dedup) before the kind-specific conversion produces artifacts under
// the content-addressed save tree and a catalog record.
package pipeline
