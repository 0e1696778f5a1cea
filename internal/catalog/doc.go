// Package catalog stores one canonical record per unique work, keyed by
// content fingerprint. Records are sqlite rows carrying a JSON document plus
// side tables indexing the sources set and occurrence files, so fingerprint
// and skip-check lookups stay indexed while the document keeps its shape.
package catalog
