// Package metrics registers the Prometheus instruments for scan and
// conversion activity and optionally serves them over HTTP.
package metrics
