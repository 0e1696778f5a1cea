// Package hasher produces content fingerprints by invoking the configured
// hash tool (sha1sum, sha256sum, md5sum or compatible) on single files.
package hasher

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"media-indexer/internal/execx"
)

// ErrHashFailed wraps hash tool failures and unparsable output.
var ErrHashFailed = errors.New("fingerprint failed")

// Hasher wraps the external hash tool.
type Hasher struct {
	runner execx.Runner
	tool   string
}

// New returns a Hasher using the given tool (e.g. "sha1sum").
func New(runner execx.Runner, tool string) *Hasher {
	return &Hasher{runner: runner, tool: tool}
}

// Hash fingerprints a single file. The result is the first whitespace
// delimited token of the tool's stdout, lowercased.
func (h *Hasher) Hash(ctx context.Context, path string) (string, error) {
	res, err := h.runner.Run(ctx, h.tool, []string{path})
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrHashFailed, path, err)
	}

	fields := strings.Fields(res.Stdout)
	if len(fields) == 0 {
		return "", fmt.Errorf("%w: %s: empty output from %s", ErrHashFailed, path, h.tool)
	}
	return strings.ToLower(fields[0]), nil
}
