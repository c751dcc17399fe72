package artifacts

import (
	"context"
	"fmt"
	"io"
)

// ToolCache resolves precompiled build-tool installations stored in the
// sink. The cache is read-many/write-occasional and eventually consistent:
// two builds racing to populate the same key is tolerated, last write wins.
type ToolCache struct {
	sink Sink
}

// NewToolCache wraps a sink.
func NewToolCache(sink Sink) *ToolCache {
	return &ToolCache{sink: sink}
}

// Key renders the cache artifact name for an OS/tool/version triple.
func (c *ToolCache) Key(buildOS, tool, fullVersion string) string {
	return fmt.Sprintf("build-tools/%s-%s-%s.tar.gz", buildOS, tool, fullVersion)
}

// Lookup reports whether a precompiled archive exists for the triple. A
// hit means install can fetch and extract it instead of compiling.
func (c *ToolCache) Lookup(ctx context.Context, buildOS, tool, fullVersion string) (bool, string, error) {
	key := c.Key(buildOS, tool, fullVersion)
	ok, err := c.sink.Exists(ctx, key)
	if err != nil {
		return false, key, fmt.Errorf("tool cache lookup %s: %w", key, err)
	}
	return ok, key, nil
}

// Fetch opens the cached archive for reading. The caller closes the
// reader and falls back to compiling when the fetch fails.
func (c *ToolCache) Fetch(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, err := c.sink.Fetch(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("tool cache fetch %s: %w", key, err)
	}
	return rc, nil
}

// Store uploads a freshly compiled tool archive under its key. Two
// builds racing to populate the same key is fine, last write wins.
func (c *ToolCache) Store(ctx context.Context, key string, r io.Reader) error {
	if err := c.sink.Store(ctx, key, r); err != nil {
		return fmt.Errorf("tool cache store %s: %w", key, err)
	}
	return nil
}
