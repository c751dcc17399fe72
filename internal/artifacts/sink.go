// Package artifacts is the narrow artifact-sink boundary of the build
// pipeline: finished format outputs are handed over here, the build-tool
// cache is consulted here, and the build metadata file consumed by the
// rendered documentation is generated here.
package artifacts

import (
	"context"
	"io"
)

// Sink receives build outputs and serves cached build tools. Production
// deployments back this with object storage; the filesystem implementation
// serves single-host installs and tests.
type Sink interface {
	// Store uploads an object under the given key, replacing any
	// previous content.
	Store(ctx context.Context, key string, r io.Reader) error

	// Exists reports whether an object is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Fetch opens an object for reading. The caller closes the reader.
	Fetch(ctx context.Context, key string) (io.ReadCloser, error)
}

// FormatOutcome is the per-format result map emitted at FINALIZE time to
// external collaborators (artifact sync, search indexing).
type FormatOutcome struct {
	HTML       bool `json:"html"`
	Search     bool `json:"search"`
	LocalMedia bool `json:"localmedia"`
	PDF        bool `json:"pdf"`
	Epub       bool `json:"epub"`
}
