// Package langenv installs the language runtime and project dependencies
// into the build sandbox. Two interchangeable variants exist (virtualenv,
// conda); the variant is chosen once from the build configuration and is
// fixed for the lifetime of the build.
package langenv

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/docharbor/docharbor/internal/artifacts"
	"github.com/docharbor/docharbor/internal/buildconfig"
	"github.com/docharbor/docharbor/internal/logfields"
	"github.com/docharbor/docharbor/internal/metrics"
	"github.com/docharbor/docharbor/internal/sandbox"
)

// asdfRoot is where the version manager keeps tool installations inside
// the build image. Cached archives are created and extracted relative to
// it so an extraction lands exactly where a compile would.
const asdfRoot = "/home/docs/.asdf"

// Environment is the language-runtime surface the director drives.
type Environment interface {
	SetupBase(ctx context.Context) error
	InstallBuildTools(ctx context.Context) error
	InstallCoreRequirements(ctx context.Context) error
	InstallRequirements(ctx context.Context) error
	ListPackagesInstalled(ctx context.Context) error
}

// Options carries the shared wiring of both variants.
type Options struct {
	Sandbox      sandbox.Environment
	Config       *buildconfig.BuildConfig
	Cache        *artifacts.ToolCache
	Metrics      metrics.Recorder
	CheckoutPath string // repository checkout inside the sandbox
	EnvPath      string // isolated environment directory inside the sandbox
	CachePath    string // where fetched tool archives land inside the sandbox
}

// Select chooses the variant from the build configuration.
func Select(opts Options) Environment {
	if opts.Metrics == nil {
		opts.Metrics = metrics.NoopRecorder{}
	}
	if opts.Config.UsesConda() {
		return &Conda{base: base{opts}}
	}
	return &Virtualenv{base: base{opts}}
}

// base holds the behavior shared by both variants: pinned build-tool
// installation with the precompiled-archive cache.
type base struct {
	opts Options
}

// fullToolVersions maps user pins to the full versions the tool manager
// would install. Cache keys use the full version so a pin like "3.11"
// stays stable across patch bumps only when the mapping is updated.
var fullToolVersions = map[string]map[string]string{
	"python": {
		"3":    "3.12.4",
		"3.10": "3.10.14",
		"3.11": "3.11.7",
		"3.12": "3.12.4",
	},
	"nodejs": {
		"18": "18.20.3",
		"20": "20.14.0",
	},
	"rust": {
		"1.70": "1.70.0",
	},
	"golang": {
		"1.21": "1.21.11",
	},
}

func fullVersion(tool, pin string) string {
	if versions, ok := fullToolVersions[tool]; ok {
		if full, ok := versions[pin]; ok {
			return full
		}
	}
	// Unknown pins install verbatim; the cache key uses the pin as-is.
	return pin
}

// InstallBuildTools installs every pinned tool, consulting the build-tool
// cache first. A cache hit extracts the precompiled archive and skips
// compilation entirely.
func (b *base) InstallBuildTools(ctx context.Context) error {
	for tool, pin := range b.opts.Config.Tools {
		full := fullVersion(tool, pin)

		hit := false
		var key string
		if b.opts.Cache != nil {
			var err error
			hit, key, err = b.opts.Cache.Lookup(ctx, b.opts.Config.OS, tool, full)
			if err != nil {
				// Cache trouble degrades to the slow path.
				slog.Warn("Build-tool cache lookup failed", logfields.Error(err))
				hit = false
			}
		}
		b.opts.Metrics.IncToolCache(hit)

		if hit {
			archive, err := b.materializeArchive(ctx, key)
			if err != nil {
				// A hit we cannot fetch degrades to the slow path.
				slog.Warn("Could not fetch cached build tool",
					slog.String("key", key), logfields.Error(err))
			} else {
				if _, err := b.run(ctx,
					"tar", "-x", "-z", "-f", archive, "-C", asdfRoot); err != nil {
					return err
				}
				if _, err := b.run(ctx, "asdf", "reshim", tool); err != nil {
					return err
				}
				continue
			}
		}

		// Slow path: the version manager compiles/downloads from scratch.
		if _, err := b.run(ctx, "asdf", "install", tool, full); err != nil {
			return err
		}
		if _, err := b.run(ctx, "asdf", "global", tool, full); err != nil {
			return err
		}
		b.populateCache(ctx, tool, full, key)
	}
	return nil
}

// materializeArchive downloads the cached archive into the cache
// directory, which is bind-mounted into the sandbox at the same path, so
// the extraction command sees the file the host just wrote.
func (b *base) materializeArchive(ctx context.Context, key string) (string, error) {
	rc, err := b.opts.Cache.Fetch(ctx, key)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	target := filepath.Join(b.opts.CachePath, path.Base(key))
	f, err := os.Create(target)
	if err != nil {
		return "", fmt.Errorf("create archive %s: %w", target, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, rc); err != nil {
		return "", fmt.Errorf("write archive %s: %w", target, err)
	}
	return target, nil
}

// populateCache uploads a freshly compiled tool so the next build hits
// the cache. Failures here never fail the build.
func (b *base) populateCache(ctx context.Context, tool, full, key string) {
	if b.opts.Cache == nil || b.opts.CachePath == "" || key == "" {
		return
	}
	archive := filepath.Join(b.opts.CachePath, path.Base(key))
	if _, err := b.run(ctx, "tar", "-c", "-z", "-f", archive,
		"-C", asdfRoot, "installs/"+tool+"/"+full); err != nil {
		slog.Warn("Could not archive build tool for the cache",
			slog.String("key", key), logfields.Error(err))
		return
	}
	f, err := os.Open(archive)
	if err != nil {
		slog.Warn("Could not read build tool archive",
			slog.String("key", key), logfields.Error(err))
		return
	}
	defer f.Close()
	if err := b.opts.Cache.Store(ctx, key, f); err != nil {
		slog.Warn("Could not store build tool in the cache",
			slog.String("key", key), logfields.Error(err))
	}
}

func (b *base) run(ctx context.Context, args ...string) (*sandbox.CommandResult, error) {
	return b.opts.Sandbox.Run(ctx, sandbox.RunOptions{
		Cwd:           b.opts.CheckoutPath,
		DemandSuccess: true,
	}, args...)
}

func (b *base) envBin(name string) string {
	return fmt.Sprintf("%s/bin/%s", b.opts.EnvPath, name)
}
