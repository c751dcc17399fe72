package doctool

import (
	"context"
	"fmt"
	"path"

	"github.com/docharbor/docharbor/internal/sandbox"
)

// MkDocs builds the html output with mkdocs. MkDocs has no secondary
// formats; downloadable builds are skipped for mkdocs projects.
type MkDocs struct {
	opts Options
}

func (m *MkDocs) configFile() string {
	if c := m.opts.Config.MkDocs.Configuration; c != "" {
		return c
	}
	return "mkdocs.yml"
}

// AppendConf injects site metadata into mkdocs.yml so the rendered site
// carries the canonical URL.
func (m *MkDocs) AppendConf(ctx context.Context) error {
	extra := fmt.Sprintf("site_url: %s\n", m.opts.CanonicalURL)
	_, err := m.opts.Sandbox.Run(ctx, sandbox.RunOptions{
		Cwd:           m.opts.CheckoutPath,
		Shell:         true,
		DemandSuccess: true,
	}, fmt.Sprintf("printf '%%s' %q >> %s", extra, m.configFile()))
	return err
}

// Build runs mkdocs build into the canonical html output path.
func (m *MkDocs) Build(ctx context.Context) (bool, error) {
	args := []string{
		m.opts.pythonBin(), "-m", "mkdocs", "build",
		"--clean",
		"--site-dir", path.Join(m.opts.OutputPath, "html"),
		"--config-file", m.configFile(),
	}
	if m.opts.Config.MkDocs.FailOnWarning {
		args = append(args, "--strict")
	}
	res, err := m.opts.Sandbox.Run(ctx, sandbox.RunOptions{Cwd: m.opts.CheckoutPath}, args...)
	if err != nil {
		return false, err
	}
	return res.Successful(), nil
}

// Move is a no-op: mkdocs wrote directly into the output path.
func (m *MkDocs) Move(context.Context) error { return nil }
