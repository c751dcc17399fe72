package langenv

import "context"

// Conda installs a conda environment from the project's environment file.
type Conda struct {
	base
}

// SetupBase creates the conda environment from the declared file.
func (c *Conda) SetupBase(ctx context.Context) error {
	args := []string{"conda", "env", "create", "--quiet", "--prefix", c.opts.EnvPath}
	if c.opts.Config.Conda != nil && c.opts.Config.Conda.Environment != "" {
		args = append(args, "--file", c.opts.Config.Conda.Environment)
	}
	_, err := c.run(ctx, args...)
	return err
}

// InstallCoreRequirements conda-installs the packaging toolchain into the env.
func (c *Conda) InstallCoreRequirements(ctx context.Context) error {
	_, err := c.run(ctx,
		"conda", "install", "--yes", "--quiet", "--prefix", c.opts.EnvPath, "pip", "setuptools")
	return err
}

// InstallRequirements installs user pip requirements inside the conda env.
func (c *Conda) InstallRequirements(ctx context.Context) error {
	if req := c.opts.Config.Python.Requirements; req != "" {
		if _, err := c.run(ctx,
			c.envBin("python"), "-m", "pip", "install", "--exists-action=w", "--no-cache-dir", "-r", req); err != nil {
			return err
		}
	}
	return nil
}

// ListPackagesInstalled records the resolved package set for inspection.
func (c *Conda) ListPackagesInstalled(ctx context.Context) error {
	_, err := c.run(ctx, "conda", "list", "--prefix", c.opts.EnvPath)
	return err
}
