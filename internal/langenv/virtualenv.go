package langenv

import "context"

// Virtualenv installs a python virtual environment and pip dependencies.
type Virtualenv struct {
	base
}

// corePackages are the packages every virtualenv build gets before the
// user's own requirements. Install failures here are build failures.
var corePackages = []string{
	"pip",
	"setuptools",
}

// SetupBase creates the virtual environment directory. Idempotent when
// the directory already exists in a compatible state; callers wipe and
// recreate on version mismatch rather than relying on it.
func (v *Virtualenv) SetupBase(ctx context.Context) error {
	args := []string{"python", "-m", "virtualenv"}
	if v.opts.Config.Python.SystemPackages {
		args = append(args, "--system-site-packages")
	}
	args = append(args, v.opts.EnvPath)
	_, err := v.run(ctx, args...)
	return err
}

// InstallCoreRequirements upgrades the packaging toolchain inside the env.
func (v *Virtualenv) InstallCoreRequirements(ctx context.Context) error {
	args := []string{v.envBin("python"), "-m", "pip", "install", "--upgrade", "--no-cache-dir"}
	args = append(args, corePackages...)
	_, err := v.run(ctx, args...)
	return err
}

// InstallRequirements installs the user requirements file and, when
// enabled, the checked-out project itself.
func (v *Virtualenv) InstallRequirements(ctx context.Context) error {
	if req := v.opts.Config.Python.Requirements; req != "" {
		if _, err := v.run(ctx,
			v.envBin("python"), "-m", "pip", "install", "--exists-action=w", "--no-cache-dir", "-r", req); err != nil {
			return err
		}
	}
	if v.opts.Config.Python.InstallProject {
		if _, err := v.run(ctx,
			v.envBin("python"), "-m", "pip", "install", "--no-cache-dir", "."); err != nil {
			return err
		}
	}
	return nil
}

// ListPackagesInstalled records the resolved package set for inspection.
func (v *Virtualenv) ListPackagesInstalled(ctx context.Context) error {
	_, err := v.run(ctx, v.envBin("python"), "-m", "pip", "list")
	return err
}
