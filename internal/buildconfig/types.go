// Package buildconfig loads and resolves the repository's declarative
// build configuration file (.docharbor.yaml). The returned BuildConfig is
// fully merged at load time and read-only afterwards: later build phases
// branch on it without re-parsing or cascading fallbacks.
package buildconfig

// Filename is the conventional configuration file name at the repo root.
const Filename = ".docharbor.yaml"

// Format enumerates the downloadable documentation formats. HTML is always
// built and is not part of this list.
type Format string

const (
	FormatHTMLZip Format = "htmlzip"
	FormatPDF     Format = "pdf"
	FormatEpub    Format = "epub"
)

// Doctype identifies the primary documentation toolchain.
type Doctype string

const (
	DoctypeSphinx           Doctype = "sphinx"
	DoctypeSphinxHTMLDir    Doctype = "sphinx_htmldir"
	DoctypeSphinxSingleHTML Doctype = "sphinx_singlehtml"
	DoctypeMkDocs           Doctype = "mkdocs"
)

// Phase names one stage of the build pipeline that accepts a job hook.
type Phase string

const (
	PhasePostCheckout           Phase = "post_checkout"
	PhasePreSystemDependencies  Phase = "pre_system_dependencies"
	PhasePostSystemDependencies Phase = "post_system_dependencies"
	PhasePreCreateEnvironment   Phase = "pre_create_environment"
	PhaseCreateEnvironment      Phase = "create_environment"
	PhasePostCreateEnvironment  Phase = "post_create_environment"
	PhasePreInstall             Phase = "pre_install"
	PhaseInstall                Phase = "install"
	PhasePostInstall            Phase = "post_install"
	PhasePreBuild               Phase = "pre_build"
	PhasePostBuild              Phase = "post_build"
)

// AllPhases lists every hookable phase in pipeline order.
var AllPhases = []Phase{
	PhasePostCheckout,
	PhasePreSystemDependencies,
	PhasePostSystemDependencies,
	PhasePreCreateEnvironment,
	PhaseCreateEnvironment,
	PhasePostCreateEnvironment,
	PhasePreInstall,
	PhaseInstall,
	PhasePostInstall,
	PhasePreBuild,
	PhasePostBuild,
}

// JobKind discriminates the per-phase job sum type.
type JobKind int

const (
	// JobDefault runs the pipeline's built-in behavior for the phase.
	JobDefault JobKind = iota
	// JobUserOverride runs the user's commands instead of the default
	// behavior. A hook replaces the default entirely, it is never additive.
	JobUserOverride
)

// JobSpec is the resolved job for one phase. Evaluated once during
// configuration resolution, not re-checked ad hoc per phase.
type JobSpec struct {
	Kind     JobKind
	Commands []string
}

// PythonConfig holds the virtualenv-based environment settings.
type PythonConfig struct {
	Requirements   string // path to requirements file, empty for none
	InstallProject bool   // pip install the checked-out project itself
	SystemPackages bool   // virtualenv --system-site-packages
}

// CondaConfig holds the conda-based environment settings.
type CondaConfig struct {
	Environment string // path to environment.yml
}

// SphinxConfig holds sphinx toolchain settings.
type SphinxConfig struct {
	Configuration string // path to conf.py
	FailOnWarning bool
}

// MkDocsConfig holds mkdocs toolchain settings.
type MkDocsConfig struct {
	Configuration string // path to mkdocs.yml
	FailOnWarning bool
}

// SubmodulesConfig controls submodule handling after checkout.
type SubmodulesConfig struct {
	Include   []string
	Exclude   []string
	Recursive bool
}

// Enabled reports whether any submodule update should run.
func (s SubmodulesConfig) Enabled() bool {
	return len(s.Include) > 0
}

// BuildConfig is the fully-resolved, immutable configuration for one build.
type BuildConfig struct {
	// SourcedFromFile is false when the file was absent and project
	// defaults were synthesized instead.
	SourcedFromFile bool

	Doctype Doctype
	Formats []Format

	OS          string            // base image selector, e.g. ubuntu-22.04
	Tools       map[string]string // tool -> version pin, e.g. python: "3.11"
	AptPackages []string

	// Jobs maps every hookable phase to its resolved JobSpec. Phases the
	// user did not override map to JobDefault.
	Jobs map[Phase]JobSpec

	// Commands, when non-empty, switches the director to raw-commands
	// mode: the structured phase pipeline is replaced by these commands.
	Commands []string

	Python     PythonConfig
	Conda      *CondaConfig
	Sphinx     SphinxConfig
	MkDocs     MkDocsConfig
	Submodules SubmodulesConfig
}

// UsesConda reports whether the conda toolchain was selected, either via
// an explicit conda key or a conda/mamba tool pin. The choice is fixed
// for the lifetime of the build.
func (c *BuildConfig) UsesConda() bool {
	if c.Conda != nil {
		return true
	}
	switch c.Tools["python"] {
	case "miniconda3", "miniconda-latest", "mambaforge", "mambaforge-latest":
		return true
	}
	return false
}

// RawCommandsMode reports whether build.commands replaces the phase pipeline.
func (c *BuildConfig) RawCommandsMode() bool {
	return len(c.Commands) > 0
}

// HasFormat reports whether a downloadable format was requested.
func (c *BuildConfig) HasFormat(f Format) bool {
	for _, have := range c.Formats {
		if have == f {
			return true
		}
	}
	return false
}

// Job returns the resolved job spec for a phase.
func (c *BuildConfig) Job(phase Phase) JobSpec {
	if spec, ok := c.Jobs[phase]; ok {
		return spec
	}
	return JobSpec{Kind: JobDefault}
}

// ProjectDefaults carries the project-level flags used to synthesize a
// configuration when the repository has no config file.
type ProjectDefaults struct {
	Doctype         Doctype
	EnablePDFBuild  bool
	EnableEpubBuild bool
	InstallProject  bool
	SystemPackages  bool
	Requirements    string
}
