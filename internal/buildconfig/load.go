package buildconfig

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	berrors "github.com/docharbor/docharbor/internal/errors"
)

// rawConfig mirrors the YAML schema of the config file. It exists only
// inside Load; everything user-visible works on the resolved BuildConfig.
type rawConfig struct {
	Version int      `yaml:"version"`
	Formats []string `yaml:"formats"`

	Build struct {
		OS          string              `yaml:"os"`
		Tools       map[string]string   `yaml:"tools"`
		AptPackages []string            `yaml:"apt_packages"`
		Jobs        map[string][]string `yaml:"jobs"`
		Commands    []string            `yaml:"commands"`
	} `yaml:"build"`

	Python *struct {
		Install []struct {
			Requirements string `yaml:"requirements"`
			Path         string `yaml:"path"`
			Method       string `yaml:"method"`
		} `yaml:"install"`
		SystemPackages bool `yaml:"system_packages"`
	} `yaml:"python"`

	Conda *struct {
		Environment string `yaml:"environment"`
	} `yaml:"conda"`

	Sphinx *struct {
		Configuration string `yaml:"configuration"`
		FailOnWarning bool   `yaml:"fail_on_warning"`
		Builder       string `yaml:"builder"`
	} `yaml:"sphinx"`

	MkDocs *struct {
		Configuration string `yaml:"configuration"`
		FailOnWarning bool   `yaml:"fail_on_warning"`
	} `yaml:"mkdocs"`

	Submodules *struct {
		Include   []string `yaml:"include"`
		Exclude   []string `yaml:"exclude"`
		Recursive bool     `yaml:"recursive"`
	} `yaml:"submodules"`
}

const defaultBuildOS = "ubuntu-22.04"

// knownTools is the closed set of pinnable build tools.
var knownTools = map[string]bool{
	"python": true,
	"nodejs": true,
	"rust":   true,
	"golang": true,
}

// Load reads the declarative configuration from the checked-out tree.
//
// A missing file is not an error: a BuildConfig is synthesized from the
// project defaults. A malformed or invalid file is a ConfigurationError
// carrying the parse diagnostic, which is a hard build failure surfaced
// to the user.
func Load(checkoutPath string, defaults ProjectDefaults) (*BuildConfig, error) {
	path := filepath.Join(checkoutPath, Filename)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fromDefaults(defaults), nil
		}
		return nil, berrors.ConfigurationError("could not read configuration file", err)
	}

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, berrors.ConfigurationError("problem in your project's configuration file", err)
	}

	cfg, err := resolve(&raw)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// fromDefaults synthesizes a configuration from project-level flags.
// htmlzip is always included; pdf/epub follow the project flags exactly.
func fromDefaults(d ProjectDefaults) *BuildConfig {
	formats := []Format{FormatHTMLZip}
	if d.EnablePDFBuild {
		formats = append(formats, FormatPDF)
	}
	if d.EnableEpubBuild {
		formats = append(formats, FormatEpub)
	}

	doctype := d.Doctype
	if doctype == "" {
		doctype = DoctypeSphinx
	}

	return &BuildConfig{
		SourcedFromFile: false,
		Doctype:         doctype,
		Formats:         formats,
		OS:              defaultBuildOS,
		Tools:           map[string]string{"python": "3"},
		Jobs:            defaultJobs(),
		Python: PythonConfig{
			Requirements:   d.Requirements,
			InstallProject: d.InstallProject,
			SystemPackages: d.SystemPackages,
		},
	}
}

func defaultJobs() map[Phase]JobSpec {
	jobs := make(map[Phase]JobSpec, len(AllPhases))
	for _, p := range AllPhases {
		jobs[p] = JobSpec{Kind: JobDefault}
	}
	return jobs
}

// resolve merges the raw schema into one fully-resolved BuildConfig and
// validates it. All fallback decisions happen here, once.
func resolve(raw *rawConfig) (*BuildConfig, error) {
	if raw.Version != 0 && raw.Version != 2 {
		return nil, berrors.ConfigurationError(
			fmt.Sprintf("unsupported configuration version %d, expected 2", raw.Version), nil)
	}

	cfg := &BuildConfig{
		SourcedFromFile: true,
		OS:              raw.Build.OS,
		AptPackages:     raw.Build.AptPackages,
		Commands:        raw.Build.Commands,
		Jobs:            defaultJobs(),
		Tools:           map[string]string{},
	}
	if cfg.OS == "" {
		cfg.OS = defaultBuildOS
	}

	for tool, version := range raw.Build.Tools {
		if !knownTools[tool] {
			return nil, berrors.ConfigurationError(
				fmt.Sprintf("unknown build tool %q in build.tools", tool), nil)
		}
		if version == "" {
			return nil, berrors.ConfigurationError(
				fmt.Sprintf("build.tools.%s requires a version", tool), nil)
		}
		cfg.Tools[tool] = version
	}
	if _, ok := cfg.Tools["python"]; !ok {
		cfg.Tools["python"] = "3"
	}

	for _, f := range raw.Formats {
		switch Format(f) {
		case FormatHTMLZip, FormatPDF, FormatEpub:
			cfg.Formats = append(cfg.Formats, Format(f))
		default:
			if f == "all" {
				cfg.Formats = []Format{FormatHTMLZip, FormatPDF, FormatEpub}
			} else {
				return nil, berrors.ConfigurationError(
					fmt.Sprintf("unknown format %q, expected htmlzip, pdf, epub or all", f), nil)
			}
		}
	}

	for phaseName, commands := range raw.Build.Jobs {
		phase := Phase(phaseName)
		if _, ok := cfg.Jobs[phase]; !ok {
			return nil, berrors.ConfigurationError(
				fmt.Sprintf("unknown phase %q in build.jobs", phaseName), nil)
		}
		if len(commands) > 0 {
			cfg.Jobs[phase] = JobSpec{Kind: JobUserOverride, Commands: commands}
		}
	}

	if len(cfg.Commands) > 0 && len(raw.Build.Jobs) > 0 {
		return nil, berrors.ConfigurationError(
			"build.commands and build.jobs are mutually exclusive", nil)
	}

	if raw.Python != nil {
		cfg.Python.SystemPackages = raw.Python.SystemPackages
		for _, item := range raw.Python.Install {
			switch {
			case item.Requirements != "":
				cfg.Python.Requirements = item.Requirements
			case item.Path != "":
				cfg.Python.InstallProject = true
			}
		}
	}

	if raw.Conda != nil {
		if raw.Conda.Environment == "" {
			return nil, berrors.ConfigurationError("conda.environment is required when conda is configured", nil)
		}
		cfg.Conda = &CondaConfig{Environment: raw.Conda.Environment}
	}

	switch {
	case raw.MkDocs != nil && raw.Sphinx != nil:
		return nil, berrors.ConfigurationError("sphinx and mkdocs are mutually exclusive", nil)
	case raw.MkDocs != nil:
		cfg.Doctype = DoctypeMkDocs
		cfg.MkDocs = MkDocsConfig{
			Configuration: raw.MkDocs.Configuration,
			FailOnWarning: raw.MkDocs.FailOnWarning,
		}
	case raw.Sphinx != nil:
		cfg.Doctype = sphinxDoctype(raw.Sphinx.Builder)
		if cfg.Doctype == "" {
			return nil, berrors.ConfigurationError(
				fmt.Sprintf("unknown sphinx builder %q", raw.Sphinx.Builder), nil)
		}
		cfg.Sphinx = SphinxConfig{
			Configuration: raw.Sphinx.Configuration,
			FailOnWarning: raw.Sphinx.FailOnWarning,
		}
	default:
		cfg.Doctype = DoctypeSphinx
	}

	if raw.Submodules != nil {
		cfg.Submodules = SubmodulesConfig{
			Include:   raw.Submodules.Include,
			Exclude:   raw.Submodules.Exclude,
			Recursive: raw.Submodules.Recursive,
		}
	}

	return cfg, nil
}

func sphinxDoctype(builder string) Doctype {
	switch builder {
	case "", "html":
		return DoctypeSphinx
	case "dirhtml", "htmldir":
		return DoctypeSphinxHTMLDir
	case "singlehtml":
		return DoctypeSphinxSingleHTML
	default:
		return ""
	}
}
