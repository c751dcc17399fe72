// Package model holds the persistent domain types of the build platform:
// projects, versions, builds, integrations, and the transient values
// extracted from webhook payloads.
package model

import "time"

// VersionType classifies how a version came to exist.
type VersionType string

const (
	VersionTypeBranch   VersionType = "branch"
	VersionTypeTag      VersionType = "tag"
	VersionTypeExternal VersionType = "external"
)

// VersionState applies to external (pull/merge request) versions only.
type VersionState string

const (
	VersionStateOpen   VersionState = "open"
	VersionStateClosed VersionState = "closed"
)

// BuildState is the monotonic build lifecycle. A build never leaves
// finished once it arrives there.
type BuildState string

const (
	BuildStateTriggered  BuildState = "triggered"
	BuildStateCloning    BuildState = "cloning"
	BuildStateInstalling BuildState = "installing"
	BuildStateBuilding   BuildState = "building"
	BuildStateFinished   BuildState = "finished"
)

// VCSType identifies the version control backend of a project repository.
type VCSType string

const (
	VCSGit VCSType = "git"
)

// Project is the owning unit: a documentation project bound to one
// source repository.
type Project struct {
	ID            int64     `json:"id"`
	Slug          string    `json:"slug"`
	RepoURL       string    `json:"repo_url"`
	RepoType      VCSType   `json:"repo_type"`
	DefaultBranch string    `json:"default_branch"` // user-configured; empty means follow the remote
	Language      string    `json:"language"`
	CanonicalURL  string    `json:"canonical_url"`

	// Build feature flags
	ExternalBuildsEnabled bool `json:"external_builds_enabled"`
	EnablePDFBuild        bool `json:"enable_pdf_build"`
	EnableEpubBuild       bool `json:"enable_epub_build"`
	InstallProject        bool `json:"install_project"`
	UseSystemPackages     bool `json:"use_system_packages"`

	Skip      bool      `json:"skip"` // disabled projects refuse webhook deliveries
	CreatedAt time.Time `json:"created_at"`
}

// Version is a buildable unit of a project.
type Version struct {
	ID         int64       `json:"id"`
	ProjectID  int64       `json:"project_id"`
	Slug       string      `json:"slug"`
	Identifier string      `json:"identifier"` // branch/tag name or commit
	Type       VersionType `json:"type"`
	Active     bool        `json:"active"`
	Built      bool        `json:"built"`

	// External versions only.
	State VersionState `json:"state,omitempty"`

	// Set from the primary builder's doctype after a successful build.
	DocumentationType string `json:"documentation_type,omitempty"`
}

// IsExternal reports whether the version originates from a pull/merge request.
func (v *Version) IsExternal() bool {
	return v.Type == VersionTypeExternal
}

// Build is one execution attempt of a version.
type Build struct {
	ID        string     `json:"id"`
	ProjectID int64      `json:"project_id"`
	VersionID int64      `json:"version_id"`
	State     BuildState `json:"state"`
	Success   bool       `json:"success"`
	Error     string     `json:"error,omitempty"`
	Commit    string     `json:"commit,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Finished reports whether the build reached its terminal state.
func (b *Build) Finished() bool {
	return b.State == BuildStateFinished
}

// BuildCommand is one recorded command execution owned by a build.
type BuildCommand struct {
	ID        int64     `json:"id"`
	BuildID   string    `json:"build_id"`
	Command   string    `json:"command"`
	Output    string    `json:"output"`
	ExitCode  int       `json:"exit_code"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// IntegrationType identifies the webhook provider of an integration.
type IntegrationType string

const (
	IntegrationGitHub    IntegrationType = "github"
	IntegrationGitLab    IntegrationType = "gitlab"
	IntegrationBitbucket IntegrationType = "bitbucket"
	IntegrationAPI       IntegrationType = "api"
)

// Integration is a per-project webhook registration.
type Integration struct {
	ID           int64           `json:"id"`
	ProjectID    int64           `json:"project_id"`
	Type         IntegrationType `json:"type"`
	Secret       string          `json:"secret,omitempty"`
	ProviderData string          `json:"provider_data,omitempty"` // cached upstream webhook metadata, JSON
}

// HasSecret reports whether signature validation applies to deliveries.
func (i *Integration) HasSecret() bool {
	return i.Secret != ""
}

// ExternalVersionData is the transient value extracted from a PR/MR
// webhook payload. Never persisted directly.
type ExternalVersionData struct {
	ID           string // PR/MR number
	SourceBranch string
	BaseBranch   string
	Commit       string
}
