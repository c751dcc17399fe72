// Package webhook turns inbound VCS provider deliveries into build
// decisions. Each provider contributes a signature validator and an
// event classifier through a capability table; the dispatcher itself
// stays provider-agnostic.
package webhook

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	buildErrors "github.com/docharbor/docharbor/internal/errors"
	"github.com/docharbor/docharbor/internal/logfields"
	"github.com/docharbor/docharbor/internal/metrics"
	"github.com/docharbor/docharbor/internal/model"
)

// Action is what a delivery resolves to.
type Action string

const (
	ActionNoOp            Action = "noop"
	ActionTriggerBuild    Action = "trigger_build"
	ActionSyncVersions    Action = "sync_versions"
	ActionTriggerExternal Action = "trigger_external" // get-or-create external version, then build it
	ActionCloseExternal   Action = "close_external"
)

// Decision is the outcome of classifying one delivery. It carries no
// side effects; the processor executes it.
type Decision struct {
	Action      Action
	VersionSlug string // ActionTriggerBuild
	Commit      string
	External    *model.ExternalVersionData // ActionTriggerExternal; for ActionCloseExternal only ID is set

	// DefaultBranch freshens the "latest" pointer when the payload
	// carries the field, independent of the event classification.
	DefaultBranch string

	Reason string // human-readable no-op explanation
}

// Request is one inbound delivery after the HTTP layer peeled it apart.
type Request struct {
	Event   string // provider event header (X-GitHub-Event, X-Gitlab-Event, X-Event-Key)
	Body    []byte
	Headers http.Header
}

// Target is the project/integration pair a delivery resolved to.
type Target struct {
	Project     *model.Project
	Integration *model.Integration
}

// ErrInvalidSignature marks a delivery whose signature did not match
// the integration secret. Mapped to HTTP 400 at the endpoint.
var ErrInvalidSignature = errors.New("webhook signature validation failed")

type capability struct {
	validate func(r *Request, secret string) bool
	classify func(r *Request, target Target) (*Decision, error)
}

var capabilities = map[model.IntegrationType]capability{
	model.IntegrationGitHub:    {validate: validateGitHub, classify: classifyGitHub},
	model.IntegrationGitLab:    {validate: validateGitLab, classify: classifyGitLab},
	model.IntegrationBitbucket: {validate: validateBitbucket, classify: classifyBitbucket},
	model.IntegrationAPI:       {validate: validateAPI, classify: classifyAPI},
}

// Dispatcher validates and classifies webhook deliveries.
type Dispatcher struct {
	recorder metrics.Recorder
}

func NewDispatcher(recorder metrics.Recorder) *Dispatcher {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &Dispatcher{recorder: recorder}
}

// Dispatch validates the delivery against the integration secret and
// classifies it into a decision. When the integration has no secret the
// signature check is skipped entirely; the classifiers then refuse the
// operations that would execute untrusted code (external/PR builds).
func (d *Dispatcher) Dispatch(ctx context.Context, target Target, r *Request) (*Decision, error) {
	cap, ok := capabilities[target.Integration.Type]
	if !ok {
		return nil, buildErrors.WebhookPayloadError("unknown integration type")
	}

	if target.Integration.HasSecret() {
		if !cap.validate(r, target.Integration.Secret) {
			return nil, ErrInvalidSignature
		}
	}

	decision, err := cap.classify(r, target)
	if err != nil {
		return nil, err
	}

	d.recorder.IncWebhookDecision(string(target.Integration.Type), string(decision.Action))
	slog.InfoContext(ctx, "Webhook classified",
		logfields.Provider(string(target.Integration.Type)),
		logfields.Event(r.Event),
		logfields.Project(target.Project.Slug),
		slog.String("action", string(decision.Action)))
	return decision, nil
}

// stripRefPrefix normalizes a push ref to a bare branch/tag name.
func stripRefPrefix(ref string) string {
	for _, prefix := range []string{"refs/heads/", "refs/tags/"} {
		if len(ref) > len(prefix) && ref[:len(prefix)] == prefix {
			return ref[len(prefix):]
		}
	}
	return ref
}
