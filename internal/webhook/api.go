package webhook

import (
	"crypto/subtle"
	"encoding/json"
	"strings"

	buildErrors "github.com/docharbor/docharbor/internal/errors"
	"github.com/docharbor/docharbor/internal/model"
)

// validateAPI compares a bearer token with the integration secret.
// Generic API integrations have no provider-signed payloads.
func validateAPI(r *Request, secret string) bool {
	token := r.Headers.Get("X-Api-Token")
	if token == "" {
		if auth := r.Headers.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			token = strings.TrimPrefix(auth, "Bearer ")
		}
	}
	if token == "" || secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1
}

type apiPayload struct {
	Ref    *string `json:"ref"`
	Commit string  `json:"commit"`
	Sync   bool    `json:"sync"`
}

// classifyAPI handles the generic trigger payload: {"ref": "...",
// "commit": "..."} to build a version, {"sync": true} to resync.
func classifyAPI(r *Request, target Target) (*Decision, error) {
	var p apiPayload
	if err := json.Unmarshal(r.Body, &p); err != nil {
		return nil, buildErrors.WebhookPayloadError("payload not valid")
	}
	if p.Sync {
		return &Decision{Action: ActionSyncVersions}, nil
	}
	if p.Ref == nil {
		return nil, buildErrors.WebhookPayloadError("payload not valid: missing ref")
	}
	return &Decision{
		Action:      ActionTriggerBuild,
		VersionSlug: model.Slugify(stripRefPrefix(*p.Ref)),
		Commit:      p.Commit,
	}, nil
}
