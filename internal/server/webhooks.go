package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	buildErrors "github.com/docharbor/docharbor/internal/errors"
	"github.com/docharbor/docharbor/internal/model"
	"github.com/docharbor/docharbor/internal/store"
	"github.com/docharbor/docharbor/internal/webhook"
)

// maxWebhookBody bounds inbound payloads. Provider deliveries are small;
// anything larger is abuse.
const maxWebhookBody = 2 << 20

// eventHeaders maps each provider to the header naming its event type.
var eventHeaders = map[model.IntegrationType]string{
	model.IntegrationGitHub:    "X-GitHub-Event",
	model.IntegrationGitLab:    "X-Gitlab-Event",
	model.IntegrationBitbucket: "X-Event-Key",
}

// handleProviderWebhook serves the per-provider endpoints, resolving the
// project from the URL. A project without a registered integration of
// this type is served with an unsigned one, so legacy hook URLs keep
// working before a secret is configured.
func (s *Server) handleProviderWebhook(integrationType model.IntegrationType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, ok := s.resolveProject(w, r, chi.URLParam(r, "project"))
		if !ok {
			return
		}
		integration, err := s.opts.Store.GetIntegrationForProject(r.Context(), project.ID, integrationType)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				writeDetail(w, http.StatusInternalServerError, "internal error")
				return
			}
			integration = &model.Integration{ProjectID: project.ID, Type: integrationType}
		}
		s.serveWebhook(w, r, webhook.Target{Project: project, Integration: integration})
	}
}

// handleGenericWebhook serves deliveries addressed by integration id,
// which is how the api integration type and newer hook URLs arrive.
func (s *Server) handleGenericWebhook(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "integrationID"), 10, 64)
	if err != nil {
		writeDetail(w, http.StatusNotFound, "integration not found")
		return
	}
	integration, err := s.opts.Store.GetIntegration(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeDetail(w, http.StatusNotFound, "integration not found")
			return
		}
		writeDetail(w, http.StatusInternalServerError, "internal error")
		return
	}
	project, err := s.opts.Store.GetProject(r.Context(), integration.ProjectID)
	if err != nil {
		writeDetail(w, http.StatusNotFound, "project not found")
		return
	}
	if project.Skip {
		writeDetail(w, http.StatusNotAcceptable, "this project is currently disabled")
		return
	}
	s.serveWebhook(w, r, webhook.Target{Project: project, Integration: integration})
}

func (s *Server) resolveProject(w http.ResponseWriter, r *http.Request, slug string) (*model.Project, bool) {
	project, err := s.opts.Store.GetProjectBySlug(r.Context(), slug)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeDetail(w, http.StatusNotFound, "project not found")
			return nil, false
		}
		writeDetail(w, http.StatusInternalServerError, "internal error")
		return nil, false
	}
	if project.Skip {
		writeDetail(w, http.StatusNotAcceptable, "this project is currently disabled")
		return nil, false
	}
	return project, true
}

// serveWebhook runs one delivery through dispatch and processing and
// renders the response contract.
func (s *Server) serveWebhook(w http.ResponseWriter, r *http.Request, target webhook.Target) {
	body, err := readWebhookBody(r)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "could not read request body")
		return
	}

	req := &webhook.Request{
		Event:   r.Header.Get(eventHeaders[target.Integration.Type]),
		Body:    body,
		Headers: r.Header,
	}

	decision, err := s.opts.Dispatcher.Dispatch(r.Context(), target, req)
	if err != nil {
		if errors.Is(err, webhook.ErrInvalidSignature) {
			writeDetail(w, http.StatusBadRequest, "webhook signature validation failed")
			return
		}
		if buildErrors.IsCategory(err, buildErrors.CategoryWebhook) {
			writeDetail(w, http.StatusBadRequest, buildErrors.UserMessage(err))
			return
		}
		writeDetail(w, http.StatusInternalServerError, "internal error")
		return
	}

	result, err := s.opts.Processor.Process(r.Context(), target, decision)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "failed to process webhook")
		return
	}
	if result.Versions == nil {
		result.Versions = []string{}
	}
	writeJSON(w, http.StatusOK, result)
}

// readWebhookBody reads the delivery body, unwrapping the legacy
// form-encoded shape where the JSON document travels in a payload field.
func readWebhookBody(r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxWebhookBody)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
		return []byte(r.PostFormValue("payload")), nil
	}
	return io.ReadAll(r.Body)
}
