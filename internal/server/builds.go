package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/docharbor/docharbor/internal/queue"
	"github.com/docharbor/docharbor/internal/store"
)

func (s *Server) handleGetBuild(w http.ResponseWriter, r *http.Request) {
	build, err := s.opts.Store.GetBuild(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeDetail(w, http.StatusNotFound, "build not found")
			return
		}
		writeDetail(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, build)
}

func (s *Server) handleListBuildCommands(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.opts.Store.GetBuild(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeDetail(w, http.StatusNotFound, "build not found")
			return
		}
		writeDetail(w, http.StatusInternalServerError, "internal error")
		return
	}
	commands, err := s.opts.Store.ListCommands(r.Context(), id)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"build_id": id, "commands": commands})
}

// handleTriggerBuild creates and enqueues a build for a known version,
// the manual counterpart to webhook-triggered builds.
func (s *Server) handleTriggerBuild(w http.ResponseWriter, r *http.Request) {
	project, ok := s.resolveProject(w, r, chi.URLParam(r, "project"))
	if !ok {
		return
	}
	version, err := s.opts.Store.GetVersion(r.Context(), project.ID, chi.URLParam(r, "version"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeDetail(w, http.StatusNotFound, "version not found")
			return
		}
		writeDetail(w, http.StatusInternalServerError, "internal error")
		return
	}

	build, err := s.opts.Store.CreateBuild(r.Context(), project.ID, version.ID)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "failed to create build")
		return
	}
	if err := s.opts.Queue.Enqueue(&queue.Job{
		BuildID:     build.ID,
		Trigger:     queue.TriggerAPI,
		ProjectSlug: project.Slug,
		VersionSlug: version.Slug,
	}); err != nil {
		writeDetail(w, http.StatusServiceUnavailable, "build queue is full")
		return
	}
	writeJSON(w, http.StatusAccepted, build)
}
