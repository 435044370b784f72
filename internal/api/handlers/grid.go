// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/ratiosync/internal/grid"
	"github.com/autobrr/ratiosync/internal/models"
)

// GridHandler exposes one live grid view. Listing with filters makes them the
// view's filters, so later selection and bulk calls act on the same rows.
type GridHandler struct {
	viewer *grid.Viewer
}

func NewGridHandler(viewer *grid.Viewer) *GridHandler {
	return &GridHandler{viewer: viewer}
}

type GridResponse struct {
	Rows     []models.InstanceSummary `json:"rows"`
	Selected []string                 `json:"selected"`
	Filters  grid.Filters             `json:"filters"`
	Sort     grid.Sort                `json:"sort"`
}

type SelectionRequest struct {
	// Op is one of all, none, invert, click, state, tag, prune.
	Op    string   `json:"op"`
	ID    string   `json:"id,omitempty"`
	Shift bool     `json:"shift,omitempty"`
	State string   `json:"state,omitempty"`
	Tag   string   `json:"tag,omitempty"`
	IDs   []string `json:"ids,omitempty"`
}

type SelectionResponse struct {
	Selected []string `json:"selected"`
}

type GridTagRequest struct {
	Add    []string `json:"add"`
	Remove []string `json:"remove"`
}

type GridImportRequest struct {
	Files    []models.ImportFile       `json:"files"`
	Path     string                    `json:"path,omitempty"`
	Settings models.GridImportSettings `json:"settings"`
}

type TagSuggestionsResponse struct {
	Tags []string `json:"tags"`
}

func (h *GridHandler) respondView(w http.ResponseWriter) {
	rows, err := h.viewer.Rows()
	if err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	RespondJSON(w, http.StatusOK, GridResponse{
		Rows:     rows,
		Selected: h.viewer.Selection().Scoped(rows),
		Filters:  h.viewer.Filters(),
		Sort:     h.viewer.Sort(),
	})
}

func (h *GridHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filters := grid.Filters{
		Search: q.Get("search"),
		State:  q.Get("state"),
		Tag:    q.Get("tag"),
		Expr:   q.Get("expr"),
	}
	sorting := grid.Sort{Column: q.Get("sort"), Direction: grid.SortDirection(strings.ToLower(q.Get("dir")))}
	if err := h.viewer.SetView(filters, sorting); err != nil {
		if errors.Is(err, grid.ErrInvalidDirection) {
			RespondError(w, http.StatusBadRequest, "Sort direction must be asc or desc")
			return
		}
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.respondView(w)
}

func (h *GridHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.viewer.Refresh(r.Context()); err != nil {
		log.Warn().Err(err).Msg("grid refresh failed")
		RespondError(w, http.StatusBadGateway, "Failed to refresh grid")
		return
	}
	h.respondView(w)
}

func (h *GridHandler) Selection(w http.ResponseWriter, r *http.Request) {
	var req SelectionRequest
	if err := decodeOptional(r, &req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	view := h.viewer.Visible()
	sel := h.viewer.Selection()

	switch req.Op {
	case "all":
		sel.SelectAll(view)
	case "none":
		sel.DeselectAll(view)
	case "invert":
		sel.Invert(view)
	case "click":
		if req.ID == "" {
			RespondError(w, http.StatusBadRequest, "Row id is required")
			return
		}
		sel.Click(view, req.ID, req.Shift)
	case "state":
		sel.SelectByState(view, models.LifecycleState(req.State))
	case "tag":
		sel.SelectByTag(view, req.Tag)
	case "prune":
		sel.Prune(req.IDs...)
	default:
		RespondError(w, http.StatusBadRequest, "Unknown selection operation")
		return
	}

	RespondJSON(w, http.StatusOK, SelectionResponse{Selected: sel.Scoped(view)})
}

func (h *GridHandler) action(run func(context.Context) (models.GridActionResult, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := run(r.Context())
		if err != nil {
			log.Error().Err(err).Msg("grid action failed")
			RespondError(w, http.StatusBadGateway, err.Error())
			return
		}
		RespondJSON(w, http.StatusOK, result)
	}
}

func (h *GridHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.action(h.viewer.Coordinator().Start)(w, r)
}

func (h *GridHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.action(h.viewer.Coordinator().Stop)(w, r)
}

func (h *GridHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.action(h.viewer.Coordinator().Pause)(w, r)
}

func (h *GridHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.action(h.viewer.Coordinator().Resume)(w, r)
}

func (h *GridHandler) Delete(w http.ResponseWriter, r *http.Request) {
	h.action(h.viewer.Coordinator().Delete)(w, r)
}

func (h *GridHandler) Tag(w http.ResponseWriter, r *http.Request) {
	var req GridTagRequest
	if err := decodeOptional(r, &req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if len(req.Add) == 0 && len(req.Remove) == 0 {
		RespondError(w, http.StatusBadRequest, "Nothing to add or remove")
		return
	}
	h.action(func(ctx context.Context) (models.GridActionResult, error) {
		return h.viewer.Coordinator().Tag(ctx, req.Add, req.Remove)
	})(w, r)
}

func (h *GridHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var preset models.PresetSettings
	if err := decodeOptional(r, &preset); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	h.action(func(ctx context.Context) (models.GridActionResult, error) {
		return h.viewer.Coordinator().UpdateConfig(ctx, preset)
	})(w, r)
}

// Import creates instances from uploaded files, or from a folder when path is set.
func (h *GridHandler) Import(w http.ResponseWriter, r *http.Request) {
	var req GridImportRequest
	if err := decodeOptional(r, &req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	var (
		result models.GridImportResult
		err    error
	)
	if req.Path != "" {
		result, err = h.viewer.Coordinator().ImportFolder(r.Context(), req.Path, req.Settings)
	} else {
		result, err = h.viewer.Coordinator().Import(r.Context(), req.Files, req.Settings)
	}
	if err != nil {
		log.Error().Err(err).Msg("grid import failed")
		RespondError(w, http.StatusBadGateway, err.Error())
		return
	}
	RespondJSON(w, http.StatusOK, result)
}

func (h *GridHandler) TagSuggestions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	tags := h.viewer.Store().TagSuggestions(r.URL.Query().Get("prefix"), limit)
	if tags == nil {
		tags = []string{}
	}
	RespondJSON(w, http.StatusOK, TagSuggestionsResponse{Tags: tags})
}
