// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/ratiosync/internal/instances"
	"github.com/autobrr/ratiosync/internal/models"
)

type InstancesHandler struct {
	store *instances.Store
}

func NewInstancesHandler(store *instances.Store) *InstancesHandler {
	return &InstancesHandler{store: store}
}

type InstanceListResponse struct {
	Instances []models.Instance `json:"instances"`
	ActiveID  string            `json:"activeId"`
}

type CreateInstanceResponse struct {
	ID string `json:"id"`
}

type EnsureInstanceRequest struct {
	Fallback *models.InstanceSummary `json:"fallback,omitempty"`
}

type EnsureInstanceResponse struct {
	ID    string `json:"id"`
	Found bool   `json:"found"`
}

type SelectTorrentRequest struct {
	Path string `json:"path"`
	Data []byte `json:"data,omitempty"`
}

func (h *InstancesHandler) ListInstances(w http.ResponseWriter, r *http.Request) {
	records, activeID := h.store.Snapshot()
	RespondJSON(w, http.StatusOK, InstanceListResponse{Instances: records, ActiveID: activeID})
}

func (h *InstancesHandler) CreateInstance(w http.ResponseWriter, r *http.Request) {
	var overrides models.PresetSettings
	if err := decodeOptional(r, &overrides); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	id, err := h.store.AddInstance(r.Context(), overrides)
	if err != nil {
		log.Error().Err(err).Msg("failed to add instance")
		RespondError(w, http.StatusBadGateway, "Failed to create instance")
		return
	}

	RespondJSON(w, http.StatusCreated, CreateInstanceResponse{ID: id})
}

func (h *InstancesHandler) DeleteInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "instanceID")
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	if err := h.store.RemoveInstance(r.Context(), id, force); err != nil {
		switch {
		case errors.Is(err, models.ErrInstanceNotFound):
			RespondError(w, http.StatusNotFound, "Instance not found")
		case errors.Is(err, models.ErrWatchFolderInstance):
			RespondError(w, http.StatusConflict, "Instance belongs to the watch folder, use force to remove it")
		default:
			log.Error().Err(err).Str("instanceID", id).Msg("failed to remove instance")
			RespondError(w, http.StatusBadGateway, "Failed to remove instance")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *InstancesHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "instanceID")
	if err := h.store.SetActive(id); err != nil {
		RespondError(w, http.StatusNotFound, "Instance not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *InstancesHandler) EnsureInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "instanceID")

	var req EnsureInstanceRequest
	if err := decodeOptional(r, &req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	ensured, found := h.store.EnsureInstance(r.Context(), id, req.Fallback)
	if !found {
		RespondJSON(w, http.StatusNotFound, EnsureInstanceResponse{ID: id, Found: false})
		return
	}
	RespondJSON(w, http.StatusOK, EnsureInstanceResponse{ID: ensured, Found: true})
}

// UpdateSettings applies a preset on top of the instance's settings.
func (h *InstancesHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "instanceID")

	var preset models.PresetSettings
	if err := decodeOptional(r, &preset); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	err := h.store.UpdateSettings(r.Context(), id, func(s *models.Settings) { *s = preset.Apply(*s) })
	if err != nil {
		RespondError(w, http.StatusNotFound, "Instance not found")
		return
	}

	inst, _ := h.store.Get(id)
	RespondJSON(w, http.StatusOK, inst)
}

func (h *InstancesHandler) SelectTorrent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "instanceID")

	var req SelectTorrentRequest
	if err := decodeOptional(r, &req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	src := models.TorrentSource{Path: strings.TrimSpace(req.Path), Data: req.Data}
	if src.IsZero() {
		RespondError(w, http.StatusBadRequest, "Torrent path or data is required")
		return
	}

	if err := h.store.SelectTorrent(r.Context(), id, src); err != nil {
		if errors.Is(err, models.ErrInstanceNotFound) {
			RespondError(w, http.StatusNotFound, "Instance not found")
			return
		}
		log.Warn().Err(err).Str("instanceID", id).Msg("failed to load torrent")
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	inst, _ := h.store.Get(id)
	RespondJSON(w, http.StatusOK, inst)
}
