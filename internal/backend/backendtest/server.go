// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package backendtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"github.com/autobrr/ratiosync/internal/host"
	"github.com/autobrr/ratiosync/internal/models"
)

const maxUpload = 32 << 20

// NewServerHandler serves the multi-client server API over engine. Requests
// must carry token as a bearer token when it is not empty.
func NewServerHandler(engine *host.Engine, token string) http.Handler {
	h := &serverHandler{engine: engine}

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
				fail(w, http.StatusUnauthorized, errors.New("unauthorized"))
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/events", h.events)

		r.Route("/instances", func(r chi.Router) {
			r.Get("/", h.listInstances)
			r.Post("/", h.createInstance)
			r.Get("/summary", h.listSummaries)
			r.Delete("/{id}", h.deleteInstance)
			r.Post("/{id}/torrent", h.uploadTorrent)
			r.Patch("/{id}/config", h.updateConfig)
		})
		r.Post("/faker/{id}/stats-only", h.statsOnly)

		r.Route("/grid", func(r chi.Router) {
			r.Post("/start", h.gridIDs(engine.GridStart))
			r.Post("/stop", h.gridIDs(engine.GridStop))
			r.Post("/pause", h.gridIDs(engine.GridPause))
			r.Post("/resume", h.gridIDs(engine.GridResume))
			r.Post("/delete", h.gridIDs(engine.GridDelete))
			r.Post("/tag", h.gridTag)
			r.Post("/update-config", h.gridUpdateConfig)
			r.Post("/import", h.gridImport)
			r.Post("/import-folder", h.gridImportFolder)
		})
	})
	return r
}

type serverHandler struct {
	engine *host.Engine
}

func ok(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data})
}

func fail(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": err.Error()})
}

func failFor(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	if errors.Is(err, models.ErrInstanceNotFound) {
		status = http.StatusNotFound
	}
	fail(w, status, err)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		fail(w, http.StatusBadRequest, errors.Wrap(err, "invalid request body"))
		return false
	}
	return true
}

func (h *serverHandler) listInstances(w http.ResponseWriter, _ *http.Request) {
	ok(w, h.engine.Instances())
}

func (h *serverHandler) listSummaries(w http.ResponseWriter, _ *http.Request) {
	ok(w, h.engine.Summaries())
}

func (h *serverHandler) createInstance(w http.ResponseWriter, _ *http.Request) {
	ok(w, map[string]string{"id": h.engine.CreateInstance()})
}

func (h *serverHandler) deleteInstance(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	if err := h.engine.DeleteInstance(chi.URLParam(r, "id"), force); err != nil {
		failFor(w, err)
		return
	}
	ok(w, nil)
}

func (h *serverHandler) uploadTorrent(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		fail(w, http.StatusBadRequest, err)
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		fail(w, http.StatusBadRequest, err)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		fail(w, http.StatusBadRequest, err)
		return
	}

	id := chi.URLParam(r, "id")
	info, err := h.engine.LoadTorrent(id, models.TorrentSource{Data: data})
	if err != nil {
		failFor(w, err)
		return
	}
	ok(w, map[string]any{"torrent_id": info.InfoHash, "torrent": info})
}

func (h *serverHandler) updateConfig(w http.ResponseWriter, r *http.Request) {
	var cfg models.InstanceConfig
	if !decode(w, r, &cfg) {
		return
	}
	if err := h.engine.UpdateConfig(chi.URLParam(r, "id"), cfg); err != nil {
		failFor(w, err)
		return
	}
	ok(w, nil)
}

func (h *serverHandler) statsOnly(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.Advance(chi.URLParam(r, "id"))
	if err != nil {
		failFor(w, err)
		return
	}
	ok(w, stats)
}

func (h *serverHandler) gridIDs(fn func([]string) models.GridActionResult) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			IDs []string `json:"ids"`
		}
		if !decode(w, r, &req) {
			return
		}
		ok(w, fn(req.IDs))
	}
}

// gridTag replies with a bare count like the real server does.
func (h *serverHandler) gridTag(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs        []string `json:"ids"`
		AddTags    []string `json:"add_tags"`
		RemoveTags []string `json:"remove_tags"`
	}
	if !decode(w, r, &req) {
		return
	}
	result := h.engine.GridTag(req.IDs, req.AddTags, req.RemoveTags)
	ok(w, map[string]int{"updated": len(result.Succeeded)})
}

func (h *serverHandler) gridUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs    []string              `json:"ids"`
		Config models.PresetSettings `json:"config"`
	}
	if !decode(w, r, &req) {
		return
	}
	ok(w, h.engine.GridUpdateConfig(req.IDs, req.Config))
}

func (h *serverHandler) gridImport(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		fail(w, http.StatusBadRequest, err)
		return
	}

	var settings models.GridImportSettings
	if raw := r.FormValue("config"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &settings); err != nil {
			fail(w, http.StatusBadRequest, errors.Wrap(err, "invalid config"))
			return
		}
	}

	var files []models.ImportFile
	for _, header := range r.MultipartForm.File["files"] {
		f, err := header.Open()
		if err != nil {
			fail(w, http.StatusBadRequest, err)
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			fail(w, http.StatusBadRequest, err)
			return
		}
		files = append(files, models.ImportFile{Name: header.Filename, Data: data})
	}
	ok(w, h.engine.Import(files, settings))
}

func (h *serverHandler) gridImportFolder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path   string                    `json:"path"`
		Config models.GridImportSettings `json:"config"`
	}
	if !decode(w, r, &req) {
		return
	}
	ok(w, h.engine.ImportFolder(req.Path, req.Config))
}

func (h *serverHandler) events(w http.ResponseWriter, r *http.Request) {
	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		fail(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	events := make(chan models.InstanceEvent, 64)
	unsubscribe := h.engine.Subscribe(func(ev models.InstanceEvent) {
		select {
		case events <- ev:
		default:
		}
	})
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-events:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: instance\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}
