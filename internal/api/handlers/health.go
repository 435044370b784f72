// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"

	"github.com/autobrr/ratiosync/internal/backend"
)

type HealthHandler struct {
	version string
	runtime backend.Runtime
}

func NewHealthHandler(version string, runtime backend.Runtime) *HealthHandler {
	return &HealthHandler{version: version, runtime: runtime}
}

func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": h.version,
		"runtime": string(h.runtime),
	})
}
