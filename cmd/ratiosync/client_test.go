// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/ratiosync/internal/api/handlers"
	"github.com/autobrr/ratiosync/internal/models"
)

func TestAPIClientDecodesErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/instances/missing":
			handlers.RespondError(w, http.StatusNotFound, "Instance not found")
		case "/api/grid/start":
			handlers.RespondJSON(w, http.StatusOK, models.GridActionResult{Succeeded: []string{"a"}})
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	t.Cleanup(srv.Close)

	client := &apiClient{baseURL: srv.URL, http: srv.Client()}

	err := client.do(t.Context(), http.MethodDelete, "/api/instances/missing", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Instance not found")

	var result models.GridActionResult
	require.NoError(t, client.do(t.Context(), http.MethodPost, "/api/grid/start", nil, &result))
	assert.Equal(t, []string{"a"}, result.Succeeded)

	err = client.do(t.Context(), http.MethodGet, "/other", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 500")
}

func TestSelectRowsByID(t *testing.T) {
	var ops []handlers.SelectionRequest
	var gridQuery url.Values

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/grid":
			gridQuery = r.URL.Query()
			handlers.RespondJSON(w, http.StatusOK, handlers.GridResponse{})
		case "/api/grid/selection":
			var req handlers.SelectionRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			ops = append(ops, req)
			handlers.RespondJSON(w, http.StatusOK, handlers.SelectionResponse{})
		}
	}))
	t.Cleanup(srv.Close)

	client := &apiClient{baseURL: srv.URL, http: srv.Client()}

	require.Error(t, selectRows(t.Context(), client, viewFlags{}, false, nil))

	view := viewFlags{state: "stopped", tag: "linux"}
	require.NoError(t, selectRows(t.Context(), client, view, false, []string{"a", "b"}))

	assert.Equal(t, "stopped", gridQuery.Get("state"))
	assert.Equal(t, "linux", gridQuery.Get("tag"))
	require.Len(t, ops, 3)
	assert.Equal(t, "none", ops[0].Op)
	assert.Equal(t, handlers.SelectionRequest{Op: "click", ID: "a"}, ops[1])
	assert.Equal(t, handlers.SelectionRequest{Op: "click", ID: "b"}, ops[2])

	ops = nil
	require.NoError(t, selectRows(t.Context(), client, viewFlags{}, true, nil))
	require.Len(t, ops, 1)
	assert.Equal(t, "all", ops[0].Op)
}

func TestViewFlagsQuery(t *testing.T) {
	tests := []struct {
		name  string
		flags viewFlags
		want  url.Values
	}{
		{name: "empty", flags: viewFlags{}, want: nil},
		{name: "search and sort", flags: viewFlags{search: "ubuntu", sort: "ratio", dir: "desc"}, want: url.Values{"search": {"ubuntu"}, "sort": {"ratio"}, "dir": {"desc"}}},
		{name: "expression", flags: viewFlags{expr: "Ratio > 1"}, want: url.Values{"expr": {"Ratio > 1"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := tt.flags.query()
			if tt.want == nil {
				assert.Empty(t, q)
				return
			}
			require.True(t, len(q) > 1 && q[0] == '?')
			got, err := url.ParseQuery(q[1:])
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveConfigFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "custom.conf")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	assert.Equal(t, filepath.Join(dir, "config.toml"), resolveConfigFile(dir))
	assert.Equal(t, "/etc/ratiosync/app.toml", resolveConfigFile("/etc/ratiosync/app.toml"))
	assert.Equal(t, file, resolveConfigFile(file))
}

func TestRenderWritesJSONWhenPiped(t *testing.T) {
	var buf bytes.Buffer
	data := handlers.TagSuggestionsResponse{Tags: []string{"linux"}}

	require.NoError(t, render(&buf, data, []string{"TAG"}, [][]string{{"linux"}}))

	if isTerminal() {
		t.Skip("stdout is a terminal")
	}
	assert.JSONEq(t, `{"tags":["linux"]}`, buf.String())
}
