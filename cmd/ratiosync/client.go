// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/pkg/errors"
	"golang.org/x/term"

	"github.com/autobrr/ratiosync/internal/api/handlers"
	"github.com/autobrr/ratiosync/internal/config"
)

// apiClient talks to a running serve process.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(configDir string) (*apiClient, error) {
	cfg, err := config.New(configDir)
	if err != nil {
		return nil, err
	}

	host := cfg.Config.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}

	return &apiClient{
		baseURL: "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Config.Port)),
		http:    &http.Client{Timeout: 60 * time.Second},
	}, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr handlers.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return errors.Errorf("%s (%d)", apiErr.Error, resp.StatusCode)
		}
		return errors.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "decode response")
}

func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// render writes a bordered table on a terminal and indented JSON otherwise.
func render(w io.Writer, data any, headers []string, rows [][]string) error {
	if !isTerminal() {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}

	headerStyle := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("8"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...).
		Rows(rows...)

	_, err := fmt.Fprintln(w, t.String())
	return err
}
