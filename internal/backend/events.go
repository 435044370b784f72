// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package backend

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/autobrr/ratiosync/internal/models"
)

const eventInstance = "instance"

// Subscribe follows the server's event stream in the background and reconnects
// with capped exponential backoff until cancelled.
func (s *Server) Subscribe(ctx context.Context, fn func(models.InstanceEvent)) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	go s.followEvents(ctx, fn)
	return cancel, nil
}

func (s *Server) followEvents(ctx context.Context, fn func(models.InstanceEvent)) {
	backoff := s.backoffMin
	for {
		received, err := s.readEvents(ctx, fn)
		if ctx.Err() != nil {
			return
		}
		if received {
			backoff = s.backoffMin
		}
		s.logger.Warn().Err(err).Dur("retryIn", backoff).Msg("event stream disconnected")

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		backoff = min(backoff*2, s.backoffMax)
	}
}

// readEvents consumes one connection and reports whether any event arrived.
func (s *Server) readEvents(ctx context.Context, fn func(models.InstanceEvent)) (bool, error) {
	req, err := s.newRequest(ctx, http.MethodGet, "/api/events", nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.client.Do(req)
	if err != nil {
		return false, errors.Wrap(err, "connect event stream")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, &RequestError{Method: http.MethodGet, Path: "/api/events", Status: resp.StatusCode}
	}

	received := false
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var name string
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 && (name == "" || name == eventInstance) {
				var ev models.InstanceEvent
				if err := json.Unmarshal([]byte(data.String()), &ev); err != nil {
					s.logger.Debug().Err(err).Msg("skipping malformed event")
				} else {
					received = true
					fn(ev)
				}
			}
			name = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
			// keep-alive comment
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}

	if err := scanner.Err(); err != nil {
		return received, errors.Wrap(err, "read event stream")
	}
	return received, errors.New("event stream closed")
}
