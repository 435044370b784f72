// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package backend

import (
	"context"
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// RequestError is a failed call to the multi-client server.
type RequestError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *RequestError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s returned status %d", e.Method, e.Path, e.Status)
	}
	return fmt.Sprintf("%s %s returned status %d: %s", e.Method, e.Path, e.Status, e.Message)
}

// Retryable reports whether repeating the request may succeed.
func (e *RequestError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= http.StatusInternalServerError
}

// retryable treats transport failures as transient and cancellation as final.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Retryable()
	}
	return true
}
