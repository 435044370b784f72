// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/ratiosync/internal/buildinfo"
	"github.com/autobrr/ratiosync/internal/models"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultRetryAttempts  = 3
	defaultRetryDelay     = 250 * time.Millisecond
	maxResponseBytes      = 32 << 20
)

type ServerOptions struct {
	BaseURL string
	// Token is sent as a bearer token when set.
	Token          string
	HTTPClient     *http.Client
	RequestTimeout time.Duration
	RetryAttempts  uint
	RetryDelay     time.Duration
	// EventBackoff bounds the reconnect delay of the event stream.
	EventBackoffMin time.Duration
	EventBackoffMax time.Duration
}

// Server is an HTTP client for the multi-client server. The server runs its
// own scheduler, so instances advance without UpdateStatsOnly.
type Server struct {
	baseURL    *url.URL
	token      string
	client     *http.Client
	timeout    time.Duration
	attempts   uint
	delay      time.Duration
	backoffMin time.Duration
	backoffMax time.Duration
	logger     zerolog.Logger
}

func NewServer(opts ServerOptions) (*Server, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, errors.New("server url is required")
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "parse server url")
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, errors.Errorf("unsupported server url scheme %q", base.Scheme)
	}

	s := &Server{
		baseURL:    base,
		token:      opts.Token,
		client:     opts.HTTPClient,
		timeout:    opts.RequestTimeout,
		attempts:   opts.RetryAttempts,
		delay:      opts.RetryDelay,
		backoffMin: opts.EventBackoffMin,
		backoffMax: opts.EventBackoffMax,
		logger:     log.Logger.With().Str("module", "server-backend").Str("server", base.Host).Logger(),
	}
	if s.client == nil {
		s.client = &http.Client{}
	}
	if s.timeout <= 0 {
		s.timeout = defaultRequestTimeout
	}
	if s.attempts == 0 {
		s.attempts = defaultRetryAttempts
	}
	if s.delay <= 0 {
		s.delay = defaultRetryDelay
	}
	if s.backoffMin <= 0 {
		s.backoffMin = time.Second
	}
	if s.backoffMax < s.backoffMin {
		s.backoffMax = 30 * time.Second
	}
	return s, nil
}

func (s *Server) Runtime() Runtime { return RuntimeServer }

func (s *Server) AutonomousScheduler() bool { return true }

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type gridIDsRequest struct {
	IDs []string `json:"ids"`
}

type gridTagRequest struct {
	IDs        []string `json:"ids"`
	AddTags    []string `json:"add_tags"`
	RemoveTags []string `json:"remove_tags"`
}

type gridUpdateConfigRequest struct {
	IDs    []string              `json:"ids"`
	Config models.PresetSettings `json:"config"`
}

type gridImportFolderRequest struct {
	Path   string                    `json:"path"`
	Config models.GridImportSettings `json:"config"`
}

func (s *Server) CreateInstance(ctx context.Context) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := s.doJSON(ctx, http.MethodPost, "/api/instances", nil, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", errors.New("server returned an empty instance id")
	}
	return out.ID, nil
}

func (s *Server) DeleteInstance(ctx context.Context, id string, force bool) error {
	path := "/api/instances/" + url.PathEscape(id) + "?force=" + strconv.FormatBool(force)
	return s.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

func (s *Server) ListInstances(ctx context.Context) ([]models.ServerInstance, error) {
	var out []models.ServerInstance
	if err := s.get(ctx, "/api/instances", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetInstance has no dedicated route; it picks id out of the full list.
func (s *Server) GetInstance(ctx context.Context, id string) (*models.ServerInstance, error) {
	list, err := s.ListInstances(ctx)
	if err != nil {
		return nil, err
	}
	for i := range list {
		if list[i].ID == id {
			return &list[i], nil
		}
	}
	return nil, models.ErrInstanceNotFound
}

func (s *Server) ListSummaries(ctx context.Context) ([]models.InstanceSummary, error) {
	var out []models.InstanceSummary
	if err := s.get(ctx, "/api/instances/summary", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Server) GetInstanceTorrent(ctx context.Context, id string) (*models.TorrentInfo, error) {
	inst, err := s.GetInstance(ctx, id)
	if err != nil {
		return nil, err
	}
	if inst.Torrent == nil {
		return nil, models.ErrNoTorrent
	}
	return inst.Torrent, nil
}

// LoadInstanceTorrent uploads the torrent. Path sources are read locally first.
func (s *Server) LoadInstanceTorrent(ctx context.Context, id string, src models.TorrentSource) (*models.TorrentInfo, error) {
	data := src.Data
	name := "upload.torrent"
	if len(data) == 0 {
		if src.Path == "" {
			return nil, errors.New("torrent source is empty")
		}
		var err error
		if data, err = os.ReadFile(src.Path); err != nil {
			return nil, errors.Wrapf(err, "read torrent %s", src.Path)
		}
		name = filepath.Base(src.Path)
	}

	body, contentType, err := multipartBody([]models.ImportFile{{Name: name, Data: data}}, "file", nil)
	if err != nil {
		return nil, err
	}

	var out struct {
		Torrent models.TorrentInfo `json:"torrent"`
	}
	if err := s.do(ctx, http.MethodPost, "/api/instances/"+url.PathEscape(id)+"/torrent", body, contentType, &out); err != nil {
		return nil, err
	}
	return &out.Torrent, nil
}

func (s *Server) UpdateInstanceConfig(ctx context.Context, id string, cfg models.InstanceConfig) error {
	return s.doJSON(ctx, http.MethodPatch, "/api/instances/"+url.PathEscape(id)+"/config", cfg, nil)
}

func (s *Server) UpdateStatsOnly(ctx context.Context, id string) (*models.InstanceStats, error) {
	var out models.InstanceStats
	if err := s.doJSON(ctx, http.MethodPost, "/api/faker/"+url.PathEscape(id)+"/stats-only", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Server) gridAction(ctx context.Context, action string, body any) (models.GridActionResult, error) {
	var out models.GridActionResult
	if err := s.doJSON(ctx, http.MethodPost, "/api/grid/"+action, body, &out); err != nil {
		return models.GridActionResult{}, err
	}
	if out.Succeeded == nil {
		out.Succeeded = []string{}
	}
	if out.Failed == nil {
		out.Failed = []models.GridActionFailure{}
	}
	return out, nil
}

func (s *Server) GridStart(ctx context.Context, ids []string) (models.GridActionResult, error) {
	return s.gridAction(ctx, "start", gridIDsRequest{IDs: ids})
}

func (s *Server) GridStop(ctx context.Context, ids []string) (models.GridActionResult, error) {
	return s.gridAction(ctx, "stop", gridIDsRequest{IDs: ids})
}

func (s *Server) GridPause(ctx context.Context, ids []string) (models.GridActionResult, error) {
	return s.gridAction(ctx, "pause", gridIDsRequest{IDs: ids})
}

func (s *Server) GridResume(ctx context.Context, ids []string) (models.GridActionResult, error) {
	return s.gridAction(ctx, "resume", gridIDsRequest{IDs: ids})
}

func (s *Server) GridDelete(ctx context.Context, ids []string) (models.GridActionResult, error) {
	return s.gridAction(ctx, "delete", gridIDsRequest{IDs: ids})
}

// GridTag accepts both the per-id result and the older {"updated": n} reply,
// which only carries a count and is read as success for every id.
func (s *Server) GridTag(ctx context.Context, ids []string, add, remove []string) (models.GridActionResult, error) {
	var out struct {
		models.GridActionResult
		Updated *int `json:"updated"`
	}
	body := gridTagRequest{IDs: ids, AddTags: nonNil(add), RemoveTags: nonNil(remove)}
	if err := s.doJSON(ctx, http.MethodPost, "/api/grid/tag", body, &out); err != nil {
		return models.GridActionResult{}, err
	}

	result := out.GridActionResult
	if out.Updated != nil && result.Succeeded == nil && result.Failed == nil {
		result.Succeeded = append([]string{}, ids...)
	}
	if result.Succeeded == nil {
		result.Succeeded = []string{}
	}
	if result.Failed == nil {
		result.Failed = []models.GridActionFailure{}
	}
	return result, nil
}

func (s *Server) GridUpdateConfig(ctx context.Context, ids []string, preset models.PresetSettings) (models.GridActionResult, error) {
	return s.gridAction(ctx, "update-config", gridUpdateConfigRequest{IDs: ids, Config: preset})
}

func (s *Server) GridImport(ctx context.Context, files []models.ImportFile, settings models.GridImportSettings) (models.GridImportResult, error) {
	if len(files) == 0 {
		return models.GridImportResult{Imported: []models.GridImportedInstance{}, Errors: []string{models.ErrNoFilesSelected}}, nil
	}

	cfg, err := json.Marshal(settings)
	if err != nil {
		return models.GridImportResult{}, errors.Wrap(err, "encode import settings")
	}
	body, contentType, err := multipartBody(files, "files", map[string]string{"config": string(cfg)})
	if err != nil {
		return models.GridImportResult{}, err
	}

	var out models.GridImportResult
	if err := s.do(ctx, http.MethodPost, "/api/grid/import", body, contentType, &out); err != nil {
		return models.GridImportResult{}, err
	}
	return normalizeImport(out), nil
}

func (s *Server) GridImportFolder(ctx context.Context, path string, settings models.GridImportSettings) (models.GridImportResult, error) {
	var out models.GridImportResult
	if err := s.doJSON(ctx, http.MethodPost, "/api/grid/import-folder", gridImportFolderRequest{Path: path, Config: settings}, &out); err != nil {
		return models.GridImportResult{}, err
	}
	return normalizeImport(out), nil
}

func normalizeImport(r models.GridImportResult) models.GridImportResult {
	if r.Imported == nil {
		r.Imported = []models.GridImportedInstance{}
	}
	if r.Errors == nil {
		r.Errors = []string{}
	}
	return r
}

// get retries idempotent reads on transport failures and 5xx/429 replies.
func (s *Server) get(ctx context.Context, path string, out any) error {
	return retry.Do(
		func() error {
			err := s.do(ctx, http.MethodGet, path, nil, "", out)
			if err != nil && !retryable(err) {
				return retry.Unrecoverable(err)
			}
			return err
		},
		retry.Context(ctx),
		retry.Attempts(s.attempts),
		retry.Delay(s.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Debug().Err(err).Uint("attempt", n+1).Str("path", path).Msg("retrying request")
		}),
	)
}

func (s *Server) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	contentType := ""
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		reader = bytes.NewReader(data)
		contentType = "application/json"
	}
	return s.do(ctx, method, path, reader, contentType, out)
}

func (s *Server) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := s.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return errors.Wrapf(err, "read %s %s", method, path)
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		msg := env.Error
		if decodeErr != nil || msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return &RequestError{Method: method, Path: path, Status: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return errors.Wrapf(decodeErr, "decode %s %s", method, path)
	}
	if !env.Success {
		return &RequestError{Method: method, Path: path, Status: resp.StatusCode, Message: env.Error}
	}

	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return errors.Wrapf(err, "decode %s %s data", method, path)
	}
	return nil
}

func (s *Server) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	target := s.baseURL.String() + path
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("User-Agent", buildinfo.UserAgent)
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	return req, nil
}

func multipartBody(files []models.ImportFile, field string, extra map[string]string) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for key, value := range extra {
		if err := w.WriteField(key, value); err != nil {
			return nil, "", errors.Wrap(err, "write form field")
		}
	}
	for _, f := range files {
		part, err := w.CreateFormFile(field, f.Name)
		if err != nil {
			return nil, "", errors.Wrap(err, "create form file")
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, "", errors.Wrap(err, "write form file")
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", errors.Wrap(err, "close form")
	}
	return &buf, w.FormDataContentType(), nil
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

var _ Backend = (*Server)(nil)
