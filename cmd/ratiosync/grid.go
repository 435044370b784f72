// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/autobrr/ratiosync/internal/api/handlers"
	"github.com/autobrr/ratiosync/internal/models"
)

// viewFlags scope both listing and bulk actions: the server keeps the last
// requested filters and sort as the grid view.
type viewFlags struct {
	search string
	state  string
	tag    string
	expr   string
	sort   string
	dir    string
}

func (f *viewFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.search, "search", "", "case-insensitive match on name, info hash or tags")
	cmd.Flags().StringVar(&f.state, "state", "", "only rows in this state")
	cmd.Flags().StringVar(&f.tag, "tag", "", "only rows carrying this tag")
	cmd.Flags().StringVar(&f.expr, "expr", "", `filter expression, e.g. 'Ratio > 1 && "linux" in Tags'`)
	cmd.Flags().StringVar(&f.sort, "sort", "", "sort column")
	cmd.Flags().StringVar(&f.dir, "dir", "", "sort direction: asc or desc")
}

func (f *viewFlags) query() string {
	q := url.Values{}
	for key, value := range map[string]string{
		"search": f.search,
		"state":  f.state,
		"tag":    f.tag,
		"expr":   f.expr,
		"sort":   f.sort,
		"dir":    f.dir,
	} {
		if value != "" {
			q.Set(key, value)
		}
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

func RunGridCommand(configDir *string) *cobra.Command {
	command := &cobra.Command{
		Use:   "grid",
		Short: "Inspect and bulk-edit instances of a running server",
	}

	command.AddCommand(gridListCommand(configDir))
	command.AddCommand(gridTagsCommand(configDir))
	for _, action := range []string{"start", "stop", "pause", "resume", "delete"} {
		command.AddCommand(gridActionCommand(configDir, action))
	}
	command.AddCommand(gridTagCommand(configDir))
	command.AddCommand(gridImportCommand(configDir))

	return command
}

func gridListCommand(configDir *string) *cobra.Command {
	var view viewFlags

	command := &cobra.Command{
		Use:   "list",
		Short: "List grid rows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient(*configDir)
			if err != nil {
				return err
			}

			var resp handlers.GridResponse
			if err := client.do(cmd.Context(), http.MethodGet, "/api/grid"+view.query(), nil, &resp); err != nil {
				return err
			}

			selected := make(map[string]struct{}, len(resp.Selected))
			for _, id := range resp.Selected {
				selected[id] = struct{}{}
			}

			rows := make([][]string, 0, len(resp.Rows))
			for _, row := range resp.Rows {
				mark := ""
				if _, ok := selected[row.ID]; ok {
					mark = "*"
				}
				rows = append(rows, []string{
					mark,
					row.ID,
					row.Name,
					string(row.State),
					humanize.IBytes(uint64(max(row.TotalSize, 0))),
					humanize.IBytes(uint64(max(row.Uploaded, 0))),
					strconv.FormatFloat(row.Ratio, 'f', 2, 64),
					strings.Join(row.Tags, ","),
				})
			}

			return render(cmd.OutOrStdout(), resp, []string{"", "ID", "NAME", "STATE", "SIZE", "UPLOADED", "RATIO", "TAGS"}, rows)
		},
	}

	view.register(command)
	return command
}

func gridTagsCommand(configDir *string) *cobra.Command {
	var limit int

	command := &cobra.Command{
		Use:   "tags [prefix]",
		Short: "Suggest tags in use",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient(*configDir)
			if err != nil {
				return err
			}

			q := url.Values{}
			if len(args) == 1 {
				q.Set("prefix", args[0])
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}

			var resp handlers.TagSuggestionsResponse
			if err := client.do(cmd.Context(), http.MethodGet, "/api/grid/tags?"+q.Encode(), nil, &resp); err != nil {
				return err
			}
			for _, tag := range resp.Tags {
				cmd.Println(tag)
			}
			return nil
		},
	}

	command.Flags().IntVar(&limit, "limit", 0, "maximum number of suggestions")
	return command
}

// selectRows sets the server's view from the flags and then selects either
// every visible row or exactly ids.
func selectRows(ctx context.Context, client *apiClient, view viewFlags, all bool, ids []string) error {
	if !all && len(ids) == 0 {
		return errors.New("pass row ids or --all")
	}

	if err := client.do(ctx, http.MethodGet, "/api/grid"+view.query(), nil, nil); err != nil {
		return err
	}

	if all {
		return client.do(ctx, http.MethodPost, "/api/grid/selection", handlers.SelectionRequest{Op: "all"}, nil)
	}

	if err := client.do(ctx, http.MethodPost, "/api/grid/selection", handlers.SelectionRequest{Op: "none"}, nil); err != nil {
		return err
	}
	for _, id := range ids {
		if err := client.do(ctx, http.MethodPost, "/api/grid/selection", handlers.SelectionRequest{Op: "click", ID: id}, nil); err != nil {
			return err
		}
	}
	return nil
}

func printActionResult(cmd *cobra.Command, result models.GridActionResult) error {
	rows := make([][]string, 0, len(result.Succeeded)+len(result.Failed))
	for _, id := range result.Succeeded {
		rows = append(rows, []string{id, "ok", ""})
	}
	for _, f := range result.Failed {
		rows = append(rows, []string{f.ID, "failed", f.Error})
	}
	return render(cmd.OutOrStdout(), result, []string{"ID", "RESULT", "ERROR"}, rows)
}

func gridActionCommand(configDir *string, action string) *cobra.Command {
	var (
		view viewFlags
		all  bool
	)

	command := &cobra.Command{
		Use:   action + " [id...]",
		Short: fmt.Sprintf("%s the selected rows", strings.ToUpper(action[:1])+action[1:]),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient(*configDir)
			if err != nil {
				return err
			}
			if err := selectRows(cmd.Context(), client, view, all, args); err != nil {
				return err
			}

			var result models.GridActionResult
			if err := client.do(cmd.Context(), http.MethodPost, "/api/grid/"+action, nil, &result); err != nil {
				return err
			}
			return printActionResult(cmd, result)
		},
	}

	command.Flags().BoolVar(&all, "all", false, "act on every row in the filtered view")
	view.register(command)
	return command
}

func gridTagCommand(configDir *string) *cobra.Command {
	var (
		view   viewFlags
		all    bool
		add    []string
		remove []string
	)

	command := &cobra.Command{
		Use:   "tag [id...]",
		Short: "Add or remove tags on the selected rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(add) == 0 && len(remove) == 0 {
				return errors.New("pass --add or --remove")
			}

			client, err := newAPIClient(*configDir)
			if err != nil {
				return err
			}
			if err := selectRows(cmd.Context(), client, view, all, args); err != nil {
				return err
			}

			var result models.GridActionResult
			req := handlers.GridTagRequest{Add: add, Remove: remove}
			if err := client.do(cmd.Context(), http.MethodPost, "/api/grid/tag", req, &result); err != nil {
				return err
			}
			return printActionResult(cmd, result)
		},
	}

	command.Flags().BoolVar(&all, "all", false, "act on every row in the filtered view")
	command.Flags().StringSliceVar(&add, "add", nil, "tags to add")
	command.Flags().StringSliceVar(&remove, "remove", nil, "tags to remove")
	view.register(command)
	return command
}

func gridImportCommand(configDir *string) *cobra.Command {
	var (
		folder     string
		tags       []string
		autoStart  bool
		mode       string
		completion float64
	)

	command := &cobra.Command{
		Use:   "import [file.torrent...]",
		Short: "Create instances from torrent files or a folder on the server host",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := handlers.GridImportRequest{
				Path: folder,
				Settings: models.GridImportSettings{
					Tags:      tags,
					Mode:      models.GridMode{Kind: mode, Custom: completion},
					AutoStart: autoStart,
				},
			}

			if folder == "" {
				for _, path := range args {
					data, err := os.ReadFile(path)
					if err != nil {
						return errors.Wrapf(err, "read %s", path)
					}
					req.Files = append(req.Files, models.ImportFile{Name: filepath.Base(path), Data: data})
				}
			}

			client, err := newAPIClient(*configDir)
			if err != nil {
				return err
			}

			var result models.GridImportResult
			if err := client.do(cmd.Context(), http.MethodPost, "/api/grid/import", req, &result); err != nil {
				return err
			}

			rows := make([][]string, 0, len(result.Imported)+len(result.Errors))
			for _, imp := range result.Imported {
				rows = append(rows, []string{imp.ID, imp.Name, imp.InfoHash})
			}
			for _, msg := range result.Errors {
				rows = append(rows, []string{"", msg, ""})
			}
			return render(cmd.OutOrStdout(), result, []string{"ID", "NAME", "INFO HASH"}, rows)
		},
	}

	command.Flags().StringVar(&folder, "folder", "", "import every .torrent file in this folder on the server host")
	command.Flags().StringSliceVar(&tags, "tag", nil, "tags for the new instances")
	command.Flags().BoolVar(&autoStart, "auto-start", false, "start the new instances right away")
	command.Flags().StringVar(&mode, "mode", models.GridModeSeed, "seed, leech or custom")
	command.Flags().Float64Var(&completion, "completion", 0, "completion percent for --mode custom")
	return command
}
