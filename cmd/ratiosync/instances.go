// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/autobrr/ratiosync/internal/api/handlers"
	"github.com/autobrr/ratiosync/internal/models"
)

const mb = 1024 * 1024

func RunInstancesCommand(configDir *string) *cobra.Command {
	command := &cobra.Command{
		Use:   "instances",
		Short: "Manage instances of a running server",
	}

	command.AddCommand(instancesListCommand(configDir))
	command.AddCommand(instancesAddCommand(configDir))
	command.AddCommand(instancesRemoveCommand(configDir))
	command.AddCommand(instancesActivateCommand(configDir))

	return command
}

func instancesListCommand(configDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List instances and the active one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient(*configDir)
			if err != nil {
				return err
			}

			var resp handlers.InstanceListResponse
			if err := client.do(cmd.Context(), http.MethodGet, "/api/instances", nil, &resp); err != nil {
				return err
			}

			rows := make([][]string, 0, len(resp.Instances))
			for _, inst := range resp.Instances {
				active := ""
				if inst.ID == resp.ActiveID {
					active = "*"
				}
				name := ""
				if inst.Torrent != nil {
					name = inst.Torrent.Name
				}
				rows = append(rows, []string{
					active,
					inst.ID,
					name,
					inst.Status.Message,
					string(inst.Source),
					humanize.IBytes(uint64(max(inst.CumulativeUploadedMB, 0)) * mb),
					humanize.IBytes(uint64(max(inst.CumulativeDownloadedMB, 0)) * mb),
				})
			}

			return render(cmd.OutOrStdout(), resp, []string{"", "ID", "TORRENT", "STATUS", "SOURCE", "UPLOADED", "DOWNLOADED"}, rows)
		},
	}
}

func instancesAddCommand(configDir *string) *cobra.Command {
	var (
		uploadRate   float64
		downloadRate float64
		port         int
	)

	command := &cobra.Command{
		Use:   "add",
		Short: "Create an instance from the default preset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient(*configDir)
			if err != nil {
				return err
			}

			var overrides models.PresetSettings
			if cmd.Flags().Changed("upload-rate") {
				overrides.UploadRate = &uploadRate
			}
			if cmd.Flags().Changed("download-rate") {
				overrides.DownloadRate = &downloadRate
			}
			if cmd.Flags().Changed("port") {
				overrides.Port = &port
			}

			var resp handlers.CreateInstanceResponse
			if err := client.do(cmd.Context(), http.MethodPost, "/api/instances", overrides, &resp); err != nil {
				return err
			}

			cmd.Println(resp.ID)
			return nil
		},
	}

	command.Flags().Float64Var(&uploadRate, "upload-rate", 0, "upload rate in KB/s")
	command.Flags().Float64Var(&downloadRate, "download-rate", 0, "download rate in KB/s")
	command.Flags().IntVar(&port, "port", 0, "announced listen port")

	return command
}

func instancesRemoveCommand(configDir *string) *cobra.Command {
	var force bool

	command := &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient(*configDir)
			if err != nil {
				return err
			}

			path := fmt.Sprintf("/api/instances/%s?force=%s", url.PathEscape(args[0]), strconv.FormatBool(force))
			return client.do(cmd.Context(), http.MethodDelete, path, nil, nil)
		},
	}

	command.Flags().BoolVar(&force, "force", false, "also remove watch folder instances")

	return command
}

func instancesActivateCommand(configDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "activate <id>",
		Short: "Make an instance the active one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient(*configDir)
			if err != nil {
				return err
			}
			return client.do(cmd.Context(), http.MethodPut, "/api/instances/"+url.PathEscape(args[0])+"/active", nil, nil)
		},
	}
}
