// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"strings"

	"github.com/Masterminds/semver/v3"
)

// ClientType identifies the BitTorrent client an instance emulates.
type ClientType string

const (
	ClientUTorrent     ClientType = "utorrent"
	ClientQBittorrent  ClientType = "qbittorrent"
	ClientTransmission ClientType = "transmission"
	ClientDeluge       ClientType = "deluge"
	ClientBitTorrent   ClientType = "bittorrent"
)

type ClientInfo struct {
	ID             ClientType `json:"id"`
	Name           string     `json:"name"`
	DefaultVersion string     `json:"default_version"`
	Versions       []string   `json:"versions"`
	DefaultPort    int        `json:"default_port"`
}

var clientCatalogue = []ClientInfo{
	{
		ID:             ClientUTorrent,
		Name:           "µTorrent",
		DefaultVersion: "3.5.5",
		Versions:       []string{"3.5.5", "3.5.4", "3.5.3", "3.4.9", "3.4.8", "2.2.1"},
		DefaultPort:    6881,
	},
	{
		ID:             ClientQBittorrent,
		Name:           "qBittorrent",
		DefaultVersion: "5.1.4",
		Versions:       []string{"5.1.4", "5.1.3", "5.0.2", "4.6.7", "4.5.5", "4.4.5"},
		DefaultPort:    6881,
	},
	{
		ID:             ClientTransmission,
		Name:           "Transmission",
		DefaultVersion: "4.0.5",
		Versions:       []string{"4.0.5", "4.0.4", "4.0.3", "3.00", "2.94", "2.93"},
		DefaultPort:    51413,
	},
	{
		ID:             ClientDeluge,
		Name:           "Deluge",
		DefaultVersion: "2.1.1",
		Versions:       []string{"2.1.1", "2.0.5", "2.0.3", "1.3.15"},
		DefaultPort:    6881,
	},
	{
		ID:             ClientBitTorrent,
		Name:           "BitTorrent",
		DefaultVersion: "7.11.0",
		Versions:       []string{"7.11.0", "7.10.5", "7.10.4", "7.10.3", "7.10.0", "7.9.9", "7.9.8", "7.9.7"},
		DefaultPort:    6881,
	},
}

// Clients returns the catalogue of emulated clients.
func Clients() []ClientInfo {
	out := make([]ClientInfo, len(clientCatalogue))
	copy(out, clientCatalogue)
	return out
}

// LookupClient resolves a client id case-insensitively.
func LookupClient(id string) (ClientInfo, bool) {
	needle := ClientType(strings.ToLower(strings.TrimSpace(id)))
	for _, info := range clientCatalogue {
		if info.ID == needle {
			return info, true
		}
	}
	return ClientInfo{}, false
}

// NormalizeClientVersion returns version when it is usable for client, otherwise the client's default.
// Unknown clients fall back to qBittorrent.
func NormalizeClientVersion(client ClientType, version string) string {
	info, ok := LookupClient(string(client))
	if !ok {
		info, _ = LookupClient(string(ClientQBittorrent))
	}

	version = strings.TrimSpace(version)
	if version == "" {
		return info.DefaultVersion
	}

	for _, known := range info.Versions {
		if known == version {
			return version
		}
	}

	if _, err := semver.NewVersion(version); err != nil {
		return info.DefaultVersion
	}

	return version
}
