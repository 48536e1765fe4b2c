/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RoomManifest is an optional YAML file declaring rooms to track. It is
// seeded into the room registry at startup; rooms created later through the
// API are unaffected.
type RoomManifest struct {
	Rooms []RoomManifestEntry `yaml:"rooms"`
}

// RoomManifestEntry declares one room. Tracked defaults to true when omitted.
type RoomManifestEntry struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Tracked *bool  `yaml:"tracked"`
}

// IsTracked reports the entry's effective tracked flag.
func (e RoomManifestEntry) IsTracked() bool {
	return e.Tracked == nil || *e.Tracked
}

// LoadRoomManifest parses the manifest at path. Entries without an ID are
// rejected.
func LoadRoomManifest(path string) (*RoomManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read room manifest: %w", err)
	}

	var manifest RoomManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parse room manifest: %w", err)
	}

	for i, entry := range manifest.Rooms {
		if entry.ID == "" {
			return nil, fmt.Errorf("room manifest entry %d has no id", i)
		}
	}
	return &manifest, nil
}
