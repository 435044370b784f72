// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// PresetFile stores the user's default preset as YAML.
type PresetFile struct {
	Path string
}

// Load returns an empty preset when the file does not exist yet.
func (f PresetFile) Load() (PresetSettings, error) {
	var preset PresetSettings

	data, err := os.ReadFile(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return preset, nil
		}
		return preset, errors.Wrapf(err, "read preset %s", f.Path)
	}

	if err := yaml.Unmarshal(data, &preset); err != nil {
		return PresetSettings{}, errors.Wrapf(err, "decode preset %s", f.Path)
	}

	return preset, nil
}

func (f PresetFile) Save(preset PresetSettings) error {
	data, err := yaml.Marshal(preset)
	if err != nil {
		return errors.Wrap(err, "encode preset")
	}

	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return errors.Wrap(err, "create preset directory")
	}

	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "write preset")
	}

	return errors.Wrap(os.Rename(tmp, f.Path), "replace preset")
}

// Defaults resolves the preset over the built-in defaults, falling back to the
// built-ins alone if the preset cannot be read.
func (f PresetFile) Defaults() Settings {
	preset, err := f.Load()
	if err != nil {
		return BuiltinDefaults()
	}
	return preset.Apply(BuiltinDefaults())
}
