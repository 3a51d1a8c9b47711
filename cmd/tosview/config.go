// Copyright 2024 TosView. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"github.com/BurntSushi/toml"
	"golang.org/x/xerrors"
)

// config is the serve configuration, read from a TOML file and
// overridable by flags.
type config struct {
	// GameRoot is the installation directory scanned for archives.
	GameRoot string `toml:"game_root"`

	// Listen is the HTTP listen address.
	Listen string `toml:"listen"`

	// Duplicates maps each file-type class to its duplicate-group XML
	// side-file. Missing classes are simply not loaded.
	Duplicates duplicateFiles `toml:"duplicates"`
}

type duplicateFiles struct {
	XAC     string `toml:"xac"`
	XSM     string `toml:"xsm"`
	XSMTime string `toml:"xsm_time"`
	XPM     string `toml:"xpm"`
	DDS     string `toml:"dds"`
}

func defaultConfig() config {
	return config{Listen: ":8090"}
}

func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, xerrors.Errorf("reading config %s: %w", path, err)
	}
	return cfg, nil
}
