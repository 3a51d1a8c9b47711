// Copyright 2024 TosView. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/xerrors"

	"github.com/tosview/tosview"
	"github.com/tosview/tosview/server"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		gameRoot   string
		listen     string
		quiet      bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Index a game root and serve the query API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if gameRoot != "" {
				cfg.GameRoot = gameRoot
			}
			if listen != "" {
				cfg.Listen = listen
			}
			if cfg.GameRoot == "" {
				return xerrors.New("a game root is required (--game-root or config)")
			}

			log := newLogger(quiet)

			idx, err := tosview.Build(cfg.GameRoot, tosview.BuildOptions{Logger: log})
			if err != nil {
				return err
			}
			defer idx.Close()

			if err := loadDuplicates(&idx.Duplicates, cfg.Duplicates, log); err != nil {
				return err
			}

			srv := server.New(idx, log)
			log.Info().Str("listen", cfg.Listen).Msg("serving")
			return http.ListenAndServe(cfg.Listen, srv.Handler())
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "TOML config file")
	cmd.Flags().StringVar(&gameRoot, "game-root", "", "game installation directory")
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "only log warnings and errors")
	return cmd
}

func newLogger(quiet bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if quiet {
		level = zerolog.WarnLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Logger()
}

func loadDuplicates(dst *tosview.Duplicates, files duplicateFiles, log zerolog.Logger) error {
	load := func(class, path string, out *[]tosview.DuplicateEntry) error {
		if path == "" {
			return nil
		}
		entries, err := tosview.LoadDuplicateGroups(path)
		if err != nil {
			return xerrors.Errorf("loading %s duplicates: %w", class, err)
		}
		log.Info().Str("class", class).Int("groups", len(entries)).Msg("duplicates loaded")
		*out = entries
		return nil
	}
	if err := load("xac", files.XAC, &dst.XAC); err != nil {
		return err
	}
	if err := load("xsm", files.XSM, &dst.XSM); err != nil {
		return err
	}
	if err := load("xsm-time", files.XSMTime, &dst.XSMTime); err != nil {
		return err
	}
	if err := load("xpm", files.XPM, &dst.XPM); err != nil {
		return err
	}
	return load("dds", files.DDS, &dst.DDS)
}
