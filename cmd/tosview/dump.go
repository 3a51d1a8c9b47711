// Copyright 2024 TosView. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/xerrors"

	"github.com/tosview/tosview"
	"github.com/tosview/tosview/emfx"
	"github.com/tosview/tosview/fsb5"
	"github.com/tosview/tosview/ies"
)

func newDumpCmd() *cobra.Command {
	var (
		gameRoot   string
		fileVer    int
		outPath    string
		parse      bool
	)
	cmd := &cobra.Command{
		Use:   "dump <path-in-tree>",
		Short: "Extract one file from the virtual tree",
		Long: `Dump indexes the game root, resolves the given tree path and writes
the extracted payload to stdout or --out. With --parse, recognized
formats (ies, xac, xsm, xpm, fsb) are decoded and printed as JSON
instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if gameRoot == "" {
				return xerrors.New("--game-root is required")
			}
			log := newLogger(true)
			idx, err := tosview.Build(gameRoot, tosview.BuildOptions{Logger: log})
			if err != nil {
				return err
			}
			defer idx.Close()

			treePath := args[0]
			hits := idx.Tree.SearchFullPath(treePath)
			if fileVer >= len(hits) {
				return xerrors.Errorf("%s (version %d): not found", treePath, fileVer)
			}
			data, err := hits[fileVer].Ref.Extract()
			if err != nil {
				return xerrors.Errorf("extracting %s: %w", treePath, err)
			}

			if parse {
				return dumpParsed(cmd, treePath, data)
			}
			if outPath != "" {
				return os.WriteFile(outPath, data, 0o644)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVar(&gameRoot, "game-root", "", "game installation directory")
	cmd.Flags().IntVar(&fileVer, "version", 0, "duplicate version to extract")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write payload to this file")
	cmd.Flags().BoolVar(&parse, "parse", false, "decode a recognized format and print JSON")
	return cmd
}

func dumpParsed(cmd *cobra.Command, treePath string, data []byte) error {
	var (
		v   interface{}
		err error
	)
	switch ext := lowerExt(treePath); ext {
	case "ies":
		v, err = ies.Parse(data)
	case "xac":
		v, err = emfx.ParseActor(data)
	case "xsm":
		v, err = emfx.ParseMotion(data)
	case "xpm":
		v, err = emfx.ParseMorphMotion(data)
	case "fsb":
		v, err = fsb5.Parse(data)
	default:
		return xerrors.Errorf("no typed decoder for %q", treePath)
	}
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func lowerExt(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		path = path[i+1:]
	}
	i := strings.LastIndexByte(path, '.')
	if i < 0 {
		return ""
	}
	return strings.ToLower(path[i+1:])
}
