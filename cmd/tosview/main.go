// Copyright 2024 TosView. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Command tosview explores the packaged assets of a game installation:
// it indexes every IPF archive under a game root and either serves the
// query API over HTTP or dumps a single file from the virtual tree.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "tosview",
		Short:         "Read-only asset explorer for IPF-packaged game clients",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newDumpCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the tosview version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
