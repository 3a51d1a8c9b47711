// Copyright 2024 TosView. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package tosview

import (
	"io/fs"
	"path"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/tosview/tosview/ipf"
)

// Index is the startup-built, read-only view over a game installation:
// every archive opened, every entry merged into one tree, plus the
// duplicate tables. It is shared by all request handlers without
// locking; nothing mutates it after Build returns.
type Index struct {
	GameRoot   string
	Tree       *Folder
	Archives   []*ipf.Archive
	Duplicates Duplicates
}

// BuildOptions tune index construction.
type BuildOptions struct {
	// Logger receives per-archive progress and skip warnings.
	Logger zerolog.Logger

	// Concurrency bounds parallel archive parsing; 0 means one worker
	// per CPU.
	Concurrency int
}

// Build walks gameRoot for .ipf archives, opens them all and merges
// their entries into one tree. Archives that fail to parse are skipped
// with a warning; an unreadable root is an error.
func Build(gameRoot string, opts BuildOptions) (*Index, error) {
	log := opts.Logger

	paths, err := findArchives(gameRoot)
	if err != nil {
		return nil, xerrors.Errorf("enumerating archives under %s: %w", gameRoot, err)
	}
	log.Info().Int("archives", len(paths)).Str("game_root", gameRoot).
		Msg("indexing game root")

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}

	archives := make([]*ipf.Archive, len(paths))
	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			a, err := ipf.Open(p)
			if err != nil {
				// A bad archive loses its own entries only.
				log.Warn().Str("archive", p).Err(err).Msg("skipping archive")
				return nil
			}
			archives[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	idx := &Index{GameRoot: gameRoot, Tree: NewFolder()}
	for _, a := range archives {
		if a == nil {
			continue
		}
		idx.Archives = append(idx.Archives, a)
	}

	// Group entries by their full in-archive path, then insert group by
	// group in sorted order. Within a group, archive order is preserved,
	// which fixes the version numbering of duplicate paths.
	groups := make(map[string][]*FileRef)
	for _, a := range idx.Archives {
		for i := range a.Entries {
			e := &a.Entries[i]
			key := e.DirectoryName
			groups[key] = append(groups[key], &FileRef{Entry: e, Archive: a})
		}
	}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		for _, ref := range groups[key] {
			ref.Entry.DirectoryName = path.Base(key)
			idx.Tree.Insert(key, ref)
		}
	}

	log.Info().Int("files", idx.Tree.TotalFiles()).Msg("index built")
	return idx, nil
}

// Close releases every archive mapping held by the index.
func (idx *Index) Close() error {
	var first error
	for _, a := range idx.Archives {
		if err := a.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// findArchives lists every .ipf file under root, sorted so the index is
// deterministic across runs.
func findArchives(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(p), ".ipf") {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}
