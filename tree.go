// Copyright 2024 TosView. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package tosview merges the entries of many IPF archives into one
// browsable, case-sensitive folder namespace and builds the startup
// index the HTTP surface serves from.
package tosview

import (
	"sort"
	"strings"

	"github.com/tosview/tosview/ipf"
)

// FileRef ties an archive entry to the open archive that can extract
// it. The tree holds FileRefs as its leaves.
type FileRef struct {
	Entry   *ipf.Entry   `json:"entry"`
	Archive *ipf.Archive `json:"-"`
}

// Name returns the leaf file name. The index builder rewrites each
// entry's directory name to its final path component before insertion.
func (r *FileRef) Name() string {
	return r.Entry.DirectoryName
}

// Extract decodes the referenced payload from its archive.
func (r *FileRef) Extract() ([]byte, error) {
	return r.Archive.ExtractEntry(r.Entry)
}

// Folder is one node of the virtual tree: named children plus the files
// that live directly here. Built once at startup, read-only afterwards.
type Folder struct {
	Subfolders map[string]*Folder `json:"subfolders"`
	Files      []*FileRef         `json:"files"`
}

// NewFolder returns an empty folder.
func NewFolder() *Folder {
	return &Folder{Subfolders: make(map[string]*Folder)}
}

// Insert walks (creating as needed) every intermediate folder of path
// and appends ref to the terminal folder's file list. The final path
// segment names the file itself and does not become a folder.
func (f *Folder) Insert(path string, ref *FileRef) {
	segments := splitPath(path)
	cur := f
	for i, seg := range segments {
		if i == len(segments)-1 {
			cur.Files = append(cur.Files, ref)
			return
		}
		child, ok := cur.Subfolders[seg]
		if !ok {
			child = NewFolder()
			cur.Subfolders[seg] = child
		}
		cur = child
	}
}

// Shallow resolves a folder path (empty means root, trailing slashes
// ignored) and lists its immediate child-folder names and leaf names.
// Path segments match case-sensitively.
func (f *Folder) Shallow(path string) (subfolders, files []string, ok bool) {
	cur := f
	for _, seg := range splitPath(strings.TrimRight(path, "/")) {
		child, found := cur.Subfolders[seg]
		if !found {
			return nil, nil, false
		}
		cur = child
	}
	subfolders = cur.childNames()
	files = make([]string, 0, len(cur.Files))
	for _, ref := range cur.Files {
		files = append(files, ref.Name())
	}
	return subfolders, files, true
}

// SearchHit is one result of a tree search. Its position in the result
// slice is the hit's version: the disambiguator for duplicate paths.
type SearchHit struct {
	// Full slash-joined path from the root.
	Path string

	Ref *FileRef
}

// SearchRecursive walks the whole tree and collects every leaf whose
// name contains the query, compared case-insensitively. Traversal is
// pre-order with the current folder's files first and children in
// alphabetical order, so result versions are stable for a built tree.
func (f *Folder) SearchRecursive(query string) []SearchHit {
	var hits []SearchHit
	f.searchRecursive(strings.ToLower(query), "", &hits)
	return hits
}

func (f *Folder) searchRecursive(query, prefix string, hits *[]SearchHit) {
	for _, ref := range f.Files {
		if strings.Contains(strings.ToLower(ref.Name()), query) {
			*hits = append(*hits, SearchHit{Path: joinPath(prefix, ref.Name()), Ref: ref})
		}
	}
	for _, name := range f.childNames() {
		f.Subfolders[name].searchRecursive(query, joinPath(prefix, name), hits)
	}
}

// SearchFullPath resolves a full slash-separated path and returns every
// leaf whose name equals the terminal segment exactly. Multiple hits
// occur when the same logical path is supplied by several archives;
// they appear in insertion order.
func (f *Folder) SearchFullPath(path string) []SearchHit {
	segments := splitPath(path)
	if len(segments) == 0 {
		return nil
	}
	cur := f
	for _, seg := range segments[:len(segments)-1] {
		child, ok := cur.Subfolders[seg]
		if !ok {
			return nil
		}
		cur = child
	}
	name := segments[len(segments)-1]
	var hits []SearchHit
	for _, ref := range cur.Files {
		if ref.Name() == name {
			hits = append(hits, SearchHit{Path: strings.Join(segments, "/"), Ref: ref})
		}
	}
	return hits
}

// TotalFiles counts every leaf in the tree.
func (f *Folder) TotalFiles() int {
	n := len(f.Files)
	for _, child := range f.Subfolders {
		n += child.TotalFiles()
	}
	return n
}

func (f *Folder) childNames() []string {
	names := make([]string, 0, len(f.Subfolders))
	for name := range f.Subfolders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func splitPath(path string) []string {
	var segments []string
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			segments = append(segments, seg)
		}
	}
	return segments
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
