// Copyright 2024 TosView. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package tosview

import (
	"encoding/xml"
	"os"
)

// DuplicateEntry is one source file and the targets known to share its
// content.
type DuplicateEntry struct {
	Source  string   `json:"source"`
	Targets []string `json:"targets"`
}

// Duplicates holds the duplicate tables per file-type class, loaded once
// at startup and queried read-only.
type Duplicates struct {
	XAC     []DuplicateEntry `json:"xac"`
	XSM     []DuplicateEntry `json:"xsm"`
	XSMTime []DuplicateEntry `json:"xsm_time"`
	XPM     []DuplicateEntry `json:"xpm"`
	DDS     []DuplicateEntry `json:"dds"`
}

// LoadDuplicateGroups parses one duplicate-group XML side-file. Both
// self-closing and nested source/target elements are accepted; sources
// without targets yield an empty target list.
func LoadDuplicateGroups(path string) ([]DuplicateEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseDuplicateGroups(data)
}

// ParseDuplicateGroups decodes duplicate groups held in memory. The root
// element's name is not interpreted.
func ParseDuplicateGroups(data []byte) ([]DuplicateEntry, error) {
	var doc struct {
		Sources []struct {
			File    string `xml:"file,attr"`
			Targets []struct {
				File string `xml:"file,attr"`
			} `xml:"target"`
		} `xml:"source"`
	}
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	entries := make([]DuplicateEntry, 0, len(doc.Sources))
	for _, s := range doc.Sources {
		e := DuplicateEntry{Source: s.File}
		for _, t := range s.Targets {
			e.Targets = append(e.Targets, t.File)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
