// Copyright 2024 TosView. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package server projects the built index onto a read-only HTTP API:
// folder listing, file search, raw download, and typed previews of the
// recognized formats. Every endpoint is a GET over shared immutable
// state, so handlers run concurrently without locking.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tosview/tosview"
	"github.com/tosview/tosview/ies"
)

// Server serves the query API over one built index.
type Server struct {
	idx *tosview.Index
	log zerolog.Logger
}

// New returns a Server over idx.
func New(idx *tosview.Index, log zerolog.Logger) *Server {
	return &Server{idx: idx, log: log}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/info", s.errHandler(s.handleInfo))
	mux.Handle("/api/folder/shallow", s.errHandler(s.handleFolderShallow))
	mux.Handle("/api/file/search", s.errHandler(s.handleFileSearch))
	mux.Handle("/api/file/fullpath", s.errHandler(s.handleFileFullPath))
	mux.Handle("/api/file/download", s.errHandler(s.handleFileDownload))
	mux.Handle("/api/file/parse", s.errHandler(s.handleFileParse))
	mux.Handle("/api/file/preview", s.errHandler(s.handleFilePreview))
	return mux
}

// httpError carries a status code chosen by a handler up to the error
// wrapper.
type httpError struct {
	status int
	msg    string
}

func (e *httpError) Error() string { return e.msg }

func notFound(msg string) error {
	return &httpError{status: http.StatusNotFound, msg: msg}
}

func badRequest(msg string) error {
	return &httpError{status: http.StatusBadRequest, msg: msg}
}

func serverError(msg string) error {
	return &httpError{status: http.StatusInternalServerError, msg: msg}
}

// errHandler converts handler errors into status responses, logging the
// internal ones.
func (s *Server) errHandler(h func(w http.ResponseWriter, r *http.Request) error) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := h(w, r)
		if err == nil {
			return
		}
		if he, ok := err.(*httpError); ok {
			http.Error(w, he.msg, he.status)
			return
		}
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(v)
}

// infoResponse reports the startup state of the explorer.
type infoResponse struct {
	GameRoot          string `json:"game_root"`
	TotalFiles        int    `json:"total_files"`
	DuplicatesXAC     int    `json:"duplicates_xac"`
	DuplicatesXSM     int    `json:"duplicates_xsm"`
	DuplicatesXSMTime int    `json:"duplicates_xsmtime"`
	DuplicatesXPM     int    `json:"duplicates_xpm"`
	DuplicatesDDS     int    `json:"duplicates_dds"`
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) error {
	d := &s.idx.Duplicates
	return writeJSON(w, infoResponse{
		GameRoot:          s.idx.GameRoot,
		TotalFiles:        s.idx.Tree.TotalFiles(),
		DuplicatesXAC:     len(d.XAC),
		DuplicatesXSM:     len(d.XSM),
		DuplicatesXSMTime: len(d.XSMTime),
		DuplicatesXPM:     len(d.XPM),
		DuplicatesDDS:     len(d.DDS),
	})
}

type shallowResponse struct {
	FolderName string   `json:"folder_name"`
	Subfolders []string `json:"subfolders"`
	Files      []string `json:"files"`
}

func (s *Server) handleFolderShallow(w http.ResponseWriter, r *http.Request) error {
	folderName := r.URL.Query().Get("folder_name")
	subfolders, files, ok := s.idx.Tree.Shallow(folderName)
	if !ok {
		return notFound("Folder not found")
	}
	return writeJSON(w, shallowResponse{
		FolderName: folderName,
		Subfolders: subfolders,
		Files:      files,
	})
}

type searchItem struct {
	Version     int    `json:"version"`
	FilePath    string `json:"file_path"`
	DownloadURL string `json:"download_url"`
	ParseURL    string `json:"parse_url"`
}

type searchResponse struct {
	FileName   string       `json:"file_name"`
	FoundFiles []searchItem `json:"found_files"`
}

func (s *Server) handleFileSearch(w http.ResponseWriter, r *http.Request) error {
	fileName := r.URL.Query().Get("file_name")
	if fileName == "" {
		return badRequest("file_name is required")
	}
	hits := s.idx.Tree.SearchRecursive(fileName)
	items := make([]searchItem, 0, len(hits))
	for version, hit := range hits {
		items = append(items, searchItem{
			Version:     version,
			FilePath:    hit.Path,
			DownloadURL: fileURL("/api/file/download", hit.Path, version),
			ParseURL:    fileURL("/api/file/parse", hit.Path, version),
		})
	}
	return writeJSON(w, searchResponse{FileName: fileName, FoundFiles: items})
}

type fullPathItem struct {
	Version              int    `json:"version"`
	FilePath             string `json:"file_path"`
	ContainerName        string `json:"container_name"`
	CRC32                uint32 `json:"crc32"`
	FileSizeCompressed   uint32 `json:"file_size_compressed"`
	FileSizeUncompressed uint32 `json:"file_size_uncompressed"`
	FilePointer          uint32 `json:"file_pointer"`
	DownloadURL          string `json:"download_url"`
	ParseURL             string `json:"parse_url"`
}

func (s *Server) handleFileFullPath(w http.ResponseWriter, r *http.Request) error {
	fullPath := r.URL.Query().Get("full_path")
	if fullPath == "" {
		return badRequest("full_path is required")
	}
	hits := s.idx.Tree.SearchFullPath(fullPath)
	if len(hits) == 0 {
		return notFound("File not found")
	}
	items := make([]fullPathItem, 0, len(hits))
	for version, hit := range hits {
		e := hit.Ref.Entry
		items = append(items, fullPathItem{
			Version:              version,
			FilePath:             hit.Path,
			ContainerName:        e.ContainerName,
			CRC32:                e.CRC32,
			FileSizeCompressed:   e.CompressedSize,
			FileSizeUncompressed: e.UncompressedSize,
			FilePointer:          e.FileOffset,
			DownloadURL:          fileURL("/api/file/download", fullPath, version),
			ParseURL:             fileURL("/api/file/parse", fullPath, version),
		})
	}
	return writeJSON(w, items)
}

// resolve looks up the path/version pair common to the download, parse
// and preview endpoints.
func (s *Server) resolve(r *http.Request) (tosview.SearchHit, error) {
	q := r.URL.Query()
	path := q.Get("path")
	if path == "" {
		return tosview.SearchHit{}, badRequest("path is required")
	}
	version := 0
	if v := q.Get("version"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			return tosview.SearchHit{}, badRequest("invalid version")
		}
		version = parsed
	}
	hits := s.idx.Tree.SearchFullPath(path)
	if version >= len(hits) {
		return tosview.SearchHit{}, notFound("File/version not found")
	}
	return hits[version], nil
}

func (s *Server) handleFileDownload(w http.ResponseWriter, r *http.Request) error {
	hit, err := s.resolve(r)
	if err != nil {
		return err
	}
	data, err := hit.Ref.Extract()
	if err != nil {
		s.log.Error().Err(err).Str("path", hit.Path).Msg("extract failed")
		return serverError("Failed to extract file data")
	}
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", hit.Ref.Name()))
	w.Header().Set("Content-Type", "application/octet-stream")
	_, err = w.Write(data)
	return err
}

func (s *Server) handleFileParse(w http.ResponseWriter, r *http.Request) error {
	hit, err := s.resolve(r)
	if err != nil {
		return err
	}
	data, err := hit.Ref.Extract()
	if err != nil {
		return serverError("Failed to parse as IES")
	}
	table, err := ies.Parse(data)
	if err != nil {
		return serverError("Failed to parse as IES")
	}
	return writeJSON(w, table)
}

func (s *Server) handleFilePreview(w http.ResponseWriter, r *http.Request) error {
	hit, err := s.resolve(r)
	if err != nil {
		return err
	}
	data, err := hit.Ref.Extract()
	if err != nil {
		return serverError("Failed to extract file data")
	}

	switch ext := lowerExt(hit.Path); ext {
	case "ies":
		table, err := ies.Parse(data)
		if err != nil {
			return serverError("Failed to parse IES file")
		}
		return writeJSON(w, table)
	case "xml", "lua":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, err = w.Write(data)
		return err
	case "png":
		return writeBlob(w, "image/png", data)
	case "jpg", "jpeg":
		return writeBlob(w, "image/jpeg", data)
	case "bmp":
		return writeBlob(w, "image/bmp", data)
	case "tga":
		return writeBlob(w, "image/x-tga", data)
	default:
		return writeBlob(w, "application/octet-stream", data)
	}
}

func writeBlob(w http.ResponseWriter, contentType string, data []byte) error {
	w.Header().Set("Content-Type", contentType)
	_, err := w.Write(data)
	return err
}

func lowerExt(path string) string {
	i := strings.LastIndexByte(path, '.')
	if i < 0 {
		return ""
	}
	return strings.ToLower(path[i+1:])
}

func fileURL(endpoint, path string, version int) string {
	return fmt.Sprintf("%s?path=%s&version=%d", endpoint, url.QueryEscape(path), version)
}
