package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dreamware/chapterrelay/internal/coordinator"
	"github.com/dreamware/chapterrelay/internal/library"
	"github.com/dreamware/chapterrelay/internal/storage"
)

// statusSource is the part of the coordinator the API reads.
type statusSource interface {
	Status(ctx context.Context) (coordinator.Status, error)
}

type server struct {
	relay   statusSource
	store   storage.Store
	logger  *slog.Logger
	maxBody int64
}

func newServer(relay statusSource, store storage.Store, logger *slog.Logger, maxBody int64) *server {
	return &server{relay: relay, store: store, logger: logger, maxBody: maxBody}
}

// statusResponse is the body of GET /status.
type statusResponse struct {
	coordinator.Status
	Settings storage.StoreStats `json:"settings"`
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	st, err := s.relay.Status(ctx)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: st, Settings: s.store.Stats()})
}

// handleGetSetting answers {key: value}, with a null value for unset keys.
func (s *server) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	value, err := s.store.Get(key)
	switch {
	case errors.Is(err, storage.ErrKeyNotFound):
		value = json.RawMessage("null")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]json.RawMessage{key: value})
}

func (s *server) handlePutSetting(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key   string          `json:"key"`
		Value json.RawMessage `json:"value"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.Value == nil {
		req.Value = json.RawMessage("null")
	}
	if err := s.store.Put(req.Key, req.Value); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, storage.ErrEmptyKey) || errors.Is(err, storage.ErrInvalidValue) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}
	writeSuccess(w, http.StatusOK, "")
}

func (s *server) handleSetBooksDirectory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "A valid path is required.")
		return
	}
	if err := storage.PutString(s.store, storage.KeyBooksDirectory, req.Path); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeSuccess(w, http.StatusOK, "")
}

// handleImportBooks remembers the directory and returns every book in it,
// keyed by folder name.
func (s *server) handleImportBooks(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BooksDirPath string `json:"booksDirPath"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.BooksDirPath == "" {
		writeError(w, http.StatusBadRequest, "Directory path is required.")
		return
	}
	if err := storage.PutString(s.store, storage.KeyBooksDirectory, req.BooksDirPath); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	lib, err := library.New(req.BooksDirPath, s.logger)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	books, err := lib.Import()
	if err != nil {
		s.logger.Error("import failed", slog.String("path", req.BooksDirPath), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "Could not read the book directory. "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, books)
}

func (s *server) handleCreateBook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BookName string `json:"bookName"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	lib, ok := s.library(w)
	if !ok {
		return
	}
	if req.BookName == "" {
		writeError(w, http.StatusBadRequest, "Book name is required.")
		return
	}

	path, err := lib.Create(req.BookName)
	switch {
	case errors.Is(err, library.ErrBookExists):
		writeError(w, http.StatusConflict, fmt.Sprintf("A book folder named %q already exists.", req.BookName))
		return
	case errors.Is(err, library.ErrInvalidName):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.logger.Error("create book failed", slog.String("book", req.BookName), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "Failed to create book folder on disk.")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "path": path})
}

func (s *server) handleSaveBook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BookName string           `json:"bookName"`
		BookData library.BookData `json:"bookData"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	lib, ok := s.libraryFor(w, req.BookName)
	if !ok {
		return
	}
	if err := lib.Save(req.BookName, req.BookData); err != nil {
		if errors.Is(err, library.ErrInvalidName) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("save book failed", slog.String("book", req.BookName), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to write book data to disk for %q.", req.BookName))
		return
	}
	writeSuccess(w, http.StatusOK, fmt.Sprintf("Book %q saved successfully.", req.BookName))
}

func (s *server) handleSaveRawChapters(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BookName    string          `json:"bookName"`
		RawChapters json.RawMessage `json:"rawChapters"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	lib, ok := s.libraryFor(w, req.BookName)
	if !ok {
		return
	}
	if err := lib.SaveRawChapters(req.BookName, req.RawChapters); err != nil {
		if errors.Is(err, library.ErrInvalidName) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("save raw chapters failed", slog.String("book", req.BookName), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "Failed to save raw chapters on disk.")
		return
	}
	writeSuccess(w, http.StatusOK, fmt.Sprintf("Raw chapters for %q saved.", req.BookName))
}

func (s *server) handleDeleteBook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BookName string `json:"bookName"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.BookName == "" {
		writeError(w, http.StatusBadRequest, "Book name is required.")
		return
	}
	lib, ok := s.library(w)
	if !ok {
		return
	}
	if err := lib.Delete(req.BookName); err != nil {
		if errors.Is(err, library.ErrInvalidName) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete folder: "+err.Error())
		return
	}
	writeSuccess(w, http.StatusOK, "Deleted book folder: "+req.BookName)
}

func (s *server) handleDeleteRawChapters(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BookName string `json:"bookName"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	lib, ok := s.libraryFor(w, req.BookName)
	if !ok {
		return
	}
	deleted, err := lib.DeleteRawChapters(req.BookName)
	if err != nil {
		if errors.Is(err, library.ErrInvalidName) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("delete raw chapters failed", slog.String("book", req.BookName), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "Failed to delete raw chapters file on disk.")
		return
	}
	if !deleted {
		writeSuccess(w, http.StatusOK, "Raw chapters file not found, nothing to delete.")
		return
	}
	writeSuccess(w, http.StatusOK, fmt.Sprintf("Raw chapters file for %q deleted.", req.BookName))
}

// library opens the configured books directory, answering 400 when none is
// set.
func (s *server) library(w http.ResponseWriter) (*library.Library, bool) {
	dir, err := storage.GetString(s.store, storage.KeyBooksDirectory)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	lib, err := library.New(dir, s.logger)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Books directory path is not set.")
		return nil, false
	}
	return lib, true
}

// libraryFor is library for the endpoints that need both a directory and a
// book name and report them missing together.
func (s *server) libraryFor(w http.ResponseWriter, bookName string) (*library.Library, bool) {
	dir, err := storage.GetString(s.store, storage.KeyBooksDirectory)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	if dir == "" || bookName == "" {
		writeError(w, http.StatusBadRequest, "Missing book directory path or book name.")
		return nil, false
	}
	lib, err := library.New(dir, s.logger)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return lib, true
}

func (s *server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body := r.Body
	if s.maxBody > 0 {
		body = http.MaxBytesReader(w, r.Body, s.maxBody)
	}
	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "bad json")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeSuccess(w http.ResponseWriter, status int, msg string) {
	body := map[string]any{"success": true}
	if msg != "" {
		body["message"] = msg
	}
	writeJSON(w, status, body)
}
