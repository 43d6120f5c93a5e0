package api

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/guided-traffic/protected-store/internal/protection"
	"github.com/guided-traffic/protected-store/internal/storage"
)

// ivResponse is the body of GET /iv/{path}. IV is null when the artifact
// is absent or carries no valid frame.
type ivResponse struct {
	Path string  `json:"path"`
	IV   *string `json:"iv"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		s.logger.WithError(err).Error("Failed to write health response")
	}
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	path := mux.Vars(r)["path"]
	if r.ContentLength < 0 {
		s.writeError(w, http.StatusLengthRequired, errors.New("content length is required"))
		return
	}

	info, err := s.store.Put(r.Context(), path, r.Body, r.ContentLength)
	if err != nil {
		s.writeStoreError(w, path, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, info)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	path := mux.Vars(r)["path"]

	body, size, err := s.store.Get(r.Context(), path)
	if err != nil {
		s.writeStoreError(w, path, err)
		return
	}
	defer body.Close()

	// errors raised before the first block (a bad frame) still get a status
	reader := bufio.NewReaderSize(body, 32*1024)
	if _, err := reader.Peek(1); err != nil && !errors.Is(err, io.EOF) {
		s.writeStoreError(w, path, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, reader); err != nil {
		s.logger.WithError(err).WithField("path", path).Error("Aborting response after failed read")
		// the status is already sent, a short body is the only signal left
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleHead(w http.ResponseWriter, r *http.Request) {
	path := mux.Vars(r)["path"]

	info, err := s.store.Stat(r.Context(), path)
	if err != nil {
		w.WriteHeader(statusForError(err))
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	path := mux.Vars(r)["path"]
	if err := s.store.Delete(r.Context(), path); err != nil {
		s.writeStoreError(w, path, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFileIV(w http.ResponseWriter, r *http.Request) {
	path := mux.Vars(r)["path"]

	iv, err := s.store.ReadFileIV(r.Context(), path)
	if err != nil {
		s.writeStoreError(w, path, err)
		return
	}

	resp := ivResponse{Path: path}
	if iv != "" {
		resp.IV = &iv
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrInvalidPath):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, protection.ErrSource):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeStoreError(w http.ResponseWriter, path string, err error) {
	status := statusForError(err)
	entry := s.logger.WithError(err).WithFields(logrus.Fields{"path": path, "status": status})
	if status >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Debug("Request rejected")
	}
	s.writeError(w, status, err)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to write response")
	}
}
