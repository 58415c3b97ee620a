package card

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
)

// maxUploadSize covers full-resolution phone photos
const maxUploadSize = int64(20 << 20)

// writeJSON writes v as a JSON response with the given status
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError writes a JSON error body
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps service errors to status codes
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrScan):
		slog.Error("Scan failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusBadGateway, "Could not read the card. Please try again.")
	default:
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// decodeDraft reads a Draft from a JSON request body
func decodeDraft(w http.ResponseWriter, r *http.Request) (Draft, bool) {
	var draft Draft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return Draft{}, false
	}
	return draft, true
}

// handleIndex serves the HTML interface
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

// handleScan runs OCR over an uploaded card and returns a draft contact
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "File is too large. Maximum size is 20MB.")
			return
		}
		writeError(w, http.StatusBadRequest, "Error parsing form")
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file was selected. Please choose a card image to upload.")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, http.StatusInternalServerError, "Error reading file. Please try again.")
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = contentTypeFromExt(header.Filename)
	}
	keep, _ := strconv.ParseBool(r.FormValue("keep"))

	result, err := s.service.Scan(r.Context(), header.Filename, data, contentType, keep)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	resp := struct {
		*ScanResult
		Message string `json:"message,omitempty"`
	}{ScanResult: result}
	if result.NoText {
		resp.Message = "No text detected"
	}
	writeJSON(w, http.StatusOK, resp)
}

func contentTypeFromExt(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	}
	return "application/octet-stream"
}

// handleUsage reports the OCR usage counter
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	count, quota, err := s.service.Usage(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"usage":        count,
		"quota":        quota,
		"quotaWarning": count > quota,
	})
}

// handleListContacts lists contacts, filtered by ?q= when given
func (s *Server) handleListContacts(w http.ResponseWriter, r *http.Request) {
	var contacts []Contact
	if q := r.URL.Query().Get("q"); q != "" {
		contacts = s.service.SearchContacts(r.Context(), q)
	} else {
		contacts = s.service.ListContacts(r.Context())
	}
	writeJSON(w, http.StatusOK, contacts)
}

// handleCreateContact stores a new contact from a draft
func (s *Server) handleCreateContact(w http.ResponseWriter, r *http.Request) {
	draft, ok := decodeDraft(w, r)
	if !ok {
		return
	}

	id, err := s.service.CreateContact(r.Context(), draft)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// handleGetContact returns a single contact
func (s *Server) handleGetContact(w http.ResponseWriter, r *http.Request) {
	c, err := s.service.GetContact(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// handleToggleEdit flips a contact's edit mode
func (s *Server) handleToggleEdit(w http.ResponseWriter, r *http.Request) {
	c, err := s.service.ToggleEdit(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// handleCommitEdit saves an edited contact
func (s *Server) handleCommitEdit(w http.ResponseWriter, r *http.Request) {
	draft, ok := decodeDraft(w, r)
	if !ok {
		return
	}

	c, err := s.service.CommitEdit(r.Context(), r.PathValue("id"), draft)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// handleResetEditing takes every contact out of edit mode
func (s *Server) handleResetEditing(w http.ResponseWriter, r *http.Request) {
	n, err := s.service.ResetAllEditing(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
}

// handleDeleteContact deletes a contact
func (s *Server) handleDeleteContact(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteContact(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleExportContact returns the address book form of a contact
func (s *Server) handleExportContact(w http.ResponseWriter, r *http.Request) {
	entry, err := s.service.Export(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// handleGetContactImage returns the stored card photo
func (s *Server) handleGetContactImage(w http.ResponseWriter, r *http.Request) {
	data, err := s.service.GetContactImage(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Write(data)
}
