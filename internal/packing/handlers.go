package packing

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/kwalsh/dd1750-assistant/internal/form"
	"github.com/kwalsh/dd1750-assistant/internal/ledger"
	"github.com/kwalsh/dd1750-assistant/internal/scanning"
)

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeJSON encodes v with the given status
func writeJSON(w http.ResponseWriter, status int, v any) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError maps the error taxonomy onto HTTP status codes. Warnings are
// never routed through here; they ride along successful responses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ledger.ErrInsufficientCredit):
		status = http.StatusPaymentRequired
	case errors.Is(err, ledger.ErrInvalidArgument),
		errors.Is(err, ledger.ErrCodeNotFound),
		errors.Is(err, ledger.ErrCodeAlreadyRedeemed),
		errors.Is(err, ErrNoDocument):
		status = http.StatusBadRequest
	case errors.Is(err, scanning.ErrUpstreamUnavailable):
		status = http.StatusBadGateway
	case errors.Is(err, scanning.ErrUnparsableResponse):
		status = http.StatusUnprocessableEntity
	}

	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// handleStatus reports the session's credit position
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	identity := s.identity(w, r)
	status, err := s.service.Status(identity)
	if err != nil {
		slog.Error("Error reading status", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleUploadDocument stages a BOM document for the session
func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	identity := s.identity(w, r)

	// 50MB cap to handle high-resolution phone photos
	maxFormSize := int64(50 << 20)
	r.Body = http.MaxBytesReader(w, r.Body, maxFormSize)
	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			errorMsg = "File is too large. Maximum size is 50MB. Please compress or resize your document."
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": errorMsg})
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No file was selected. Please choose a file to upload."})
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Error reading file. Please try again."})
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = contentTypeFromExtension(header.Filename)
	}
	contentType = strings.ToLower(strings.TrimSpace(contentType))

	upload, err := s.service.UploadDocument(identity, header.Filename, data, contentType)
	if err != nil {
		slog.Error("Error staging document", "filename", header.Filename, "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusCreated, upload)
}

// contentTypeFromExtension guesses a MIME type for clients that omit one
func contentTypeFromExtension(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

// handleExtract runs the staged document through the vision scanner
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	identity := s.identity(w, r)

	result, remaining, err := s.service.Extract(identity)
	if err != nil {
		slog.Error("Error extracting items", "error", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items":     result.Items,
		"warnings":  result.Warnings,
		"count":     len(result.Items),
		"remaining": remaining,
	})
}

// generateRequest carries the user-reviewed items and header fields
type generateRequest struct {
	Header form.Header     `json:"header"`
	Items  []scanning.Item `json:"items"`
}

// handleGenerate renders the packing list from reviewed items
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	identity := s.identity(w, r)

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	_, pages, err := s.service.Generate(identity, req.Header, req.Items)
	if err != nil {
		slog.Error("Error generating packing list", "error", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"pages":   pages,
		"message": fmt.Sprintf("Generated DD1750 with %d items on %d page(s)", len(req.Items), pages),
	})
}

// handleDownload streams the last generated packing list
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	identity := s.identity(w, r)

	data, filename, err := s.service.Download(identity)
	if err != nil {
		writeError(w, err)
		return
	}

	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Write(data)
}

// redeemRequest carries a user-typed access code
type redeemRequest struct {
	Code string `json:"code"`
}

// handleRedeemCode cashes an access code into the session's balance
func (s *Server) handleRedeemCode(w http.ResponseWriter, r *http.Request) {
	identity := s.identity(w, r)

	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	granted, remaining, err := s.service.Redeem(identity, req.Code)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"credits_added": granted,
		"remaining":     remaining,
		"message":       fmt.Sprintf("Added %d extractions to your account", granted),
	})
}

// handleClearSession drops the session's staged documents, keeping credits
func (s *Server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	identity := s.identity(w, r)
	s.service.ClearSession(identity)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// codeGenerationRequest is the admin batch-generation payload
type codeGenerationRequest struct {
	Count          int `json:"count"`
	CreditsPerCode int `json:"credits"`
}

// handleGenerateCodes mints access codes for manual distribution
func (s *Server) handleGenerateCodes(w http.ResponseWriter, r *http.Request) {
	var req codeGenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	codes, err := s.service.GenerateAccessCodes(req.Count, req.CreditsPerCode)
	if err != nil {
		writeError(w, err)
		return
	}

	codeStrings := make([]string, 0, len(codes))
	for _, c := range codes {
		codeStrings = append(codeStrings, c.Code)
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"codes":            codeStrings,
		"credits_per_code": req.CreditsPerCode,
	})
}

// handleListCodes returns all codes with their redemption state
func (s *Server) handleListCodes(w http.ResponseWriter, r *http.Request) {
	codes, err := s.service.ListAccessCodes()
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"codes": codes,
		"total": len(codes),
	})
}
