// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/renameio/v2"

	"github.com/mwrenn/ppubsd/internal/cache"
	"github.com/mwrenn/ppubsd/internal/log"
	"github.com/mwrenn/ppubsd/internal/ppubs"
)

// searchRequest is the gateway's search body.
type searchRequest struct {
	Query    string   `json:"query"`
	Start    int      `json:"start,omitempty"`
	Limit    int      `json:"limit,omitempty"`
	Operator string   `json:"operator,omitempty"`
	Sources  []string `json:"sources,omitempty"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Query == "" {
		writeBadRequest(w, "query is required")
		return
	}

	key := cache.Key("search", req)
	if payload, ok := s.cache.Get(r.Context(), key); ok {
		w.Header().Set("X-Cache", "hit")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(payload)
		return
	}

	opts := ppubs.DefaultSearchOptions()
	opts.Start = req.Start
	if req.Limit > 0 {
		opts.Limit = req.Limit
	}
	if req.Operator != "" {
		opts.Operator = req.Operator
	}
	if len(req.Sources) > 0 {
		opts.Sources = req.Sources
	}

	result, err := s.client.Search(r.Context(), req.Query, opts)
	if err != nil {
		writeError(w, err)
		return
	}

	payload, err := json.Marshal(result)
	if err != nil {
		writeError(w, err)
		return
	}
	s.cache.Set(r.Context(), key, payload, s.cfg.CacheTTL)

	w.Header().Set("X-Cache", "miss")
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(payload)
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	guid := chi.URLParam(r, "guid")
	source := r.URL.Query().Get("source")

	key := cache.Key("document", []string{guid, source})
	if payload, ok := s.cache.Get(r.Context(), key); ok {
		w.Header().Set("X-Cache", "hit")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(payload)
		return
	}

	raw, err := s.client.Document(r.Context(), guid, source)
	if err != nil {
		writeError(w, err)
		return
	}
	s.cache.Set(r.Context(), key, raw, s.cfg.CacheTTL)

	w.Header().Set("X-Cache", "miss")
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(raw)
}

// pdfRequest describes the document images the upstream should render.
type pdfRequest struct {
	ImageLocation string `json:"imageLocation"`
	PageCount     int    `json:"pageCount"`
	Source        string `json:"source,omitempty"`
	// Persist additionally writes the PDF under the data dir and returns
	// metadata instead of the raw bytes.
	Persist bool `json:"persist,omitempty"`
}

func (s *Server) handleDownloadPDF(w http.ResponseWriter, r *http.Request) {
	guid := chi.URLParam(r, "guid")

	var req pdfRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.ImageLocation == "" || req.PageCount <= 0 {
		writeBadRequest(w, "imageLocation and pageCount are required")
		return
	}

	pdf, job, err := s.client.DownloadPDF(r.Context(), guid, req.ImageLocation, req.PageCount, req.Source)
	if err != nil {
		status, desc := describe(err)
		if job != nil {
			if desc.Details == nil {
				desc.Details = map[string]any{}
			}
			desc.Details["jobId"] = job.ID
		}
		writeJSON(w, status, desc)
		return
	}

	if req.Persist {
		path := filepath.Join(s.cfg.DataDir, "artifacts", guid+".pdf")
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			writeError(w, err)
			return
		}
		if err := renameio.WriteFile(path, pdf, 0o644); err != nil {
			writeError(w, err)
			return
		}
		logger := log.WithContext(r.Context(), s.logger)
		logger.Info().
			Str(log.FieldEvent, "pdf.persisted").
			Str(log.FieldGUID, guid).
			Str("path", path).
			Int("bytes", len(pdf)).
			Msg("artifact written")
		writeJSON(w, http.StatusOK, map[string]any{
			"jobId": job.ID,
			"guid":  guid,
			"path":  path,
			"bytes": len(pdf),
		})
		return
	}

	w.Header().Set("X-Job-Id", job.ID)
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Length", strconv.Itoa(len(pdf)))
	_, _ = w.Write(pdf)
}

// jobResponse is the wire shape of a persisted job.
type jobResponse struct {
	ID            string     `json:"id"`
	GUID          string     `json:"guid"`
	State         string     `json:"state"`
	ArtifactName  string     `json:"artifactName,omitempty"`
	FailureReason string     `json:"failureReason,omitempty"`
	SubmittedAt   time.Time  `json:"submittedAt"`
	LastPolledAt  *time.Time `json:"lastPolledAt,omitempty"`
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeNotFound(w, "job history is disabled")
		return
	}

	id := chi.URLParam(r, "id")
	job, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if job == nil {
		writeNotFound(w, "unknown job id")
		return
	}

	resp := jobResponse{
		ID:            job.ID,
		GUID:          job.GUID,
		State:         string(job.State),
		ArtifactName:  job.ArtifactName,
		FailureReason: job.FailureReason,
		SubmittedAt:   job.SubmittedAt,
	}
	if !job.LastPolledAt.IsZero() {
		t := job.LastPolledAt
		resp.LastPolledAt = &t
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if err := s.client.Ready(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, failure{
			Failed:    true,
			Message:   "upstream session unavailable: " + err.Error(),
			ErrorCode: "not_ready",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
