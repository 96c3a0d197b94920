package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/camden-git/visionledger/media"
	"github.com/camden-git/visionledger/services"
)

type GeneratedImageHandler struct {
	Ledger    *services.GenerationLedger
	Tags      *services.TagIndex
	Stats     *services.StatsAggregator
	Processor *media.Processor
}

type batchRequest struct {
	services.GenerationParams
	Prompts []string `json:"prompts"`
}

type tagRequest struct {
	Tag string `json:"tag"`
}

func (gh *GeneratedImageHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var params services.GenerationParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		WriteAPIError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	img, err := gh.Ledger.RecordAttempt(r.Context(), params)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, img)
}

// GenerateBatch answers 200 with per item results even when some items fail.
func (gh *GeneratedImageHandler) GenerateBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteAPIError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	items, err := gh.Ledger.RecordBatch(r.Context(), req.Prompts, req.GenerationParams)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	failed := 0
	for _, item := range items {
		if item.Error != "" {
			failed++
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items":     items,
		"total":     len(items),
		"succeeded": len(items) - failed,
		"failed":    failed,
	})
}

func (gh *GeneratedImageHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			WriteAPIError(w, http.StatusBadRequest, codeBadRequest, "invalid limit: "+raw)
			return
		}
		limit = parsed
	}

	images, err := gh.Ledger.ListRecent(r.Context(), limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, images)
}

func (gh *GeneratedImageHandler) Search(w http.ResponseWriter, r *http.Request) {
	images, err := gh.Ledger.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, images)
}

func (gh *GeneratedImageHandler) ListBySeed(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "seed")
	seed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, codeBadRequest, "invalid seed: "+raw)
		return
	}

	images, err := gh.Ledger.ListBySeed(r.Context(), seed)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, images)
}

// Get returns one row of any status and counts a view.
func (gh *GeneratedImageHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "generatedImageID")
	if !ok {
		return
	}

	if err := gh.Ledger.IncrementView(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	img, err := gh.Ledger.GetByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, img)
}

func (gh *GeneratedImageHandler) Download(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "generatedImageID")
	if !ok {
		return
	}

	img, data, err := gh.Ledger.ReadArtifact(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := gh.Ledger.IncrementDownload(r.Context(), id); err != nil {
		// the artifact was read; a lost counter bump does not fail the download
		log.Printf("handlers: failed to count download of generation %d: %v", id, err)
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", img.FileName))
	serveBytes(w, r, img.FileName, time.Unix(img.GenerationTime, 0), data)
}

func (gh *GeneratedImageHandler) Thumbnail(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "generatedImageID")
	if !ok {
		return
	}

	size := media.DefaultThumbnailSize
	if raw := r.URL.Query().Get("size"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 16 || parsed > 1024 {
			WriteAPIError(w, http.StatusBadRequest, codeBadRequest, "size must be between 16 and 1024")
			return
		}
		size = parsed
	}

	img, data, err := gh.Ledger.ReadArtifact(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	thumb, err := gh.Processor.Thumbnail(data, size)
	if err != nil {
		log.Printf("handlers: thumbnail of generation %d failed: %v", id, err)
		WriteAPIError(w, http.StatusInternalServerError, codeInternal, "failed to create thumbnail")
		return
	}
	serveBytes(w, r, "thumbnail.jpg", time.Unix(img.GenerationTime, 0), thumb)
}

func (gh *GeneratedImageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "generatedImageID")
	if !ok {
		return
	}

	deleteFile := false
	if raw := r.URL.Query().Get("delete_file"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			WriteAPIError(w, http.StatusBadRequest, codeBadRequest, "invalid delete_file: "+raw)
			return
		}
		deleteFile = parsed
	}

	if _, err := gh.Ledger.Delete(r.Context(), id, deleteFile); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (gh *GeneratedImageHandler) AddTag(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "generatedImageID")
	if !ok {
		return
	}

	var req tagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteAPIError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	tag, err := gh.Tags.AddTag(r.Context(), id, req.Tag)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tag)
}

func (gh *GeneratedImageHandler) ListTags(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "generatedImageID")
	if !ok {
		return
	}

	tags, err := gh.Tags.ListTags(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tags)
}

func (gh *GeneratedImageHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	report, err := gh.Stats.Report(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func serveBytes(w http.ResponseWriter, r *http.Request, name string, modTime time.Time, data []byte) {
	w.Header().Set("Content-Type", media.ContentType(name))
	http.ServeContent(w, r, name, modTime, bytes.NewReader(data))
}
