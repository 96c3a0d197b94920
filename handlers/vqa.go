package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/camden-git/visionledger/generators"
	"github.com/camden-git/visionledger/media"
	"github.com/camden-git/visionledger/services"
)

// DefaultMaxUploadBytes bounds multipart uploads to /api/vqa
const DefaultMaxUploadBytes = 20 << 20

type VQAHandler struct {
	Library        *services.ImageLibrary
	Generator      generators.AnswerGenerator
	MaxUploadBytes int64
}

type vqaResponse struct {
	ImageID    int64   `json:"image_id"`
	FileName   string  `json:"filename"`
	QuestionID int64   `json:"question_id"`
	Answer     string  `json:"answer"`
	Confidence float64 `json:"confidence"`
	FromCache  bool    `json:"from_cache"`
}

// Ask handles a multipart form with an "image" file and a "question" field.
func (vh *VQAHandler) Ask(w http.ResponseWriter, r *http.Request) {
	maxBytes := vh.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	if err := r.ParseMultipartForm(maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteAPIError(w, http.StatusRequestEntityTooLarge, codeBadRequest, "upload exceeds "+strconv.FormatInt(maxBytes, 10)+" bytes")
			return
		}
		WriteAPIError(w, http.StatusBadRequest, codeBadRequest, "invalid multipart form: "+err.Error())
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, codeBadRequest, "missing form file: image")
		return
	}
	defer file.Close()

	if !media.IsRasterImage(header.Filename) {
		WriteAPIError(w, http.StatusUnsupportedMediaType, codeUnsupported, "unsupported image type: "+header.Filename)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, codeBadRequest, "failed to read upload: "+err.Error())
		return
	}

	result, err := vh.Library.Ask(r.Context(), header.Filename, data, r.FormValue("question"), vh.Generator)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, vqaResponse{
		ImageID:    result.Image.ID,
		FileName:   result.Image.FileName,
		QuestionID: result.Answer.QuestionID,
		Answer:     result.Answer.AnswerText,
		Confidence: result.Answer.Confidence,
		FromCache:  result.Answer.FromCache,
	})
}

func (vh *VQAHandler) ListImages(w http.ResponseWriter, r *http.Request) {
	images, err := vh.Library.ListImages(r.Context(), r.URL.Query().Get("sort"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, images)
}

func (vh *VQAHandler) ListQuestions(w http.ResponseWriter, r *http.Request) {
	imageID, ok := parseIDParam(w, r, "imageID")
	if !ok {
		return
	}
	questions, err := vh.Library.ListQuestions(r.Context(), imageID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, questions)
}

func parseIDParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		WriteAPIError(w, http.StatusBadRequest, codeBadRequest, "invalid "+name+": "+raw)
		return 0, false
	}
	return id, true
}
