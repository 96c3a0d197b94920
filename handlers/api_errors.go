package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/camden-git/visionledger/services"
)

const (
	codeValidation  = "validation_error"
	codeNotFound    = "not_found"
	codeGeneration  = "generation_failed"
	codeTimeout     = "generation_timeout"
	codeStorage     = "storage_error"
	codeDatabase    = "database_error"
	codeInternal    = "internal_error"
	codeBadRequest  = "bad_request"
	codeUnsupported = "unsupported_media_type"
)

// APIErrorDetail represents a single error in the standardized error response.
type APIErrorDetail struct {
	Code   string `json:"code"`
	Status string `json:"status"`
	Detail string `json:"detail"`
}

// APIErrorResponse represents the standardized error response body.
type APIErrorResponse struct {
	Errors []APIErrorDetail `json:"errors"`
}

// WriteAPIError writes a standardized error response with the given HTTP status, code, and detail.
func WriteAPIError(w http.ResponseWriter, httpStatus int, code string, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)

	resp := APIErrorResponse{
		Errors: []APIErrorDetail{
			{
				Code:   code,
				Status: strconv.Itoa(httpStatus),
				Detail: detail,
			},
		},
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// writeServiceError maps a service error onto its HTTP status. Internal
// details of storage and database failures are logged, not returned.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var genErr *services.GenerationError

	switch {
	case errors.Is(err, services.ErrValidation):
		WriteAPIError(w, http.StatusBadRequest, codeValidation, err.Error())
	case errors.Is(err, services.ErrNotFound), errors.Is(err, services.ErrArtifactNotFound):
		WriteAPIError(w, http.StatusNotFound, codeNotFound, err.Error())
	case errors.As(err, &genErr) && genErr.Timeout():
		WriteAPIError(w, http.StatusGatewayTimeout, codeTimeout, err.Error())
	case errors.Is(err, services.ErrGeneration):
		WriteAPIError(w, http.StatusBadGateway, codeGeneration, err.Error())
	case errors.Is(err, services.ErrStorage):
		log.Printf("handlers: %s %s: %v", r.Method, r.URL.Path, err)
		WriteAPIError(w, http.StatusInternalServerError, codeStorage, "failed to store artifact")
	case errors.Is(err, services.ErrDatabase):
		log.Printf("handlers: %s %s: %v", r.Method, r.URL.Path, err)
		WriteAPIError(w, http.StatusInternalServerError, codeDatabase, "database operation failed")
	default:
		log.Printf("handlers: %s %s: %v", r.Method, r.URL.Path, err)
		WriteAPIError(w, http.StatusInternalServerError, codeInternal, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Printf("Error encoding JSON response: %v", err)
		}
	}
}
