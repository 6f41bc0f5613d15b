package httperrors

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sir_venger/file_transfer/internal/models"
	"github.com/sir_venger/file_transfer/pkg/transferproto"
)

// Status сопоставляет ошибке HTTP-статус по её виду.
func Status(err error) int {
	switch models.KindOf(err) {
	case models.KindValidation:
		return http.StatusBadRequest
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindMetadataConflict, models.KindSessionFailed, models.KindSessionBusy,
		models.KindIncomplete, models.KindPublished:
		return http.StatusConflict
	case models.KindAssemblyIntegrity:
		return http.StatusUnprocessableEntity
	case models.KindStorage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Write пишет ошибку JSON-телом с видом ошибки и признаком повторяемости.
func Write(w http.ResponseWriter, err error) {
	body := transferproto.ErrorResponse{
		Error:     err.Error(),
		Kind:      string(models.KindOf(err)),
		Retryable: models.Retryable(err),
	}
	var incomplete *models.IncompleteError
	if errors.As(err, &incomplete) {
		body.Missing = incomplete.Missing
	}

	status := Status(err)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
