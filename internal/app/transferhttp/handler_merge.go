package transferhttp

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/sir_venger/file_transfer/internal/models"
	"github.com/sir_venger/file_transfer/pkg/httperrors"
	"github.com/sir_venger/file_transfer/pkg/transferproto"
)

// merge явно запрашивает сборку. Идентификатор берётся из JSON-тела либо из формы.
func (s *Server) merge(w http.ResponseWriter, r *http.Request) {
	var req transferproto.MergeRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httperrors.Write(w, fmt.Errorf("%w: %v", models.ErrValidation, err))
			return
		}
	} else {
		req.Identifier = r.FormValue(transferproto.FieldIdentifier)
	}

	id := strings.TrimSpace(req.Identifier)
	if id == "" {
		httperrors.Write(w, fmt.Errorf("%w: identifier is required", models.ErrValidation))
		return
	}

	rec, err := s.svc.Merge(r.Context(), id)
	if err != nil {
		httperrors.Write(w, err)
		return
	}

	writeJSON(w, http.StatusOK, chunkResponse{
		ChunkReceipt: rec,
		URL:          transferproto.PublicURL(s.cfg.PublicMount, rec.PublicName),
	})
}
