package transferhttp

import (
	"net/http"

	"github.com/sir_venger/file_transfer/pkg/httperrors"
)

// gcOnce вручную запускает сбор брошенных загрузок.
func (s *Server) gcOnce(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Sweep(r.Context())
	if err != nil {
		httperrors.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
