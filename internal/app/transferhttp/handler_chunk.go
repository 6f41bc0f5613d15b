package transferhttp

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sir_venger/file_transfer/internal/models"
	"github.com/sir_venger/file_transfer/pkg/httperrors"
	"github.com/sir_venger/file_transfer/pkg/transferproto"
)

// Запас на поля формы и границы multipart сверх самого чанка.
const formOverhead = 1 << 20

// chunkResponse добавляет к квитанции ссылку на опубликованный файл.
type chunkResponse struct {
	models.ChunkReceipt
	URL string `json:"url,omitempty"`
}

type checkResponse struct {
	models.CheckResult
	URL string `json:"url,omitempty"`
}

// postChunk принимает один чанк в multipart-форме.
func (s *Server) postChunk(w http.ResponseWriter, r *http.Request) {
	if s.cfg.MaxChunkBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxChunkBytes+formOverhead)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httperrors.Write(w, fmt.Errorf("%w: chunk exceeds %d bytes", models.ErrValidation, s.cfg.MaxChunkBytes))
			return
		}
		httperrors.Write(w, fmt.Errorf("%w: malformed multipart form: %v", models.ErrValidation, err))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	info, err := parseChunkForm(r)
	if err != nil {
		httperrors.Write(w, err)
		return
	}

	file, _, err := r.FormFile(transferproto.FieldFile)
	if err != nil {
		httperrors.Write(w, fmt.Errorf("%w: missing %s part", models.ErrValidation, transferproto.FieldFile))
		return
	}
	defer file.Close()

	rec, err := s.svc.ReceiveChunk(r.Context(), info, file)
	if err != nil {
		httperrors.Write(w, err)
		return
	}

	writeJSON(w, http.StatusOK, chunkResponse{
		ChunkReceipt: rec,
		URL:          transferproto.PublicURL(s.cfg.PublicMount, rec.PublicName),
	})
}

// checkChunks отвечает, какие чанки уже есть и нужна ли загрузка вообще.
func (s *Server) checkChunks(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get(transferproto.FieldIdentifier))
	if id == "" {
		httperrors.Write(w, fmt.Errorf("%w: identifier is required", models.ErrValidation))
		return
	}

	res, err := s.svc.Check(r.Context(), id)
	if err != nil {
		httperrors.Write(w, err)
		return
	}

	writeJSON(w, http.StatusOK, checkResponse{
		CheckResult: res,
		URL:         transferproto.PublicURL(s.cfg.PublicMount, res.PublicName),
	})
}
