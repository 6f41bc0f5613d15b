package transferhttp

import (
	"net/http"
	"sort"
	"time"

	"github.com/sir_venger/file_transfer/internal/models"
	"github.com/sir_venger/file_transfer/pkg/httperrors"
	"github.com/sir_venger/file_transfer/pkg/transferproto"
)

type sessionView struct {
	Identifier   string        `json:"identifier"`
	Filename     string        `json:"filename"`
	RelativePath string        `json:"relativePath,omitempty"`
	Type         string        `json:"type,omitempty"`
	TotalSize    int64         `json:"totalSize"`
	TotalChunks  int           `json:"totalChunks"`
	Status       models.Status `json:"status"`
	Received     []int         `json:"receivedChunks"`
	Missing      []int         `json:"missingChunks,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
	LastActivity time.Time     `json:"lastActivity"`
	PublicName   string        `json:"publicName,omitempty"`
	URL          string        `json:"url,omitempty"`
	Checksum     string        `json:"sha256,omitempty"`
	FailReason   string        `json:"failReason,omitempty"`
}

func (s *Server) view(sess models.Session) sessionView {
	v := sessionView{
		Identifier:   sess.Identifier,
		Filename:     sess.Filename,
		RelativePath: sess.RelativePath,
		Type:         sess.Type,
		TotalSize:    sess.TotalSize,
		TotalChunks:  sess.TotalChunks,
		Status:       sess.Status,
		Received:     sess.ReceivedNumbers(),
		CreatedAt:    sess.CreatedAt,
		LastActivity: sess.LastActivity,
		PublicName:   sess.PublicName,
		URL:          transferproto.PublicURL(s.cfg.PublicMount, sess.PublicName),
		Checksum:     sess.Checksum,
		FailReason:   sess.FailReason,
	}
	if sess.Status != models.StatusPublished {
		v.Missing = sess.Missing()
	}
	if v.Received == nil {
		v.Received = []int{}
	}
	return v
}

func (s *Server) listSessions(w http.ResponseWriter, _ *http.Request) {
	sessions := s.svc.Sessions()
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})

	out := make([]sessionView, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, s.view(sess))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.svc.Status(r.Context(), identifierParam(r))
	if err != nil {
		httperrors.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(sess))
}

// resetSession сбрасывает незавершённую или сломанную сессию вместе с её чанками.
func (s *Server) resetSession(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Reset(r.Context(), identifierParam(r)); err != nil {
		httperrors.Write(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
