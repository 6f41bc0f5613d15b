package transferhttp

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// identifierParam достаёт идентификатор из пути; в нём допустимы экранированные символы.
func identifierParam(r *http.Request) string {
	raw := chi.URLParam(r, "identifier")
	if id, err := url.PathUnescape(raw); err == nil {
		return id
	}
	return raw
}
