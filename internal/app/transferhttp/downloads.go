package transferhttp

import (
	"net/http"
	"path"
	"strings"

	"github.com/sir_venger/file_transfer/internal/models"
)

// downloads раздаёт опубликованные файлы. Служебный каталог и листинги директорий скрыты.
func downloads(root string) http.Handler {
	files := http.FileServer(http.Dir(root))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := path.Clean("/" + r.URL.Path)
		if p == "/" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		for _, seg := range strings.Split(strings.TrimPrefix(p, "/"), "/") {
			if seg == models.StagingDir {
				http.NotFound(w, r)
				return
			}
		}
		files.ServeHTTP(w, r)
	})
}
