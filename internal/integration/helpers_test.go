package integration

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sir_venger/file_transfer/internal/app/transferhttp"
	"github.com/sir_venger/file_transfer/internal/config"
)

// node — запущенный сервис; новый node с тем же конфигом видит данные предыдущего.
type node struct {
	cfg config.Config
	app *transferhttp.App
	srv *httptest.Server
}

func newConfig(root string) config.Config {
	cfg := config.Default()
	cfg.ChunkDir = filepath.Join(root, "chunks")
	cfg.PublishDir = filepath.Join(root, "published")
	cfg.CatalogDSN = "sqlite://" + filepath.Join(root, "catalog.db")
	cfg.AbandonAfter = time.Hour
	return cfg
}

func startNode(t *testing.T, cfg config.Config) *node {
	t.Helper()

	app, err := transferhttp.Build(context.Background(), &cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("build app: %v", err)
	}
	n := &node{cfg: cfg, app: app, srv: httptest.NewServer(app.Handler)}
	t.Cleanup(n.stop)
	return n
}

func (n *node) stop() {
	if n.srv == nil {
		return
	}
	n.srv.Close()
	_ = n.app.Close()
	n.srv = nil
}

func download(t *testing.T, url string) []byte {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("download %s: %s", url, resp.Status)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return b
}
