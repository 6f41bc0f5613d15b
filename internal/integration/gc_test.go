package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/sir_venger/file_transfer/pkg/transferclient"
	"github.com/sir_venger/file_transfer/pkg/transferproto"
)

func Test_GC_RemovesAbandonedUploads(t *testing.T) {
	cfg := newConfig(t.TempDir())
	cfg.AbandonAfter = 50 * time.Millisecond
	n := startNode(t, cfg)

	cli := transferclient.New(n.srv.URL, nil)
	data := []byte(strings.Repeat("z", 300))
	if _, err := cli.UploadChunk(context.Background(), chunkOf("gc-1", data, 100, 2)); err != nil {
		t.Fatal(err)
	}

	time.Sleep(120 * time.Millisecond)

	resp, err := http.Post(n.srv.URL+transferproto.GCPath, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	var stats map[string]int
	err = json.NewDecoder(resp.Body).Decode(&stats)
	_ = resp.Body.Close()
	if err != nil {
		t.Fatal(err)
	}
	if stats["sessions"] != 1 {
		t.Fatalf("gc stats: %v", stats)
	}

	resp, err = http.Get(n.srv.URL + transferproto.SessionsPath + "/" + url.PathEscape("gc-1"))
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("session after gc: %s", resp.Status)
	}

	entries, err := os.ReadDir(cfg.ChunkDir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), ".") {
			t.Fatalf("chunk dir left behind: %s", e.Name())
		}
	}
}
