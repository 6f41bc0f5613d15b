// Команда chunkup загружает файлы в сервис приёма чанков.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sir_venger/file_transfer/pkg/transferclient"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "transfer service base URL")
	chunkSize := flag.Int64("chunk-size", transferclient.DefaultChunkSize, "chunk size in bytes")
	parallel := flag.Int("parallel", transferclient.DefaultSimultaneous, "simultaneous chunk uploads")
	retries := flag.Int("retries", transferclient.DefaultMaxRetries, "retries per chunk")
	folder := flag.String("folder", "", "target folder under the publish dir")
	quiet := flag.Bool("quiet", false, "disable progress output")
	timeout := flag.Duration("timeout", 0, "overall timeout, 0 disables it")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: chunkup [flags] FILE...")
		flag.PrintDefaults()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	opts := transferclient.UploadOptions{
		Folder:       *folder,
		ChunkSize:    *chunkSize,
		Simultaneous: *parallel,
		MaxRetries:   *retries,
		RetryDelay:   time.Second,
	}
	if !*quiet {
		opts.Progress = os.Stdout
	}

	client := transferclient.New(*server, nil)
	failed := 0
	for _, path := range flag.Args() {
		res, err := client.UploadFile(ctx, path, opts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			failed++
			continue
		}
		if res.Skipped {
			fmt.Printf("%s: already on server %s\n", path, res.URL)
			continue
		}
		fmt.Printf("%s: %s sha256=%s\n", path, res.URL, res.Checksum)
	}
	if failed > 0 {
		os.Exit(1)
	}
}
