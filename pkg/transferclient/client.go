// Package transferclient реализует HTTP-клиент сервиса приёма чанков.
package transferclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/sir_venger/file_transfer/internal/models"
	"github.com/sir_venger/file_transfer/pkg/transferproto"
)

type Chunk struct {
	Info    models.ChunkInfo
	Payload []byte
}

// Receipt — ответ сервера на чанк или merge.
type Receipt struct {
	models.ChunkReceipt
	URL string `json:"url,omitempty"`
}

type CheckResult struct {
	models.CheckResult
	URL string `json:"url,omitempty"`
}

// APIError возвращается, когда сервер ответил ошибкой.
type APIError struct {
	StatusCode int
	Kind       string
	Message    string
	Retryable  bool
	Missing    []int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("transfer: %d %s: %s", e.StatusCode, e.Kind, e.Message)
}

// Client ходит в один сервис приёма чанков.
type Client struct {
	base string
	c    *http.Client
}

// New создаёт клиент; httpClient == nil означает http.DefaultClient.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		c:    httpClient,
	}
}

// Check спрашивает, какие чанки уже получены и нужна ли загрузка.
func (c *Client) Check(ctx context.Context, identifier string) (CheckResult, error) {
	var out CheckResult
	q := url.Values{transferproto.FieldIdentifier: {identifier}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+transferproto.ChunkPath+"?"+q.Encode(), nil)
	if err != nil {
		return out, err
	}
	err = c.do(req, &out)
	return out, err
}

// UploadChunk отправляет чанк multipart-формой. folder, если задан, уходит параметром uploadFolderPath.
func (c *Client) UploadChunk(ctx context.Context, ch Chunk) (Receipt, error) {
	var out Receipt

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	info := ch.Info
	fields := [][2]string{
		{transferproto.FieldIdentifier, info.Identifier},
		{transferproto.FieldChunkNumber, strconv.Itoa(info.ChunkNumber)},
		{transferproto.FieldChunkSize, strconv.FormatInt(info.ChunkSize, 10)},
		{transferproto.FieldCurrentChunkSize, strconv.FormatInt(info.CurrentChunkSize, 10)},
		{transferproto.FieldTotalSize, strconv.FormatInt(info.TotalSize, 10)},
		{transferproto.FieldTotalChunks, strconv.Itoa(info.TotalChunks)},
		{transferproto.FieldFilename, info.Filename},
		{transferproto.FieldRelativePath, info.RelativePath},
		{transferproto.FieldType, info.Type},
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return out, err
		}
	}
	fw, err := mw.CreateFormFile(transferproto.FieldFile, info.Filename)
	if err != nil {
		return out, err
	}
	if _, err = fw.Write(ch.Payload); err != nil {
		return out, err
	}
	if err = mw.Close(); err != nil {
		return out, err
	}

	u := c.base + transferproto.ChunkPath
	if info.Folder != "" {
		u += "?" + url.Values{transferproto.QueryFolder: {info.Folder}}.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, &buf)
	if err != nil {
		return out, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	err = c.do(req, &out)
	return out, err
}

// Merge явно запрашивает сборку файла.
func (c *Client) Merge(ctx context.Context, identifier string) (Receipt, error) {
	var out Receipt
	body, err := json.Marshal(transferproto.MergeRequest{Identifier: identifier})
	if err != nil {
		return out, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+transferproto.MergePath, bytes.NewReader(body))
	if err != nil {
		return out, err
	}
	req.Header.Set("Content-Type", "application/json")
	err = c.do(req, &out)
	return out, err
}

// Reset сбрасывает сессию на сервере.
func (c *Client) Reset(ctx context.Context, identifier string) error {
	u := c.base + transferproto.SessionsPath + "/" + url.PathEscape(identifier)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		var body transferproto.ErrorResponse
		if derr := json.NewDecoder(resp.Body).Decode(&body); derr != nil {
			body.Error = resp.Status
			body.Retryable = resp.StatusCode >= http.StatusInternalServerError
		}
		return &APIError{
			StatusCode: resp.StatusCode,
			Kind:       body.Kind,
			Message:    body.Error,
			Retryable:  body.Retryable,
			Missing:    body.Missing,
		}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// retryable решает, повторять ли отправку чанка после ошибки.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable
	}
	// сетевые ошибки повторяем
	return true
}
