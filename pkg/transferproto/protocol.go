// Package transferproto описывает HTTP-протокол сервиса приёма чанков.
package transferproto

import (
	"net/url"
	"strings"
)

// Пути REST-протокола.
const (
	ChunkPath            = "/upload/chunk"
	MergePath            = "/upload/merge"
	SessionsPath         = "/upload/sessions"
	GCPath               = "/admin/gc"
	HealthPath           = "/health"
	DefaultDownloadMount = "/downloads"
)

// Поля multipart-формы чанка; имена совместимы с resumable.js/simple-uploader.
const (
	FieldIdentifier       = "identifier"
	FieldChunkNumber      = "chunkNumber"
	FieldChunkSize        = "chunkSize"
	FieldCurrentChunkSize = "currentChunkSize"
	FieldTotalSize        = "totalSize"
	FieldTotalChunks      = "totalChunks"
	FieldFilename         = "filename"
	FieldRelativePath     = "relativePath"
	FieldType             = "type"
	FieldFile             = "file"
	QueryFolder           = "uploadFolderPath"
)

type MergeRequest struct {
	Identifier string `json:"identifier"`
}

// ErrorResponse описывает тело ответа с ошибкой.
type ErrorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	Retryable bool   `json:"retryable"`
	Missing   []int  `json:"missingChunks,omitempty"`
}

// PublicURL строит путь скачивания опубликованного файла под mount.
func PublicURL(mount, publicName string) string {
	if publicName == "" {
		return ""
	}
	segs := strings.Split(publicName, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.TrimRight(mount, "/") + "/" + strings.Join(segs, "/")
}
