package models

import "time"

// PublishedFile описывает запись каталога об опубликованном файле.
type PublishedFile struct {
	ID          string    `json:"id"`
	Identifier  string    `json:"identifier"`
	Name        string    `json:"name"`
	PublicName  string    `json:"public_name"`
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	Type        string    `json:"type,omitempty"`
	Checksum    string    `json:"sha256"`
	TotalChunks int       `json:"total_chunks"`
	PublishedAt time.Time `json:"published_at"`
}
