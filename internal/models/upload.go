package models

import (
	"fmt"
	"path"
	"strings"
)

const (
	// MaxIdentifierLen ограничивает идентификатор так, чтобы его base64 влезал в имя каталога.
	MaxIdentifierLen = 128
	// StagingDir: служебный каталог внутри публичной директории, недоступный для публикации.
	StagingDir = ".staging"
)

// ChunkInfo — метаданные одного чанка, как их присылает загрузчик.
type ChunkInfo struct {
	Identifier       string `json:"identifier"`
	ChunkNumber      int    `json:"chunkNumber"`
	ChunkSize        int64  `json:"chunkSize"`
	CurrentChunkSize int64  `json:"currentChunkSize"`
	TotalSize        int64  `json:"totalSize"`
	TotalChunks      int    `json:"totalChunks"`
	Filename         string `json:"filename"`
	RelativePath     string `json:"relativePath"`
	Type             string `json:"type"`
	Folder           string `json:"folder,omitempty"`
}

// UploadMeta хранит неизменяемую часть сессии; её фиксирует первый чанк.
type UploadMeta struct {
	Identifier   string `json:"identifier"`
	Filename     string `json:"filename"`
	RelativePath string `json:"relative_path,omitempty"`
	Folder       string `json:"folder,omitempty"`
	Type         string `json:"type,omitempty"`
	ChunkSize    int64  `json:"chunk_size"`
	TotalSize    int64  `json:"total_size"`
	TotalChunks  int    `json:"total_chunks"`
}

// Meta выделяет из чанка метаданные сессии.
func (c ChunkInfo) Meta() UploadMeta {
	return UploadMeta{
		Identifier:   c.Identifier,
		Filename:     c.Filename,
		RelativePath: c.RelativePath,
		Folder:       c.Folder,
		Type:         c.Type,
		ChunkSize:    c.ChunkSize,
		TotalSize:    c.TotalSize,
		TotalChunks:  c.TotalChunks,
	}
}

// Validate проверяет чанк целиком, не глядя на состояние сессии.
// maxChunkBytes <= 0 отключает ограничение размера одного чанка.
func (c ChunkInfo) Validate(maxChunkBytes int64) error {
	switch {
	case strings.TrimSpace(c.Identifier) == "":
		return fmt.Errorf("%w: identifier is empty", ErrValidation)
	case len(c.Identifier) > MaxIdentifierLen:
		return fmt.Errorf("%w: identifier longer than %d bytes", ErrValidation, MaxIdentifierLen)
	case c.TotalChunks < 1:
		return fmt.Errorf("%w: totalChunks must be > 0", ErrValidation)
	case c.ChunkNumber < 1 || c.ChunkNumber > c.TotalChunks:
		return fmt.Errorf("%w: chunkNumber %d out of range 1..%d", ErrValidation, c.ChunkNumber, c.TotalChunks)
	case c.ChunkSize <= 0:
		return fmt.Errorf("%w: chunkSize must be > 0", ErrValidation)
	case c.CurrentChunkSize <= 0:
		return fmt.Errorf("%w: currentChunkSize must be > 0", ErrValidation)
	case c.TotalSize <= 0:
		return fmt.Errorf("%w: totalSize must be > 0", ErrValidation)
	case maxChunkBytes > 0 && c.CurrentChunkSize > maxChunkBytes:
		return fmt.Errorf("%w: currentChunkSize %d exceeds limit %d", ErrValidation, c.CurrentChunkSize, maxChunkBytes)
	}

	// Все чанки, кроме последнего, ровно chunkSize; последний добирает остаток.
	if int64(c.TotalChunks-1) > c.TotalSize/c.ChunkSize {
		return fmt.Errorf("%w: totalSize %d is too small for %d chunks of %d", ErrValidation, c.TotalSize, c.TotalChunks, c.ChunkSize)
	}
	head := int64(c.TotalChunks-1) * c.ChunkSize
	if head >= c.TotalSize {
		return fmt.Errorf("%w: totalSize %d is too small for %d chunks of %d", ErrValidation, c.TotalSize, c.TotalChunks, c.ChunkSize)
	}
	if c.ChunkNumber < c.TotalChunks && c.CurrentChunkSize != c.ChunkSize {
		return fmt.Errorf("%w: chunk %d has %d bytes, want %d", ErrValidation, c.ChunkNumber, c.CurrentChunkSize, c.ChunkSize)
	}
	if c.ChunkNumber == c.TotalChunks && head+c.CurrentChunkSize != c.TotalSize {
		return fmt.Errorf("%w: last chunk has %d bytes, want %d", ErrValidation, c.CurrentChunkSize, c.TotalSize-head)
	}

	return c.Meta().validateNames()
}

func (m UploadMeta) validateNames() error {
	name := m.Filename
	if strings.TrimSpace(name) == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\\x00") {
		return fmt.Errorf("%w: bad filename %q", ErrValidation, name)
	}
	if err := checkRelative("relativePath", m.RelativePath); err != nil {
		return err
	}
	if err := checkRelative("folder", m.Folder); err != nil {
		return err
	}
	// Служебный каталог проверяется по итоговому пути, после path.Clean.
	target := m.TargetName()
	for _, seg := range strings.Split(target, "/") {
		if seg == StagingDir || seg == ".." || seg == "." {
			return fmt.Errorf("%w: target %q is reserved", ErrValidation, target)
		}
	}
	return nil
}

func checkRelative(field, p string) error {
	if p == "" {
		return nil
	}
	if strings.ContainsAny(p, "\\\x00") || path.IsAbs(p) {
		return fmt.Errorf("%w: bad %s %q", ErrValidation, field, p)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." || seg == "." || seg == StagingDir {
			return fmt.Errorf("%w: bad %s %q", ErrValidation, field, p)
		}
	}
	return nil
}

// Conflict сверяет неизменяемые поля сессии с метаданными очередного чанка.
// Имя файла и относительный путь не сверяются: действует первый записавший.
func (m UploadMeta) Conflict(other UploadMeta) error {
	if m.TotalChunks != other.TotalChunks {
		return fmt.Errorf("%w: %s has totalChunks %d, got %d", ErrMetadataConflict, m.Identifier, m.TotalChunks, other.TotalChunks)
	}
	if m.TotalSize != other.TotalSize {
		return fmt.Errorf("%w: %s has totalSize %d, got %d", ErrMetadataConflict, m.Identifier, m.TotalSize, other.TotalSize)
	}
	return nil
}

// TargetName возвращает путь опубликованного файла относительно публичной директории, через "/".
func (m UploadMeta) TargetName() string {
	dir := ""
	if m.RelativePath != "" {
		dir = path.Dir(m.RelativePath)
	}
	return path.Clean(path.Join(m.Folder, dir, m.Filename))
}
