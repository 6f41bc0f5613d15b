package transferhttp

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/sir_venger/file_transfer/internal/models"
	"github.com/sir_venger/file_transfer/pkg/transferproto"
)

// parseChunkForm собирает ChunkInfo из уже разобранной multipart-формы.
func parseChunkForm(r *http.Request) (models.ChunkInfo, error) {
	info := models.ChunkInfo{
		Identifier:   strings.TrimSpace(r.FormValue(transferproto.FieldIdentifier)),
		Filename:     r.FormValue(transferproto.FieldFilename),
		RelativePath: r.FormValue(transferproto.FieldRelativePath),
		Type:         r.FormValue(transferproto.FieldType),
		Folder:       strings.Trim(r.FormValue(transferproto.QueryFolder), "/"),
	}

	var err error
	if info.ChunkNumber, err = formInt(r, transferproto.FieldChunkNumber); err != nil {
		return info, err
	}
	if info.TotalChunks, err = formInt(r, transferproto.FieldTotalChunks); err != nil {
		return info, err
	}
	if info.ChunkSize, err = formInt64(r, transferproto.FieldChunkSize); err != nil {
		return info, err
	}
	if info.CurrentChunkSize, err = formInt64(r, transferproto.FieldCurrentChunkSize); err != nil {
		return info, err
	}
	if info.TotalSize, err = formInt64(r, transferproto.FieldTotalSize); err != nil {
		return info, err
	}

	return info, nil
}

func formInt64(r *http.Request, name string) (int64, error) {
	v := strings.TrimSpace(r.FormValue(name))
	if v == "" {
		return 0, fmt.Errorf("%w: %s is required", models.ErrValidation, name)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s is not a number", models.ErrValidation, name)
	}
	return n, nil
}

func formInt(r *http.Request, name string) (int, error) {
	n, err := formInt64(r, name)
	if err != nil {
		return 0, err
	}
	if n > int64(^uint32(0)>>1) || n < 0 {
		return 0, fmt.Errorf("%w: %s out of range", models.ErrValidation, name)
	}
	return int(n), nil
}
