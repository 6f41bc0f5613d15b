package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("upload not found")
	ErrValidation        = errors.New("invalid chunk")
	ErrMetadataConflict  = errors.New("chunk metadata conflicts with upload session")
	ErrStorage           = errors.New("chunk storage failure")
	ErrAssemblyIntegrity = errors.New("assembled size does not match total size")
	ErrSessionFailed     = errors.New("upload session failed, reset required")
	ErrSessionBusy       = errors.New("upload session is busy")
	ErrIncomplete        = errors.New("upload incomplete")
	ErrPublished         = errors.New("upload already published")
)

// Kind задаёт машинно-читаемый класс ошибки для ответов клиенту.
type Kind string

const (
	KindNone              Kind = ""
	KindValidation        Kind = "validation"
	KindMetadataConflict  Kind = "metadata_conflict"
	KindStorage           Kind = "storage"
	KindAssemblyIntegrity Kind = "assembly_integrity"
	KindNotFound          Kind = "not_found"
	KindSessionFailed     Kind = "session_failed"
	KindSessionBusy       Kind = "session_busy"
	KindIncomplete        Kind = "incomplete"
	KindPublished         Kind = "published"
	KindInternal          Kind = "internal"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrValidation, KindValidation},
	{ErrMetadataConflict, KindMetadataConflict},
	{ErrStorage, KindStorage},
	{ErrAssemblyIntegrity, KindAssemblyIntegrity},
	{ErrNotFound, KindNotFound},
	{ErrSessionFailed, KindSessionFailed},
	{ErrSessionBusy, KindSessionBusy},
	{ErrIncomplete, KindIncomplete},
	{ErrPublished, KindPublished},
}

// KindOf классифицирует ошибку по цепочке обёрток.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// Retryable сообщает, имеет ли смысл повторить тот же запрос без изменений.
func Retryable(err error) bool {
	return errors.Is(err, ErrStorage)
}

// IncompleteError возвращается явным merge, если часть чанков ещё не пришла.
type IncompleteError struct {
	Identifier string
	Missing    []int
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("%s: %s is missing %d chunk(s)", ErrIncomplete, e.Identifier, len(e.Missing))
}

func (e *IncompleteError) Unwrap() error { return ErrIncomplete }
