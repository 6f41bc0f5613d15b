package chunkstore

import (
	"os"
	"path/filepath"
	"time"
)

// SweepOrphans удаляет брошенные временные файлы приёма и каталоги идентификаторов,
// у которых нет живой сессии, если они не менялись дольше ttl.
func (d *Disk) SweepOrphans(now time.Time, ttl time.Duration, live func(id string) bool) (int, error) {
	removed := 0

	incoming := filepath.Join(d.root, incomingDir)
	tmps, err := os.ReadDir(incoming)
	if err != nil {
		return 0, storageErr("list incoming", err)
	}
	for _, e := range tmps {
		fi, err := e.Info()
		if err != nil || now.Sub(fi.ModTime()) < ttl {
			continue
		}
		if err := os.Remove(filepath.Join(incoming, e.Name())); err == nil {
			removed++
		}
	}

	entries, err := os.ReadDir(d.root)
	if err != nil {
		return removed, storageErr("list identifiers", err)
	}
	for _, e := range entries {
		if !e.IsDir() || e.Name() == incomingDir {
			continue
		}
		id, ok := decodeID(e.Name())
		if !ok || live(id) {
			continue
		}

		fi, err := e.Info()
		if err != nil || now.Sub(fi.ModTime()) < ttl {
			continue
		}

		if err := os.RemoveAll(filepath.Join(d.root, e.Name())); err != nil {
			d.log.Warn().Err(err).Str("identifier", id).Msg("remove orphan chunks")
			continue
		}
		d.log.Info().Str("identifier", id).Msg("orphan chunks removed")
		removed++
	}

	return removed, nil
}
