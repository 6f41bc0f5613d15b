package models

import (
	"sort"
	"time"
)

type Status string

const (
	StatusCollecting Status = "collecting"
	StatusCompleting Status = "completing"
	StatusPublished  Status = "published"
	StatusFailed     Status = "failed"
)

// Session — состояние сборки одного файла.
type Session struct {
	UploadMeta
	Status       Status
	Received     map[int]struct{}
	CreatedAt    time.Time
	LastActivity time.Time
	Path         string
	PublicName   string
	Checksum     string
	FailReason   string
}

// NewSession создаёт пустую сессию в состоянии collecting.
func NewSession(meta UploadMeta, now time.Time) Session {
	return Session{
		UploadMeta:   meta,
		Status:       StatusCollecting,
		Received:     map[int]struct{}{},
		CreatedAt:    now,
		LastActivity: now,
	}
}

// Clone возвращает копию, не делящую множество полученных чанков.
func (s Session) Clone() Session {
	out := s
	out.Received = make(map[int]struct{}, len(s.Received))
	for n := range s.Received {
		out.Received[n] = struct{}{}
	}
	return out
}

func (s Session) ReceivedCount() int { return len(s.Received) }

// IsComplete сообщает, что получены все номера 1..TotalChunks.
func (s Session) IsComplete() bool {
	return s.TotalChunks > 0 && len(s.Received) == s.TotalChunks
}

// ReceivedNumbers возвращает полученные номера по возрастанию.
func (s Session) ReceivedNumbers() []int {
	out := make([]int, 0, len(s.Received))
	for n := range s.Received {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// Missing возвращает недостающие номера по возрастанию.
func (s Session) Missing() []int {
	var out []int
	for n := 1; n <= s.TotalChunks; n++ {
		if _, ok := s.Received[n]; !ok {
			out = append(out, n)
		}
	}
	return out
}
