package reports

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"secure-dialer/internal/cache"
	"secure-dialer/internal/models"
)

const (
	summaryKey = "reports:summary"
	summaryTTL = 60 * time.Second
)

// Summary aggregates attendance and call outcomes over all contacts.
type Summary struct {
	Total        int                          `json:"total"`
	AttendingYes int                          `json:"attending_yes"`
	AttendingNo  int                          `json:"attending_no"`
	WithComments int                          `json:"with_comments"`
	AttendingPct float64                      `json:"attending_pct"`
	ByStatus     map[models.ContactStatus]int `json:"by_status"`
	GeneratedAt  time.Time                    `json:"generated_at"`
}

// Compute builds a summary from list.
func Compute(list []models.Contact, now time.Time) Summary {
	s := Summary{ByStatus: make(map[models.ContactStatus]int), GeneratedAt: now}
	for _, c := range list {
		s.Total++
		if c.Attending == models.AttendingYes {
			s.AttendingYes++
		} else {
			s.AttendingNo++
		}
		if strings.TrimSpace(c.Comments) != "" {
			s.WithComments++
		}
		status := c.Status
		if status == "" {
			status = models.StatusNotCalled
		}
		s.ByStatus[status]++
	}
	if s.Total > 0 {
		s.AttendingPct = math.Round(float64(s.AttendingYes)/float64(s.Total)*1000) / 10
	}
	return s
}

// Source lists the contacts a summary is computed from.
type Source interface {
	ListContacts(ctx context.Context) ([]models.Contact, error)
}

// Service serves summaries from the cache and recomputes on a miss.
type Service struct {
	src Source
	kv  cache.Store
	now func() time.Time

	// gen moves on every Refresh; a summary computed under an older
	// generation is returned but never cached.
	mu  sync.Mutex
	gen uint64
}

func NewService(src Source, kv cache.Store) *Service {
	return &Service{src: src, kv: kv, now: time.Now}
}

func (s *Service) Summary(ctx context.Context) (Summary, error) {
	if raw, err := s.kv.Get(ctx, summaryKey); err == nil {
		var sum Summary
		if json.Unmarshal([]byte(raw), &sum) == nil {
			return sum, nil
		}
	} else if !errors.Is(err, cache.ErrMiss) {
		log.Printf("[Reports] Cache read failed: %v", err)
	}

	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()

	list, err := s.src.ListContacts(ctx)
	if err != nil {
		return Summary{}, err
	}
	sum := Compute(list, s.now())
	raw, err := json.Marshal(sum)
	if err != nil {
		return sum, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return sum, nil
	}
	if err := s.kv.Set(ctx, summaryKey, string(raw), summaryTTL); err != nil {
		log.Printf("[Reports] Cache write failed: %v", err)
	}
	return sum, nil
}

// Refresh drops the cached summary so the next read recomputes it.
func (s *Service) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	return s.kv.Del(ctx, summaryKey)
}
