// leaderboard/memory.go
package leaderboard

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wfunc/holdgame/models"
)

// MemoryStore is a Store that lives only as long as the process.
type MemoryStore struct {
	mu      sync.RWMutex
	max     int
	entries map[string]models.LeaderboardEntry
	now     func() time.Time
}

func NewMemoryStore(maxEntries int) *MemoryStore {
	return &MemoryStore{
		max:     maxOrDefault(maxEntries),
		entries: make(map[string]models.LeaderboardEntry),
		now:     time.Now,
	}
}

func (s *MemoryStore) Submit(ctx context.Context, name string, score float64, rounds int) error {
	if err := validate(name, rounds); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.entries[name]; ok && score <= prev.Score {
		return nil
	}
	s.entries[name] = models.LeaderboardEntry{
		Name:      name,
		Score:     score,
		Rounds:    rounds,
		UpdatedAt: s.now().UTC(),
	}
	if len(s.entries) > s.max {
		for _, e := range s.sorted()[s.max:] {
			delete(s.entries, e.Name)
		}
	}
	return nil
}

func (s *MemoryStore) Top(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.sorted()
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (s *MemoryStore) Get(ctx context.Context, name string) (models.LeaderboardEntry, error) {
	if err := ctx.Err(); err != nil {
		return models.LeaderboardEntry{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[name]
	if !ok {
		return models.LeaderboardEntry{}, ErrRecordNotFound
	}
	return e, nil
}

func (s *MemoryStore) Close() error { return nil }

// sorted returns every entry, best first. Callers hold the lock.
func (s *MemoryStore) sorted() []models.LeaderboardEntry {
	out := make([]models.LeaderboardEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Name < out[j].Name
	})
	return out
}
