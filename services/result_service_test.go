package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/wfunc/holdgame/game"
	"github.com/wfunc/holdgame/leaderboard"
	"github.com/wfunc/holdgame/models"
)

type MockStore struct {
	mu        sync.Mutex
	submitted []game.Result
	err       error
}

func (m *MockStore) Submit(_ context.Context, name string, score float64, rounds int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitted = append(m.submitted, game.Result{Name: name, Score: score, Rounds: rounds})
	return m.err
}

func (m *MockStore) Top(context.Context, int) ([]models.LeaderboardEntry, error) {
	return []models.LeaderboardEntry{{Name: "Ana", Score: 4}}, nil
}

func (m *MockStore) Get(context.Context, string) (models.LeaderboardEntry, error) {
	return models.LeaderboardEntry{}, leaderboard.ErrRecordNotFound
}

func (m *MockStore) Close() error { return nil }

func TestResultService_SubmitsOnClose(t *testing.T) {
	store := &MockStore{}
	svc := NewResultService(store, nil)
	svc.Submit(game.Result{Name: "Ana", Score: 4.4, Rounds: 5})
	svc.Submit(game.Result{Name: "Bo", Score: -1, Rounds: 5})
	svc.Close()

	if len(store.submitted) != 2 {
		t.Fatalf("Expected 2 submissions, got %d", len(store.submitted))
	}
	if store.submitted[0].Name != "Ana" || store.submitted[1].Score != -1 {
		t.Errorf("Unexpected submissions %v", store.submitted)
	}
}

func TestResultService_StoreErrorDoesNotStopWorker(t *testing.T) {
	store := &MockStore{err: errors.New("db down")}
	svc := NewResultService(store, nil)
	svc.Submit(game.Result{Name: "Ana", Score: 1, Rounds: 1})
	svc.Submit(game.Result{Name: "Bo", Score: 2, Rounds: 1})
	svc.Close()

	if len(store.submitted) != 2 {
		t.Errorf("Expected both results to be attempted, got %d", len(store.submitted))
	}
}

func TestResultService_AfterClose(t *testing.T) {
	store := &MockStore{}
	svc := NewResultService(store, nil)
	svc.Close()
	svc.Submit(game.Result{Name: "Ana", Score: 1, Rounds: 1})
	svc.Close()
	if len(store.submitted) != 0 {
		t.Errorf("Expected no submissions after close, got %d", len(store.submitted))
	}
}

func TestResultService_WithMemoryStore(t *testing.T) {
	store := leaderboard.NewMemoryStore(10)
	svc := NewResultService(store, nil)
	svc.Submit(game.Result{Name: "Ana", Score: 4.4, Rounds: 5})
	svc.Close()

	top, err := svc.Top(context.Background(), 5)
	if err != nil || len(top) != 1 || top[0].Name != "Ana" {
		t.Errorf("Expected Ana on the leaderboard, got %v, %v", top, err)
	}
}
