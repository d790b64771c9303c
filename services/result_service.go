// services/result_service.go
package services

import (
	"context"
	"sync"
	"time"

	"github.com/wfunc/holdgame/game"
	"github.com/wfunc/holdgame/leaderboard"
	"github.com/wfunc/holdgame/models"
	"go.uber.org/zap"
)

const (
	resultQueueSize = 64
	submitTimeout   = 5 * time.Second
)

// ResultService 把一局的最终成绩写入排行榜
//
// Submit is called from the controller loop and never blocks it: results
// are queued and written by a single worker goroutine.
type ResultService struct {
	store leaderboard.Store
	log   *zap.SugaredLogger

	queue     chan game.Result
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

func NewResultService(store leaderboard.Store, log *zap.SugaredLogger) *ResultService {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &ResultService{
		store: store,
		log:   log,
		queue: make(chan game.Result, resultQueueSize),
		done:  make(chan struct{}),
	}
	go s.run()
	return s
}

// Submit implements game.ResultSink. A full queue drops the result.
func (s *ResultService) Submit(r game.Result) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.log.Warnw("result after close dropped", "name", r.Name)
		return
	}
	select {
	case s.queue <- r:
	default:
		s.log.Warnw("result queue full, dropped", "name", r.Name, "score", r.Score)
	}
}

func (s *ResultService) run() {
	defer close(s.done)
	for r := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
		err := s.store.Submit(ctx, r.Name, r.Score, r.Rounds)
		cancel()
		if err != nil {
			s.log.Errorw("leaderboard submit failed", "name", r.Name, "score", r.Score, "error", err)
			continue
		}
		s.log.Infow("leaderboard updated", "name", r.Name, "score", r.Score, "rounds", r.Rounds)
	}
}

// Top 查询排行榜前 n 名
func (s *ResultService) Top(ctx context.Context, n int) ([]models.LeaderboardEntry, error) {
	return s.store.Top(ctx, n)
}

// Close drains queued results. It does not close the store.
func (s *ResultService) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.queue)
		s.mu.Unlock()
	})
	<-s.done
}
