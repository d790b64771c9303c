// leaderboard/store.go
package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wfunc/holdgame/config"
	"github.com/wfunc/holdgame/models"
)

// DefaultMaxEntries bounds how many names a store retains.
const DefaultMaxEntries = 50

// Store keeps the best per-round score of every player name. Only the
// MaxEntries highest scores are retained; ties order by name.
type Store interface {
	// Submit records score for name. A score that does not beat the stored
	// best is ignored.
	Submit(ctx context.Context, name string, score float64, rounds int) error
	// Top returns up to limit entries, best first.
	Top(ctx context.Context, limit int) ([]models.LeaderboardEntry, error)
	// Get returns the entry for name or ErrRecordNotFound.
	Get(ctx context.Context, name string) (models.LeaderboardEntry, error)
	Close() error
}

// 错误定义
var (
	ErrRecordNotFound = errors.New("record not found")
	ErrInvalidEntry   = errors.New("invalid leaderboard entry")
	ErrUnknownDriver  = errors.New("unknown leaderboard driver")
)

func validate(name string, rounds int) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidEntry)
	}
	if rounds < 1 {
		return fmt.Errorf("%w: rounds %d", ErrInvalidEntry, rounds)
	}
	return nil
}

func maxOrDefault(n int) int {
	if n <= 0 {
		return DefaultMaxEntries
	}
	return n
}

// PostgresDSN builds a lib/pq style connection string.
func PostgresDSN(host string, port int, user, password, dbname string) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)
}

// Open builds the store named by cfg.Driver: memory, sqlite, postgres
// (database/sql over lib/pq) or gorm (gorm over pgx).
func Open(cfg config.LeaderboardConfig) (Store, error) {
	limit := maxOrDefault(cfg.MaxEntries)
	dsn := cfg.DSN
	if (cfg.Driver == "postgres" || cfg.Driver == "gorm") && cfg.Postgres.Host != "" {
		pg := cfg.Postgres
		dsn = PostgresDSN(pg.Host, pg.Port, pg.User, pg.Password, pg.DBName)
	}

	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryStore(limit), nil
	case "sqlite":
		s, err = OpenSQLite(dsn, limit)
	case "postgres":
		s, err = OpenPostgres(dsn, limit)
	case "gorm":
		s, err = NewGormPostgres(dsn, limit)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s leaderboard: %w", cfg.Driver, err)
	}
	return s, nil
}
