// leaderboard/sql.go
package leaderboard

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL 驱动
	"github.com/wfunc/holdgame/models"
	_ "modernc.org/sqlite" // SQLite 驱动
)

const (
	dialectSQLite   = "sqlite"
	dialectPostgres = "postgres"
)

// SQLStore is a Store over database/sql. The same queries run on SQLite
// and PostgreSQL; only the placeholder style differs.
type SQLStore struct {
	db      *sql.DB
	dialect string
	max     int
	now     func() time.Time
}

// OpenSQLite opens (or creates) the database file at path.
func OpenSQLite(path string, maxEntries int) (*SQLStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open(dialectSQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// 单连接避免 SQLITE_BUSY
	db.SetMaxOpenConns(1)
	return newSQLStore(db, dialectSQLite, maxEntries)
}

// OpenPostgres connects through lib/pq.
func OpenPostgres(dsn string, maxEntries int) (*SQLStore, error) {
	db, err := sql.Open(dialectPostgres, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	// 设置连接池参数
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	return newSQLStore(db, dialectPostgres, maxEntries)
}

func newSQLStore(db *sql.DB, dialect string, maxEntries int) (*SQLStore, error) {
	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s db: %w", dialect, err)
	}

	s := &SQLStore{db: db, dialect: dialect, max: maxOrDefault(maxEntries), now: time.Now}
	if err := s.initTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init tables: %w", err)
	}
	return s, nil
}

// initTables 初始化数据库表结构
func (s *SQLStore) initTables(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
        CREATE TABLE IF NOT EXISTS leaderboard_entries (
            name VARCHAR(64) PRIMARY KEY,
            score DOUBLE PRECISION NOT NULL,
            rounds INTEGER NOT NULL,
            updated_at BIGINT NOT NULL
        )
    `)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_leaderboard_entries_score ON leaderboard_entries (score)`)
	return err
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) Submit(ctx context.Context, name string, score float64, rounds int) error {
	if err := validate(name, rounds); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// 只在新成绩更好时覆盖
	_, err = tx.ExecContext(ctx, s.rebind(`
        INSERT INTO leaderboard_entries (name, score, rounds, updated_at)
        VALUES (?, ?, ?, ?)
        ON CONFLICT (name) DO UPDATE
        SET score = excluded.score, rounds = excluded.rounds, updated_at = excluded.updated_at
        WHERE excluded.score > leaderboard_entries.score
    `), name, score, rounds, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert entry: %w", err)
	}

	_, err = tx.ExecContext(ctx, s.rebind(`
        DELETE FROM leaderboard_entries WHERE name NOT IN (
            SELECT name FROM leaderboard_entries ORDER BY score DESC, name ASC LIMIT ?
        )
    `), s.max)
	if err != nil {
		return fmt.Errorf("trim entries: %w", err)
	}
	return tx.Commit()
}

func (s *SQLStore) Top(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	if limit <= 0 || limit > s.max {
		limit = s.max
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
        SELECT name, score, rounds, updated_at FROM leaderboard_entries
        ORDER BY score DESC, name ASC LIMIT ?
    `), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.LeaderboardEntry
	for rows.Next() {
		var (
			e       models.LeaderboardEntry
			updated int64
		)
		if err := rows.Scan(&e.Name, &e.Score, &e.Rounds, &updated); err != nil {
			return nil, err
		}
		e.UpdatedAt = time.UnixMilli(updated).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLStore) Get(ctx context.Context, name string) (models.LeaderboardEntry, error) {
	var (
		e       models.LeaderboardEntry
		updated int64
	)
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT name, score, rounds, updated_at FROM leaderboard_entries WHERE name = ?`), name).
		Scan(&e.Name, &e.Score, &e.Rounds, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return models.LeaderboardEntry{}, ErrRecordNotFound
	}
	if err != nil {
		return models.LeaderboardEntry{}, err
	}
	e.UpdatedAt = time.UnixMilli(updated).UTC()
	return e, nil
}

// Close 关闭数据库连接
func (s *SQLStore) Close() error {
	return s.db.Close()
}
