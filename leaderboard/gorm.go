// leaderboard/gorm.go
package leaderboard

import (
	"context"
	"errors"
	"time"

	"github.com/wfunc/holdgame/logger"
	"github.com/wfunc/holdgame/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// GormStore is a Store backed by gorm.
type GormStore struct {
	db  *gorm.DB
	max int
	now func() time.Time
}

// zapWriter routes gorm's log output through the process logger.
type zapWriter struct{}

func (zapWriter) Printf(format string, args ...interface{}) {
	logger.Log.Debugf(format, args...)
}

// NewGormPostgres 创建GORM PostgreSQL数据库连接
func NewGormPostgres(dsn string, maxEntries int) (*GormStore, error) {
	return NewGormStore(postgres.Open(dsn), maxEntries)
}

// NewGormStore opens dialector and migrates the leaderboard table.
func NewGormStore(dialector gorm.Dialector, maxEntries int) (*GormStore, error) {
	// 配置GORM日志
	gormLogger := gormlogger.New(zapWriter{}, gormlogger.Config{
		SlowThreshold:             time.Second,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// 设置连接池
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	// 自动迁移表结构
	if err := db.AutoMigrate(&models.GormLeaderboardEntry{}); err != nil {
		return nil, err
	}
	return &GormStore{db: db, max: maxOrDefault(maxEntries), now: time.Now}, nil
}

func (s *GormStore) Submit(ctx context.Context, name string, score float64, rounds int) error {
	if err := validate(name, rounds); err != nil {
		return err
	}
	now := s.now().UnixMilli()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.GormLeaderboardEntry
		err := tx.Where("name = ?", name).First(&row).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			row = models.GormLeaderboardEntry{Name: name, Score: score, Rounds: rounds, UpdatedAt: now}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		case score > row.Score:
			if err := tx.Model(&row).Updates(map[string]interface{}{
				"score":      score,
				"rounds":     rounds,
				"updated_at": now,
			}).Error; err != nil {
				return err
			}
		default:
			return nil
		}

		keep := tx.Model(&models.GormLeaderboardEntry{}).
			Select("name").
			Order("score DESC, name ASC").
			Limit(s.max)
		return tx.Where("name NOT IN (?)", keep).Delete(&models.GormLeaderboardEntry{}).Error
	})
}

func (s *GormStore) Top(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	if limit <= 0 || limit > s.max {
		limit = s.max
	}
	var rows []models.GormLeaderboardEntry
	if err := s.db.WithContext(ctx).Order("score DESC, name ASC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.LeaderboardEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Entry())
	}
	return out, nil
}

func (s *GormStore) Get(ctx context.Context, name string) (models.LeaderboardEntry, error) {
	var row models.GormLeaderboardEntry
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.LeaderboardEntry{}, ErrRecordNotFound
		}
		return models.LeaderboardEntry{}, err
	}
	return row.Entry(), nil
}

// Close 关闭数据库连接
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
