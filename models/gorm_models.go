// models/gorm_models.go
package models

import "time"

// GormLeaderboardEntry 排行榜表，与 SQL 存储共用同一张表
type GormLeaderboardEntry struct {
	Name      string  `gorm:"primaryKey;size:64"`
	Score     float64 `gorm:"not null;index"`
	Rounds    int     `gorm:"not null"`
	UpdatedAt int64   `gorm:"not null;autoUpdateTime:milli"` // unix 毫秒
}

func (GormLeaderboardEntry) TableName() string {
	return "leaderboard_entries"
}

// Entry 转换为 JSON 模型
func (m GormLeaderboardEntry) Entry() LeaderboardEntry {
	return LeaderboardEntry{
		Name:      m.Name,
		Score:     m.Score,
		Rounds:    m.Rounds,
		UpdatedAt: time.UnixMilli(m.UpdatedAt).UTC(),
	}
}
