// models/models.go
package models

import (
	"time"
)

// LeaderboardEntry 排行榜条目，每个名字只保留最好成绩
type LeaderboardEntry struct {
	Name      string    `json:"name"`
	Score     float64   `json:"score"`  // 每轮平均得分
	Rounds    int       `json:"rounds"` // 取得该成绩时的轮数
	UpdatedAt time.Time `json:"updated_at"`
}

// Ranking 一局结束后的名次
type Ranking struct {
	Place  int     `json:"place"`
	Name   string  `json:"name"`
	Points int     `json:"points"`
	Score  float64 `json:"score"`
	Bot    bool    `json:"bot,omitempty"`
}

// RankingsMessage 排名推送 (msg 302)
type RankingsMessage struct {
	Rounds   int       `json:"rounds"`
	Rankings []Ranking `json:"rankings"`
}

// LeaderboardMessage 排行榜应答 (msg 303)
type LeaderboardMessage struct {
	Entries []LeaderboardEntry `json:"entries"`
}
