// C:/workspace/go/Traffic-Controller-Go/agent/schedule.go
package agent

import (
	"math"

	"Traffic-Controller/config"
)

// ExplorationSchedule 按 episode 给出单调递减的探索率。
// 训练期间探索率永不低于配置的下限 (永不为 0)；评估时调用方直接传 0。
type ExplorationSchedule struct {
	cfg config.ExplorationConfig
}

// NewExplorationSchedule 从配置构建探索日程。
func NewExplorationSchedule(cfg config.ExplorationConfig) *ExplorationSchedule {
	return &ExplorationSchedule{cfg: cfg}
}

// Rate 返回第 episode 个 episode (从 0 计) 的探索率。
// 纯函数: 日程位置由调用方持有的 episode 计数决定，随模型元数据一起保存。
func (s *ExplorationSchedule) Rate(episode int) float64 {
	c := s.cfg
	if episode < 0 {
		episode = 0
	}
	switch c.Kind {
	case "exponential":
		r := c.Start * math.Pow(c.DecayRate, float64(episode))
		return math.Max(c.End, r)
	default: // "linear"
		if c.DecaySteps <= 0 {
			return math.Max(c.End, c.Start)
		}
		r := c.Start - (c.Start-c.End)*float64(episode)/float64(c.DecaySteps)
		return math.Max(c.End, r)
	}
}
