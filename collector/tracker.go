// C:/workspace/go/Traffic-Controller-Go/collector/tracker.go
package collector

import (
	"sync"

	"Traffic-Controller/config"

	"github.com/google/uuid"
)

// PerformanceReport 是一个 Episode 的只读累计指标快照，
// 供外部看板/CLI 轮询或持久化。
type PerformanceReport struct {
	RunID                  string  `json:"run_id"`
	Episode                int     `json:"episode"`
	TotalVehiclesProcessed int     `json:"total_vehicles_processed"`
	AverageQueueLength     float64 `json:"average_queue_length"`
	DecisionsMade          int     `json:"decisions_made"`
	EfficiencyScore        float64 `json:"efficiency_score"`
	EpisodeDuration        float64 `json:"episode_duration"` // 仿真秒
	TotalReward            float64 `json:"total_reward"`
	TrainingDivergences    int     `json:"training_divergences"`
}

// ScoreReport 是唯一的检查点评分函数: 显式权重的加权和，
// 取代源系统里散落的临时加权算术。分数越高越好。
//
//	score = Vehicles*totalVehicles - AvgQueue*averageQueue + Decisions*decisionsMade
func ScoreReport(r *PerformanceReport, w config.ScoreWeights) float64 {
	return w.Vehicles*float64(r.TotalVehiclesProcessed) -
		w.AvgQueue*r.AverageQueueLength +
		w.Decisions*float64(r.DecisionsMade)
}

// Tracker 在一个 Episode 内聚合交通指标。
// Episode 结束时由 Finalize 产出不可变的 PerformanceReport。
type Tracker struct {
	mu      sync.Mutex
	runID   string
	episode int

	decisions    int
	queueSum     float64 // 决策时刻的排队长度累计 (单位: 车辆)
	queueSamples int
	rewardSum    float64
	seenVehicles map[string]struct{}
	divergences  int
	startTime    float64
	scoreWeights config.ScoreWeights
}

// NewTracker 开始跟踪一个新的 Episode。
func NewTracker(episode int, startSimTime float64, w config.ScoreWeights) *Tracker {
	return &Tracker{
		runID:        uuid.NewString(),
		episode:      episode,
		startTime:    startSimTime,
		seenVehicles: make(map[string]struct{}),
		scoreWeights: w,
	}
}

// RecordDecision 记录一次决策时刻的观测: 排队总长 (车辆数) 与获得的奖励。
func (t *Tracker) RecordDecision(totalQueue float64, reward float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.decisions++
	t.queueSum += totalQueue
	t.queueSamples++
	t.rewardSum += reward
}

// RecordVehicles 登记当前路网中观测到的车辆 ID。
// 处理过的车辆总数按出现过的唯一 ID 计数。
func (t *Tracker) RecordVehicles(ids []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range ids {
		t.seenVehicles[id] = struct{}{}
	}
}

// RecordDivergences 更新因发散被跳过的训练步数。
func (t *Tracker) RecordDivergences(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.divergences = n
}

// Decisions 返回到目前为止的决策次数。
func (t *Tracker) Decisions() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.decisions
}

// Finalize 产出最终报告。endSimTime 是 Episode 结束时的仿真时间。
// 运行中途失败时同样调用，得到部分报告。
func (t *Tracker) Finalize(endSimTime float64) *PerformanceReport {
	t.mu.Lock()
	defer t.mu.Unlock()

	avgQueue := 0.0
	if t.queueSamples > 0 {
		avgQueue = t.queueSum / float64(t.queueSamples)
	}
	r := &PerformanceReport{
		RunID:                  t.runID,
		Episode:                t.episode,
		TotalVehiclesProcessed: len(t.seenVehicles),
		AverageQueueLength:     avgQueue,
		DecisionsMade:          t.decisions,
		EpisodeDuration:        endSimTime - t.startTime,
		TotalReward:            t.rewardSum,
		TrainingDivergences:    t.divergences,
	}
	r.EfficiencyScore = ScoreReport(r, t.scoreWeights)
	return r
}
