// C:/workspace/go/Traffic-Controller-Go/signal/state.go
package signal

import (
	"fmt"
	"math"

	"Traffic-Controller/sim"
)

// FeatureExtractionError 表示观测对象结构性损坏 (缺少必要字段标识)。
// 对当前 tick 是终止性错误: 控制循环收到后保持当前相位，跳过本次决策。
type FeatureExtractionError struct {
	SignalID string
	Field    string
	Err      error
}

func (e *FeatureExtractionError) Error() string {
	return fmt.Sprintf("signal: 路口 %s 的观测字段 %s 提取失败: %v", e.SignalID, e.Field, e.Err)
}

func (e *FeatureExtractionError) Unwrap() error { return e.Err }

// StateVector 是固定长度、固定字段顺序的状态向量。
// 字段顺序: 每车道车辆数、每车道排队长度、相位编号、相位已持续时间、平均速度。
// 长度与顺序在模型生命周期内保持稳定，任何变化都会使已保存的模型失效。
type StateVector struct {
	Counts       []float64 // 每车道车辆数, 归一化到 [0,1]
	Queues       []float64 // 每车道排队长度, 归一化到 [0,1]
	PhaseIndex   float64   // 相位编号 / 相位总数
	PhaseElapsed float64   // 已持续时间 / 最大绿灯时间, 截断到 [0,1]
	AvgSpeed     float64   // 平均速度 / 自由流速度, 截断到 [0,1]
}

// StateDim 返回 approaches 条车道对应的状态向量长度。
func StateDim(approaches int) int { return 2*approaches + 3 }

// NewStateVector 在构造时校验长度与数值有限性，拒绝未知结构而不是静默缺省。
func NewStateVector(counts, queues []float64, phaseIndex, phaseElapsed, avgSpeed float64) (StateVector, error) {
	if len(counts) == 0 || len(counts) != len(queues) {
		return StateVector{}, fmt.Errorf("signal: counts/queues 长度不一致: %d vs %d", len(counts), len(queues))
	}
	v := StateVector{
		Counts:       counts,
		Queues:       queues,
		PhaseIndex:   phaseIndex,
		PhaseElapsed: phaseElapsed,
		AvgSpeed:     avgSpeed,
	}
	for _, x := range v.Vector() {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return StateVector{}, fmt.Errorf("signal: 状态向量包含非有限值")
		}
	}
	return v, nil
}

// Vector 按固定顺序展开为数值切片，作为价值网络的输入。
func (v StateVector) Vector() []float64 {
	out := make([]float64, 0, StateDim(len(v.Counts)))
	out = append(out, v.Counts...)
	out = append(out, v.Queues...)
	out = append(out, v.PhaseIndex, v.PhaseElapsed, v.AvgSpeed)
	return out
}

// Dim 返回该向量的长度。
func (v StateVector) Dim() int { return StateDim(len(v.Counts)) }

// Extractor 把一个路口的原始仿真观测转换为固定长度的 StateVector。
type Extractor struct {
	SignalID string
	Lanes    []string // 车道顺序固定，是向量字段顺序的一部分

	MaxVehicles int     // 单车道车辆数归一化上限
	MaxQueue    int     // 单车道排队数归一化上限
	Freeflow    float64 // 自由流速度 (m/s)
	MaxGreen    float64 // 最大绿灯时间 (秒)
}

// Observe 从仿真器收集一份原始观测对象。
// 信号灯状态缺失是结构性错误；单条车道查询失败 (没有检测器) 记为全 0 车道。
func (e *Extractor) Observe(s sim.Simulator) (*sim.Observation, error) {
	st, err := s.GetSignalState(e.SignalID)
	if err != nil {
		return nil, &FeatureExtractionError{SignalID: e.SignalID, Field: "signal_state", Err: err}
	}
	obs := &sim.Observation{SignalID: e.SignalID, Signal: st, Lanes: make([]sim.LaneStats, len(e.Lanes))}
	for i, lane := range e.Lanes {
		stats, err := s.GetLaneStats(lane)
		if err != nil {
			// 没有检测器的车道按文档化的默认值 0 处理，保持向量长度不变
			obs.Lanes[i] = sim.LaneStats{}
			continue
		}
		obs.Lanes[i] = stats
	}
	return obs, nil
}

// Extract 校验观测对象并产出归一化后的状态向量。
// 对任何可达的交通状况，输出都是有限值。
func (e *Extractor) Extract(obs *sim.Observation) (StateVector, error) {
	if obs == nil {
		return StateVector{}, &FeatureExtractionError{SignalID: e.SignalID, Field: "observation", Err: fmt.Errorf("观测对象为空")}
	}
	if obs.SignalID != e.SignalID {
		return StateVector{}, &FeatureExtractionError{SignalID: e.SignalID, Field: "signal_id",
			Err: fmt.Errorf("观测属于 %q", obs.SignalID)}
	}
	if len(obs.Lanes) != len(e.Lanes) {
		return StateVector{}, &FeatureExtractionError{SignalID: e.SignalID, Field: "lanes",
			Err: fmt.Errorf("期望 %d 条车道, 实际 %d 条", len(e.Lanes), len(obs.Lanes))}
	}
	if obs.Signal.PhaseCount <= 0 {
		return StateVector{}, &FeatureExtractionError{SignalID: e.SignalID, Field: "phase_count",
			Err: fmt.Errorf("相位总数非法: %d", obs.Signal.PhaseCount)}
	}

	counts := make([]float64, len(e.Lanes))
	queues := make([]float64, len(e.Lanes))
	speedSum := 0.0
	for i, ls := range obs.Lanes {
		counts[i] = clamp01(float64(ls.VehicleCount) / float64(e.MaxVehicles))
		queues[i] = clamp01(float64(ls.QueueLength) / float64(e.MaxQueue))
		speedSum += clampFinite(ls.MeanSpeed)
	}
	avgSpeed := clamp01(speedSum / float64(len(e.Lanes)) / e.Freeflow)

	phaseIdx := clamp01(float64(obs.Signal.Phase) / float64(obs.Signal.PhaseCount))
	phaseElapsed := clamp01(obs.Signal.Elapsed / e.MaxGreen)

	return NewStateVector(counts, queues, phaseIdx, phaseElapsed, avgSpeed)
}

func clamp01(x float64) float64 {
	if math.IsNaN(x) || x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func clampFinite(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) || x < 0 {
		return 0
	}
	return x
}
