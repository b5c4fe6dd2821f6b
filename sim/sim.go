// C:/workspace/go/Traffic-Controller-Go/sim/sim.go
package sim

import "fmt"

// SignalState 描述一个信号灯在当前仿真时刻的相位状态。
type SignalState struct {
	Phase      int     `json:"phase"`       // 当前相位编号
	PhaseCount int     `json:"phase_count"` // 相位总数
	Elapsed    float64 `json:"elapsed"`     // 当前相位已持续时间 (秒)
	Duration   float64 `json:"duration"`    // 当前相位计划时长 (秒)
}

// LaneStats 描述单条进口车道在当前仿真时刻的观测数据。
type LaneStats struct {
	VehicleCount int     `json:"vehicle_count"` // 车道上的车辆总数
	QueueLength  int     `json:"queue_length"`  // 排队 (近似停驶) 车辆数
	MeanSpeed    float64 `json:"mean_speed"`    // 平均速度 (m/s)
	WaitTime     float64 `json:"wait_time"`     // 累计等待时间 (秒)
}

// Observation 是一个路口的原始观测对象，由特征提取器消费。
type Observation struct {
	SignalID string
	Signal   SignalState
	Lanes    []LaneStats // 与配置中的车道顺序一一对应
}

// Simulator 是控制核心消费的仿真器窄接口。
// Step 是阻塞调用: 控制循环在仿真器确认推进之前挂起。
// 控制核心只通过这个查询/命令表面与仿真世界交互，从不操作路网拓扑。
type Simulator interface {
	// Step 将仿真时间推进一个固定增量。
	Step() error
	// SimTime 返回当前仿真时间 (秒)。
	SimTime() float64
	// StepLength 返回单步的固定时间增量 (秒)。
	StepLength() float64

	// GetSignalState 查询信号灯相位状态。未知的信号灯 ID 返回错误。
	GetSignalState(signalID string) (SignalState, error)
	// GetQueueLength 查询车道排队长度。没有检测器的车道返回错误，由调用方按 0 处理。
	GetQueueLength(lane string) (int, error)
	// GetLaneStats 查询车道完整观测数据。
	GetLaneStats(lane string) (LaneStats, error)
	// GetVehicleIDs 返回当前路网中所有车辆的 ID。
	GetVehicleIDs() ([]string, error)

	// SetPhase 将信号灯切换到指定相位。重复下发同一相位是幂等的。
	SetPhase(signalID string, phase int) error
	// SetPhaseDuration 设置当前相位的计划时长 (秒)。
	SetPhaseDuration(signalID string, seconds float64) error

	// Done 报告仿真器是否已宣告本轮 Episode 结束。
	Done() bool
	// Close 结束仿真会话并释放连接。
	Close() error
}

// ConnectionError 表示仿真器在限定次数的重试后仍然不可达。
// 对本次运行而言是致命错误，必须上抛给控制循环的调用者。
type ConnectionError struct {
	Addr     string
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("sim: 在 %d 次尝试后仍无法连接仿真器 %s: %v", e.Attempts, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
