// C:/workspace/go/Traffic-Controller-Go/sim/local.go
package sim

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
)

const (
	// saturationFlow 绿灯放行速率 (veh/s)，单车道饱和流量约 1800 veh/h。
	saturationFlow = 0.5

	// queueSpeedFactor 排队对平均速度的压制系数: 队伍越长平均速度越低。
	queueSpeedFactor = 0.9
)

// LocalIntersectionConfig 描述本地仿真中的一个路口。
type LocalIntersectionConfig struct {
	SignalID     string
	Lanes        []string
	PhaseCount   int
	ArrivalRates []float64 // 每车道到达率 (veh/s)，长度不足时缺省为 0
}

// localApproach 单条进口车道的运行时状态。
type localApproach struct {
	lane        string
	arrivalRate float64
	queue       []string // 排队车辆 ID，FIFO
	dischargeAc float64  // 放行的小数累加器
	waitTime    float64
}

// localIntersection 单个信号路口的运行时状态。
// 相位 i 放行车道 i (单车道相位模型)，控制器可以随时覆盖相位。
type localIntersection struct {
	id            string
	phaseIndex    int
	phaseElapsed  float64
	phaseDuration float64
	phaseCount    int
	approaches    []*localApproach
}

// LocalSimulator 是内置的固定步长路口微观仿真，用于离线训练与测试。
// 所有随机性来自单一种子，同一种子下逐步结果完全可复现。
type LocalSimulator struct {
	mutex      sync.Mutex
	stepLength float64
	simTime    float64
	maxTime    float64 // <=0 表示不在仿真器侧结束
	rng        *rand.Rand

	intersections map[string]*localIntersection
	laneIndex     map[string]*localApproach
	vehicleSeq    int
	freeflow      float64
}

// NewLocalSimulator 构建本地仿真。maxTime<=0 时 Episode 的结束完全由控制循环裁决。
func NewLocalSimulator(configs []LocalIntersectionConfig, stepLength, freeflowSpeed, maxTime float64, seed int64) *LocalSimulator {
	s := &LocalSimulator{
		stepLength:    stepLength,
		maxTime:       maxTime,
		rng:           rand.New(rand.NewSource(seed)),
		intersections: make(map[string]*localIntersection),
		laneIndex:     make(map[string]*localApproach),
		freeflow:      freeflowSpeed,
	}
	for _, cfg := range configs {
		phaseCount := cfg.PhaseCount
		if phaseCount <= 0 {
			phaseCount = len(cfg.Lanes)
		}
		li := &localIntersection{
			id:            cfg.SignalID,
			phaseCount:    phaseCount,
			phaseDuration: 30,
		}
		for i, lane := range cfg.Lanes {
			rate := 0.0
			if i < len(cfg.ArrivalRates) {
				rate = cfg.ArrivalRates[i]
			}
			ap := &localApproach{lane: lane, arrivalRate: rate}
			li.approaches = append(li.approaches, ap)
			s.laneIndex[lane] = ap
		}
		s.intersections[cfg.SignalID] = li
	}
	return s
}

// Step 推进一个固定时间增量: 到达、放行、相位时钟。
func (s *LocalSimulator) Step() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.simTime += s.stepLength

	// 为保证确定性，按 ID 排序遍历路口
	ids := make([]string, 0, len(s.intersections))
	for id := range s.intersections {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		li := s.intersections[id]
		li.phaseElapsed += s.stepLength

		// 相位计划时长耗尽时自动轮转 (固定配时兜底，控制器可随时覆盖)
		if li.phaseElapsed >= li.phaseDuration {
			li.phaseIndex = (li.phaseIndex + 1) % li.phaseCount
			li.phaseElapsed = 0
		}

		for i, ap := range li.approaches {
			// 泊松近似到达: 每步以 rate*dt 概率到达一辆
			if ap.arrivalRate > 0 && s.rng.Float64() < ap.arrivalRate*s.stepLength {
				s.vehicleSeq++
				ap.queue = append(ap.queue, fmt.Sprintf("veh_%s_%d", id, s.vehicleSeq))
			}

			// 绿灯车道按饱和流量放行
			if i == li.phaseIndex%len(li.approaches) {
				ap.dischargeAc += saturationFlow * s.stepLength
				for ap.dischargeAc >= 1 && len(ap.queue) > 0 {
					ap.queue = ap.queue[1:]
					ap.dischargeAc--
				}
				if len(ap.queue) == 0 {
					ap.dischargeAc = 0
				}
			} else {
				ap.waitTime += float64(len(ap.queue)) * s.stepLength
			}
		}
	}
	return nil
}

func (s *LocalSimulator) SimTime() float64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.simTime
}

func (s *LocalSimulator) StepLength() float64 { return s.stepLength }

func (s *LocalSimulator) Done() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.maxTime > 0 && s.simTime >= s.maxTime
}

func (s *LocalSimulator) GetSignalState(signalID string) (SignalState, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	li, ok := s.intersections[signalID]
	if !ok {
		return SignalState{}, fmt.Errorf("sim: 未知的信号灯 ID %q", signalID)
	}
	return SignalState{
		Phase:      li.phaseIndex,
		PhaseCount: li.phaseCount,
		Elapsed:    li.phaseElapsed,
		Duration:   li.phaseDuration,
	}, nil
}

func (s *LocalSimulator) GetQueueLength(lane string) (int, error) {
	stats, err := s.GetLaneStats(lane)
	if err != nil {
		return 0, err
	}
	return stats.QueueLength, nil
}

func (s *LocalSimulator) GetLaneStats(lane string) (LaneStats, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	ap, ok := s.laneIndex[lane]
	if !ok {
		return LaneStats{}, fmt.Errorf("sim: 未知的车道 %q", lane)
	}
	queue := len(ap.queue)
	// 平均速度随队长衰减的简化模型
	speed := s.freeflow * math.Max(0, 1-queueSpeedFactor*float64(queue)/30.0)
	return LaneStats{
		VehicleCount: queue,
		QueueLength:  queue,
		MeanSpeed:    speed,
		WaitTime:     ap.waitTime,
	}, nil
}

func (s *LocalSimulator) GetVehicleIDs() ([]string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var ids []string
	for _, li := range s.intersections {
		for _, ap := range li.approaches {
			ids = append(ids, ap.queue...)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// SetPhase 切换信号相位。下发与当前相同的相位不会重置相位时钟 (幂等)。
func (s *LocalSimulator) SetPhase(signalID string, phase int) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	li, ok := s.intersections[signalID]
	if !ok {
		return fmt.Errorf("sim: 未知的信号灯 ID %q", signalID)
	}
	if phase < 0 || phase >= li.phaseCount {
		return fmt.Errorf("sim: 信号灯 %s 不存在相位 %d", signalID, phase)
	}
	if phase != li.phaseIndex {
		li.phaseIndex = phase
		li.phaseElapsed = 0
	}
	return nil
}

func (s *LocalSimulator) SetPhaseDuration(signalID string, seconds float64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	li, ok := s.intersections[signalID]
	if !ok {
		return fmt.Errorf("sim: 未知的信号灯 ID %q", signalID)
	}
	if seconds <= 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return fmt.Errorf("sim: 信号灯 %s 的相位时长非法: %v", signalID, seconds)
	}
	li.phaseDuration = seconds
	return nil
}

// TotalSpawned 返回自仿真开始以来生成的车辆总数 (测试用)。
func (s *LocalSimulator) TotalSpawned() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.vehicleSeq
}

func (s *LocalSimulator) Close() error { return nil }
