// C:/workspace/go/Traffic-Controller-Go/control/loop.go
package control

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"Traffic-Controller/agent"
	"Traffic-Controller/collector"
	"Traffic-Controller/config"
	"Traffic-Controller/signal"
	"Traffic-Controller/sim"
)

// timeEps 浮点仿真时间比较的容差，吸收步长累加的舍入误差。
const timeEps = 1e-6

// LoopState 控制循环的状态机: IDLE → RUNNING → (PAUSED) → TERMINATED。
type LoopState int32

const (
	StateIdle LoopState = iota
	StateRunning
	StatePaused
	StateTerminated
)

func (s LoopState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StatePaused:
		return "PAUSED"
	case StateTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// IntersectionAgent 把一个决策范围内的所有组件绑在一起:
// 范围内的信号灯 ID、特征提取器、估值器、回放池和训练器。
// 统一协同时一个 agent 覆盖全部信号灯；独立控制时每个路口一个 agent，
// 各自独立选择动作，相互之间没有同步屏障。
type IntersectionAgent struct {
	SignalIDs []string
	Extractor *signal.Extractor
	Estimator *agent.ValueEstimator
	Memory    *agent.ReplayMemory
	Trainer   *agent.Trainer

	Epsilon  float64 // 本 Episode 的探索率
	Training bool    // false 时只推理不学习

	// 上一次决策的快照，用于组装 Transition
	hasPending  bool
	lastState   signal.StateVector
	lastAction  signal.Action
	lastMeasure signal.Measurement
	decisions   int
}

// ControlLoop 是实时驱动器: 推进仿真器、把决策频率限制在固定的控制间隔、
// 并在每个决策周期把 特征提取 → 估值选择 → 动作执行 → 经验入池 串起来。
// 单一逻辑控制线程逐步驱动仿真器，仿真状态没有并发修改。
type ControlLoop struct {
	cfg      config.Config
	sim      sim.Simulator
	executor *signal.Executor
	agents   []*IntersectionAgent
	tracker  *collector.Tracker

	state atomic.Int32
}

// NewControlLoop 显式构造一个控制循环上下文，持有全部组件实例。
// 没有任何进程级单例: 所有协作方都通过这里传引用。
func NewControlLoop(cfg config.Config, s sim.Simulator, ex *signal.Executor, agents []*IntersectionAgent, episode int) *ControlLoop {
	cl := &ControlLoop{
		cfg:      cfg,
		sim:      s,
		executor: ex,
		agents:   agents,
		tracker:  collector.NewTracker(episode, s.SimTime(), cfg.Score),
	}
	cl.state.Store(int32(StateIdle))
	return cl
}

// State 返回当前状态。
func (cl *ControlLoop) State() LoopState { return LoopState(cl.state.Load()) }

// Pause 暂停决策与仿真推进 (仅在 RUNNING 时生效)。
func (cl *ControlLoop) Pause() {
	cl.state.CompareAndSwap(int32(StateRunning), int32(StatePaused))
}

// Resume 从暂停恢复。
func (cl *ControlLoop) Resume() {
	cl.state.CompareAndSwap(int32(StatePaused), int32(StateRunning))
}

// Tracker 返回本 Episode 的指标跟踪器 (外部只读轮询)。
func (cl *ControlLoop) Tracker() *collector.Tracker { return cl.tracker }

// Run 执行一个完整 Episode，返回最终 (或部分) 的 PerformanceReport。
//
// 每个 RUNNING tick: (a) 仿真器推进一个固定时间增量 (阻塞调用)；
// (b) 距上次决策已满一个控制间隔时，提取状态、选择并应用动作、
// 依据排队/等待指标的变化计算奖励、写入一条 Transition；
// (c) 否则让仿真器继续运行，不做新决策。
//
// 外部停止信号 (ctx 取消) 会干净地结束当前 Episode:
// 终止 Transition 入池、产出报告、关闭仿真器连接，而不是把会话丢在半步中间。
func (cl *ControlLoop) Run(ctx context.Context) (*collector.PerformanceReport, error) {
	cl.state.Store(int32(StateRunning))
	defer cl.state.Store(int32(StateTerminated))

	steps := 0
	lastDecision := cl.sim.SimTime()

	for {
		select {
		case <-ctx.Done():
			log.Printf("🛑 收到外部停止信号，正在干净地结束本 Episode...")
			cl.finalizeEpisode()
			report := cl.tracker.Finalize(cl.sim.SimTime())
			if err := cl.sim.Close(); err != nil {
				log.Printf("⚠️  关闭仿真器连接失败: %v", err)
			}
			return report, ctx.Err()
		default:
		}

		if cl.State() == StatePaused {
			time.Sleep(10 * time.Millisecond)
			continue
		}

		if err := cl.sim.Step(); err != nil {
			// 仿真推进失败对本次运行是终止性的。若此前已有决策发生，
			// 调用方仍能拿到部分报告。
			cl.finalizeEpisode()
			report := cl.tracker.Finalize(cl.sim.SimTime())
			return report, fmt.Errorf("control: 仿真推进失败: %w", err)
		}
		steps++

		// 固定控制间隔节流: 无论仿真器的底层步长多细，
		// 每个控制间隔恰好产生一次决策。
		if cl.sim.SimTime()-lastDecision >= cl.cfg.ControlInterval-timeEps {
			lastDecision += cl.cfg.ControlInterval
			cl.decide()
		}

		if cl.sim.Done() || steps >= cl.cfg.MaxSteps {
			log.Printf("🏁 Episode 结束: 共 %d 步, %d 次决策", steps, cl.tracker.Decisions())
			cl.finalizeEpisode()
			report := cl.tracker.Finalize(cl.sim.SimTime())
			return report, nil
		}
	}
}

// decide 在一个 tick 内为所有决策范围计算并应用动作。
// 协同范围内的全部信号灯在同一个 tick 内拿到同一个动作，之后仿真才继续推进。
func (cl *ControlLoop) decide() {
	for _, ag := range cl.agents {
		cl.decideOne(ag)
	}

	// 车辆 ID 只在决策时刻登记，用唯一 ID 统计处理过的车辆总数
	if ids, err := cl.sim.GetVehicleIDs(); err == nil {
		cl.tracker.RecordVehicles(ids)
	}
}

func (cl *ControlLoop) decideOne(ag *IntersectionAgent) {
	obs, err := ag.Extractor.Observe(cl.sim)
	if err == nil {
		var state signal.StateVector
		state, err = ag.Extractor.Extract(obs)
		if err == nil {
			cl.applyDecision(ag, obs, state)
			return
		}
	}

	// 特征提取失败对当前 tick 是终止性的: 保持当前相位 (不下发命令)，
	// 在组件边界吸收并记录，不向外传播。
	var fe *signal.FeatureExtractionError
	if errors.As(err, &fe) {
		log.Printf("⚠️  [%s] 本次决策跳过，保持当前相位: %v", ag.Extractor.SignalID, err)
		return
	}
	log.Printf("⚠️  [%s] 观测失败，保持当前相位: %v", ag.Extractor.SignalID, err)
}

func (cl *ControlLoop) applyDecision(ag *IntersectionAgent, obs *sim.Observation, state signal.StateVector) {
	cur := signal.MeasureFrom(state)
	cur.SimTime = cl.sim.SimTime()

	action := signal.Action(ag.Estimator.SelectAction(state.Vector(), ag.Epsilon))
	if err := cl.executor.Apply(action, ag.SignalIDs); err != nil {
		log.Printf("⚠️  [%s] 动作执行失败: %v", ag.Extractor.SignalID, err)
	}

	// 奖励是两次决策之间排队/速度指标变化的确定性函数
	reward := signal.Reward(cl.cfg.Reward, ag.lastMeasure, cur)
	if ag.hasPending {
		ag.Memory.Push(agent.Transition{
			State:     ag.lastState.Vector(),
			Action:    int(ag.lastAction),
			Reward:    reward,
			NextState: state.Vector(),
			Terminal:  false,
		})
	}

	rawQueue := 0
	for _, ls := range obs.Lanes {
		rawQueue += ls.QueueLength
	}
	cl.tracker.RecordDecision(float64(rawQueue), reward)

	ag.lastState = state
	ag.lastAction = action
	ag.lastMeasure = cur
	ag.hasPending = true
	ag.decisions++

	if ag.Training && cl.cfg.TrainInterval > 0 && ag.decisions%cl.cfg.TrainInterval == 0 {
		if err := ag.Trainer.Step(); err != nil {
			if errors.Is(err, agent.ErrInsufficientSamples) {
				// 回放池尚未预热: 跳过训练，这不是错误
				return
			}
			log.Printf("⚠️  [%s] 训练步失败: %v", ag.Extractor.SignalID, err)
		}
		cl.tracker.RecordDivergences(ag.Trainer.Divergences())
	}
}

// finalizeEpisode 给每个还有未闭合经验的 agent 写入终止 Transition。
func (cl *ControlLoop) finalizeEpisode() {
	for _, ag := range cl.agents {
		if !ag.hasPending {
			continue
		}
		finalState := ag.lastState
		finalMeasure := ag.lastMeasure
		if obs, err := ag.Extractor.Observe(cl.sim); err == nil {
			if st, err := ag.Extractor.Extract(obs); err == nil {
				finalState = st
				finalMeasure = signal.MeasureFrom(st)
			}
		}
		reward := signal.Reward(cl.cfg.Reward, ag.lastMeasure, finalMeasure)
		ag.Memory.Push(agent.Transition{
			State:     ag.lastState.Vector(),
			Action:    int(ag.lastAction),
			Reward:    reward,
			NextState: finalState.Vector(),
			Terminal:  true,
		})
		ag.hasPending = false
	}
}
