// C:/workspace/go/Traffic-Controller-Go/signal/action.go
package signal

import (
	"fmt"
	"log"
	"math"

	"Traffic-Controller/sim"
)

// Action 是控制器可选的离散动作。动作集合在训练与推理之间必须完全一致。
type Action int

const (
	// ActionHold 保持当前相位不变。
	ActionHold Action = iota
	// ActionAdvance 切换到下一个相位。
	ActionAdvance
	// ActionExtend 将当前相位延长固定时长。
	ActionExtend
	// ActionProfile 切换到命名的优化配时方案。
	ActionProfile
)

// ActionCount 动作集合的大小。
const ActionCount = 4

func (a Action) String() string {
	switch a {
	case ActionHold:
		return "HOLD"
	case ActionAdvance:
		return "ADVANCE"
	case ActionExtend:
		return "EXTEND"
	case ActionProfile:
		return "PROFILE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(a))
	}
}

// Executor 把离散动作翻译为对仿真器信号控制接口的幂等命令。
// 当同一个决策范围覆盖多个信号灯时，同一动作应用到范围内的所有信号灯。
type Executor struct {
	Sim      sim.Simulator
	ExtendBy float64   // Extend 动作每次延长的时间 (秒)
	MaxGreen float64   // 延长后的时长上限 (秒)
	Profile  []float64 // 优化配时方案: 每个相位的固定时长
	Verbose  bool      // 记录应用的动作与产生它的状态 (仅用于事后分析，不参与学习)
}

// Apply 将动作应用到决策范围内的每一个信号灯。
// 任何一个信号灯失败都会中断并返回错误，已执行的命令保持生效 (命令本身幂等)。
func (ex *Executor) Apply(action Action, signalIDs []string) error {
	for _, id := range signalIDs {
		if err := ex.applyOne(action, id); err != nil {
			return fmt.Errorf("signal: 对 %s 应用动作 %s 失败: %w", id, action, err)
		}
		if ex.Verbose {
			log.Printf("🚦 [%s] 已应用动作 %s", id, action)
		}
	}
	return nil
}

func (ex *Executor) applyOne(action Action, signalID string) error {
	switch action {
	case ActionHold:
		// 保持相位: 不下发命令
		return nil

	case ActionAdvance:
		st, err := ex.Sim.GetSignalState(signalID)
		if err != nil {
			return err
		}
		if st.PhaseCount <= 0 {
			return fmt.Errorf("相位总数非法: %d", st.PhaseCount)
		}
		return ex.Sim.SetPhase(signalID, (st.Phase+1)%st.PhaseCount)

	case ActionExtend:
		st, err := ex.Sim.GetSignalState(signalID)
		if err != nil {
			return err
		}
		extended := math.Min(st.Duration+ex.ExtendBy, ex.MaxGreen)
		return ex.Sim.SetPhaseDuration(signalID, extended)

	case ActionProfile:
		st, err := ex.Sim.GetSignalState(signalID)
		if err != nil {
			return err
		}
		if len(ex.Profile) == 0 {
			return fmt.Errorf("未配置配时方案")
		}
		d := ex.Profile[st.Phase%len(ex.Profile)]
		return ex.Sim.SetPhaseDuration(signalID, d)

	default:
		return fmt.Errorf("未知动作 %d", int(action))
	}
}
