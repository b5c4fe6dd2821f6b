// C:/workspace/go/Traffic-Controller-Go/agent/trainer.go
package agent

import (
	"errors"
	"log"
	"math"
)

// TrainerConfig 训练步的超参数。
type TrainerConfig struct {
	DiscountFactor     float64
	LearningRate       float64
	Momentum           float64
	GradClipNorm       float64
	BatchSize          int
	TargetSyncInterval int // 每多少个训练步同步一次目标网络
}

// Trainer 从回放池采样小批量，对策略网络做 Double-DQN 的 Bellman 误差更新。
// 训练节奏相对仿真 tick 是固定的配置常量，与真实墙钟时间无关。
type Trainer struct {
	estimator *ValueEstimator
	memory    *ReplayMemory
	cfg       TrainerConfig

	velocity    *TensorSet // 动量缓冲 (优化器内部状态，随模型保存)
	steps       int        // 已应用的训练步数
	divergences int        // 因非有限损失被跳过的步数
	lastLoss    float64
}

// NewTrainer 绑定估值器与回放池。
func NewTrainer(est *ValueEstimator, mem *ReplayMemory, cfg TrainerConfig) *Trainer {
	return &Trainer{
		estimator: est,
		memory:    mem,
		cfg:       cfg,
		velocity:  NewTensorSet(est.policy),
	}
}

// Step 执行一个训练步。
// 回放池未预热时返回 ErrInsufficientSamples (调用方跳过即可，不算错误)；
// 损失非有限时本步被跳过并记录为可恢复异常，参数不变，返回 nil。
func (t *Trainer) Step() error {
	batch, err := t.memory.Sample(t.cfg.BatchSize)
	if err != nil {
		if errors.Is(err, ErrInsufficientSamples) {
			return err
		}
		return err
	}

	states := make([][]float64, len(batch))
	actions := make([]int, len(batch))
	targets := make([]float64, len(batch))

	e := t.estimator
	e.mu.Lock()
	defer e.mu.Unlock()

	// 目标值: r + γ * Q_target(s', argmax_a Q_policy(s', a))，终止态只取 r。
	// 用策略网络选动作、目标网络估值 (Double DQN)，抑制过估计偏差。
	for i, tr := range batch {
		states[i] = tr.State
		actions[i] = tr.Action
		target := tr.Reward
		if !tr.Terminal {
			nextPolicy := e.policy.Forward(tr.NextState)
			best := 0
			for a := 1; a < len(nextPolicy); a++ {
				if nextPolicy[a] > nextPolicy[best] {
					best = a
				}
			}
			nextTarget := e.estimateTargetLocked(tr.NextState)
			target += t.cfg.DiscountFactor * nextTarget[best]
		}
		targets[i] = target
	}

	grads, loss, err := e.policy.BatchGradients(states, actions, targets)
	if err != nil {
		return err
	}
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		// 发散: 跳过本步，参数保持不变
		t.divergences++
		log.Printf("⚠️  训练步 %d 的损失非有限 (%v)，本步已跳过 (累计 %d 次)", t.steps, loss, t.divergences)
		return nil
	}

	e.policy.ApplyGradients(grads, t.velocity, t.cfg.LearningRate, t.cfg.Momentum, t.cfg.GradClipNorm)
	t.steps++
	t.lastLoss = loss

	// 按固定节奏同步目标网络
	if t.cfg.TargetSyncInterval > 0 && t.steps%t.cfg.TargetSyncInterval == 0 {
		e.target.CopyFrom(e.policy)
		log.Printf("🔄 训练步 %d: 目标网络已同步", t.steps)
	}
	return nil
}

// Steps 返回已应用的训练步数。
func (t *Trainer) Steps() int { return t.steps }

// Divergences 返回因发散被跳过的训练步数。
func (t *Trainer) Divergences() int { return t.divergences }

// LastLoss 返回最近一次成功训练步的损失。
func (t *Trainer) LastLoss() float64 { return t.lastLoss }
