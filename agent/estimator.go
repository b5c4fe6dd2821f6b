// C:/workspace/go/Traffic-Controller-Go/agent/estimator.go
package agent

import (
	"math/rand"
	"sync"
)

// ValueEstimator 持有策略网络与目标网络两套同构参数。
// 目标网络只通过 SyncTarget 整体快照更新，从不接受梯度。
//
// 参数读写互斥: 训练步写参数时，动作选择必须等待，
// 避免从写到一半的权重中估值。
type ValueEstimator struct {
	mu     sync.RWMutex
	policy *QNetwork
	target *QNetwork

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewValueEstimator 按给定维度和种子构建估值器。
// 同一种子下初始化权重与探索序列完全可复现。
func NewValueEstimator(stateDim, hiddenDim, actionCount int, seed int64) *ValueEstimator {
	rng := rand.New(rand.NewSource(seed))
	policy := NewQNetwork(stateDim, hiddenDim, actionCount, rng)
	return &ValueEstimator{
		policy: policy,
		target: policy.Clone(),
		rng:    rng,
	}
}

// StateDim 返回网络期望的状态向量长度。
func (e *ValueEstimator) StateDim() int { return e.policy.InputDim }

// ActionCount 返回动作集合大小。
func (e *ValueEstimator) ActionCount() int { return e.policy.OutputDim }

// SelectAction 按 epsilon-greedy 选择动作:
// 以 epsilon 概率均匀随机探索，否则取策略网络估值的 argmax。
// argmax 平手时取编号最小的动作，保证确定性和可复现性。
func (e *ValueEstimator) SelectAction(state []float64, epsilon float64) int {
	if epsilon > 0 {
		e.rngMu.Lock()
		explore := e.rng.Float64() < epsilon
		var choice int
		if explore {
			choice = e.rng.Intn(e.policy.OutputDim)
		}
		e.rngMu.Unlock()
		if explore {
			return choice
		}
	}

	q := e.Estimate(state)
	best := 0
	for i := 1; i < len(q); i++ {
		if q[i] > q[best] { // 严格大于: 平手保留更小的编号
			best = i
		}
	}
	return best
}

// Estimate 返回策略网络对每个动作的估值，是当前策略参数的纯函数。
func (e *ValueEstimator) Estimate(state []float64) []float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.policy.Forward(state)
}

// estimateTargetLocked 在已持有参数锁的前提下用目标网络估值 (训练路径内部使用)。
func (e *ValueEstimator) estimateTargetLocked(state []float64) []float64 {
	return e.target.Forward(state)
}

// SyncTarget 把策略参数整体拷贝到目标参数。
// 按固定训练步数的节奏调用，而不是每个 tick。
func (e *ValueEstimator) SyncTarget() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.target.CopyFrom(e.policy)
}
