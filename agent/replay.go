// C:/workspace/go/Traffic-Controller-Go/agent/replay.go
package agent

import (
	"errors"
	"math/rand"
	"sync"
)

// ErrInsufficientSamples 表示回放池中的经验少于请求的批大小。
// 调用方应跳过本次训练而不是报错退出。
var ErrInsufficientSamples = errors.New("agent: 回放池样本不足")

// Transition 一条经验: (状态, 动作, 奖励, 下一状态, 是否终止)。
// 创建后不可变，记录进回放池后所有权归 ReplayMemory 独占。
type Transition struct {
	State     []float64
	Action    int
	Reward    float64
	NextState []float64
	Terminal  bool
}

// ReplayMemory 固定容量的 FIFO 经验回放池。
// 决策路径 (写) 与训练路径 (采样读) 共享，由互斥锁保护。
type ReplayMemory struct {
	mu       sync.Mutex
	items    []Transition // 环形缓冲
	head     int          // 下一个写入位置
	size     int
	capacity int
	rng      *rand.Rand
}

// NewReplayMemory 构建容量固定的回放池。采样随机性来自独立的种子。
func NewReplayMemory(capacity int, seed int64) *ReplayMemory {
	if capacity <= 0 {
		capacity = 1
	}
	return &ReplayMemory{
		items:    make([]Transition, capacity),
		capacity: capacity,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// Push 追加一条经验，O(1)；容量满时覆盖最旧的一条。
// 状态切片在此处拷贝，调用方之后可以自由复用自己的缓冲。
func (m *ReplayMemory) Push(t Transition) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t.State = append([]float64(nil), t.State...)
	t.NextState = append([]float64(nil), t.NextState...)

	m.items[m.head] = t
	m.head = (m.head + 1) % m.capacity
	if m.size < m.capacity {
		m.size++
	}
}

// Sample 均匀随机采样 batchSize 条不重复的经验。
// 池内经验不足时返回 ErrInsufficientSamples。
func (m *ReplayMemory) Sample(batchSize int) ([]Transition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.size < batchSize {
		return nil, ErrInsufficientSamples
	}

	// 部分 Fisher-Yates: 只洗出前 batchSize 个下标
	idx := make([]int, m.size)
	for i := range idx {
		idx[i] = i
	}
	batch := make([]Transition, batchSize)
	for i := 0; i < batchSize; i++ {
		j := i + m.rng.Intn(m.size-i)
		idx[i], idx[j] = idx[j], idx[i]
		batch[i] = m.items[idx[i]]
	}
	return batch, nil
}

// Len 返回当前持有的经验数。
func (m *ReplayMemory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.size
}

// Capacity 返回固定容量。
func (m *ReplayMemory) Capacity() int { return m.capacity }

// Contains 判断池中是否存在与给定经验完全相同的一条 (测试用)。
func (m *ReplayMemory) Contains(t Transition) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := 0; i < m.size; i++ {
		e := m.items[i]
		if e.Action == t.Action && e.Reward == t.Reward && e.Terminal == t.Terminal &&
			equalSlice(e.State, t.State) && equalSlice(e.NextState, t.NextState) {
			return true
		}
	}
	return false
}

func equalSlice(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
