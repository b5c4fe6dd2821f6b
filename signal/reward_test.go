// C:/workspace/go/Traffic-Controller-Go/signal/reward_test.go
package signal

import (
	"testing"

	"Traffic-Controller/config"
)

// TestRewardMonotoneInQueue 测试排队惩罚配置下奖励对排队长度单调非增。
func TestRewardMonotoneInQueue(t *testing.T) {
	w := config.RewardWeights{Queue: 1.0}
	prev := Measurement{QueueNorm: 0.5}

	last := Reward(w, prev, Measurement{QueueNorm: 0})
	for q := 0.1; q <= 1.0; q += 0.1 {
		r := Reward(w, prev, Measurement{QueueNorm: q})
		if r > last {
			t.Fatalf("排队 %v 的奖励 %v 大于更短排队的 %v (应单调非增)", q, r, last)
		}
		last = r
	}
}

// TestRewardThroughputTermRewardsClearing 测试排队缩短时吞吐量项为正、增长时为负。
func TestRewardThroughputTermRewardsClearing(t *testing.T) {
	w := config.RewardWeights{Throughput: 1.0}

	clearing := Reward(w, Measurement{QueueNorm: 0.8}, Measurement{QueueNorm: 0.3})
	if clearing <= 0 {
		t.Errorf("排队从 0.8 缩短到 0.3 期望正奖励, 得到 %v", clearing)
	}
	growing := Reward(w, Measurement{QueueNorm: 0.3}, Measurement{QueueNorm: 0.8})
	if growing >= 0 {
		t.Errorf("排队从 0.3 增长到 0.8 期望负奖励, 得到 %v", growing)
	}
}

// TestRewardIsDeterministic 测试相同度量下奖励完全一致 (没有隐藏的随机性)。
func TestRewardIsDeterministic(t *testing.T) {
	w := config.RewardWeights{Queue: 1.0, Throughput: 0.5, Speed: 0.2}
	prev := Measurement{QueueNorm: 0.4, SpeedNorm: 0.6}
	cur := Measurement{QueueNorm: 0.2, SpeedNorm: 0.8}

	first := Reward(w, prev, cur)
	for i := 0; i < 10; i++ {
		if got := Reward(w, prev, cur); got != first {
			t.Fatalf("第 %d 次计算得到 %v, 期望与首次一致的 %v", i, got, first)
		}
	}
}

// TestMeasureFromAveragesQueues 测试聚合度量取所有车道归一化排队的均值。
func TestMeasureFromAveragesQueues(t *testing.T) {
	v := StateVector{
		Counts:   []float64{0.1, 0.2, 0.3, 0.4},
		Queues:   []float64{0.2, 0.4, 0.6, 0.8},
		AvgSpeed: 0.7,
	}
	m := MeasureFrom(v)
	if m.QueueNorm != 0.5 {
		t.Errorf("期望排队均值 0.5, 得到 %v", m.QueueNorm)
	}
	if m.SpeedNorm != 0.7 {
		t.Errorf("期望速度 0.7, 得到 %v", m.SpeedNorm)
	}
}
