// C:/workspace/go/Traffic-Controller-Go/agent/estimator_test.go
package agent

import (
	"math/rand"
	"testing"

	"Traffic-Controller/config"
)

// TestSelectActionGreedyDeterministic 测试 epsilon=0 时动作选择是纯贪心且可复现的。
func TestSelectActionGreedyDeterministic(t *testing.T) {
	est := NewValueEstimator(11, 16, 4, 42)
	rng := rand.New(rand.NewSource(99))

	state := make([]float64, 11)
	for i := range state {
		state[i] = rng.Float64()
	}

	// 同一状态重复选择 50 次，结果必须完全一致
	first := est.SelectAction(state, 0)
	for i := 0; i < 50; i++ {
		if got := est.SelectAction(state, 0); got != first {
			t.Fatalf("第 %d 次贪心选择得到 %d, 期望与首次一致的 %d", i, got, first)
		}
	}
	if first < 0 || first >= 4 {
		t.Fatalf("动作编号 %d 超出合法范围 [0,4)", first)
	}
}

// TestSelectActionTieBreaksToLowestIndex 测试估值全部相等时取编号最小的动作。
func TestSelectActionTieBreaksToLowestIndex(t *testing.T) {
	est := NewValueEstimator(4, 8, 4, 1)

	// 把输出层权重与偏置全部清零: 任意状态下所有动作估值相同
	for i := range est.policy.W3 {
		for j := range est.policy.W3[i] {
			est.policy.W3[i][j] = 0
		}
		est.policy.B3[i] = 0
	}

	state := []float64{0.3, 0.7, 0.1, 0.9}
	if got := est.SelectAction(state, 0); got != 0 {
		t.Fatalf("估值平手时期望取动作 0, 得到 %d", got)
	}
}

// TestSelectActionExploration 测试 epsilon=1 时动作均匀随机且覆盖整个动作集合。
func TestSelectActionExploration(t *testing.T) {
	est := NewValueEstimator(4, 8, 4, 3)
	state := []float64{0.5, 0.5, 0.5, 0.5}

	counts := make([]int, 4)
	for i := 0; i < 400; i++ {
		a := est.SelectAction(state, 1.0)
		if a < 0 || a >= 4 {
			t.Fatalf("探索动作 %d 超出合法范围", a)
		}
		counts[a]++
	}
	// 400 次均匀采样下每个动作都应出现过
	for a, c := range counts {
		if c == 0 {
			t.Errorf("动作 %d 在 400 次探索中从未出现", a)
		}
	}
}

// TestSameSeedReproducesActions 测试相同种子下两个估值器的动作序列完全一致。
func TestSameSeedReproducesActions(t *testing.T) {
	a := NewValueEstimator(6, 16, 4, 2024)
	b := NewValueEstimator(6, 16, 4, 2024)
	rng := rand.New(rand.NewSource(5))

	for i := 0; i < 100; i++ {
		state := make([]float64, 6)
		for j := range state {
			state[j] = rng.Float64()
		}
		if got, want := a.SelectAction(state, 0.3), b.SelectAction(state, 0.3); got != want {
			t.Fatalf("第 %d 步: 相同种子下动作不一致 (%d vs %d)", i, got, want)
		}
	}
}

// TestExplorationScheduleMonotone 测试两种衰减方式都单调递减且不低于下限。
func TestExplorationScheduleMonotone(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.ExplorationConfig
	}{
		{"linear", config.ExplorationConfig{Kind: "linear", Start: 1.0, End: 0.05, DecaySteps: 100}},
		{"exponential", config.ExplorationConfig{Kind: "exponential", Start: 1.0, End: 0.05, DecayRate: 0.97}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := NewExplorationSchedule(tc.cfg)
			prev := s.Rate(0)
			if prev != tc.cfg.Start {
				t.Fatalf("期望第 0 个 episode 的探索率为 %v, 得到 %v", tc.cfg.Start, prev)
			}
			for ep := 1; ep <= 500; ep++ {
				r := s.Rate(ep)
				if r > prev {
					t.Fatalf("episode %d: 探索率 %v 大于前一个 episode 的 %v (应单调非增)", ep, r, prev)
				}
				if r < tc.cfg.End {
					t.Fatalf("episode %d: 探索率 %v 低于下限 %v", ep, r, tc.cfg.End)
				}
				prev = r
			}
			// 训练期间的探索率永不为 0
			if s.Rate(1_000_000) <= 0 {
				t.Errorf("探索率衰减到了 0")
			}
		})
	}
}
