// C:/workspace/go/Traffic-Controller-Go/agent/trainer_test.go
package agent

import (
	"errors"
	"math"
	"math/rand"
	"reflect"
	"testing"
)

func testTrainerConfig() TrainerConfig {
	return TrainerConfig{
		DiscountFactor:     0.95,
		LearningRate:       0.01,
		Momentum:           0.9,
		GradClipNorm:       5.0,
		BatchSize:          8,
		TargetSyncInterval: 200,
	}
}

// fillMemory 用固定奖励的终止经验填满回放池 (目标值退化为 r，便于检验收敛)。
func fillMemory(mem *ReplayMemory, stateDim, n int, reward float64, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	for i := 0; i < n; i++ {
		state := make([]float64, stateDim)
		for j := range state {
			state[j] = rng.Float64()
		}
		mem.Push(Transition{
			State:     state,
			Action:    i % 4,
			Reward:    reward,
			NextState: make([]float64, stateDim),
			Terminal:  true,
		})
	}
}

// TestTrainerSkipsWhenColdStart 测试回放池未预热时训练步被跳过。
func TestTrainerSkipsWhenColdStart(t *testing.T) {
	est := NewValueEstimator(4, 8, 4, 1)
	mem := NewReplayMemory(100, 2)
	tr := NewTrainer(est, mem, testTrainerConfig())

	// 1. 空池: 应返回哨兵错误且不计训练步
	if err := tr.Step(); !errors.Is(err, ErrInsufficientSamples) {
		t.Fatalf("期望 ErrInsufficientSamples, 得到 %v", err)
	}
	if tr.Steps() != 0 {
		t.Fatalf("冷启动时不应计训练步, 得到 %d", tr.Steps())
	}

	// 2. 填满一个批次后: 训练步应成功
	fillMemory(mem, 4, 8, 1.0, 3)
	if err := tr.Step(); err != nil {
		t.Fatalf("预热后训练步失败: %v", err)
	}
	if tr.Steps() != 1 {
		t.Fatalf("期望训练步数为 1, 得到 %d", tr.Steps())
	}
}

// TestTrainerLossDecreasesOnFixedTarget 测试在固定目标值的回归问题上损失下降。
func TestTrainerLossDecreasesOnFixedTarget(t *testing.T) {
	est := NewValueEstimator(4, 16, 4, 7)
	mem := NewReplayMemory(64, 11)
	tr := NewTrainer(est, mem, testTrainerConfig())
	fillMemory(mem, 4, 64, 0.5, 13)

	if err := tr.Step(); err != nil {
		t.Fatalf("首个训练步失败: %v", err)
	}
	firstLoss := tr.LastLoss()

	for i := 0; i < 200; i++ {
		if err := tr.Step(); err != nil {
			t.Fatalf("第 %d 个训练步失败: %v", i, err)
		}
	}
	lastLoss := tr.LastLoss()

	if math.IsNaN(lastLoss) || math.IsInf(lastLoss, 0) {
		t.Fatalf("训练后损失非有限: %v", lastLoss)
	}
	if lastLoss >= firstLoss {
		t.Errorf("期望损失下降: 首次 %v, 200 步后 %v", firstLoss, lastLoss)
	}
	if tr.Divergences() != 0 {
		t.Errorf("固定目标回归不应发散, 得到 %d 次", tr.Divergences())
	}
}

// TestTrainerSkipsDivergentStep 测试损失非有限时本步被跳过且参数不变。
func TestTrainerSkipsDivergentStep(t *testing.T) {
	est := NewValueEstimator(4, 8, 4, 21)
	mem := NewReplayMemory(16, 22)
	// 奖励为 +Inf: 目标值非有限，损失必然非有限
	fillMemory(mem, 4, 16, math.Inf(1), 23)
	tr := NewTrainer(est, mem, testTrainerConfig())

	before := est.policy.Clone()
	if err := tr.Step(); err != nil {
		t.Fatalf("发散步应被吸收而不是报错, 得到 %v", err)
	}
	if tr.Steps() != 0 {
		t.Fatalf("发散步不应计入训练步数, 得到 %d", tr.Steps())
	}
	if tr.Divergences() != 1 {
		t.Fatalf("期望记录 1 次发散, 得到 %d", tr.Divergences())
	}
	if !reflect.DeepEqual(before.W1, est.policy.W1) || !reflect.DeepEqual(before.B3, est.policy.B3) {
		t.Errorf("发散步之后策略参数发生了变化")
	}
}

// TestTrainerTargetSyncCadence 测试目标网络按固定训练步节奏同步。
func TestTrainerTargetSyncCadence(t *testing.T) {
	cfg := testTrainerConfig()
	cfg.TargetSyncInterval = 2

	est := NewValueEstimator(4, 8, 4, 31)
	mem := NewReplayMemory(32, 32)
	fillMemory(mem, 4, 32, 1.0, 33)
	tr := NewTrainer(est, mem, cfg)

	// 第 1 步: 策略已更新但尚未到同步节奏，目标网络应落后于策略
	if err := tr.Step(); err != nil {
		t.Fatalf("训练步失败: %v", err)
	}
	if reflect.DeepEqual(est.policy.W1, est.target.W1) {
		t.Fatalf("第 1 步后目标网络不应与策略网络一致")
	}

	// 第 2 步: 到达同步节奏，目标网络应与策略完全一致
	if err := tr.Step(); err != nil {
		t.Fatalf("训练步失败: %v", err)
	}
	if !reflect.DeepEqual(est.policy.W1, est.target.W1) ||
		!reflect.DeepEqual(est.policy.B3, est.target.B3) {
		t.Errorf("第 2 步后目标网络应与策略网络一致")
	}
}
