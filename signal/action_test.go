// C:/workspace/go/Traffic-Controller-Go/signal/action_test.go
package signal

import (
	"testing"

	"Traffic-Controller/sim"
)

func testExecutor(s sim.Simulator) *Executor {
	return &Executor{
		Sim:      s,
		ExtendBy: 5,
		MaxGreen: 40,
		Profile:  []float64{12, 24, 12, 24},
	}
}

// TestExecutorHoldIsNoOp 测试 Hold 动作不下发任何命令。
func TestExecutorHoldIsNoOp(t *testing.T) {
	s := testLocalSim()
	ex := testExecutor(s)

	before, _ := s.GetSignalState("J0")
	if err := ex.Apply(ActionHold, []string{"J0"}); err != nil {
		t.Fatalf("Hold 动作失败: %v", err)
	}
	after, _ := s.GetSignalState("J0")
	if before != after {
		t.Errorf("Hold 动作改变了信号状态: %+v -> %+v", before, after)
	}
}

// TestExecutorAdvanceCyclesPhases 测试 Advance 动作按相位环切换。
func TestExecutorAdvanceCyclesPhases(t *testing.T) {
	s := testLocalSim()
	ex := testExecutor(s)

	for want := 1; want <= 4; want++ {
		if err := ex.Apply(ActionAdvance, []string{"J0"}); err != nil {
			t.Fatalf("Advance 动作失败: %v", err)
		}
		st, err := s.GetSignalState("J0")
		if err != nil {
			t.Fatal(err)
		}
		if st.Phase != want%4 {
			t.Fatalf("第 %d 次 Advance 后期望相位 %d, 得到 %d", want, want%4, st.Phase)
		}
	}
}

// TestExecutorExtendClampsToMaxGreen 测试 Extend 动作延长相位并截断在最大绿灯时间。
func TestExecutorExtendClampsToMaxGreen(t *testing.T) {
	s := testLocalSim()
	ex := testExecutor(s)

	// 默认相位时长 30s, ExtendBy=5, MaxGreen=40: 30 -> 35 -> 40 -> 40
	wants := []float64{35, 40, 40}
	for i, want := range wants {
		if err := ex.Apply(ActionExtend, []string{"J0"}); err != nil {
			t.Fatalf("第 %d 次 Extend 失败: %v", i+1, err)
		}
		st, err := s.GetSignalState("J0")
		if err != nil {
			t.Fatal(err)
		}
		if st.Duration != want {
			t.Fatalf("第 %d 次 Extend 后期望时长 %v, 得到 %v", i+1, want, st.Duration)
		}
	}
}

// TestExecutorProfileAppliesPlan 测试 Profile 动作按当前相位套用配时方案。
func TestExecutorProfileAppliesPlan(t *testing.T) {
	s := testLocalSim()
	ex := testExecutor(s)

	if err := s.SetPhase("J0", 1); err != nil {
		t.Fatal(err)
	}
	if err := ex.Apply(ActionProfile, []string{"J0"}); err != nil {
		t.Fatalf("Profile 动作失败: %v", err)
	}
	st, err := s.GetSignalState("J0")
	if err != nil {
		t.Fatal(err)
	}
	if st.Duration != 24 {
		t.Errorf("相位 1 期望配时 24, 得到 %v", st.Duration)
	}
}

// TestExecutorAppliesToAllSignalsInScope 测试同一动作应用到决策范围内的每个信号灯。
func TestExecutorAppliesToAllSignalsInScope(t *testing.T) {
	s := sim.NewLocalSimulator([]sim.LocalIntersectionConfig{
		{SignalID: "J0", Lanes: []string{"J0_N", "J0_S"}, PhaseCount: 2},
		{SignalID: "J1", Lanes: []string{"J1_N", "J1_S"}, PhaseCount: 2},
	}, 0.1, 13.9, 0, 1)
	ex := testExecutor(s)

	if err := ex.Apply(ActionAdvance, []string{"J0", "J1"}); err != nil {
		t.Fatalf("协同 Advance 失败: %v", err)
	}
	for _, id := range []string{"J0", "J1"} {
		st, err := s.GetSignalState(id)
		if err != nil {
			t.Fatal(err)
		}
		if st.Phase != 1 {
			t.Errorf("信号灯 %s 期望相位 1, 得到 %d", id, st.Phase)
		}
	}
}

// zeroPhaseSim 返回相位总数为 0 的信号状态, 模拟桥接端给出的畸形响应。
type zeroPhaseSim struct {
	*sim.LocalSimulator
}

func (z *zeroPhaseSim) GetSignalState(signalID string) (sim.SignalState, error) {
	return sim.SignalState{Phase: 0, PhaseCount: 0, Duration: 30}, nil
}

// TestExecutorAdvanceRejectsZeroPhaseCount 测试相位总数非法时 Advance 返回错误而不是崩溃。
func TestExecutorAdvanceRejectsZeroPhaseCount(t *testing.T) {
	s := &zeroPhaseSim{LocalSimulator: testLocalSim()}
	ex := testExecutor(s)
	if err := ex.Apply(ActionAdvance, []string{"J0"}); err == nil {
		t.Fatal("相位总数为 0 时 Advance 应返回错误")
	}
}

// TestExecutorUnknownSignalFails 测试对未知信号灯的动作返回错误。
func TestExecutorUnknownSignalFails(t *testing.T) {
	s := testLocalSim()
	ex := testExecutor(s)
	if err := ex.Apply(ActionAdvance, []string{"J_不存在"}); err == nil {
		t.Fatal("对未知信号灯的动作应返回错误")
	}
}
