// C:/workspace/go/Traffic-Controller-Go/signal/state_test.go
package signal

import (
	"errors"
	"math"
	"testing"

	"Traffic-Controller/sim"
)

func testLocalSim() *sim.LocalSimulator {
	return sim.NewLocalSimulator([]sim.LocalIntersectionConfig{
		{
			SignalID:     "J0",
			Lanes:        []string{"J0_N", "J0_E", "J0_S", "J0_W"},
			PhaseCount:   4,
			ArrivalRates: []float64{0.3, 0.3, 0.3, 0.3},
		},
	}, 0.1, 13.9, 0, 42)
}

func testExtractor() *Extractor {
	return &Extractor{
		SignalID:    "J0",
		Lanes:       []string{"J0_N", "J0_E", "J0_S", "J0_W"},
		MaxVehicles: 40,
		MaxQueue:    30,
		Freeflow:    13.9,
		MaxGreen:    60,
	}
}

// TestExtractorFixedLengthVector 测试状态向量长度固定且所有分量都在 [0,1] 内。
func TestExtractorFixedLengthVector(t *testing.T) {
	s := testLocalSim()
	ex := testExtractor()

	// 推进一段时间让路网里出现车辆
	for i := 0; i < 500; i++ {
		if err := s.Step(); err != nil {
			t.Fatalf("仿真推进失败: %v", err)
		}
	}

	obs, err := ex.Observe(s)
	if err != nil {
		t.Fatalf("观测失败: %v", err)
	}
	state, err := ex.Extract(obs)
	if err != nil {
		t.Fatalf("特征提取失败: %v", err)
	}

	vec := state.Vector()
	if len(vec) != StateDim(4) {
		t.Fatalf("期望向量长度 %d, 得到 %d", StateDim(4), len(vec))
	}
	for i, x := range vec {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			t.Fatalf("分量 %d 非有限: %v", i, x)
		}
		if x < 0 || x > 1 {
			t.Errorf("分量 %d 超出 [0,1]: %v", i, x)
		}
	}
}

// TestExtractorMissingSignalIsStructural 测试信号灯标识缺失时返回 FeatureExtractionError。
func TestExtractorMissingSignalIsStructural(t *testing.T) {
	s := testLocalSim()
	ex := testExtractor()
	ex.SignalID = "J_不存在"

	_, err := ex.Observe(s)
	var fe *FeatureExtractionError
	if !errors.As(err, &fe) {
		t.Fatalf("期望 FeatureExtractionError, 得到 %v", err)
	}
	if fe.Field != "signal_state" {
		t.Errorf("期望出错字段为 signal_state, 得到 %s", fe.Field)
	}
}

// TestExtractorLaneWithoutDetectorDefaultsZero 测试没有检测器的车道按全 0 处理，
// 向量长度保持不变。
func TestExtractorLaneWithoutDetectorDefaultsZero(t *testing.T) {
	s := testLocalSim()
	ex := testExtractor()
	ex.Lanes = []string{"J0_N", "J0_E", "J0_S", "J0_虚拟"}

	obs, err := ex.Observe(s)
	if err != nil {
		t.Fatalf("观测失败: %v", err)
	}
	if got := obs.Lanes[3]; got != (sim.LaneStats{}) {
		t.Errorf("期望缺失车道的统计为全 0, 得到 %+v", got)
	}
	state, err := ex.Extract(obs)
	if err != nil {
		t.Fatalf("特征提取失败: %v", err)
	}
	if state.Dim() != StateDim(4) {
		t.Errorf("期望向量长度 %d, 得到 %d", StateDim(4), state.Dim())
	}
	if state.Counts[3] != 0 || state.Queues[3] != 0 {
		t.Errorf("期望缺失车道的特征为 0, 得到 count=%v queue=%v", state.Counts[3], state.Queues[3])
	}
}

// TestExtractRejectsMalformedObservation 测试结构性损坏的观测对象被显式拒绝。
func TestExtractRejectsMalformedObservation(t *testing.T) {
	ex := testExtractor()
	valid := sim.SignalState{Phase: 1, PhaseCount: 4, Elapsed: 5, Duration: 30}

	cases := []struct {
		name string
		obs  *sim.Observation
	}{
		{"空观测", nil},
		{"信号灯标识不符", &sim.Observation{SignalID: "J9", Signal: valid, Lanes: make([]sim.LaneStats, 4)}},
		{"车道数不符", &sim.Observation{SignalID: "J0", Signal: valid, Lanes: make([]sim.LaneStats, 2)}},
		{"相位总数非法", &sim.Observation{SignalID: "J0", Signal: sim.SignalState{PhaseCount: 0}, Lanes: make([]sim.LaneStats, 4)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ex.Extract(tc.obs)
			var fe *FeatureExtractionError
			if !errors.As(err, &fe) {
				t.Fatalf("期望 FeatureExtractionError, 得到 %v", err)
			}
		})
	}
}

// TestExtractClampsExtremeValues 测试极端观测值被截断到 [0,1] 且输出有限。
func TestExtractClampsExtremeValues(t *testing.T) {
	ex := testExtractor()
	obs := &sim.Observation{
		SignalID: "J0",
		Signal:   sim.SignalState{Phase: 3, PhaseCount: 4, Elapsed: 9999, Duration: 30},
		Lanes: []sim.LaneStats{
			{VehicleCount: 100000, QueueLength: 100000, MeanSpeed: math.NaN()},
			{VehicleCount: -5, QueueLength: -5, MeanSpeed: math.Inf(1)},
			{VehicleCount: 10, QueueLength: 5, MeanSpeed: 8.0},
			{},
		},
	}

	state, err := ex.Extract(obs)
	if err != nil {
		t.Fatalf("特征提取失败: %v", err)
	}
	for i, x := range state.Vector() {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			t.Fatalf("分量 %d 非有限: %v", i, x)
		}
		if x < 0 || x > 1 {
			t.Errorf("分量 %d 超出 [0,1]: %v", i, x)
		}
	}
	if state.Counts[0] != 1 || state.Queues[0] != 1 {
		t.Errorf("期望溢出的车道特征被截断为 1, 得到 count=%v queue=%v", state.Counts[0], state.Queues[0])
	}
	if state.PhaseElapsed != 1 {
		t.Errorf("期望超长的相位持续时间被截断为 1, 得到 %v", state.PhaseElapsed)
	}
}
