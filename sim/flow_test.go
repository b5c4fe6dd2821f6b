// C:/workspace/go/Traffic-Controller-Go/sim/flow_test.go
package sim

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleFlow = `
source: video_counter
meta:
  camera: "cam_03"
intersections:
  - signal_id: J0
    lanes:
      - lane: J0_N
        vehicles_per_hour: 720
      - lane: J0_S
        vehicles_per_hour: 360
`

// TestLoadFlowDescription 测试流量描述的解析与到达率换算。
func TestLoadFlowDescription(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flow.yaml")
	if err := os.WriteFile(path, []byte(sampleFlow), 0o644); err != nil {
		t.Fatal(err)
	}

	flow, err := LoadFlowDescription(path)
	if err != nil {
		t.Fatalf("读取流量描述失败: %v", err)
	}
	if flow.Source != "video_counter" {
		t.Errorf("期望来源 video_counter, 得到 %s", flow.Source)
	}

	// 720 veh/h = 0.2 veh/s; 描述中缺失的车道按 0 处理
	rates := flow.ArrivalRates("J0", []string{"J0_N", "J0_E", "J0_S"})
	want := []float64{0.2, 0, 0.1}
	for i := range want {
		if rates[i] != want[i] {
			t.Errorf("车道 %d 期望到达率 %v, 得到 %v", i, want[i], rates[i])
		}
	}

	// 未知路口: 全 0
	for i, r := range flow.ArrivalRates("J9", []string{"J9_N"}) {
		if r != 0 {
			t.Errorf("未知路口的到达率应为 0, 车道 %d 得到 %v", i, r)
		}
	}
}

// TestLoadFlowDescriptionRejectsBadYAML 测试损坏的描述文件返回错误。
func TestLoadFlowDescriptionRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flow.yaml")
	if err := os.WriteFile(path, []byte("intersections: [这不是合法的结构"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFlowDescription(path); err == nil {
		t.Fatal("损坏的流量描述应返回错误")
	}
	if _, err := LoadFlowDescription(filepath.Join(t.TempDir(), "不存在.yaml")); err == nil {
		t.Fatal("不存在的文件应返回错误")
	}
}
