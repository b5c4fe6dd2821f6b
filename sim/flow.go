// C:/workspace/go/Traffic-Controller-Go/sim/flow.go
package sim

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FlowDescription 是视频分析协作方产出的初始流量描述。
// 控制核心把它当作不透明的输入数据，仅用于给本地仿真的到达率播种。
type FlowDescription struct {
	Source        string             `yaml:"source"` // 例如 "video_counter"
	Intersections []IntersectionFlow `yaml:"intersections"`
	Meta          map[string]string  `yaml:"meta,omitempty"`
}

// IntersectionFlow 单个路口的流量观测。
type IntersectionFlow struct {
	SignalID string     `yaml:"signal_id"`
	Lanes    []LaneFlow `yaml:"lanes"`
}

// LaneFlow 单条车道的流量观测。
type LaneFlow struct {
	Lane          string  `yaml:"lane"`
	VehiclesPerHr float64 `yaml:"vehicles_per_hour"`
}

// LoadFlowDescription 从 YAML 文件读取流量描述。
func LoadFlowDescription(path string) (*FlowDescription, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sim: 读取流量描述 %s 失败: %w", path, err)
	}
	var flow FlowDescription
	if err := yaml.Unmarshal(data, &flow); err != nil {
		return nil, fmt.Errorf("sim: 解析流量描述 %s 失败: %w", path, err)
	}
	return &flow, nil
}

// ArrivalRates 把某个路口的小时流量换算为每车道到达率 (veh/s)。
// lanes 给出期望的车道顺序；描述中缺失的车道按 0 处理。
func (f *FlowDescription) ArrivalRates(signalID string, lanes []string) []float64 {
	rates := make([]float64, len(lanes))
	for _, ix := range f.Intersections {
		if ix.SignalID != signalID {
			continue
		}
		byLane := make(map[string]float64, len(ix.Lanes))
		for _, lf := range ix.Lanes {
			byLane[lf.Lane] = lf.VehiclesPerHr / 3600.0
		}
		for i, lane := range lanes {
			rates[i] = byLane[lane]
		}
	}
	return rates
}
