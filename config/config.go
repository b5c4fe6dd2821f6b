// C:/workspace/go/Traffic-Controller-Go/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// ===================================================================
//                           控制器默认参数
// ===================================================================

const (
	// DefaultControlInterval 两次信号决策之间的最小虚拟时间 (秒)。
	DefaultControlInterval = 10.0

	// DefaultStepLength 仿真器单步推进的固定时间增量 (秒)。
	DefaultStepLength = 0.1

	// DefaultMaxSteps 单个 Episode 允许的最大仿真步数。
	DefaultMaxSteps = 36000

	// DefaultReplayCapacity 经验回放池的固定容量。
	DefaultReplayCapacity = 20000

	// DefaultBatchSize 每个训练步采样的批大小。
	DefaultBatchSize = 32

	// DefaultTargetSyncInterval 每隔多少个训练步同步一次目标网络。
	DefaultTargetSyncInterval = 200

	// DefaultTrainInterval 每隔多少次决策执行一个训练步。
	DefaultTrainInterval = 1

	// DefaultConnectRetries 连接远程仿真器的最大重试次数。
	DefaultConnectRetries = 5

	// DefaultConnectDelay 两次连接尝试之间的固定等待时间。
	DefaultConnectDelay = 2 * time.Second
)

// RewardWeights 定义了奖励函数的显式权重。
// 奖励 = -Queue*queueNorm + Throughput*(prevQueueNorm-queueNorm) + Speed*speedNorm
// 所有权重来自配置，不存在隐藏的阈值逻辑。
type RewardWeights struct {
	Queue      float64 `mapstructure:"queue"`
	Throughput float64 `mapstructure:"throughput"`
	Speed      float64 `mapstructure:"speed"`
}

// ScoreWeights 定义了检查点评分函数的显式权重。
type ScoreWeights struct {
	Vehicles  float64 `mapstructure:"vehicles"`
	AvgQueue  float64 `mapstructure:"avg_queue"`
	Decisions float64 `mapstructure:"decisions"`
}

// ExplorationConfig 描述了探索率的衰减日程。
// 训练期间探索率单调递减且永不低于 End；评估时可以直接使用 0。
type ExplorationConfig struct {
	Kind       string  `mapstructure:"kind"` // "linear" 或 "exponential"
	Start      float64 `mapstructure:"start"`
	End        float64 `mapstructure:"end"`
	DecaySteps int     `mapstructure:"decay_steps"` // linear: 衰减到 End 所需的 episode 数
	DecayRate  float64 `mapstructure:"decay_rate"`  // exponential: 每 episode 的乘法因子
}

// IntersectionConfig 描述了单个受控路口及其进口车道。
// 车道顺序是 StateVector 字段顺序的一部分，模型保存后不可再变。
type IntersectionConfig struct {
	SignalID    string    `mapstructure:"signal_id"`
	Lanes       []string  `mapstructure:"lanes"`
	PhaseCount  int       `mapstructure:"phase_count"`
	ArrivalRate []float64 `mapstructure:"arrival_rate"` // 每车道到达率 (veh/s)，仅本地仿真使用
}

// Config 封装了控制器所有可从外部配置的参数。
type Config struct {
	// --- 控制循环 ---
	ControlInterval float64 `mapstructure:"control_interval"`
	StepLength      float64 `mapstructure:"step_length"`
	MaxSteps        int     `mapstructure:"max_steps"`

	// --- 学习参数 ---
	DiscountFactor     float64 `mapstructure:"discount_factor"`
	LearningRate       float64 `mapstructure:"learning_rate"`
	Momentum           float64 `mapstructure:"momentum"`
	GradClipNorm       float64 `mapstructure:"grad_clip_norm"`
	HiddenDim          int     `mapstructure:"hidden_dim"`
	ReplayCapacity     int     `mapstructure:"replay_capacity"`
	BatchSize          int     `mapstructure:"batch_size"`
	TargetSyncInterval int     `mapstructure:"target_sync_interval"`
	TrainInterval      int     `mapstructure:"train_interval"`

	Exploration ExplorationConfig `mapstructure:"exploration"`
	Reward      RewardWeights     `mapstructure:"reward"`
	Score       ScoreWeights      `mapstructure:"score"`

	// --- 动作参数 ---
	ExtendBy         float64   `mapstructure:"extend_by"`         // Extend 动作每次延长的绿灯时间 (秒)
	MaxGreen         float64   `mapstructure:"max_green"`         // 任何相位允许的最大绿灯时间 (秒)
	ProfileDurations []float64 `mapstructure:"profile_durations"` // 命名配时方案: 每个相位的固定时长

	// --- 归一化上限 ---
	MaxVehiclesPerLane int     `mapstructure:"max_vehicles_per_lane"`
	MaxQueuePerLane    int     `mapstructure:"max_queue_per_lane"`
	FreeflowSpeed      float64 `mapstructure:"freeflow_speed"` // m/s

	// --- 路口与协同 ---
	Intersections []IntersectionConfig `mapstructure:"intersections"`
	Coordinated   bool                 `mapstructure:"coordinated"` // true: 所有信号灯共用同一个决策

	// --- 仿真器连接 ---
	SimulatorAddr  string        `mapstructure:"simulator_addr"` // 为空时使用内置本地仿真
	ConnectRetries int           `mapstructure:"connect_retries"`
	ConnectDelay   time.Duration `mapstructure:"connect_delay"`
	FlowFile       string        `mapstructure:"flow_file"` // 视频分析协作方提供的流量描述 (YAML)

	// --- 输出 ---
	ReportDir    string `mapstructure:"report_dir"`
	SnapshotPath string `mapstructure:"snapshot_path"`
	ModelPath    string `mapstructure:"model_path"`
	APIAddr      string `mapstructure:"api_addr"`

	Seed int64 `mapstructure:"seed"`
}

// Default 返回一份带有全部默认值的配置。
func Default() Config {
	return Config{
		ControlInterval:    DefaultControlInterval,
		StepLength:         DefaultStepLength,
		MaxSteps:           DefaultMaxSteps,
		DiscountFactor:     0.95,
		LearningRate:       0.001,
		Momentum:           0.9,
		GradClipNorm:       5.0,
		HiddenDim:          64,
		ReplayCapacity:     DefaultReplayCapacity,
		BatchSize:          DefaultBatchSize,
		TargetSyncInterval: DefaultTargetSyncInterval,
		TrainInterval:      DefaultTrainInterval,
		Exploration: ExplorationConfig{
			Kind:       "linear",
			Start:      1.0,
			End:        0.05,
			DecaySteps: 200,
			DecayRate:  0.995,
		},
		Reward: RewardWeights{Queue: 1.0, Throughput: 0.0, Speed: 0.0},
		Score:  ScoreWeights{Vehicles: 1.0, AvgQueue: 2.0, Decisions: 0.0},

		ExtendBy:         5.0,
		MaxGreen:         60.0,
		ProfileDurations: []float64{30, 30, 30, 30},

		MaxVehiclesPerLane: 40,
		MaxQueuePerLane:    30,
		FreeflowSpeed:      13.9, // ~50 km/h

		Intersections: []IntersectionConfig{
			{
				SignalID:    "J0",
				Lanes:       []string{"J0_N", "J0_E", "J0_S", "J0_W"},
				PhaseCount:  4,
				ArrivalRate: []float64{0.15, 0.10, 0.15, 0.10},
			},
		},
		Coordinated: false,

		ConnectRetries: DefaultConnectRetries,
		ConnectDelay:   DefaultConnectDelay,

		ReportDir:    "report",
		SnapshotPath: "report/latest_report.json",
		ModelPath:    "models/controller.json",
		APIAddr:      ":8090",

		Seed: 42,
	}
}

// Load 读取 YAML 配置文件并覆盖默认值。path 为空时直接返回默认配置。
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("读取配置文件 %s 失败: %w", path, err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("解析配置文件 %s 失败: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate 检查配置中互相关联的字段。
func (c Config) Validate() error {
	if c.ControlInterval < c.StepLength {
		return fmt.Errorf("control_interval (%v) 不能小于 step_length (%v)", c.ControlInterval, c.StepLength)
	}
	if c.BatchSize <= 0 || c.ReplayCapacity < c.BatchSize {
		return fmt.Errorf("replay_capacity (%d) 必须不小于 batch_size (%d)", c.ReplayCapacity, c.BatchSize)
	}
	if c.Exploration.End <= 0 && c.Exploration.Kind != "" {
		return fmt.Errorf("exploration.end 必须大于 0 (训练期间探索率不允许衰减到 0)")
	}
	if len(c.Intersections) == 0 {
		return fmt.Errorf("至少需要配置一个受控路口")
	}
	for _, ic := range c.Intersections {
		if ic.SignalID == "" || len(ic.Lanes) == 0 {
			return fmt.Errorf("路口配置缺少 signal_id 或 lanes: %+v", ic)
		}
	}
	return nil
}
