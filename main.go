// C:/workspace/go/Traffic-Controller-Go/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	ossignal "os/signal"
	"sync"
	"syscall"

	"Traffic-Controller/agent"
	"Traffic-Controller/api"
	"Traffic-Controller/collector"
	"Traffic-Controller/config"
	"Traffic-Controller/control"
	"Traffic-Controller/signal"
	"Traffic-Controller/sim"
)

func main() {
	var (
		configPath = flag.String("config", "", "YAML 配置文件路径 (为空时使用默认配置)")
		evaluate   = flag.Bool("evaluate", false, "评估模式: 探索率为 0 且不更新参数")
		episodes   = flag.Int("episodes", 50, "要运行的 Episode 数量")
		modelPath  = flag.String("model", "", "模型文件路径 (覆盖配置中的 model_path)")
	)
	flag.Parse()

	log.Println("=============================================")
	log.Println("====  Adaptive Traffic Signal Controller  ====")
	log.Println("=============================================")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ 加载配置失败: %v", err)
	}
	if *modelPath != "" {
		cfg.ModelPath = *modelPath
	}
	log.Printf("加载配置: 控制间隔 %vs, 步长 %vs, 折扣因子 %v, 回放容量 %d, 批大小 %d",
		cfg.ControlInterval, cfg.StepLength, cfg.DiscountFactor, cfg.ReplayCapacity, cfg.BatchSize)
	log.Printf("加载配置: 奖励权重 -> queue=%v throughput=%v speed=%v",
		cfg.Reward.Queue, cfg.Reward.Throughput, cfg.Reward.Speed)

	// --- 1. 可选的流量描述 (视频分析协作方提供，核心只消费不生产) ---
	var flow *sim.FlowDescription
	if cfg.FlowFile != "" {
		flow, err = sim.LoadFlowDescription(cfg.FlowFile)
		if err != nil {
			log.Fatalf("❌ 加载流量描述失败: %v", err)
		}
		log.Printf("🎥 已加载流量描述 (%s), 来源: %s", cfg.FlowFile, flow.Source)
	}

	// --- 2. 构建各决策范围的 agent (跨 Episode 持久) ---
	agents, stores := buildAgents(cfg)
	schedule := agent.NewExplorationSchedule(cfg.Exploration)

	startEpisode := 0
	bestScore := 0.0
	haveBest := false
	if meta, ok := tryLoadModels(stores, cfg.ModelPath, *evaluate); ok {
		startEpisode = meta.EpisodeCount
		log.Printf("📦 已恢复模型: episode=%d, exploration=%v", meta.EpisodeCount, meta.ExplorationRate)
	}

	// --- 3. 数据收集器与 API 服务 ---
	dataCollector := collector.NewDataCollector(cfg.ReportDir, cfg.SnapshotPath)

	var statusMu sync.Mutex
	var curLoop *control.ControlLoop
	var curSim sim.Simulator
	var curEpisode int
	statusFn := func() api.Status {
		statusMu.Lock()
		defer statusMu.Unlock()
		if curLoop == nil {
			return api.Status{State: control.StateIdle.String()}
		}
		return api.Status{
			State:     curLoop.State().String(),
			Episode:   curEpisode,
			SimTime:   curSim.SimTime(),
			Decisions: curLoop.Tracker().Decisions(),
		}
	}
	apiServer := api.NewServer(dataCollector, statusFn)
	go apiServer.Start(cfg.APIAddr)

	// --- 4. 外部停止信号: 干净地结束当前 Episode 而不是丢在半步中间 ---
	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- 5. Episode 主循环 ---
	for ep := startEpisode; ep < startEpisode+*episodes; ep++ {
		if ctx.Err() != nil {
			break
		}

		s, err := buildSimulator(cfg, flow, ep)
		if err != nil {
			// 仿真器在限定重试后仍不可达，对本次运行是致命的
			log.Fatalf("❌ %v", err)
		}

		epsilon := 0.0
		if !*evaluate {
			epsilon = schedule.Rate(ep)
		}
		for _, ag := range agents {
			ag.Epsilon = epsilon
			ag.Training = !*evaluate
		}

		executor := &signal.Executor{
			Sim:      s,
			ExtendBy: cfg.ExtendBy,
			MaxGreen: cfg.MaxGreen,
			Profile:  cfg.ProfileDurations,
		}
		loop := control.NewControlLoop(cfg, s, executor, agents, ep)

		statusMu.Lock()
		curLoop, curSim, curEpisode = loop, s, ep
		statusMu.Unlock()

		log.Printf("🚦 Episode %d 开始 (探索率 %.3f)...", ep, epsilon)
		report, runErr := loop.Run(ctx)
		dataCollector.AppendEpisode(report)
		log.Printf("📊 Episode %d: 决策 %d 次, 平均排队 %.2f, 处理车辆 %d, 效率得分 %.2f",
			ep, report.DecisionsMade, report.AverageQueueLength,
			report.TotalVehiclesProcessed, report.EfficiencyScore)

		if runErr != nil {
			if errors.Is(runErr, context.Canceled) {
				break // 干净停止: 报告已经落盘
			}
			log.Printf("❌ Episode %d 异常结束: %v", ep, runErr)
			s.Close()
			break
		}
		s.Close()

		// 只在评分超过历史最优时落盘检查点 (唯一的评分函数, 显式权重)
		if !*evaluate {
			score := collector.ScoreReport(report, cfg.Score)
			if !haveBest || score > bestScore {
				meta := agent.ModelMeta{EpisodeCount: ep + 1, ExplorationRate: epsilon}
				if err := saveModels(stores, cfg.ModelPath, meta); err != nil {
					log.Printf("❌ 保存模型失败: %v", err)
				} else {
					log.Printf("💾 新的最优模型已保存 (得分 %.2f)", score)
					bestScore, haveBest = score, true
				}
			}
		}
	}

	dataCollector.SaveFinalReport()
	log.Println("=============================================")
	log.Println("===========  CONTROLLER FINISHED  ===========")
	log.Println("=============================================")
}

// buildAgents 按配置构建决策范围: 统一协同时全部信号灯共用一个 agent，
// 否则每个路口一个独立 agent (独立选择动作，无跨路口同步屏障)。
func buildAgents(cfg config.Config) ([]*control.IntersectionAgent, []*agent.ModelStore) {
	var agents []*control.IntersectionAgent
	var stores []*agent.ModelStore

	build := func(idx int, ic config.IntersectionConfig, signalIDs []string) {
		stateDim := signal.StateDim(len(ic.Lanes))
		est := agent.NewValueEstimator(stateDim, cfg.HiddenDim, signal.ActionCount, cfg.Seed+int64(idx)*1000)
		mem := agent.NewReplayMemory(cfg.ReplayCapacity, cfg.Seed+int64(idx)*1000+1)
		tr := agent.NewTrainer(est, mem, agent.TrainerConfig{
			DiscountFactor:     cfg.DiscountFactor,
			LearningRate:       cfg.LearningRate,
			Momentum:           cfg.Momentum,
			GradClipNorm:       cfg.GradClipNorm,
			BatchSize:          cfg.BatchSize,
			TargetSyncInterval: cfg.TargetSyncInterval,
		})
		agents = append(agents, &control.IntersectionAgent{
			SignalIDs: signalIDs,
			Extractor: &signal.Extractor{
				SignalID:    ic.SignalID,
				Lanes:       ic.Lanes,
				MaxVehicles: cfg.MaxVehiclesPerLane,
				MaxQueue:    cfg.MaxQueuePerLane,
				Freeflow:    cfg.FreeflowSpeed,
				MaxGreen:    cfg.MaxGreen,
			},
			Estimator: est,
			Memory:    mem,
			Trainer:   tr,
		})
		stores = append(stores, &agent.ModelStore{Estimator: est, Trainer: tr})
	}

	if cfg.Coordinated {
		// 统一控制: 参考路口的状态驱动决策，同一动作应用到所有信号灯
		all := make([]string, 0, len(cfg.Intersections))
		for _, ic := range cfg.Intersections {
			all = append(all, ic.SignalID)
		}
		build(0, cfg.Intersections[0], all)
		return agents, stores
	}

	for i, ic := range cfg.Intersections {
		build(i, ic, []string{ic.SignalID})
	}
	return agents, stores
}

// buildSimulator 每个 Episode 构建一个新的仿真会话。
// 配置了 simulator_addr 时桥接外部仿真进程，否则使用内置本地仿真。
func buildSimulator(cfg config.Config, flow *sim.FlowDescription, episode int) (sim.Simulator, error) {
	if cfg.SimulatorAddr != "" {
		return sim.ConnectRemote(cfg.SimulatorAddr, cfg.StepLength, cfg.ConnectRetries, cfg.ConnectDelay)
	}

	configs := make([]sim.LocalIntersectionConfig, 0, len(cfg.Intersections))
	for _, ic := range cfg.Intersections {
		rates := ic.ArrivalRate
		if flow != nil {
			rates = flow.ArrivalRates(ic.SignalID, ic.Lanes)
		}
		configs = append(configs, sim.LocalIntersectionConfig{
			SignalID:     ic.SignalID,
			Lanes:        ic.Lanes,
			PhaseCount:   ic.PhaseCount,
			ArrivalRates: rates,
		})
	}
	// 每个 Episode 用不同的种子，同一 (seed, episode) 组合完全可复现
	return sim.NewLocalSimulator(configs, cfg.StepLength, cfg.FreeflowSpeed, 0, cfg.Seed+int64(episode)), nil
}

// modelPathFor 多 agent 时为每个范围派生独立的文件名。
func modelPathFor(path string, idx, total int) string {
	if total == 1 {
		return path
	}
	return fmt.Sprintf("%s.agent%d", path, idx)
}

func saveModels(stores []*agent.ModelStore, path string, meta agent.ModelMeta) error {
	for i, st := range stores {
		if err := st.Save(modelPathFor(path, i, len(stores)), meta); err != nil {
			return err
		}
	}
	return nil
}

// tryLoadModels 尝试恢复已有模型。评估模式下模型缺失是致命错误；
// 训练模式下缺失则从零开始。格式不兼容时中止加载，内存中的初始模型保持不变。
func tryLoadModels(stores []*agent.ModelStore, path string, evaluate bool) (agent.ModelMeta, bool) {
	var meta agent.ModelMeta
	for i, st := range stores {
		p := modelPathFor(path, i, len(stores))
		m, err := st.Load(p)
		if err != nil {
			if os.IsNotExist(errors.Unwrap(err)) || errors.Is(err, os.ErrNotExist) {
				if evaluate {
					log.Fatalf("❌ 评估模式需要已训练的模型, 但 %s 不存在", p)
				}
				return agent.ModelMeta{}, false
			}
			var fe *agent.ModelFormatError
			if errors.As(err, &fe) {
				log.Fatalf("❌ %v", err)
			}
			log.Fatalf("❌ 加载模型 %s 失败: %v", p, err)
		}
		meta = m
	}
	return meta, true
}
