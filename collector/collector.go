// C:/workspace/go/Traffic-Controller-Go/collector/collector.go
package collector

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/xuri/excelize/v2"
)

// DataCollector 把每个 Episode 的最终指标写入 Excel 工作簿，
// 并在固定路径上维护一份最新报告的 JSON 快照供外部看板轮询。
type DataCollector struct {
	mu           sync.Mutex
	filename     string
	snapshotPath string
	file         *excelize.File
	episodeRow   int
	latest       *PerformanceReport
}

const episodeSheet = "Episode_Stats"

// NewDataCollector 创建一个新的数据收集器实例。
func NewDataCollector(reportDir, snapshotPath string) *DataCollector {
	// 带时间戳的工作簿文件名，放在 report 目录下
	baseFilename := fmt.Sprintf("training_results_%s.xlsx", time.Now().Format("20060102_150405"))
	fullPath := filepath.Join(reportDir, baseFilename)

	f := excelize.NewFile()
	f.NewSheet(episodeSheet)
	f.DeleteSheet("Sheet1")

	headers := []interface{}{
		"Episode", "Run ID", "决策次数", "处理车辆总数", "平均排队长度",
		"累计奖励", "效率得分", "Episode 时长 (s)", "发散跳过次数",
	}
	_ = f.SetSheetRow(episodeSheet, "A1", &headers)

	return &DataCollector{
		filename:     fullPath,
		snapshotPath: snapshotPath,
		file:         f,
		episodeRow:   2,
	}
}

// AppendEpisode 追加一个 Episode 的最终报告，并刷新 JSON 快照。
func (dc *DataCollector) AppendEpisode(r *PerformanceReport) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	row := []interface{}{
		r.Episode, r.RunID, r.DecisionsMade, r.TotalVehiclesProcessed,
		r.AverageQueueLength, r.TotalReward, r.EfficiencyScore,
		r.EpisodeDuration, r.TrainingDivergences,
	}
	_ = dc.file.SetSheetRow(episodeSheet, fmt.Sprintf("A%d", dc.episodeRow), &row)
	dc.episodeRow++
	dc.latest = r

	if err := dc.writeSnapshotLocked(); err != nil {
		log.Printf("❌ 写入报告快照失败: %v", err)
	}
}

// Latest 返回最近一个 Episode 的报告 (可能为 nil)。
func (dc *DataCollector) Latest() *PerformanceReport {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return dc.latest
}

// writeSnapshotLocked 原子化地更新 JSON 快照: 先写临时文件再重命名。
func (dc *DataCollector) writeSnapshotLocked() error {
	if dc.snapshotPath == "" || dc.latest == nil {
		return nil
	}
	dir := filepath.Dir(dc.snapshotPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(dc.latest, "", "  ")
	if err != nil {
		return err
	}
	tmp := dc.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, dc.snapshotPath)
}

// SaveFinalReport 确保目录存在并保存 Excel 工作簿。
func (dc *DataCollector) SaveFinalReport() {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	reportDir := filepath.Dir(dc.filename)
	if err := os.MkdirAll(reportDir, 0o755); err != nil {
		log.Printf("❌ 错误: 无法创建报告目录 '%s': %v", reportDir, err)
	}
	if err := dc.file.SaveAs(dc.filename); err != nil {
		log.Printf("❌ 错误: 无法保存 Excel 文件: %v", err)
	} else {
		log.Printf("✅ 训练数据已成功保存到 %s", dc.filename)
	}
	if err := dc.file.Close(); err != nil {
		log.Printf("❌ 关闭 Excel 文件时出错: %v", err)
	}
}
