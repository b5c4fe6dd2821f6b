// C:/workspace/go/Traffic-Controller-Go/agent/store.go
package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// modelSchemaVersion 模型文件的结构版本号，结构变化时必须递增。
const modelSchemaVersion = 1

// ModelFormatError 表示保存的模型与当前程序的结构不兼容
// (例如状态向量长度与当前特征提取器的输出长度不一致)。
// 加载被中止，内存中的旧模型保持不变。
type ModelFormatError struct {
	Path   string
	Reason string
}

func (e *ModelFormatError) Error() string {
	return fmt.Sprintf("agent: 模型文件 %s 格式不兼容: %s", e.Path, e.Reason)
}

// ModelMeta 训练元数据，与参数一起进入模型文件。
type ModelMeta struct {
	EpisodeCount    int     `json:"episode_count"`
	ExplorationRate float64 `json:"exploration_rate"`
}

// modelFile 模型文件的完整结构: 策略参数、目标参数、优化器状态、元数据。
type modelFile struct {
	SchemaVersion int        `json:"schema_version"`
	StateDim      int        `json:"state_dim"`
	ActionCount   int        `json:"action_count"`
	Meta          ModelMeta  `json:"meta"`
	Policy        *QNetwork  `json:"policy"`
	Target        *QNetwork  `json:"target"`
	Optimizer     *TensorSet `json:"optimizer"`
}

// ModelStore 负责估值器及训练状态的序列化与恢复。
type ModelStore struct {
	Estimator *ValueEstimator
	Trainer   *Trainer
}

// Save 原子化地写出模型文件: 先写同目录下的临时文件再重命名，
// 部分写入永远不会破坏已有的有效文件。
func (st *ModelStore) Save(path string, meta ModelMeta) error {
	e := st.Estimator
	e.mu.RLock()
	mf := modelFile{
		SchemaVersion: modelSchemaVersion,
		StateDim:      e.policy.InputDim,
		ActionCount:   e.policy.OutputDim,
		Meta:          meta,
		Policy:        e.policy.Clone(),
		Target:        e.target.Clone(),
		Optimizer:     st.Trainer.velocity,
	}
	data, err := json.MarshalIndent(&mf, "", "  ")
	e.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("agent: 序列化模型失败: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("agent: 创建模型目录 %s 失败: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("agent: 创建临时文件失败: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("agent: 写入模型失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("agent: 关闭临时文件失败: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("agent: 重命名模型文件失败: %w", err)
	}
	return nil
}

// Load 从文件恢复估值器状态。结构不兼容时返回 ModelFormatError，
// 并且在完整校验通过之前不触碰内存中的现有参数。
// 恢复后对相同状态与相同探索率的动作选择与保存前一致。
func (st *ModelStore) Load(path string) (ModelMeta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ModelMeta{}, fmt.Errorf("agent: 读取模型文件 %s 失败: %w", path, err)
	}
	var mf modelFile
	if err := json.Unmarshal(data, &mf); err != nil {
		return ModelMeta{}, &ModelFormatError{Path: path, Reason: fmt.Sprintf("JSON 解析失败: %v", err)}
	}
	if mf.SchemaVersion != modelSchemaVersion {
		return ModelMeta{}, &ModelFormatError{Path: path,
			Reason: fmt.Sprintf("结构版本 %d 与当前版本 %d 不一致", mf.SchemaVersion, modelSchemaVersion)}
	}

	e := st.Estimator
	if mf.StateDim != e.policy.InputDim {
		return ModelMeta{}, &ModelFormatError{Path: path,
			Reason: fmt.Sprintf("状态维度 %d 与当前特征提取器输出 %d 不一致", mf.StateDim, e.policy.InputDim)}
	}
	if mf.ActionCount != e.policy.OutputDim {
		return ModelMeta{}, &ModelFormatError{Path: path,
			Reason: fmt.Sprintf("动作数 %d 与当前动作集合 %d 不一致", mf.ActionCount, e.policy.OutputDim)}
	}
	if mf.Policy == nil || mf.Target == nil || mf.Optimizer == nil {
		return ModelMeta{}, &ModelFormatError{Path: path, Reason: "缺少 policy/target/optimizer 字段"}
	}
	if !e.policy.sameShape(mf.Policy) || !e.policy.sameShape(mf.Target) {
		return ModelMeta{}, &ModelFormatError{Path: path, Reason: "网络结构与当前配置不一致"}
	}
	if !mf.Policy.wellFormed() || !mf.Target.wellFormed() {
		return ModelMeta{}, &ModelFormatError{Path: path, Reason: "参数张量长度与声明的维度不一致"}
	}
	if !mf.Optimizer.matchesShape(e.policy) {
		return ModelMeta{}, &ModelFormatError{Path: path, Reason: "优化器状态与网络结构不一致"}
	}

	// 校验全部通过后才替换内存中的参数
	e.mu.Lock()
	e.policy.CopyFrom(mf.Policy)
	e.target.CopyFrom(mf.Target)
	e.mu.Unlock()
	st.Trainer.velocity = mf.Optimizer

	return mf.Meta, nil
}
