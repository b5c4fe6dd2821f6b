// C:/workspace/go/Traffic-Controller-Go/signal/reward.go
package signal

import (
	"Traffic-Controller/config"
)

// Measurement 是决策时刻的聚合交通度量，奖励是它的确定性函数。
type Measurement struct {
	QueueNorm float64 // 所有车道归一化排队长度的均值, [0,1]
	SpeedNorm float64 // 归一化平均速度, [0,1]
	SimTime   float64 // 采样时刻 (秒)
}

// MeasureFrom 从状态向量得到聚合度量 (复用已归一化的特征，保证可复现)。
func MeasureFrom(v StateVector) Measurement {
	total := 0.0
	for _, q := range v.Queues {
		total += q
	}
	return Measurement{
		QueueNorm: total / float64(len(v.Queues)),
		SpeedNorm: v.AvgSpeed,
	}
}

// Reward 计算两次决策之间的奖励:
//
//	reward = -w.Queue*cur.QueueNorm + w.Throughput*(prev.QueueNorm-cur.QueueNorm) + w.Speed*cur.SpeedNorm
//
// 在仅惩罚排队的配置下 (Throughput=Speed=0)，奖励对排队长度单调非增。
// 权重完全来自配置，没有隐藏的阈值逻辑。
func Reward(w config.RewardWeights, prev, cur Measurement) float64 {
	r := -w.Queue * cur.QueueNorm
	r += w.Throughput * (prev.QueueNorm - cur.QueueNorm)
	r += w.Speed * cur.SpeedNorm
	return r
}
