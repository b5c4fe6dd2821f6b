// C:/workspace/go/Traffic-Controller-Go/agent/network.go
package agent

import (
	"fmt"
	"math"
	"math/rand"
)

// QNetwork 是一个两隐藏层的全连接价值网络: 状态 → 每个动作的估值。
// 权重以 float64 切片直接持有，序列化时整体写入 JSON。
type QNetwork struct {
	InputDim  int `json:"input_dim"`
	HiddenDim int `json:"hidden_dim"`
	OutputDim int `json:"output_dim"`

	W1 [][]float64 `json:"w1"` // [hidden][input]
	B1 []float64   `json:"b1"`
	W2 [][]float64 `json:"w2"` // [hidden][hidden]
	B2 []float64   `json:"b2"`
	W3 [][]float64 `json:"w3"` // [output][hidden]
	B3 []float64   `json:"b3"`
}

// TensorSet 与网络权重同形的一组浮点张量，用作梯度与动量缓冲。
// 动量缓冲是优化器的内部状态，随模型一起序列化。
type TensorSet struct {
	W1 [][]float64 `json:"w1"`
	B1 []float64   `json:"b1"`
	W2 [][]float64 `json:"w2"`
	B2 []float64   `json:"b2"`
	W3 [][]float64 `json:"w3"`
	B3 []float64   `json:"b3"`
}

// NewQNetwork 按 He 初始化构建网络，随机性完全来自传入的 rng。
func NewQNetwork(inputDim, hiddenDim, outputDim int, rng *rand.Rand) *QNetwork {
	n := &QNetwork{InputDim: inputDim, HiddenDim: hiddenDim, OutputDim: outputDim}
	n.W1 = randMatrix(hiddenDim, inputDim, rng)
	n.B1 = make([]float64, hiddenDim)
	n.W2 = randMatrix(hiddenDim, hiddenDim, rng)
	n.B2 = make([]float64, hiddenDim)
	n.W3 = randMatrix(outputDim, hiddenDim, rng)
	n.B3 = make([]float64, outputDim)
	return n
}

// NewTensorSet 构建一组与给定网络同形的全零张量。
func NewTensorSet(n *QNetwork) *TensorSet {
	return &TensorSet{
		W1: zeroMatrix(n.HiddenDim, n.InputDim),
		B1: make([]float64, n.HiddenDim),
		W2: zeroMatrix(n.HiddenDim, n.HiddenDim),
		B2: make([]float64, n.HiddenDim),
		W3: zeroMatrix(n.OutputDim, n.HiddenDim),
		B3: make([]float64, n.OutputDim),
	}
}

func randMatrix(rows, cols int, rng *rand.Rand) [][]float64 {
	scale := math.Sqrt(2.0 / float64(cols))
	m := make([][]float64, rows)
	for i := range m {
		m[i] = make([]float64, cols)
		for j := range m[i] {
			m[i][j] = rng.NormFloat64() * scale
		}
	}
	return m
}

func zeroMatrix(rows, cols int) [][]float64 {
	m := make([][]float64, rows)
	for i := range m {
		m[i] = make([]float64, cols)
	}
	return m
}

func relu(x float64) float64 {
	if x > 0 {
		return x
	}
	return 0
}

func reluGrad(x float64) float64 {
	if x > 0 {
		return 1
	}
	return 0
}

// Forward 对单个状态做前向传播，返回每个动作的估值。
// 这是当前参数的纯函数，不修改任何内部状态。
func (n *QNetwork) Forward(x []float64) []float64 {
	q, _, _, _, _ := n.forwardFull(x)
	return q
}

// forwardFull 前向传播并保留中间激活值，供反向传播使用。
func (n *QNetwork) forwardFull(x []float64) (q, z1, a1, z2, a2 []float64) {
	z1 = make([]float64, n.HiddenDim)
	a1 = make([]float64, n.HiddenDim)
	for i := 0; i < n.HiddenDim; i++ {
		sum := n.B1[i]
		for j := 0; j < n.InputDim; j++ {
			sum += n.W1[i][j] * x[j]
		}
		z1[i] = sum
		a1[i] = relu(sum)
	}

	z2 = make([]float64, n.HiddenDim)
	a2 = make([]float64, n.HiddenDim)
	for i := 0; i < n.HiddenDim; i++ {
		sum := n.B2[i]
		for j := 0; j < n.HiddenDim; j++ {
			sum += n.W2[i][j] * a1[j]
		}
		z2[i] = sum
		a2[i] = relu(sum)
	}

	q = make([]float64, n.OutputDim)
	for i := 0; i < n.OutputDim; i++ {
		sum := n.B3[i]
		for j := 0; j < n.HiddenDim; j++ {
			sum += n.W3[i][j] * a2[j]
		}
		q[i] = sum
	}
	return q, z1, a1, z2, a2
}

// BatchGradients 对一批 (状态, 动作, 目标值) 计算均方误差损失和批平均梯度。
// 只有被选中动作的估值参与损失，批内其余动作的估值不受本步影响 (掩码更新)。
// 不修改网络参数，调用方在确认损失有限后再应用梯度。
func (n *QNetwork) BatchGradients(states [][]float64, actions []int, targets []float64) (*TensorSet, float64, error) {
	if len(states) == 0 || len(states) != len(actions) || len(states) != len(targets) {
		return nil, 0, fmt.Errorf("agent: 批大小不一致: states=%d actions=%d targets=%d",
			len(states), len(actions), len(targets))
	}

	grads := NewTensorSet(n)
	loss := 0.0
	scale := 1.0 / float64(len(states))

	for s, x := range states {
		a := actions[s]
		if a < 0 || a >= n.OutputDim {
			return nil, 0, fmt.Errorf("agent: 非法动作编号 %d", a)
		}

		q, z1, a1, z2, a2 := n.forwardFull(x)
		delta := q[a] - targets[s]
		loss += delta * delta * scale

		// 输出层: 只有被选动作的行有梯度
		dOut := delta * scale
		for j := 0; j < n.HiddenDim; j++ {
			grads.W3[a][j] += dOut * a2[j]
		}
		grads.B3[a] += dOut

		// 第二隐藏层
		dz2 := make([]float64, n.HiddenDim)
		for j := 0; j < n.HiddenDim; j++ {
			dz2[j] = dOut * n.W3[a][j] * reluGrad(z2[j])
		}
		for i := 0; i < n.HiddenDim; i++ {
			if dz2[i] == 0 {
				continue
			}
			for j := 0; j < n.HiddenDim; j++ {
				grads.W2[i][j] += dz2[i] * a1[j]
			}
			grads.B2[i] += dz2[i]
		}

		// 第一隐藏层
		dz1 := make([]float64, n.HiddenDim)
		for j := 0; j < n.HiddenDim; j++ {
			sum := 0.0
			for i := 0; i < n.HiddenDim; i++ {
				sum += dz2[i] * n.W2[i][j]
			}
			dz1[j] = sum * reluGrad(z1[j])
		}
		for i := 0; i < n.HiddenDim; i++ {
			if dz1[i] == 0 {
				continue
			}
			for j := 0; j < n.InputDim; j++ {
				grads.W1[i][j] += dz1[i] * x[j]
			}
			grads.B1[i] += dz1[i]
		}
	}

	return grads, loss, nil
}

// ApplyGradients 按带动量的 SGD 应用一组梯度:
//
//	v = momentum*v - lr*g ; w = w + v
//
// 应用前按 L2 范数裁剪整组梯度，防止梯度爆炸。
func (n *QNetwork) ApplyGradients(grads, velocity *TensorSet, lr, momentum, clipNorm float64) {
	if clipNorm > 0 {
		clipTensorSet(grads, clipNorm)
	}
	applyLayer2(n.W1, grads.W1, velocity.W1, lr, momentum)
	applyLayer1(n.B1, grads.B1, velocity.B1, lr, momentum)
	applyLayer2(n.W2, grads.W2, velocity.W2, lr, momentum)
	applyLayer1(n.B2, grads.B2, velocity.B2, lr, momentum)
	applyLayer2(n.W3, grads.W3, velocity.W3, lr, momentum)
	applyLayer1(n.B3, grads.B3, velocity.B3, lr, momentum)
}

func applyLayer2(w, g, v [][]float64, lr, momentum float64) {
	for i := range w {
		for j := range w[i] {
			v[i][j] = momentum*v[i][j] - lr*g[i][j]
			w[i][j] += v[i][j]
		}
	}
}

func applyLayer1(w, g, v []float64, lr, momentum float64) {
	for i := range w {
		v[i] = momentum*v[i] - lr*g[i]
		w[i] += v[i]
	}
}

// clipTensorSet 对整组梯度做全局 L2 范数裁剪。
func clipTensorSet(t *TensorSet, maxNorm float64) {
	norm := 0.0
	t.visit(func(x float64) float64 { norm += x * x; return x })
	norm = math.Sqrt(norm)
	if norm <= maxNorm || norm == 0 {
		return
	}
	scale := maxNorm / norm
	t.visit(func(x float64) float64 { return x * scale })
}

func (t *TensorSet) visit(fn func(float64) float64) {
	for _, m := range [][][]float64{t.W1, t.W2, t.W3} {
		for i := range m {
			for j := range m[i] {
				m[i][j] = fn(m[i][j])
			}
		}
	}
	for _, v := range [][]float64{t.B1, t.B2, t.B3} {
		for i := range v {
			v[i] = fn(v[i])
		}
	}
}

// CopyFrom 把 other 的参数整体拷贝到当前网络 (目标网络同步)。
func (n *QNetwork) CopyFrom(other *QNetwork) {
	copyMatrix(n.W1, other.W1)
	copy(n.B1, other.B1)
	copyMatrix(n.W2, other.W2)
	copy(n.B2, other.B2)
	copyMatrix(n.W3, other.W3)
	copy(n.B3, other.B3)
}

// Clone 返回一个参数独立的完整副本。
func (n *QNetwork) Clone() *QNetwork {
	c := &QNetwork{InputDim: n.InputDim, HiddenDim: n.HiddenDim, OutputDim: n.OutputDim}
	c.W1 = cloneMatrix(n.W1)
	c.B1 = append([]float64(nil), n.B1...)
	c.W2 = cloneMatrix(n.W2)
	c.B2 = append([]float64(nil), n.B2...)
	c.W3 = cloneMatrix(n.W3)
	c.B3 = append([]float64(nil), n.B3...)
	return c
}

func copyMatrix(dst, src [][]float64) {
	for i := range dst {
		copy(dst[i], src[i])
	}
}

func cloneMatrix(src [][]float64) [][]float64 {
	m := make([][]float64, len(src))
	for i := range src {
		m[i] = append([]float64(nil), src[i]...)
	}
	return m
}

// sameShape 检查两个网络的维度是否一致 (模型加载时的结构校验)。
func (n *QNetwork) sameShape(other *QNetwork) bool {
	return n.InputDim == other.InputDim &&
		n.HiddenDim == other.HiddenDim &&
		n.OutputDim == other.OutputDim
}

// wellFormed 检查参数张量的实际长度与声明的维度一致。
// 反序列化得到的网络必须先通过它，才能作为拷贝来源。
func (n *QNetwork) wellFormed() bool {
	if len(n.W1) != n.HiddenDim || len(n.B1) != n.HiddenDim ||
		len(n.W2) != n.HiddenDim || len(n.B2) != n.HiddenDim ||
		len(n.W3) != n.OutputDim || len(n.B3) != n.OutputDim {
		return false
	}
	for _, row := range n.W1 {
		if len(row) != n.InputDim {
			return false
		}
	}
	for _, row := range n.W2 {
		if len(row) != n.HiddenDim {
			return false
		}
	}
	for _, row := range n.W3 {
		if len(row) != n.HiddenDim {
			return false
		}
	}
	return true
}

// matchesShape 检查一组优化器张量与给定网络的维度一致。
func (t *TensorSet) matchesShape(n *QNetwork) bool {
	if len(t.W1) != n.HiddenDim || len(t.B1) != n.HiddenDim ||
		len(t.W2) != n.HiddenDim || len(t.B2) != n.HiddenDim ||
		len(t.W3) != n.OutputDim || len(t.B3) != n.OutputDim {
		return false
	}
	for _, row := range t.W1 {
		if len(row) != n.InputDim {
			return false
		}
	}
	for _, row := range t.W2 {
		if len(row) != n.HiddenDim {
			return false
		}
	}
	for _, row := range t.W3 {
		if len(row) != n.HiddenDim {
			return false
		}
	}
	return true
}
