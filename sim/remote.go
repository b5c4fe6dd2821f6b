// C:/workspace/go/Traffic-Controller-Go/sim/remote.go
package sim

import (
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// RemoteSimulator 通过本地套接字桥接外部仿真进程 (SUMO bridge)。
// 线路格式: 4 字节大端长度头 + msgpack 编码的请求/响应体。
type RemoteSimulator struct {
	addr       string
	network    string // "unix" 或 "tcp"
	conn       net.Conn
	connMutex  sync.Mutex
	stepLength float64
	simTime    float64
	done       bool
}

// 请求/响应报文结构。endpoint 命名与桥接端保持一致。
type bridgeRequest struct {
	Endpoint string         `msgpack:"endpoint"`
	Params   map[string]any `msgpack:"params,omitempty"`
}

type stepResponse struct {
	SimTime float64 `msgpack:"simTime"`
	Done    bool    `msgpack:"done"`
}

type signalStateResponse struct {
	Phase      int     `msgpack:"phase"`
	PhaseCount int     `msgpack:"phase_count"`
	Elapsed    float64 `msgpack:"elapsed"`
	Duration   float64 `msgpack:"duration"`
	Error      string  `msgpack:"error"`
}

type laneStatsResponse struct {
	Lane         string  `msgpack:"lane"`
	VehicleCount int     `msgpack:"count"`
	Queue        int     `msgpack:"queue"`
	MeanSpeed    float64 `msgpack:"speed"`
	Wait         float64 `msgpack:"wait"`
	Error        string  `msgpack:"error"`
}

type vehiclesResponse struct {
	Vehicles []string `msgpack:"vehicles"`
}

type ackResponse struct {
	OK    bool   `msgpack:"ok"`
	Error string `msgpack:"error"`
}

// ConnectRemote 建立到仿真桥的连接。失败时按固定间隔重试，
// 超过 maxRetries 次后返回 ConnectionError。
func ConnectRemote(addr string, stepLength float64, maxRetries int, delay time.Duration) (*RemoteSimulator, error) {
	network := "tcp"
	if strings.HasPrefix(addr, "/") || strings.HasSuffix(addr, ".sock") {
		network = "unix"
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		conn, err := net.Dial(network, addr)
		if err == nil {
			log.Printf("🔌 已连接到仿真桥 %s (%s)", addr, network)
			return &RemoteSimulator{
				addr:       addr,
				network:    network,
				conn:       conn,
				stepLength: stepLength,
			}, nil
		}
		lastErr = err
		log.Printf("⚠️  连接仿真桥 %s 失败 (第 %d/%d 次): %v，%v 后重试...", addr, attempt, maxRetries, err, delay)
		time.Sleep(delay)
	}
	return nil, &ConnectionError{Addr: addr, Attempts: maxRetries, Err: lastErr}
}

// sendMsg 写入一帧: 4 字节大端长度 + 报文体。
func sendMsg(conn net.Conn, payload []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := conn.Write(hdr[:]); err != nil {
		return err
	}
	_, err := conn.Write(payload)
	return err
}

// readMsg 读取一帧。
func readMsg(conn net.Conn) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(conn, hdr[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(hdr[:])
	if length == 0 {
		return nil, nil
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// call 发送一个请求并把响应解码到 out。同一连接上的请求串行化。
func (r *RemoteSimulator) call(endpoint string, params map[string]any, out any) error {
	r.connMutex.Lock()
	defer r.connMutex.Unlock()

	if r.conn == nil {
		return fmt.Errorf("sim: 连接已关闭")
	}

	payload, err := msgpack.Marshal(bridgeRequest{Endpoint: endpoint, Params: params})
	if err != nil {
		return fmt.Errorf("sim: 编码 %s 请求失败: %w", endpoint, err)
	}
	if err := sendMsg(r.conn, payload); err != nil {
		return fmt.Errorf("sim: 发送 %s 请求失败: %w", endpoint, err)
	}
	respBytes, err := readMsg(r.conn)
	if err != nil {
		return fmt.Errorf("sim: 读取 %s 响应失败: %w", endpoint, err)
	}
	if out == nil {
		return nil
	}
	if err := msgpack.Unmarshal(respBytes, out); err != nil {
		return fmt.Errorf("sim: 解析 %s 响应失败: %w", endpoint, err)
	}
	return nil
}

// Step 请求桥接端推进一个固定时间增量。
func (r *RemoteSimulator) Step() error {
	var resp stepResponse
	if err := r.call("step", nil, &resp); err != nil {
		return err
	}
	// simTime/done 会被状态接口的 goroutine 并发读取
	r.connMutex.Lock()
	r.simTime = resp.SimTime
	r.done = resp.Done
	r.connMutex.Unlock()
	return nil
}

func (r *RemoteSimulator) SimTime() float64 {
	r.connMutex.Lock()
	defer r.connMutex.Unlock()
	return r.simTime
}

func (r *RemoteSimulator) StepLength() float64 { return r.stepLength }

func (r *RemoteSimulator) Done() bool {
	r.connMutex.Lock()
	defer r.connMutex.Unlock()
	return r.done
}

func (r *RemoteSimulator) GetSignalState(signalID string) (SignalState, error) {
	var resp signalStateResponse
	err := r.call("signal_state", map[string]any{"signal_id": signalID}, &resp)
	if err != nil {
		return SignalState{}, err
	}
	if resp.Error != "" {
		return SignalState{}, fmt.Errorf("sim: 信号灯 %s: %s", signalID, resp.Error)
	}
	return SignalState{
		Phase:      resp.Phase,
		PhaseCount: resp.PhaseCount,
		Elapsed:    resp.Elapsed,
		Duration:   resp.Duration,
	}, nil
}

func (r *RemoteSimulator) GetQueueLength(lane string) (int, error) {
	stats, err := r.GetLaneStats(lane)
	if err != nil {
		return 0, err
	}
	return stats.QueueLength, nil
}

func (r *RemoteSimulator) GetLaneStats(lane string) (LaneStats, error) {
	var resp laneStatsResponse
	err := r.call("evaluate_lane", map[string]any{"lane": lane}, &resp)
	if err != nil {
		return LaneStats{}, err
	}
	if resp.Error != "" {
		return LaneStats{}, fmt.Errorf("sim: 车道 %s: %s", lane, resp.Error)
	}
	return LaneStats{
		VehicleCount: resp.VehicleCount,
		QueueLength:  resp.Queue,
		MeanSpeed:    resp.MeanSpeed,
		WaitTime:     resp.Wait,
	}, nil
}

func (r *RemoteSimulator) GetVehicleIDs() ([]string, error) {
	var resp vehiclesResponse
	if err := r.call("vehicles", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Vehicles, nil
}

func (r *RemoteSimulator) SetPhase(signalID string, phase int) error {
	var resp ackResponse
	err := r.call("set_phase", map[string]any{"signal_id": signalID, "phase": phase}, &resp)
	if err != nil {
		return err
	}
	if resp.Error != "" {
		return fmt.Errorf("sim: set_phase %s: %s", signalID, resp.Error)
	}
	return nil
}

func (r *RemoteSimulator) SetPhaseDuration(signalID string, seconds float64) error {
	var resp ackResponse
	err := r.call("set_phase_duration", map[string]any{"signal_id": signalID, "duration": seconds}, &resp)
	if err != nil {
		return err
	}
	if resp.Error != "" {
		return fmt.Errorf("sim: set_phase_duration %s: %s", signalID, resp.Error)
	}
	return nil
}

// Close 通知桥接端停止并关闭连接。即使 stop 请求失败也会关闭本地连接。
func (r *RemoteSimulator) Close() error {
	r.connMutex.Lock()
	defer r.connMutex.Unlock()

	if r.conn == nil {
		return nil
	}
	// stop 与其它 endpoint 一样是请求/响应对: 等到确认帧再关闭连接,
	// 保证桥接端在连接消失之前已经收到停止请求。
	payload, _ := msgpack.Marshal(bridgeRequest{Endpoint: "stop"})
	if err := sendMsg(r.conn, payload); err != nil {
		log.Printf("⚠️  发送 stop 请求失败: %v", err)
	} else if _, err := readMsg(r.conn); err != nil {
		log.Printf("⚠️  读取 stop 确认失败: %v", err)
	}
	err := r.conn.Close()
	r.conn = nil
	return err
}
