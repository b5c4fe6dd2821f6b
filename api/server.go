// C:/workspace/go/Traffic-Controller-Go/api/server.go
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"Traffic-Controller/collector"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Status 是外部看板轮询的运行状态。
type Status struct {
	State     string  `json:"state"`
	Episode   int     `json:"episode"`
	SimTime   float64 `json:"sim_time"`
	Decisions int     `json:"decisions"`
}

// Server 通过 HTTP/WebSocket 把最新的 PerformanceReport 和运行状态
// 暴露给外部看板。控制核心本身不依赖这个包。
type Server struct {
	collector    *collector.DataCollector
	statusFn     func() Status
	clients      map[*websocket.Conn]bool
	clientsMutex sync.Mutex
}

// NewServer 构建 API 服务器。statusFn 由调用方提供，返回当前运行状态。
func NewServer(dc *collector.DataCollector, statusFn func() Status) *Server {
	return &Server{
		collector: dc,
		statusFn:  statusFn,
		clients:   make(map[*websocket.Conn]bool),
	}
}

// Start 启动 HTTP 服务并阻塞。应在独立的 goroutine 中运行。
func (s *Server) Start(addr string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/report", s.handleReport)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/ws", s.handleWs)

	go s.broadcastStatus()

	log.Printf("🌐 API 服务已启动: %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("❌ API 服务启动失败: %v", err)
	}
}

// handleReport 返回最近一个 Episode 的 PerformanceReport。
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	latest := s.collector.Latest()
	if latest == nil {
		http.Error(w, `{"error":"no episode finished yet"}`, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(latest)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.statusFn())
}

func (s *Server) handleWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("⚠️  WebSocket 升级失败: %v", err)
		return
	}
	s.clientsMutex.Lock()
	s.clients[conn] = true
	s.clientsMutex.Unlock()
}

// broadcastStatus 定期把运行状态推送给所有 WebSocket 客户端。
func (s *Server) broadcastStatus() {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		payload, err := json.Marshal(s.statusFn())
		if err != nil {
			continue
		}
		s.clientsMutex.Lock()
		for conn := range s.clients {
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				conn.Close()
				delete(s.clients, conn)
			}
		}
		s.clientsMutex.Unlock()
	}
}
