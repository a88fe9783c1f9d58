package ws

import (
	"context"
	"sync"
	"time"

	"github.com/AyushSriv06/codesync2/internal/metrics"
)

// Hub 按连接 id 索引所有在线客户端，是 Router 的出站发送端。
// 房间广播组由 Router 通过房间花名册决定，Hub 只负责把消息投递到单个连接。
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func NewHub() *Hub { return &Hub{clients: make(map[string]*Client)} }

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c.id] = c
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WsConnections.Set(float64(n))
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if cur, ok := h.clients[c.id]; ok && cur == c {
		delete(h.clients, c.id)
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WsConnections.Set(float64(n))
}

// Send 非阻塞地把消息放入连接的发送队列。队列已满的慢连接会被踢下线。
func (h *Hub) Send(connID string, payload []byte) bool {
	h.mu.RLock()
	c := h.clients[connID]
	h.mu.RUnlock()
	if c == nil {
		return false
	}
	return c.enqueue(payload)
}

// Online 返回在线连接数，供健康检查复用。
func (h *Hub) Online() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll 关闭所有连接，各连接的读循环退出后会走正常的断开流程。
func (h *Hub) CloseAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		c.kick()
	}
}

// Wait 等待所有连接完成断开，或 ctx 结束。
func (h *Hub) Wait(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for h.Online() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
