package ws

import (
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/AyushSriv06/codesync2/internal/config"
	"github.com/AyushSriv06/codesync2/internal/events"
	"github.com/AyushSriv06/codesync2/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	sendQueueSize = 256
	pongWait      = 60 * time.Second
	pingPeriod    = 30 * time.Second
	writeWait     = 10 * time.Second
)

// Dispatcher 是 ws 层需要的协调服务入口，由 service.Supervisor 实现。
type Dispatcher interface {
	Connect(connID string)
	Handle(connID string, ev events.Inbound)
	Reject(connID string, err error)
	Disconnect(connID string)
}

type Client struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	limiter *rate.Limiter
}

func newClient(id string, conn *websocket.Conn, cfg config.Config) *Client {
	return &Client{
		id:      id,
		conn:    conn,
		send:    make(chan []byte, sendQueueSize),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(rate.Limit(cfg.WsEventsPerSecond), cfg.WsEventBurst),
	}
}

func (c *Client) enqueue(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		log.Warn().Str("conn_id", c.id).Msg("send queue full, dropping connection")
		c.kick()
		return false
	}
}

// kick 通知写循环发送关闭帧并断开，可重复调用。
func (c *Client) kick() {
	c.once.Do(func() { close(c.done) })
}

// Serve 升级 WebSocket 连接，分配连接 id，并把入站帧交给 Dispatcher。
// 连接 id 由服务端分配；身份认证由上游完成，显示名随 join 事件提交。
func Serve(h *Hub, d Dispatcher, cfg config.Config) gin.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn().Err(err).Str("remote", c.Request.RemoteAddr).Msg("websocket upgrade")
			return
		}
		client := newClient(uuid.NewString(), conn, cfg)
		h.register(client)
		d.Connect(client.id)
		log.Info().Str("conn_id", client.id).Str("remote", c.Request.RemoteAddr).Msg("client connected")

		go client.writePump()
		client.readPump(h, d, cfg.WsMaxMessageBytes)
	}
}

func (c *Client) readPump(h *Hub, d Dispatcher, maxBytes int64) {
	defer func() {
		d.Disconnect(c.id)
		h.unregister(c)
		c.kick()
		_ = c.conn.Close()
		log.Info().Str("conn_id", c.id).Msg("client disconnected")
	}()
	c.conn.SetReadLimit(maxBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("conn_id", c.id).Msg("read")
			}
			return
		}
		// 每帧先扣令牌，解码失败的帧同样计入限流。
		allowed := c.limiter.Allow()
		ev, err := events.Decode(data)
		if !allowed {
			metrics.EventsThrottledTotal.Inc()
			// 光标事件高频且可丢，静默丢弃；其它事件回复错误以便客户端重试。
			if err != nil || ev.Kind() != events.KindCursorUpdate {
				d.Reject(c.id, fmt.Errorf("%w: rate limit exceeded", events.ErrInvalidEvent))
			}
			continue
		}
		if err != nil {
			d.Reject(c.id, err)
			continue
		}
		d.Handle(c.id, ev)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// originChecker 允许列表中的来源；列表含 "*" 时放行全部，无 Origin 头的非浏览器客户端始终放行。
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if set[origin] {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && u.Host == r.Host
	}
}
