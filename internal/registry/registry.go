package registry

import "sync"

// Registry 记录每个存活连接当前所在的房间，一个连接同一时间最多属于一个房间。
type Registry struct {
	mu    sync.RWMutex
	conns map[string]string
}

func New() *Registry { return &Registry{conns: make(map[string]string)} }

func (r *Registry) Register(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[connID]; !ok {
		r.conns[connID] = ""
	}
}

func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	delete(r.conns, connID)
	r.mu.Unlock()
}

// CurrentRoom 返回连接当前所在房间；未注册或未入房时 ok 为 false。
func (r *Registry) CurrentRoom(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key, ok := r.conns[connID]
	if !ok || key == "" {
		return "", false
	}
	return key, true
}

// SetCurrentRoom 设置连接所在房间，空 key 表示离开。未注册的连接直接忽略。
func (r *Registry) SetCurrentRoom(connID, roomKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[connID]; !ok {
		return
	}
	r.conns[connID] = roomKey
}

// Connections 返回所有已注册连接 id 的拷贝，供停服时逐个断开。
func (r *Registry) Connections() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.conns))
	for id := range r.conns {
		out = append(out, id)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
