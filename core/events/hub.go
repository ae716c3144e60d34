package events

import (
	"sync"
	"time"

	"AtmoMix/logger"
	"AtmoMix/model"
)

// Kind 通知类型
type Kind string

const (
	// 交叉淡入淡出
	KindStart          Kind = "start"           // 开始过渡
	KindProgress       Kind = "progress"        // 基于时间的进度估计
	KindAlmostComplete Kind = "almost_complete" // 进度到达 1，等待淡变结束
	KindComplete       Kind = "complete"        // 过渡完成
	KindError          Kind = "error"           // 过渡异常

	// 图层状态
	KindStateChanged   Kind = "state_changed"   // 图层状态变更
	KindContextAdded   Kind = "context_added"   // 图层加入展示上下文
	KindContextRemoved Kind = "context_removed" // 图层离开展示上下文

	// 成员持久化
	KindPersisted     Kind = "persisted"      // 成员已写入后端
	KindPersistFailed Kind = "persist_failed" // 写入失败，内存状态保留
)

// Event 通知数据，不同 Kind 使用不同字段
type Event struct {
	Kind         Kind            `json:"type"`
	TransitionID string          `json:"transitionId,omitempty"`
	AtmosphereID int64           `json:"id,omitempty"`
	DurationMs   int64           `json:"durationMs,omitempty"`
	Curve        string          `json:"curve,omitempty"`
	Progress     float64         `json:"progress,omitempty"`
	Message      string          `json:"message,omitempty"`
	AudioID      int64           `json:"audioId,omitempty"`
	Context      string          `json:"context,omitempty"`
	Contexts     []string        `json:"contexts,omitempty"`
	State        *model.PadState `json:"state,omitempty"`
	Count        int             `json:"count,omitempty"`
	Timestamp    int64           `json:"timestamp"`
}

// Listener 订阅回调，在发布者的 goroutine 中同步执行
type Listener func(Event)

// Publisher 只发布不订阅的组件依赖这个接口
type Publisher interface {
	Publish(ev Event)
}

type subscription struct {
	id      uint64
	kinds   map[Kind]struct{} // 为空表示全部
	context string            // 非空表示上下文订阅
	fn      Listener
}

// Hub 通知中心
type Hub struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []*subscription // 保持订阅顺序
}

// NewHub 创建通知中心
func NewHub() *Hub {
	return &Hub{}
}

// Subscribe 订阅指定类型的通知，不传 kinds 时订阅全部
// 返回的函数用于取消订阅，可重复调用
func (h *Hub) Subscribe(fn Listener, kinds ...Kind) func() {
	sub := &subscription{fn: fn}
	if len(kinds) > 0 {
		sub.kinds = make(map[Kind]struct{}, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = struct{}{}
		}
	}
	return h.add(sub)
}

// SubscribeContext 订阅某个展示上下文：该上下文内图层的状态变更以及它自己的加入/离开事件
func (h *Hub) SubscribeContext(context string, fn Listener) func() {
	return h.add(&subscription{context: context, fn: fn})
}

func (h *Hub) add(sub *subscription) func() {
	h.mu.Lock()
	h.nextID++
	sub.id = h.nextID
	h.subs = append(h.subs, sub)
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { h.remove(sub.id) })
	}
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, s := range h.subs {
		if s.id == id {
			h.subs = append(h.subs[:i:i], h.subs[i+1:]...)
			return
		}
	}
}

// Publish 同步分发通知
// 复制订阅者列表后在锁外回调，回调中可以安全地再次订阅或发布
func (h *Hub) Publish(ev Event) {
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixMilli()
	}

	h.mu.RLock()
	targets := make([]*subscription, 0, len(h.subs))
	for _, s := range h.subs {
		if s.matches(ev) {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range targets {
		deliver(s, ev)
	}
}

// SubscriberCount 当前订阅数量
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func deliver(s *subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("通知回调异常",
				logger.String("kind", string(ev.Kind)),
				logger.String("context", s.context),
				logger.Any("panic", r))
		}
	}()
	s.fn(ev)
}

func (s *subscription) matches(ev Event) bool {
	if s.context != "" {
		switch ev.Kind {
		case KindStateChanged:
			for _, c := range ev.Contexts {
				if c == s.context {
					return true
				}
			}
			return false
		case KindContextAdded, KindContextRemoved:
			return ev.Context == s.context
		default:
			return false
		}
	}
	if len(s.kinds) == 0 {
		return true
	}
	_, ok := s.kinds[ev.Kind]
	return ok
}
