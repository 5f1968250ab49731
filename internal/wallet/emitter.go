package wallet

import (
	"sort"
	"sync"
)

// Event 是对外暴露的钱包事件名。
type Event string

const (
	// EventAccountsChanged 的 payload 为当前 []Account。
	EventAccountsChanged Event = "accountsChanged"
	// EventDisconnected 没有 payload。
	EventDisconnected Event = "disconnected"
)

// Emitter 在发出事件的 goroutine 上同步调用监听者。
type Emitter struct {
	mu       sync.Mutex
	next     int
	handlers map[Event]map[int]func(payload any)
}

func newEmitter() *Emitter {
	return &Emitter{handlers: make(map[Event]map[int]func(any))}
}

// On 注册监听者，返回的 off 用于注销。
func (e *Emitter) On(evt Event, handler func(payload any)) (off func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.next
	e.next++
	if e.handlers[evt] == nil {
		e.handlers[evt] = make(map[int]func(any))
	}
	e.handlers[evt][id] = handler
	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.handlers[evt], id)
			e.mu.Unlock()
		})
	}
}

func (e *Emitter) emit(evt Event, payload any) {
	e.mu.Lock()
	ids := make([]int, 0, len(e.handlers[evt]))
	for id := range e.handlers[evt] {
		ids = append(ids, id)
	}
	handlers := make([]func(any), 0, len(ids))
	sort.Ints(ids)
	for _, id := range ids {
		handlers = append(handlers, e.handlers[evt][id])
	}
	e.mu.Unlock()
	for _, h := range handlers {
		h(payload)
	}
}
