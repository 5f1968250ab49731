package relay

import (
	"sync"
	"time"
)

type breakerState string

const (
	breakerClosed   breakerState = "closed"
	breakerOpen     breakerState = "open"
	breakerHalfOpen breakerState = "half_open"
)

// circuitBreaker 在连续传输失败后短路请求，冷却后放行一个探测请求。
// 远端拒绝不计为失败。
type circuitBreaker struct {
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	state    breakerState
	failures int
	openedAt time.Time
}

func newCircuitBreaker(threshold int, cooldown time.Duration) *circuitBreaker {
	return &circuitBreaker{threshold: threshold, cooldown: cooldown, now: time.Now, state: breakerClosed}
}

func (cb *circuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case breakerOpen:
		if cb.now().Sub(cb.openedAt) < cb.cooldown {
			return false
		}
		cb.state = breakerHalfOpen
		return true
	case breakerHalfOpen:
		return false
	default:
		return true
	}
}

func (cb *circuitBreaker) success() {
	cb.mu.Lock()
	cb.failures = 0
	cb.state = breakerClosed
	cb.mu.Unlock()
}

// failure 返回本次是否触发熔断。
func (cb *circuitBreaker) failure() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	if cb.state == breakerHalfOpen || (cb.state == breakerClosed && cb.failures >= cb.threshold) {
		cb.state = breakerOpen
		cb.openedAt = cb.now()
		return true
	}
	return false
}

func (cb *circuitBreaker) current() breakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
