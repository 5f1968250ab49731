package relay

import (
	"math/rand"
	"sync"
	"time"
)

// Backoff 计算重连等待时间：指数增长、带抖动、夹在 [Initial, Max] 内。
type Backoff struct {
	cfg      BackoffConfig
	mu       sync.Mutex
	attempts int
	rand     *rand.Rand
}

// NewBackoff 创建 Backoff。
func NewBackoff(cfg BackoffConfig) *Backoff {
	return &Backoff{cfg: cfg, rand: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// Next 返回下一次等待时长并累加失败次数。
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	delay := b.cfg.Initial << b.attempts
	if delay <= 0 || delay > b.cfg.Max {
		delay = b.cfg.Max
	}
	if b.cfg.Jitter > 0 {
		factor := 1 - b.cfg.Jitter + b.rand.Float64()*2*b.cfg.Jitter
		delay = time.Duration(float64(delay) * factor)
	}
	if b.attempts < 16 {
		b.attempts++
	}
	return min(max(delay, b.cfg.Initial), b.cfg.Max)
}

// Reset 在连接恢复后调用。
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.attempts = 0
	b.mu.Unlock()
}
