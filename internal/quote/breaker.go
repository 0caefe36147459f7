package quote

import (
	"sync"
	"time"
)

// BreakerState 为熔断器状态快照，供健康检查暴露。
type BreakerState struct {
	Open        bool      `json:"open"`
	Failures    int       `json:"failures"`
	LastFailure time.Time `json:"last_failure,omitempty"`
	OpenedAt    time.Time `json:"opened_at,omitempty"`
}

// Breaker 为基于连续失败计数的熔断器。到达阈值后打开，
// 冷却时间过后自动闭合；一次成功将失败计数清零。
// 超过统计窗口的历史失败不再累计。
type Breaker struct {
	mu          sync.Mutex
	threshold   int
	reset       time.Duration
	failures    int
	lastFailure time.Time
	openedAt    time.Time
	open        bool

	now func() time.Time
}

// NewBreaker 创建熔断器。
func NewBreaker(threshold int, reset time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 3
	}
	if reset <= 0 {
		reset = time.Minute
	}
	return &Breaker{
		threshold: threshold,
		reset:     reset,
		now:       time.Now,
	}
}

// Allow 判断当前调用是否放行。打开状态下冷却期满则自动闭合。
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return true
	}
	if b.now().Sub(b.openedAt) >= b.reset {
		b.open = false
		b.failures = 0
		return true
	}
	return false
}

// RecordFailure 记录一次失败，连续失败到达阈值时打开熔断器。
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if !b.lastFailure.IsZero() && now.Sub(b.lastFailure) > b.reset {
		b.failures = 0
	}
	b.failures++
	b.lastFailure = now

	if !b.open && b.failures >= b.threshold {
		b.open = true
		b.openedAt = now
	}
}

// RecordSuccess 记录一次成功，清零失败计数并闭合熔断器。
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.open = false
}

// State 返回状态快照。
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	open := b.open
	if open && b.now().Sub(b.openedAt) >= b.reset {
		open = false
	}
	return BreakerState{
		Open:        open,
		Failures:    b.failures,
		LastFailure: b.lastFailure,
		OpenedAt:    b.openedAt,
	}
}

// BreakerSet 按品种维护一组熔断器。
type BreakerSet struct {
	mu        sync.Mutex
	threshold int
	reset     time.Duration
	breakers  map[string]*Breaker
}

// NewBreakerSet 创建熔断器集合。
func NewBreakerSet(threshold int, reset time.Duration) *BreakerSet {
	return &BreakerSet{
		threshold: threshold,
		reset:     reset,
		breakers:  make(map[string]*Breaker),
	}
}

// For 返回指定品种的熔断器，不存在时创建。
func (s *BreakerSet) For(symbol string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.breakers[symbol]
	if !ok {
		b = NewBreaker(s.threshold, s.reset)
		s.breakers[symbol] = b
	}
	return b
}

// States 返回全部品种的状态快照。
func (s *BreakerSet) States() map[string]BreakerState {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]BreakerState, len(s.breakers))
	for sym, b := range s.breakers {
		out[sym] = b.State()
	}
	return out
}
