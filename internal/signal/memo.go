package signal

import (
	"sync"
	"time"
)

type memoEntry struct {
	value   interface{}
	err     error
	expires time.Time
}

// Memo 为短TTL的记忆化缓存，键为品种+指标，用于在一个评估
// 周期内约束上游信号调用量。错误结果同样被缓存到过期。
type Memo struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoEntry
	pending map[string]*sync.WaitGroup

	now func() time.Time
}

// NewMemo 创建记忆化缓存。
func NewMemo(ttl time.Duration) *Memo {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Memo{
		ttl:     ttl,
		entries: make(map[string]memoEntry),
		pending: make(map[string]*sync.WaitGroup),
		now:     time.Now,
	}
}

// Do 返回键对应的缓存值，缺失或过期时执行 fn 并缓存结果。
// 同键并发调用只会执行一次 fn。
func (m *Memo) Do(key string, fn func() (interface{}, error)) (interface{}, error) {
	for {
		m.mu.Lock()
		if entry, ok := m.entries[key]; ok && m.now().Before(entry.expires) {
			m.mu.Unlock()
			return entry.value, entry.err
		}
		if wg, busy := m.pending[key]; busy {
			m.mu.Unlock()
			wg.Wait()
			continue
		}
		wg := &sync.WaitGroup{}
		wg.Add(1)
		m.pending[key] = wg
		m.mu.Unlock()

		value, err := fn()

		m.mu.Lock()
		m.entries[key] = memoEntry{value: value, err: err, expires: m.now().Add(m.ttl)}
		delete(m.pending, key)
		m.mu.Unlock()
		wg.Done()

		return value, err
	}
}

// Purge 清除过期条目。
func (m *Memo) Purge() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	now := m.now()
	for key, entry := range m.entries {
		if !now.Before(entry.expires) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}

// Len 返回当前条目数。
func (m *Memo) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
