package quote

import (
	"container/list"
	"sync"
	"time"
)

// Entry 为缓存中的一条报价。
type Entry struct {
	Symbol    string
	Bid       float64
	Ask       float64
	Mid       float64
	Timestamp time.Time
}

type cacheNode struct {
	entry   Entry
	element *list.Element
}

// Cache 为容量受限、带TTL的报价缓存，按最近使用顺序淘汰。
// 对并发读写安全。
type Cache struct {
	mu       sync.Mutex
	ttl      time.Duration
	capacity int
	nodes    map[string]*cacheNode
	order    *list.List // 队首为最近使用

	hits   uint64
	misses uint64

	now func() time.Time
}

// NewCache 创建缓存。
func NewCache(ttl time.Duration, capacity int) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	if capacity <= 0 {
		capacity = 50
	}
	return &Cache{
		ttl:      ttl,
		capacity: capacity,
		nodes:    make(map[string]*cacheNode),
		order:    list.New(),
		now:      time.Now,
	}
}

// Get 返回缓存的中间价。未命中或TTL过期返回 false。
func (c *Cache) Get(symbol string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.nodes[symbol]
	if !ok {
		c.misses++
		return 0, false
	}
	if c.now().Sub(node.entry.Timestamp) > c.ttl {
		c.misses++
		return 0, false
	}

	c.order.MoveToFront(node.element)
	c.hits++
	return node.entry.Mid, true
}

// Put 插入或刷新报价并置为最近使用；超出容量时淘汰最久未用的。
func (c *Cache) Put(symbol string, bid, ask float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := Entry{
		Symbol:    symbol,
		Bid:       bid,
		Ask:       ask,
		Mid:       (bid + ask) / 2,
		Timestamp: c.now(),
	}

	if node, ok := c.nodes[symbol]; ok {
		node.entry = entry
		c.order.MoveToFront(node.element)
		return
	}

	if len(c.nodes) >= c.capacity {
		c.evictOldest()
	}

	element := c.order.PushFront(symbol)
	c.nodes[symbol] = &cacheNode{entry: entry, element: element}
}

// Sweep 移除TTL过期或不再被任何活跃计划引用的条目。
func (c *Cache) Sweep(referenced func(symbol string) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	now := c.now()
	for symbol, node := range c.nodes {
		expired := now.Sub(node.entry.Timestamp) > c.ttl
		orphaned := referenced != nil && !referenced(symbol)
		if expired || orphaned {
			c.order.Remove(node.element)
			delete(c.nodes, symbol)
			removed++
		}
	}
	return removed
}

// Len 返回缓存条目数量。
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.nodes)
}

// HitRate 返回命中率，无访问时为0。
func (c *Cache) HitRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total)
}

// Stats 返回命中与未命中计数。
func (c *Cache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func (c *Cache) evictOldest() {
	oldest := c.order.Back()
	if oldest == nil {
		return
	}
	symbol := oldest.Value.(string)
	c.order.Remove(oldest)
	delete(c.nodes, symbol)
}
