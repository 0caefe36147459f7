package plan

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Set 为活跃计划的内存权威集合。结构性变更（增删、快照）
// 由单一互斥锁保护；评估期间的字段修改在任务内完成后经
// Update 合并回集合。
type Set struct {
	mu    sync.Mutex
	plans map[string]*Plan

	// 按计划ID的执行锁，保证并发评估/重试下状态迁移至多发生一次。
	execMu   sync.Mutex
	inFlight map[string]struct{}
}

// NewSet 创建空集合。
func NewSet() *Set {
	return &Set{
		plans:    make(map[string]*Plan),
		inFlight: make(map[string]struct{}),
	}
}

// Add 将计划加入活跃集合，重复ID报错。
func (s *Set) Add(p *Plan) error {
	if p == nil {
		return fmt.Errorf("plan: 不能加入空计划")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plans[p.ID]; ok {
		return fmt.Errorf("plan: 计划 %s 已存在", p.ID)
	}
	s.plans[p.ID] = p
	return nil
}

// Remove 将计划移出活跃集合，返回被移除的计划。
func (s *Set) Remove(id string) (*Plan, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[id]
	if ok {
		delete(s.plans, id)
	}
	return p, ok
}

// Get 返回计划的深拷贝。
func (s *Set) Get(id string) (*Plan, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[id]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// Len 返回活跃计划数量。
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.plans)
}

// Snapshot 返回全部活跃计划的深拷贝，按创建时间排序。
func (s *Set) Snapshot() []*Plan {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Plan, 0, len(s.plans))
	for _, p := range s.plans {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Symbols 返回活跃计划引用的去重品种列表。
func (s *Set) Symbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{}, len(s.plans))
	for _, p := range s.plans {
		seen[p.Symbol] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for sym := range seen {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// References 判断品种是否仍被任一活跃计划引用。
func (s *Set) References(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.plans {
		if p.Symbol == symbol {
			return true
		}
	}
	return false
}

// Update 在集合锁内对指定计划应用变更函数。
// 计划已不在集合中时返回 false，变更被丢弃。
func (s *Set) Update(id string, fn func(*Plan)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[id]
	if !ok {
		return false
	}
	fn(p)
	return true
}

// MarkChecked 刷新计划的最近检查时间。
func (s *Set) MarkChecked(id string, now time.Time) {
	s.Update(id, func(p *Plan) {
		p.LastCheckAt = now.UTC()
	})
}

// TryLockExecution 尝试获取计划的执行锁。拿不到说明另一次
// 执行正在进行，调用方应放弃本次提交。
func (s *Set) TryLockExecution(id string) bool {
	s.execMu.Lock()
	defer s.execMu.Unlock()
	if _, busy := s.inFlight[id]; busy {
		return false
	}
	s.inFlight[id] = struct{}{}
	return true
}

// UnlockExecution 释放计划的执行锁。
func (s *Set) UnlockExecution(id string) {
	s.execMu.Lock()
	defer s.execMu.Unlock()
	delete(s.inFlight, id)
}
