package dilemma

import (
	"math/rand"
	"sync"
	"time"
)

// Random 唯一的随机源，所有概率分支都从这里取值，测试时注入固定序列
type Random interface {
	// Float64 返回 [0,1) 区间的随机数
	Float64() float64
}

// lockedRandom 并发安全的随机源
type lockedRandom struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewRandom 创建随机源；seed 为 0 时使用当前时间
func NewRandom(seed int64) Random {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &lockedRandom{r: rand.New(rand.NewSource(seed))}
}

// Float64 实现 Random
func (l *lockedRandom) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

// SequenceRandom 按顺序循环返回给定值
type SequenceRandom struct {
	mu     sync.Mutex
	values []float64
	next   int
}

// NewSequenceRandom 创建固定序列随机源
func NewSequenceRandom(values ...float64) *SequenceRandom {
	if len(values) == 0 {
		values = []float64{0}
	}
	return &SequenceRandom{values: values}
}

// Float64 实现 Random
func (s *SequenceRandom) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.values[s.next%len(s.values)]
	s.next++
	return v
}

// chance 以概率 p 返回 true
func chance(r Random, p float64) bool {
	return r.Float64() < p
}
