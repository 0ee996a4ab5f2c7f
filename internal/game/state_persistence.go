package game

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	apperrors "github.com/wfunc/pd-classroom/internal/errors"
	"github.com/wfunc/pd-classroom/internal/models"
	"github.com/wfunc/pd-classroom/internal/repository"
	"gorm.io/datatypes"
)

// StaleCleaner 支持批量清理过期快照的持久化器
type StaleCleaner interface {
	DeleteStale(ctx context.Context, updatedBefore time.Time) (int64, error)
}

// MemoryStatePersister 内存状态持久化（测试和缓存层使用）
type MemoryStatePersister struct {
	mu     sync.RWMutex
	states map[string]*StateMachineData
}

// NewMemoryStatePersister 创建内存持久化器
func NewMemoryStatePersister() *MemoryStatePersister {
	return &MemoryStatePersister{
		states: make(map[string]*StateMachineData),
	}
}

// Save 保存状态
func (p *MemoryStatePersister) Save(ctx context.Context, gameID string, state *StateMachineData) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.states[gameID] = copyData(state)
	return nil
}

// Load 加载状态
func (p *MemoryStatePersister) Load(ctx context.Context, gameID string) (*StateMachineData, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	state, exists := p.states[gameID]
	if !exists {
		return nil, apperrors.New(apperrors.ErrSessionNotFound, gameID)
	}
	return copyData(state), nil
}

// Delete 删除状态
func (p *MemoryStatePersister) Delete(ctx context.Context, gameID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.states, gameID)
	return nil
}

// DeleteStale 删除过期状态
func (p *MemoryStatePersister) DeleteStale(ctx context.Context, updatedBefore time.Time) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var n int64
	for id, s := range p.states {
		if s.LastUpdate.Before(updatedBefore) {
			delete(p.states, id)
			n++
		}
	}
	return n, nil
}

// copyData 深拷贝，聊天记录和结果不共享底层数据
func copyData(state *StateMachineData) *StateMachineData {
	c := *state
	c.Transcript = state.Transcript.Clone()
	if state.LastOutcome != nil {
		o := *state.LastOutcome
		c.LastOutcome = &o
	}
	return &c
}

// DatabaseStatePersister 数据库状态持久化
type DatabaseStatePersister struct {
	repo repository.GameStateRepository
}

// NewDatabaseStatePersister 创建数据库持久化器
func NewDatabaseStatePersister(repo repository.GameStateRepository) *DatabaseStatePersister {
	return &DatabaseStatePersister{
		repo: repo,
	}
}

// Save 保存状态到数据库
func (p *DatabaseStatePersister) Save(ctx context.Context, gameID string, state *StateMachineData) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrUnknown, "marshal state")
	}

	return p.repo.Save(ctx, &models.GameState{
		GameID:           gameID,
		ParticipantLabel: state.ParticipantLabel,
		CurrentState:     string(state.CurrentState),
		Round:            state.Round,
		StateData:        datatypes.JSON(stateJSON),
	})
}

// Load 从数据库加载状态
func (p *DatabaseStatePersister) Load(ctx context.Context, gameID string) (*StateMachineData, error) {
	gameState, err := p.repo.FindByGameID(ctx, gameID)
	if err != nil {
		return nil, err
	}

	var state StateMachineData
	if err := json.Unmarshal(gameState.StateData, &state); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrUnknown, "unmarshal state")
	}
	if state.LastUpdate.IsZero() {
		state.LastUpdate = gameState.UpdatedAt
	}
	return &state, nil
}

// Delete 从数据库删除状态
func (p *DatabaseStatePersister) Delete(ctx context.Context, gameID string) error {
	return p.repo.Delete(ctx, gameID)
}

// DeleteStale 清理过期快照
func (p *DatabaseStatePersister) DeleteStale(ctx context.Context, updatedBefore time.Time) (int64, error) {
	return p.repo.DeleteStale(ctx, updatedBefore)
}

// CacheStatePersister 带缓存的持久化器（装饰器模式）
type CacheStatePersister struct {
	cache   StatePersister // 缓存层（内存）
	storage StatePersister // 存储层（数据库）
}

// NewCacheStatePersister 创建带缓存的持久化器
func NewCacheStatePersister(cache, storage StatePersister) *CacheStatePersister {
	return &CacheStatePersister{
		cache:   cache,
		storage: storage,
	}
}

// Save 保存状态（同时保存到缓存和存储）
// 存储层失败时缓存仍然更新，保证同进程内的恢复可用
func (p *CacheStatePersister) Save(ctx context.Context, gameID string, state *StateMachineData) error {
	_ = p.cache.Save(ctx, gameID, state)
	return p.storage.Save(ctx, gameID, state)
}

// Load 加载状态（优先从缓存加载）
func (p *CacheStatePersister) Load(ctx context.Context, gameID string) (*StateMachineData, error) {
	if state, err := p.cache.Load(ctx, gameID); err == nil {
		return state, nil
	}

	state, err := p.storage.Load(ctx, gameID)
	if err != nil {
		return nil, err
	}

	_ = p.cache.Save(ctx, gameID, state)
	return state, nil
}

// Delete 删除状态（同时删除缓存和存储）
func (p *CacheStatePersister) Delete(ctx context.Context, gameID string) error {
	_ = p.cache.Delete(ctx, gameID)
	return p.storage.Delete(ctx, gameID)
}

// DeleteStale 清理两层中的过期状态，返回存储层删除数
func (p *CacheStatePersister) DeleteStale(ctx context.Context, updatedBefore time.Time) (int64, error) {
	if c, ok := p.cache.(StaleCleaner); ok {
		_, _ = c.DeleteStale(ctx, updatedBefore)
	}
	if s, ok := p.storage.(StaleCleaner); ok {
		return s.DeleteStale(ctx, updatedBefore)
	}
	return 0, nil
}
