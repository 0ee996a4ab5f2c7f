package game

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/wfunc/pd-classroom/internal/errors"
	"go.uber.org/zap"
)

// SessionManager 会话管理器
type SessionManager struct {
	mu              sync.RWMutex
	sessions        map[string]*GameSession
	logger          *zap.Logger
	persister       StatePersister
	recoveryManager *RecoveryManager
	sessionTimeout  time.Duration
	maxSessions     int
}

// GameSession 一个参与者一局游戏的会话上下文
// mu 串行化同一会话上的操作，生成服务调用不持有该锁
type GameSession struct {
	GameID       string
	StateMachine *StateMachine
	StartTime    time.Time
	LastActivity time.Time

	mu        sync.Mutex
	actMu     sync.RWMutex
	chatTimer *time.Timer
	chatStop  chan struct{}
}

// SessionConfig 会话管理器配置
type SessionConfig struct {
	Logger         *zap.Logger
	Persister      StatePersister
	SessionTimeout time.Duration
	MaxSessions    int
}

// NewSessionManager 创建会话管理器
func NewSessionManager(config *SessionConfig) *SessionManager {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	persister := config.Persister
	if persister == nil {
		persister = NewMemoryStatePersister()
	}

	return &SessionManager{
		sessions:        make(map[string]*GameSession),
		logger:          logger,
		persister:       persister,
		recoveryManager: NewRecoveryManager(logger, persister, config.SessionTimeout),
		sessionTimeout:  config.SessionTimeout,
		maxSessions:     config.MaxSessions,
	}
}

// CreateSession 创建新会话
func (sm *SessionManager) CreateSession(ctx context.Context, mc MachineConfig) (*GameSession, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.maxSessions > 0 && len(sm.sessions) >= sm.maxSessions {
		return nil, apperrors.New(apperrors.ErrSessionLimit)
	}

	if _, exists := sm.sessions[mc.GameID]; exists {
		return nil, apperrors.New(apperrors.ErrAlreadyExists, mc.GameID)
	}

	stateMachine := NewStateMachine(mc, sm.logger, sm.persister)
	session := sm.track(mc.GameID, stateMachine)

	sm.logger.Info("创建游戏会话",
		zap.String("game_id", mc.GameID),
		zap.String("participant_label", mc.ParticipantLabel),
		zap.String("strategy", mc.Strategy))

	return session, nil
}

// track 登记会话；调用方持有 sm.mu
func (sm *SessionManager) track(gameID string, stateMachine *StateMachine) *GameSession {
	stateMachine.OnStateChange(func(from, to GameState) {
		sm.logger.Debug("游戏状态变更",
			zap.String("game_id", gameID),
			zap.String("from", string(from)),
			zap.String("to", string(to)))
	})
	// 回调在状态机锁内执行，只记录日志
	stateMachine.OnError(func(err error) {
		sm.logger.Warn("状态转换被拒绝",
			zap.String("game_id", gameID),
			zap.Error(err))
	})

	now := time.Now()
	session := &GameSession{
		GameID:       gameID,
		StateMachine: stateMachine,
		StartTime:    now,
		LastActivity: now,
	}
	sm.sessions[gameID] = session
	return session
}

// GetSession 获取内存中的会话
func (sm *SessionManager) GetSession(gameID string) (*GameSession, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	session, exists := sm.sessions[gameID]
	if !exists {
		return nil, apperrors.New(apperrors.ErrSessionNotFound, gameID)
	}

	session.UpdateActivity()
	return session, nil
}

// RecoverSession 先查内存，再从持久化快照恢复；recovered 表示本次是恢复得到的
func (sm *SessionManager) RecoverSession(ctx context.Context, gameID string) (session *GameSession, recovered bool, err error) {
	if session, err := sm.GetSession(gameID); err == nil {
		return session, false, nil
	}

	stateMachine, err := sm.recoveryManager.RecoverSession(ctx, gameID)
	if err != nil {
		return nil, false, err
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()
	// 并发恢复时以先登记的为准
	if existing, ok := sm.sessions[gameID]; ok {
		return existing, false, nil
	}
	session = sm.track(gameID, stateMachine)

	sm.logger.Info("恢复游戏会话",
		zap.String("game_id", gameID),
		zap.String("state", string(stateMachine.GetState())))

	return session, true, nil
}

// RemoveSession 移除会话；purge 为 true 时同时删除持久化快照
func (sm *SessionManager) RemoveSession(ctx context.Context, gameID string, purge bool) error {
	sm.mu.Lock()
	session, exists := sm.sessions[gameID]
	delete(sm.sessions, gameID)
	sm.mu.Unlock()

	if exists {
		session.StopChatTimer()
	}

	if purge {
		if err := sm.persister.Delete(ctx, gameID); err != nil && !apperrors.Is(err, apperrors.ErrSessionNotFound) {
			sm.logger.Error("删除会话快照失败",
				zap.String("game_id", gameID),
				zap.Error(err))
		}
	} else if exists {
		session.StateMachine.Persist(ctx)
	}

	if !exists && !purge {
		return apperrors.New(apperrors.ErrSessionNotFound, gameID)
	}

	sm.logger.Info("移除游戏会话",
		zap.String("game_id", gameID),
		zap.Bool("purge", purge))

	return nil
}

// CleanupInactiveSessions 清理不活跃的会话（快照保留，可再恢复）
func (sm *SessionManager) CleanupInactiveSessions(ctx context.Context) int {
	sm.mu.Lock()
	now := time.Now()
	var stale []*GameSession
	for gameID, session := range sm.sessions {
		if now.Sub(session.lastActivity()) > sm.sessionTimeout {
			stale = append(stale, session)
			delete(sm.sessions, gameID)
		}
	}
	sm.mu.Unlock()

	for _, session := range stale {
		session.StopChatTimer()
		session.StateMachine.Persist(ctx)

		sm.logger.Info("清理超时会话",
			zap.String("game_id", session.GameID),
			zap.Duration("inactive", now.Sub(session.lastActivity())))
	}

	if _, err := sm.recoveryManager.CleanupExpiredSessions(ctx); err != nil {
		sm.logger.Warn("清理过期快照失败", zap.Error(err))
	}
	return len(stale)
}

// StartCleanupTask 启动清理任务
func (sm *SessionManager) StartCleanupTask(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				sm.logger.Info("停止会话清理任务")
				return
			case <-ticker.C:
				sm.CleanupInactiveSessions(ctx)
			}
		}
	}()
}

// GetActiveSessions 获取活跃会话数
func (sm *SessionManager) GetActiveSessions() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// SaveAll 停机前保存所有会话
func (sm *SessionManager) SaveAll(ctx context.Context) {
	sm.mu.RLock()
	sessions := make([]*GameSession, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		sessions = append(sessions, s)
	}
	sm.mu.RUnlock()

	for _, s := range sessions {
		s.StopChatTimer()
		s.StateMachine.Persist(ctx)
	}
}

// UpdateActivity 更新活动时间
func (gs *GameSession) UpdateActivity() {
	gs.actMu.Lock()
	defer gs.actMu.Unlock()
	gs.LastActivity = time.Now()
}

func (gs *GameSession) lastActivity() time.Time {
	gs.actMu.RLock()
	defer gs.actMu.RUnlock()
	return gs.LastActivity
}

// GetState 获取当前状态
func (gs *GameSession) GetState() GameState {
	return gs.StateMachine.GetState()
}

// armChatTimer 设置本回合倒计时；调用方持有 gs.mu
// 返回的 stop 通道在锁定或离开聊天阶段时关闭
func (gs *GameSession) armChatTimer(d time.Duration, onExpire func()) <-chan struct{} {
	gs.stopChatTimerLocked()
	stop := make(chan struct{})
	gs.chatStop = stop
	gs.chatTimer = time.AfterFunc(d, onExpire)
	return stop
}

// StopChatTimer 停止倒计时
func (gs *GameSession) StopChatTimer() {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	gs.stopChatTimerLocked()
}

func (gs *GameSession) stopChatTimerLocked() {
	if gs.chatTimer != nil {
		gs.chatTimer.Stop()
		gs.chatTimer = nil
	}
	if gs.chatStop != nil {
		close(gs.chatStop)
		gs.chatStop = nil
	}
}
