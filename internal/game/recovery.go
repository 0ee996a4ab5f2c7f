package game

import (
	"context"
	"time"

	apperrors "github.com/wfunc/pd-classroom/internal/errors"
	"go.uber.org/zap"
)

// RecoveryManager 进程重启后恢复会话
type RecoveryManager struct {
	logger    *zap.Logger
	persister StatePersister
	timeout   time.Duration // 会话超时时间
}

// NewRecoveryManager 创建恢复管理器
func NewRecoveryManager(logger *zap.Logger, persister StatePersister, timeout time.Duration) *RecoveryManager {
	return &RecoveryManager{
		logger:    logger,
		persister: persister,
		timeout:   timeout,
	}
}

// RecoverSession 恢复会话
func (rm *RecoveryManager) RecoverSession(ctx context.Context, gameID string) (*StateMachine, error) {
	stateData, err := rm.persister.Load(ctx, gameID)
	if err != nil {
		return nil, err
	}

	if rm.timeout > 0 && time.Since(stateData.LastUpdate) > rm.timeout {
		rm.logger.Warn("会话已超时",
			zap.String("game_id", gameID),
			zap.Time("last_update", stateData.LastUpdate),
			zap.Duration("timeout", rm.timeout))

		if err := rm.persister.Delete(ctx, gameID); err != nil {
			rm.logger.Error("删除超时会话失败", zap.Error(err))
		}
		return nil, apperrors.New(apperrors.ErrTimeout, "session expired")
	}

	sm := NewStateMachine(MachineConfig{GameID: gameID}, rm.logger, rm.persister)
	sm.LoadFromData(stateData)

	recoveryStrategy := rm.getRecoveryStrategy(stateData.CurrentState)
	if err := recoveryStrategy(ctx, sm); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrGameStateError, "recovery strategy failed")
	}

	rm.logger.Info("会话恢复成功",
		zap.String("game_id", gameID),
		zap.String("state", string(stateData.CurrentState)),
		zap.Int("round", stateData.Round))

	return sm, nil
}

// getRecoveryStrategy 根据状态获取恢复策略
func (rm *RecoveryManager) getRecoveryStrategy(state GameState) func(context.Context, *StateMachine) error {
	strategies := map[GameState]func(context.Context, *StateMachine) error{
		StateIdentifying: rm.recoverNoop,
		StateInstructed:  rm.recoverNoop,
		StateChatting:    rm.recoverChatting,
		StateDeciding:    rm.recoverDeciding,
		StateScored:      rm.recoverNoop,
		StateCompleted:   rm.recoverNoop,
	}

	if strategy, exists := strategies[state]; exists {
		return strategy
	}
	return rm.recoverUnknown
}

// recoverNoop 这些状态不依赖进程内的定时器，直接恢复
func (rm *RecoveryManager) recoverNoop(ctx context.Context, sm *StateMachine) error {
	return nil
}

// recoverChatting 停机期间倒计时已过则直接锁定；未过期的定时器由服务层重新设置
func (rm *RecoveryManager) recoverChatting(ctx context.Context, sm *StateMachine) error {
	if sm.ChatLocked() || time.Now().Before(sm.ChatDeadline()) {
		return nil
	}
	rm.logger.Info("聊天倒计时已在停机期间结束，锁定输入",
		zap.String("game_id", sm.gameID),
		zap.Int("round", sm.Round()))
	return sm.Trigger(ctx, EventLock)
}

// recoverDeciding 决策阶段可以重新提交；结果已落库时条件更新会返回已存结果
func (rm *RecoveryManager) recoverDeciding(ctx context.Context, sm *StateMachine) error {
	if sm.RecordID() == 0 {
		rm.logger.Warn("决策阶段没有落库记录，计分时将补写",
			zap.String("game_id", sm.gameID),
			zap.Int("round", sm.Round()))
	}
	return nil
}

// recoverUnknown 无法识别的状态不恢复
func (rm *RecoveryManager) recoverUnknown(ctx context.Context, sm *StateMachine) error {
	return apperrors.Newf(apperrors.ErrGameStateError, "unknown state %q", sm.GetState())
}

// CleanupExpiredSessions 清理过期快照（定期任务）
func (rm *RecoveryManager) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	cleaner, ok := rm.persister.(StaleCleaner)
	if !ok || rm.timeout <= 0 {
		return 0, nil
	}
	n, err := cleaner.DeleteStale(ctx, time.Now().Add(-rm.timeout))
	if err != nil {
		rm.logger.Error("清理过期快照失败", zap.Error(err))
		return 0, err
	}
	if n > 0 {
		rm.logger.Info("清理过期快照", zap.Int64("count", n))
	}
	return n, nil
}
