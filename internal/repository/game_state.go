package repository

import (
	"context"
	stderrors "errors"
	"time"

	apperrors "github.com/wfunc/pd-classroom/internal/errors"
	"github.com/wfunc/pd-classroom/internal/models"
	"gorm.io/gorm"
)

// GameStateRepository 状态机快照仓储接口
type GameStateRepository interface {
	BaseRepository
	Save(ctx context.Context, state *models.GameState) error
	FindByGameID(ctx context.Context, gameID string) (*models.GameState, error)
	FindRecoverable(ctx context.Context, updatedAfter time.Time, excludeStates []string) ([]*models.GameState, error)
	Delete(ctx context.Context, gameID string) error
	DeleteStale(ctx context.Context, updatedBefore time.Time) (int64, error)
}

// gameStateRepo 状态机快照仓储实现
type gameStateRepo struct {
	*BaseRepo
}

// NewGameStateRepository 创建状态机快照仓储
func NewGameStateRepository(db *gorm.DB) GameStateRepository {
	return &gameStateRepo{
		BaseRepo: NewBaseRepo(db),
	}
}

// Save 按 game_id 插入或更新快照
func (r *gameStateRepo) Save(ctx context.Context, state *models.GameState) error {
	start := time.Now()
	err := r.db.WithContext(ctx).
		Where(models.GameState{GameID: state.GameID}).
		Assign(models.GameState{
			ParticipantLabel: state.ParticipantLabel,
			CurrentState:     state.CurrentState,
			Round:            state.Round,
			StateData:        state.StateData,
		}).
		FirstOrCreate(state).Error
	logOperation("upsert", gameStatesTable, start, err)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrDatabaseUpdate, "save game state")
	}
	return nil
}

// FindByGameID 根据局ID查找快照
func (r *gameStateRepo) FindByGameID(ctx context.Context, gameID string) (*models.GameState, error) {
	var state models.GameState
	err := r.db.WithContext(ctx).Where("game_id = ?", gameID).First(&state).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.Wrap(err, apperrors.ErrSessionNotFound, gameID)
		}
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery, "find game state")
	}
	return &state, nil
}

// FindRecoverable 查找可恢复的快照（近期活跃且不在排除状态中）
func (r *gameStateRepo) FindRecoverable(ctx context.Context, updatedAfter time.Time, excludeStates []string) ([]*models.GameState, error) {
	var states []*models.GameState
	db := r.db.WithContext(ctx).Where("updated_at >= ?", updatedAfter)
	if len(excludeStates) > 0 {
		db = db.Where("current_state NOT IN ?", excludeStates)
	}
	if err := db.Order("updated_at asc").Find(&states).Error; err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery, "find recoverable states")
	}
	return states, nil
}

// Delete 删除快照
func (r *gameStateRepo) Delete(ctx context.Context, gameID string) error {
	err := r.db.WithContext(ctx).Where("game_id = ?", gameID).Delete(&models.GameState{}).Error
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrDatabaseDelete, "delete game state")
	}
	return nil
}

// DeleteStale 清理过期快照
func (r *gameStateRepo) DeleteStale(ctx context.Context, updatedBefore time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("updated_at < ?", updatedBefore).Delete(&models.GameState{})
	if result.Error != nil {
		return 0, apperrors.Wrap(result.Error, apperrors.ErrDatabaseDelete, "delete stale states")
	}
	return result.RowsAffected, nil
}
