package repository

import (
	"context"
	stderrors "errors"
	"time"

	apperrors "github.com/wfunc/pd-classroom/internal/errors"
	"github.com/wfunc/pd-classroom/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// DefaultQueryLimit 看板默认最多读取的记录数
	DefaultQueryLimit = 2000
	// MaxQueryLimit 单次查询上限
	MaxQueryLimit = 5000
)

// RoundRecordRepository 回合记录仓储接口
type RoundRecordRepository interface {
	BaseRepository
	Create(ctx context.Context, record *models.RoundRecord) error
	AttachOutcome(ctx context.Context, id uint, outcome *models.RoundOutcome) (bool, error)
	FindByID(ctx context.Context, id uint) (*models.RoundRecord, error)
	FindByGameRound(ctx context.Context, gameID string, roundNum int) (*models.RoundRecord, error)
	FindByGame(ctx context.Context, gameID string) ([]*models.RoundRecord, error)
	Query(ctx context.Context, q RoundQuery) ([]*models.RoundRecord, error)
	ScoreByGame(ctx context.Context, gameID, participantLabel string) (*GameScore, error)
	Each(ctx context.Context, q RoundQuery, batchSize int, fn func([]*models.RoundRecord) error) error
}

// RoundQuery 回合记录查询条件（时间区间两端都包含）
type RoundQuery struct {
	ClassCode  string
	After      *time.Time
	Before     *time.Time
	Limit      int
	Descending bool
}

// GameScore 单局得分汇总
type GameScore struct {
	GameID           string `json:"game_id"`
	ParticipantLabel string `json:"participant_label"`
	Rounds           int64  `json:"rounds"`
	ScoredRounds     int64  `json:"scored_rounds"`
	StudentTotal     int64  `json:"student_total"`
	AgentTotal       int64  `json:"agent_total"`
}

// roundRecordRepo 回合记录仓储实现
type roundRecordRepo struct {
	*BaseRepo
}

// NewRoundRecordRepository 创建回合记录仓储
func NewRoundRecordRepository(db *gorm.DB) RoundRecordRepository {
	return &roundRecordRepo{
		BaseRepo: NewBaseRepo(db),
	}
}

// Create 插入只含聊天记录的回合（第一阶段写入）
// 同一 (game_id, round_num) 已存在时不覆盖，回填已有记录的 ID
func (r *roundRecordRepo) Create(ctx context.Context, record *models.RoundRecord) error {
	start := time.Now()
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "game_id"}, {Name: "round_num"}},
			DoNothing: true,
		}).
		Create(record)
	logOperation("insert", roundRecordsTable, start, result.Error)
	if result.Error != nil {
		return apperrors.Wrap(result.Error, apperrors.ErrDatabaseInsert, "round record")
	}
	if result.RowsAffected > 0 {
		return nil
	}

	existing, err := r.FindByGameRound(ctx, record.GameID, record.RoundNum)
	if err != nil {
		return err
	}
	*record = *existing
	return nil
}

// AttachOutcome 写入回合结果（第二阶段写入）
// 仅当 student_move 仍为空时更新，已写入的结果不会被覆盖；返回是否实际写入
func (r *roundRecordRepo) AttachOutcome(ctx context.Context, id uint, outcome *models.RoundOutcome) (bool, error) {
	if outcome == nil {
		return false, apperrors.New(apperrors.ErrInvalidParam, "outcome is required")
	}

	updates := map[string]interface{}{
		"student_move":     outcome.StudentMove,
		"agent_move":       outcome.AgentMove,
		"student_payoff":   outcome.StudentPayoff,
		"agent_payoff":     outcome.AgentPayoff,
		"agent_confidence": outcome.AgentConfidence,
		"agent_reason":     outcome.AgentReason,
		"decision_source":  outcome.DecisionSource,
	}

	start := time.Now()
	result := r.db.WithContext(ctx).
		Model(&models.RoundRecord{}).
		Where("id = ? AND student_move IS NULL", id).
		Updates(updates)
	logOperation("update", roundRecordsTable, start, result.Error)
	if result.Error != nil {
		return false, apperrors.Wrap(result.Error, apperrors.ErrDatabaseUpdate, "attach outcome")
	}
	return result.RowsAffected > 0, nil
}

// FindByID 根据ID查找
func (r *roundRecordRepo) FindByID(ctx context.Context, id uint) (*models.RoundRecord, error) {
	var record models.RoundRecord
	if err := r.db.WithContext(ctx).First(&record, id).Error; err != nil {
		return nil, wrapFindError(err)
	}
	return &record, nil
}

// FindByGameRound 根据局ID和回合号查找
func (r *roundRecordRepo) FindByGameRound(ctx context.Context, gameID string, roundNum int) (*models.RoundRecord, error) {
	var record models.RoundRecord
	err := r.db.WithContext(ctx).
		Where("game_id = ? AND round_num = ?", gameID, roundNum).
		First(&record).Error
	if err != nil {
		return nil, wrapFindError(err)
	}
	return &record, nil
}

// FindByGame 查找一局的全部回合（按回合号排序）
func (r *roundRecordRepo) FindByGame(ctx context.Context, gameID string) ([]*models.RoundRecord, error) {
	var records []*models.RoundRecord
	err := r.db.WithContext(ctx).
		Where("game_id = ?", gameID).
		Order("round_num asc").
		Find(&records).Error
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery, "find by game")
	}
	return records, nil
}

// Query 按班级和时间区间查询，结果按 created_at 排序并限制条数
func (r *roundRecordRepo) Query(ctx context.Context, q RoundQuery) ([]*models.RoundRecord, error) {
	var records []*models.RoundRecord

	start := time.Now()
	err := r.db.WithContext(ctx).
		Scopes(q.filter, q.order).
		Limit(ClampLimit(q.Limit)).
		Find(&records).Error
	logOperation("query", roundRecordsTable, start, err)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery, "query round records")
	}
	return records, nil
}

// ScoreByGame 汇总一局的得分
func (r *roundRecordRepo) ScoreByGame(ctx context.Context, gameID, participantLabel string) (*GameScore, error) {
	score := &GameScore{GameID: gameID, ParticipantLabel: participantLabel}

	err := r.db.WithContext(ctx).
		Model(&models.RoundRecord{}).
		Where("game_id = ? AND participant_label = ?", gameID, participantLabel).
		Select(
			"COUNT(*) as rounds",
			"COUNT(student_move) as scored_rounds",
			"COALESCE(SUM(student_payoff), 0) as student_total",
			"COALESCE(SUM(agent_payoff), 0) as agent_total",
		).
		Row().Scan(
			&score.Rounds,
			&score.ScoredRounds,
			&score.StudentTotal,
			&score.AgentTotal,
		)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery, "score by game")
	}
	return score, nil
}

// Each 分批遍历查询结果（导出使用，不受 Limit 限制）
func (r *roundRecordRepo) Each(ctx context.Context, q RoundQuery, batchSize int, fn func([]*models.RoundRecord) error) error {
	p := NewPagination(1, batchSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var batch []*models.RoundRecord
		err := r.db.WithContext(ctx).
			Scopes(q.filter, q.order, Paginate(p)).
			Find(&batch).Error
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrDatabaseQuery, "iterate round records")
		}
		if len(batch) == 0 {
			return nil
		}
		if err := fn(batch); err != nil {
			return err
		}
		if len(batch) < p.PageSize {
			return nil
		}
		p.Next()
	}
}

// filter 查询过滤条件
func (q RoundQuery) filter(db *gorm.DB) *gorm.DB {
	if q.ClassCode != "" {
		db = db.Where("class_code = ?", q.ClassCode)
	}
	if q.After != nil {
		db = db.Where("created_at >= ?", *q.After)
	}
	if q.Before != nil {
		db = db.Where("created_at <= ?", *q.Before)
	}
	return db
}

// order 排序（id 作为同一时间戳下的次序）
func (q RoundQuery) order(db *gorm.DB) *gorm.DB {
	if q.Descending {
		return db.Order("created_at desc").Order("id desc")
	}
	return db.Order("created_at asc").Order("id asc")
}

// ClampLimit 规范化查询条数
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		return MaxQueryLimit
	}
	return limit
}

func wrapFindError(err error) error {
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.Wrap(err, apperrors.ErrNotFound, "round record")
	}
	return apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
}
