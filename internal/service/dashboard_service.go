package service

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/wfunc/pd-classroom/internal/analytics"
	apperrors "github.com/wfunc/pd-classroom/internal/errors"
	"github.com/wfunc/pd-classroom/internal/models"
	"github.com/wfunc/pd-classroom/internal/repository"
	"go.uber.org/zap"
)

// exportBatchSize 导出时每批读取的记录数
const exportBatchSize = 500

// ExportHeader 导出 CSV 的列
var ExportHeader = []string{
	"id", "created_at", "class_code", "game_id", "participant_label", "round_num", "strategy",
	"chat", "student_move", "agent_move", "student_payoff", "agent_payoff",
}

// dashboardService 看板与导出服务实现
type dashboardService struct {
	records repository.RoundRecordRepository
	cfg     *Config
	log     *zap.Logger
}

// NewDashboardService 创建看板服务
func NewDashboardService(records repository.RoundRecordRepository, cfg *Config, log *zap.Logger) DashboardService {
	return &dashboardService{
		records: records,
		cfg:     cfg,
		log:     log,
	}
}

// Dashboard 查询记录并计算看板数据
func (s *dashboardService) Dashboard(ctx context.Context, q *DashboardQuery) (*analytics.Dashboard, error) {
	rq, err := s.parseQuery(q)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	records, err := s.records.Query(ctx, rq)
	if err != nil {
		s.log.Error("Dashboard query failed", zap.Error(err))
		return nil, err
	}

	d := analytics.Aggregate(records, analytics.Options{
		CompletedOnly:   q.CompletedOnly,
		Rounds:          s.cfg.Rounds,
		PreviewMessages: s.cfg.Dashboard.PreviewCount,
		PreviewChars:    s.cfg.Dashboard.PreviewChars,
	})

	s.log.Info("Dashboard computed",
		zap.String("class_code", rq.ClassCode),
		zap.Bool("completed_only", q.CompletedOnly),
		zap.Int("records", len(records)),
		zap.Int("rounds", d.KPIs.Rounds),
		zap.Duration("elapsed", time.Since(start)))
	return d, nil
}

// parseQuery 校验查询参数：时间为 RFC3339，limit 为正整数且不超过上限
func (s *dashboardService) parseQuery(q *DashboardQuery) (repository.RoundQuery, error) {
	rq := repository.RoundQuery{
		ClassCode: strings.TrimSpace(q.ClassCode),
		Limit:     s.cfg.Dashboard.DefaultLimit,
	}

	var err error
	if rq.After, err = parseTime("after", q.After); err != nil {
		return rq, err
	}
	if rq.Before, err = parseTime("before", q.Before); err != nil {
		return rq, err
	}
	if rq.After != nil && rq.Before != nil && rq.After.After(*rq.Before) {
		return rq, apperrors.New(apperrors.ErrAggregationInput, "after must not be later than before")
	}

	if raw := strings.TrimSpace(q.Limit); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return rq, apperrors.Newf(apperrors.ErrAggregationInput, "limit must be a positive integer, got %q", raw)
		}
		rq.Limit = limit
	}
	if maxLimit := s.cfg.Dashboard.MaxLimit; maxLimit > 0 && rq.Limit > maxLimit {
		rq.Limit = maxLimit
	}
	return rq, nil
}

func parseTime(name, raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrAggregationInput, "%s must be an RFC3339 timestamp, got %q", name, raw)
	}
	return &t, nil
}

// Score 单局累计得分；两个参数都必须提供
func (s *dashboardService) Score(ctx context.Context, gameID, participantLabel string) (*ScoreResponse, error) {
	gameID = strings.TrimSpace(gameID)
	participantLabel = strings.TrimSpace(participantLabel)
	if gameID == "" || participantLabel == "" {
		return nil, apperrors.New(apperrors.ErrAggregationInput, "game_id and participant_label are required")
	}

	score, err := s.records.ScoreByGame(ctx, gameID, participantLabel)
	if err != nil {
		s.log.Error("Score query failed", zap.String("game_id", gameID), zap.Error(err))
		return nil, err
	}
	return scoreResponse(score), nil
}

// Export 按创建时间倒序写出 CSV，返回写出的记录数
func (s *dashboardService) Export(ctx context.Context, w io.Writer, classCode string) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(ExportHeader); err != nil {
		return 0, err
	}

	n := 0
	q := repository.RoundQuery{ClassCode: strings.TrimSpace(classCode), Descending: true}
	err := s.records.Each(ctx, q, exportBatchSize, func(batch []*models.RoundRecord) error {
		for _, r := range batch {
			if err := cw.Write(exportRow(r)); err != nil {
				return err
			}
			n++
		}
		cw.Flush()
		return cw.Error()
	})
	if err != nil {
		s.log.Error("Export failed", zap.String("class_code", classCode), zap.Int("written", n), zap.Error(err))
		return n, err
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return n, err
	}
	s.log.Info("Export finished", zap.String("class_code", classCode), zap.Int("rows", n))
	return n, nil
}

// ExportFilename 导出文件名；班级代码中只保留字母、数字、下划线和连字符
func ExportFilename(classCode string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		}
		return -1
	}, strings.TrimSpace(classCode))
	if safe == "" {
		return "pd_sessions.csv"
	}
	return "pd_sessions_" + safe + ".csv"
}

func exportRow(r *models.RoundRecord) []string {
	return []string{
		strconv.FormatUint(uint64(r.ID), 10),
		r.CreatedAt.UTC().Format(time.RFC3339Nano),
		r.ClassCode,
		r.GameID,
		r.ParticipantLabel,
		strconv.Itoa(r.RoundNum),
		r.Strategy,
		string(r.Chat),
		deref(r.StudentMove),
		deref(r.AgentMove),
		intOrEmpty(r.StudentPayoff),
		intOrEmpty(r.AgentPayoff),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func intOrEmpty(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}
