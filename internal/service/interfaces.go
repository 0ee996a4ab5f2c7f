package service

import (
	"context"
	"io"
	"time"

	"github.com/wfunc/pd-classroom/internal/analytics"
	"github.com/wfunc/pd-classroom/internal/repository"
	"github.com/wfunc/pd-classroom/internal/utils"
)

// AuthService 门禁服务接口（班级口令、看板口令、导出密钥）
type AuthService interface {
	// Login 校验口令并签发门禁令牌
	Login(ctx context.Context, gate, password string) (*GateToken, error)
	// ValidateToken 校验门禁令牌
	ValidateToken(ctx context.Context, gate, token string) (*utils.GateClaims, error)
	// CheckExportKey 校验导出密钥
	CheckExportKey(key string) error
}

// DashboardService 看板与导出服务接口
type DashboardService interface {
	Dashboard(ctx context.Context, q *DashboardQuery) (*analytics.Dashboard, error)
	Score(ctx context.Context, gameID, participantLabel string) (*ScoreResponse, error)
	Export(ctx context.Context, w io.Writer, classCode string) (int, error)
}

// GateToken 门禁令牌
type GateToken struct {
	Gate      string    `json:"gate"`
	Token     string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
	MaxAge    int       `json:"-"` // Cookie Max-Age（秒）
}

// DashboardQuery 看板查询参数（原始字符串，由服务层校验）
type DashboardQuery struct {
	ClassCode     string `form:"class_code"`
	After         string `form:"after"`
	Before        string `form:"before"`
	Limit         string `form:"limit"`
	CompletedOnly bool   `form:"-"`
}

// ScoreResponse 单局得分
type ScoreResponse struct {
	RoundsPlayed int `json:"rounds_played"`
	ScoredRounds int `json:"scored_rounds"`
	StudentTotal int `json:"student_total"`
	AgentTotal   int `json:"agent_total"`
}

func scoreResponse(s *repository.GameScore) *ScoreResponse {
	return &ScoreResponse{
		RoundsPlayed: int(s.Rounds),
		ScoredRounds: int(s.ScoredRounds),
		StudentTotal: int(s.StudentTotal),
		AgentTotal:   int(s.AgentTotal),
	}
}
