// Package analytics 看板统计：每次请求从回合记录重新计算，不保存中间状态
package analytics

import (
	"sort"
	"time"

	"github.com/wfunc/pd-classroom/internal/chat"
	"github.com/wfunc/pd-classroom/internal/game/dilemma"
	"github.com/wfunc/pd-classroom/internal/models"
)

const (
	// DefaultRounds 一局的回合数（完成判定使用）
	DefaultRounds = 10

	// DefaultPreviewMessages 明细预览保留的消息条数
	DefaultPreviewMessages = 4
	// DefaultPreviewChars 明细预览的最大长度
	DefaultPreviewChars = 220
)

// Options 统计选项
type Options struct {
	CompletedOnly   bool // 只保留恰好有 Rounds 条记录的局
	Rounds          int
	PreviewMessages int
	PreviewChars    int
}

func (o Options) preview() (int, int) {
	n, chars := o.PreviewMessages, o.PreviewChars
	if n <= 0 {
		n = DefaultPreviewMessages
	}
	if chars <= 0 {
		chars = DefaultPreviewChars
	}
	return n, chars
}

// KPIs 汇总指标；无法定义的比率和均值为 null
type KPIs struct {
	Participants     int      `json:"participants"`
	Games            int      `json:"games"`
	Rounds           int      `json:"rounds"`
	StudentCoopRate  *float64 `json:"student_coop_rate"`
	AgentCoopRate    *float64 `json:"agent_coop_rate"`
	AvgStudentPayoff *float64 `json:"avg_student_payoff"`
	AvgAgentPayoff   *float64 `json:"avg_agent_payoff"`
	MinStudentTotal  *int     `json:"min_student_total"`
	MaxStudentTotal  *int     `json:"max_student_total"`
}

// RoundPoint 按回合序号的时间序列点
type RoundPoint struct {
	Round            int      `json:"round"`
	N                int      `json:"n"`
	StudentCoopRate  *float64 `json:"student_coop_rate"`
	AgentCoopRate    *float64 `json:"agent_coop_rate"`
	AvgStudentPayoff *float64 `json:"avg_student_payoff"`
	AvgAgentPayoff   *float64 `json:"avg_agent_payoff"`
}

// LeaderboardRow 一局的累计得分
type LeaderboardRow struct {
	GameID           string `json:"game_id"`
	ParticipantLabel string `json:"participant_label"`
	Rounds           int    `json:"rounds"`
	StudentTotal     int    `json:"student_total"`
	AgentTotal       int    `json:"agent_total"`
}

// Row 单条回合明细（看板下钻）
type Row struct {
	ID               uint            `json:"id"`
	CreatedAt        time.Time       `json:"created_at"`
	ClassCode        string          `json:"class_code"`
	GameID           string          `json:"game_id"`
	ParticipantLabel string          `json:"participant_label"`
	RoundNum         int             `json:"round_num"`
	Strategy         string          `json:"strategy"`
	StudentMove      *string         `json:"student_move"`
	AgentMove        *string         `json:"agent_move"`
	StudentPayoff    *int            `json:"student_payoff"`
	AgentPayoff      *int            `json:"agent_payoff"`
	Features         chat.Features   `json:"features"`
	ChatPreview      string          `json:"chat_preview"`
	Chat             chat.Transcript `json:"chat"`
}

// Dashboard 看板数据
type Dashboard struct {
	KPIs        KPIs             `json:"kpis"`
	RoundSeries []RoundPoint     `json:"round_series"`
	Leaderboard []LeaderboardRow `json:"leaderboard"`
	Buckets     []BucketSet      `json:"buckets"`
	Rows        []Row            `json:"rows"`
}

// counter 合作率和均值的累加器
type counter struct {
	n          int
	coop       int
	decided    int
	payoffSum  int
	payoffSeen int
}

func (c *counter) addMove(move *string) {
	if move == nil {
		return
	}
	c.decided++
	if *move == string(dilemma.Cooperate) {
		c.coop++
	}
}

func (c *counter) addPayoff(p *int) {
	if p == nil {
		return
	}
	c.payoffSum += *p
	c.payoffSeen++
}

func (c *counter) coopRate() *float64 {
	return ratio(c.coop, c.decided)
}

func (c *counter) avgPayoff() *float64 {
	return ratio(c.payoffSum, c.payoffSeen)
}

// ratio 分母为 0 时返回 nil
func ratio(num, den int) *float64 {
	if den == 0 {
		return nil
	}
	v := float64(num) / float64(den)
	return &v
}

// Aggregate 计算看板数据；records 按 created_at 升序传入，空输入返回零计数和 null 比率
func Aggregate(records []*models.RoundRecord, opts Options) *Dashboard {
	records = Filter(records, opts)

	var (
		participants = make(map[string]struct{})
		games        = make(map[string]struct{})
		student      counter
		agent        counter
		series       = make(map[int]*[2]counter)
		totals       = make(map[string]*LeaderboardRow)
		order        []string
		rows         = make([]Row, 0, len(records))
		buckets      = newBucketSets()
	)
	previewN, previewChars := opts.preview()

	for _, r := range records {
		if r.ParticipantLabel != "" {
			participants[r.ParticipantLabel] = struct{}{}
		}
		games[r.GameID] = struct{}{}

		student.n++
		student.addMove(r.StudentMove)
		student.addPayoff(r.StudentPayoff)
		agent.n++
		agent.addMove(r.AgentMove)
		agent.addPayoff(r.AgentPayoff)

		point, ok := series[r.RoundNum]
		if !ok {
			point = &[2]counter{}
			series[r.RoundNum] = point
		}
		point[0].n++
		point[0].addMove(r.StudentMove)
		point[0].addPayoff(r.StudentPayoff)
		point[1].addMove(r.AgentMove)
		point[1].addPayoff(r.AgentPayoff)

		key := gameKey(r)
		t, ok := totals[key]
		if !ok {
			t = &LeaderboardRow{GameID: r.GameID, ParticipantLabel: r.ParticipantLabel}
			totals[key] = t
			order = append(order, key)
		}
		t.Rounds++
		if r.StudentPayoff != nil {
			t.StudentTotal += *r.StudentPayoff
		}
		if r.AgentPayoff != nil {
			t.AgentTotal += *r.AgentPayoff
		}

		row := newRow(r, previewN, previewChars)
		buckets.add(row)
		rows = append(rows, row)
	}

	return &Dashboard{
		KPIs: KPIs{
			Participants:     len(participants),
			Games:            len(games),
			Rounds:           len(records),
			StudentCoopRate:  student.coopRate(),
			AgentCoopRate:    agent.coopRate(),
			AvgStudentPayoff: student.avgPayoff(),
			AvgAgentPayoff:   agent.avgPayoff(),
		}.withTotals(totals, order),
		RoundSeries: roundSeries(series),
		Leaderboard: leaderboard(totals, order),
		Buckets:     buckets.sets(),
		Rows:        rows,
	}
}

// Filter 丢弃缺少 game_id 或回合序号的记录；CompletedOnly 时只保留完整的局
func Filter(records []*models.RoundRecord, opts Options) []*models.RoundRecord {
	valid := make([]*models.RoundRecord, 0, len(records))
	for _, r := range records {
		if r == nil || r.GameID == "" || r.RoundNum <= 0 {
			continue
		}
		valid = append(valid, r)
	}
	if !opts.CompletedOnly {
		return valid
	}

	rounds := opts.Rounds
	if rounds <= 0 {
		rounds = DefaultRounds
	}
	counts := make(map[string]int, len(valid))
	for _, r := range valid {
		counts[gameKey(r)]++
	}
	completed := make([]*models.RoundRecord, 0, len(valid))
	for _, r := range valid {
		if counts[gameKey(r)] == rounds {
			completed = append(completed, r)
		}
	}
	return completed
}

func gameKey(r *models.RoundRecord) string {
	return r.GameID + "|" + r.ParticipantLabel
}

// withTotals 每局学生累计得分的最小值和最大值（不含空标签）
func (k KPIs) withTotals(totals map[string]*LeaderboardRow, order []string) KPIs {
	for _, key := range order {
		t := totals[key]
		if t.ParticipantLabel == "" {
			continue
		}
		if k.MinStudentTotal == nil || t.StudentTotal < *k.MinStudentTotal {
			v := t.StudentTotal
			k.MinStudentTotal = &v
		}
		if k.MaxStudentTotal == nil || t.StudentTotal > *k.MaxStudentTotal {
			v := t.StudentTotal
			k.MaxStudentTotal = &v
		}
	}
	return k
}

func roundSeries(series map[int]*[2]counter) []RoundPoint {
	rounds := make([]int, 0, len(series))
	for r := range series {
		rounds = append(rounds, r)
	}
	sort.Ints(rounds)

	points := make([]RoundPoint, 0, len(rounds))
	for _, r := range rounds {
		c := series[r]
		points = append(points, RoundPoint{
			Round:            r,
			N:                c[0].n,
			StudentCoopRate:  c[0].coopRate(),
			AgentCoopRate:    c[1].coopRate(),
			AvgStudentPayoff: c[0].avgPayoff(),
			AvgAgentPayoff:   c[1].avgPayoff(),
		})
	}
	return points
}

// leaderboard 按学生累计得分降序；得分相同时保持记录出现的顺序
func leaderboard(totals map[string]*LeaderboardRow, order []string) []LeaderboardRow {
	board := make([]LeaderboardRow, 0, len(order))
	for _, key := range order {
		if t := totals[key]; t.ParticipantLabel != "" {
			board = append(board, *t)
		}
	}
	sort.SliceStable(board, func(i, j int) bool {
		return board[i].StudentTotal > board[j].StudentTotal
	})
	return board
}

func newRow(r *models.RoundRecord, previewN, previewChars int) Row {
	transcript := chat.ParseTranscript(r.Chat)
	return Row{
		ID:               r.ID,
		CreatedAt:        r.CreatedAt,
		ClassCode:        r.ClassCode,
		GameID:           r.GameID,
		ParticipantLabel: r.ParticipantLabel,
		RoundNum:         r.RoundNum,
		Strategy:         r.Strategy,
		StudentMove:      r.StudentMove,
		AgentMove:        r.AgentMove,
		StudentPayoff:    r.StudentPayoff,
		AgentPayoff:      r.AgentPayoff,
		Features:         chat.Extract(transcript),
		ChatPreview:      chat.Preview(transcript, previewN, previewChars),
		Chat:             transcript,
	}
}
