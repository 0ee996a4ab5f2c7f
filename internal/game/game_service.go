package game

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wfunc/pd-classroom/internal/chat"
	"github.com/wfunc/pd-classroom/internal/config"
	apperrors "github.com/wfunc/pd-classroom/internal/errors"
	"github.com/wfunc/pd-classroom/internal/game/dilemma"
	"github.com/wfunc/pd-classroom/internal/logger"
	"github.com/wfunc/pd-classroom/internal/models"
	"github.com/wfunc/pd-classroom/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/datatypes"
)

// maxStudentMessageChars 单条学生消息的最大长度
const maxStudentMessageChars = 1000

// 提示文案
const (
	noticeReplyFailed    = "Person A did not answer this time. You can keep chatting."
	noticeDecisionFailed = "Person A could not decide, so the default move (DEFECT) was used."
	noticeChatNotSaved   = "Your chat for this round could not be saved. The game continues."
	noticeRoundNotSaved  = "The result of this round could not be saved. The game continues."
	noticeScoreFromLocal = "Some rounds were not saved. The score shown comes from this session."
)

// GameService 回合流程服务（业务逻辑层）
type GameService struct {
	sessionManager *SessionManager
	records        repository.RoundRecordRepository
	policy         *dilemma.Policy
	counterpart    *dilemma.Counterpart
	notifier       Notifier
	cfg            config.GameConfig
	tickInterval   time.Duration
	flight         singleflight.Group
	logger         *zap.Logger
}

// GameServiceConfig 回合流程服务配置
type GameServiceConfig struct {
	Logger       *zap.Logger
	Game         *config.GameConfig
	Records      repository.RoundRecordRepository
	Persister    StatePersister
	Policy       *dilemma.Policy
	Counterpart  *dilemma.Counterpart
	Notifier     Notifier
	TickInterval time.Duration // 倒计时推送间隔，0 表示不推送
}

// NewGameService 创建回合流程服务
func NewGameService(cfg *GameServiceConfig) *GameService {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = NopNotifier{}
	}

	return &GameService{
		sessionManager: NewSessionManager(&SessionConfig{
			Logger:         log,
			Persister:      cfg.Persister,
			SessionTimeout: cfg.Game.SessionTimeout,
			MaxSessions:    cfg.Game.MaxSessions,
		}),
		records:      cfg.Records,
		policy:       cfg.Policy,
		counterpart:  cfg.Counterpart,
		notifier:     notifier,
		cfg:          *cfg.Game,
		tickInterval: cfg.TickInterval,
		logger:       log,
	}
}

// SetNotifier 设置推送通道（WebSocket hub 创建后注入）
func (s *GameService) SetNotifier(n Notifier) {
	if n != nil {
		s.notifier = n
	}
}

// Identify 登记参与者；浏览器带来的局仍在进行且标签一致时直接复用
// 标签不一致（共用电脑换了人）时开新局，旧局保持不变
func (s *GameService) Identify(ctx context.Context, req IdentifyRequest) (*SessionInfo, error) {
	label := strings.TrimSpace(req.ParticipantLabel)
	if label == "" {
		return nil, apperrors.New(apperrors.ErrInvalidParam, "participant label is required")
	}
	classCode := strings.TrimSpace(req.ClassCode)

	if id := strings.TrimSpace(req.GameID); id != "" {
		if session, err := s.loadSession(ctx, id); err == nil && session.GetState() != StateCompleted {
			info := session.StateMachine.Info()
			if info.ParticipantLabel == label {
				s.logger.Info("复用进行中的局",
					zap.String("game_id", id),
					zap.String("participant_label", label))
				return info, nil
			}
			s.logger.Info("参与者标签不一致，开新局",
				zap.String("game_id", id),
				zap.String("session_label", info.ParticipantLabel),
				zap.String("participant_label", label))
		}
	}

	strategy, err := s.resolveStrategy(classCode, req.Strategy)
	if err != nil {
		return nil, err
	}

	gameID := uuid.NewString()
	session, err := s.sessionManager.CreateSession(ctx, MachineConfig{
		GameID:           gameID,
		ParticipantLabel: label,
		ClassCode:        classCode,
		Strategy:         string(strategy),
		TotalRounds:      s.cfg.Rounds,
		ChatDuration:     s.cfg.ChatDuration,
	})
	if err != nil {
		return nil, err
	}

	if err := session.StateMachine.Trigger(ctx, EventIdentify); err != nil {
		_ = s.sessionManager.RemoveSession(ctx, gameID, true)
		return nil, err
	}

	logger.LogGameEvent(EventIdentify, gameID, 0, map[string]interface{}{
		"participant_label": label,
		"class_code":        classCode,
		"strategy":          strategy,
	})
	return session.StateMachine.Info(), nil
}

// resolveStrategy 班级策略；允许覆盖时使用请求中的策略
func (s *GameService) resolveStrategy(classCode, override string) (dilemma.Strategy, error) {
	if s.cfg.AllowStrategyOverride && strings.TrimSpace(override) != "" {
		return dilemma.ParseStrategy(override)
	}
	name := s.cfg.StrategyFor(classCode)
	st, err := dilemma.ParseStrategy(name)
	if err != nil {
		return "", apperrors.Newf(apperrors.ErrConfigValidate, "configured strategy %q", name)
	}
	return st, nil
}

// GetSession 会话快照
func (s *GameService) GetSession(ctx context.Context, gameID string) (*SessionInfo, error) {
	session, err := s.loadSession(ctx, gameID)
	if err != nil {
		return nil, err
	}
	return session.StateMachine.Info(), nil
}

// Restart 显式重新开始：丢弃会话上下文和快照，已落库的回合保留
func (s *GameService) Restart(ctx context.Context, gameID string) error {
	if err := s.sessionManager.RemoveSession(ctx, gameID, true); err != nil {
		return err
	}
	logger.LogGameEvent("restart", gameID, 0, nil)
	return nil
}

// StartChat 说明页 -> 第 1 回合聊天
func (s *GameService) StartChat(ctx context.Context, gameID string) (*StartChatResult, error) {
	session, err := s.loadSession(ctx, gameID)
	if err != nil {
		return nil, err
	}

	session.mu.Lock()
	if err := session.StateMachine.Trigger(ctx, EventStartChat); err != nil {
		session.mu.Unlock()
		return nil, err
	}
	s.armChatLocked(session)
	info := session.StateMachine.Info()
	session.mu.Unlock()

	s.notifier.Notify(gameID, PushChatStarted, info)

	res := &StartChatResult{Session: info}
	res.Opener, res.Notices = s.openRound(ctx, session, info)
	if res.Opener != nil {
		res.Session = session.StateMachine.Info()
	}
	return res, nil
}

// SendMessage 追加学生消息并生成对手回复
// 回复在倒计时结束后到达仍然追加，回合已进入决策后才丢弃
func (s *GameService) SendMessage(ctx context.Context, gameID, text string) (*MessageResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperrors.New(apperrors.ErrInvalidParam, "message is empty")
	}
	if len([]rune(text)) > maxStudentMessageChars {
		return nil, apperrors.Newf(apperrors.ErrInvalidParam, "message is longer than %d characters", maxStudentMessageChars)
	}

	session, err := s.loadSession(ctx, gameID)
	if err != nil {
		return nil, err
	}
	sm := session.StateMachine

	session.mu.Lock()
	if sm.GetState() != StateChatting {
		session.mu.Unlock()
		return nil, apperrors.New(apperrors.ErrGameStateError, "not in the chat phase")
	}
	round := sm.Round()
	if err := sm.AppendMessage(round, chat.RoleStudent, text); err != nil {
		session.mu.Unlock()
		return nil, err
	}
	transcript := sm.Transcript()
	strategy := dilemma.Strategy(sm.Info().Strategy)
	session.mu.Unlock()
	sm.Persist(ctx)

	res := &MessageResult{Round: round}

	// 请求断开不影响回复送达（回复还会通过推送通道下发）
	rctx, cancel := s.withTimeout(context.WithoutCancel(ctx), s.cfg.ReplyTimeout)
	reply, err := s.counterpart.Reply(rctx, strategy, transcript)
	cancel()

	if err != nil {
		s.logger.Warn("对手回复失败",
			zap.String("game_id", gameID),
			zap.Int("round", round),
			zap.Error(err))
		res.Notices = append(res.Notices, apperrors.NoticeFrom(err, apperrors.ErrGenerationFailed, noticeReplyFailed))
	} else {
		res.Reply = reply
		if !reply.Silent {
			res.Delivered = s.deliver(ctx, session, round, reply.Text)
		}
	}

	res.ChatLocked = sm.ChatLocked()
	res.Transcript = sm.Transcript()
	return res, nil
}

// Continue 聊天 -> 决策，第一阶段写入只含聊天记录的回合记录
func (s *GameService) Continue(ctx context.Context, gameID string) (*ContinueResult, error) {
	session, err := s.loadSession(ctx, gameID)
	if err != nil {
		return nil, err
	}
	sm := session.StateMachine

	session.mu.Lock()
	defer session.mu.Unlock()

	switch sm.GetState() {
	case StateDeciding:
		return &ContinueResult{Session: sm.Info(), RecordID: sm.RecordID(), Duplicate: true}, nil
	case StateChatting:
	default:
		return nil, apperrors.New(apperrors.ErrGameStateError, "not in the chat phase")
	}
	if s.cfg.RequireLockBeforeContinue && !sm.ChatLocked() {
		return nil, apperrors.New(apperrors.ErrGameStateError, "chat is still open")
	}

	if err := sm.Trigger(ctx, EventContinue); err != nil {
		return nil, err
	}
	session.stopChatTimerLocked()

	info := sm.Info()
	res := &ContinueResult{Session: info}

	record, err := s.createRecord(ctx, info, info.Transcript)
	if err != nil {
		s.logger.Error("保存聊天记录失败",
			zap.String("game_id", gameID),
			zap.Int("round", info.Round),
			zap.Error(err))
		res.Notices = append(res.Notices, apperrors.NoticeFrom(err, apperrors.ErrDatabaseInsert, noticeChatNotSaved))
		return res, nil
	}

	sm.SetRecordID(record.ID)
	sm.Persist(ctx)
	res.RecordID = record.ID
	return res, nil
}

// Decide 决策 -> 已计分；同一局同一回合只计算一次
func (s *GameService) Decide(ctx context.Context, gameID, studentMove string) (*DecisionResult, error) {
	move, err := dilemma.ParseMove(studentMove)
	if err != nil {
		return nil, err
	}

	session, err := s.loadSession(ctx, gameID)
	if err != nil {
		return nil, err
	}
	sm := session.StateMachine

	// 计分一旦开始就要落库，不随请求取消；同一回合的重复点击也共用这个 ctx
	ctx = context.WithoutCancel(ctx)

	switch state := sm.GetState(); {
	case state == StateScored || state == StateCompleted:
		s.resyncOutcome(ctx, session)
		return s.scoredResult(session), nil
	case !sm.CanTransition(EventDecide):
		return nil, apperrors.New(apperrors.ErrGameStateError, "continue to the decision first")
	}

	round := sm.Round()
	executed := false
	v, err, _ := s.flight.Do(fmt.Sprintf("%s:%d", gameID, round), func() (interface{}, error) {
		executed = true
		return s.scoreRound(ctx, session, round, move)
	})
	if err != nil {
		return nil, err
	}

	res := *v.(*DecisionResult)
	if !executed {
		res.Duplicate = true
		res.Notices = nil
	}
	return &res, nil
}

// scoreRound 计算并记录一个回合的结果
func (s *GameService) scoreRound(ctx context.Context, session *GameSession, round int, studentMove dilemma.Move) (*DecisionResult, error) {
	sm := session.StateMachine

	session.mu.Lock()
	if sm.GetState() != StateDeciding || sm.Round() != round {
		session.mu.Unlock()
		return s.scoredResult(session), nil
	}
	info := sm.Info()
	recordID := sm.RecordID()
	session.mu.Unlock()

	var notices []apperrors.Notice

	dctx, cancel := s.withTimeout(ctx, s.cfg.DecisionTimeout)
	decision, err := s.policy.Decide(dctx, dilemma.Strategy(info.Strategy), info.Transcript)
	cancel()
	if err != nil {
		decision = dilemma.Fallback()
		notices = append(notices, apperrors.NoticeFrom(nil, apperrors.ErrDecisionFailed, noticeDecisionFailed))
	}
	logger.LogDecision(info.GameID, round, info.Strategy, string(decision.Move), decision.Source, err)

	payoff := dilemma.Payoff(studentMove, decision.Move)
	outcome := &RoundOutcome{
		Round:           round,
		StudentMove:     payoff.StudentMove,
		AgentMove:       payoff.AgentMove,
		StudentPayoff:   payoff.StudentPayoff,
		AgentPayoff:     payoff.AgentPayoff,
		AgentConfidence: decision.Confidence,
		AgentReason:     decision.Reason,
		DecisionSource:  decision.Source,
		Explanation:     dilemma.Explain(payoff.StudentMove, payoff.AgentMove),
	}

	duplicate := false
	stored, recordID, err := s.storeOutcome(ctx, info, recordID, outcome)
	switch {
	case err != nil:
		s.logger.Error("保存回合结果失败",
			zap.String("game_id", info.GameID),
			zap.Int("round", round),
			zap.Error(err))
		notices = append(notices, apperrors.NoticeFrom(err, apperrors.ErrDatabaseUpdate, noticeRoundNotSaved))
	case stored != nil:
		// 库里已有结果时以库为准，不覆盖
		outcome = stored
		duplicate = true
		notices = nil
	}

	session.mu.Lock()
	if recordID != 0 {
		sm.SetRecordID(recordID)
	}
	sm.SetPendingOutcome(outcome)
	err = sm.Trigger(ctx, EventDecide)
	info = sm.Info()
	session.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.notifier.Notify(info.GameID, PushRoundScored, outcome)
	logger.LogGameEvent(EventDecide, info.GameID, round, map[string]interface{}{
		"student_move": outcome.StudentMove,
		"agent_move":   outcome.AgentMove,
		"duplicate":    duplicate,
	})

	return &DecisionResult{Outcome: outcome, Session: info, Duplicate: duplicate, Notices: notices}, nil
}

// storeOutcome 第二阶段写入；只在结果字段为空时更新
// 返回库中已有的结果（若存在）和实际使用的记录ID
func (s *GameService) storeOutcome(ctx context.Context, info *SessionInfo, recordID uint, outcome *RoundOutcome) (*RoundOutcome, uint, error) {
	if recordID == 0 {
		// 第一阶段写入失败过，先补写聊天记录
		record, err := s.createRecord(ctx, info, info.Transcript)
		if err != nil {
			return nil, 0, err
		}
		recordID = record.ID
	}

	conf := outcome.AgentConfidence
	applied, err := s.records.AttachOutcome(ctx, recordID, &models.RoundOutcome{
		StudentMove:     string(outcome.StudentMove),
		AgentMove:       string(outcome.AgentMove),
		StudentPayoff:   outcome.StudentPayoff,
		AgentPayoff:     outcome.AgentPayoff,
		AgentConfidence: &conf,
		AgentReason:     outcome.AgentReason,
		DecisionSource:  outcome.DecisionSource,
	})
	if err != nil {
		return nil, recordID, err
	}
	if applied {
		return nil, recordID, nil
	}

	record, err := s.records.FindByID(ctx, recordID)
	if err != nil {
		return nil, recordID, err
	}
	existing := record.Outcome()
	if existing == nil {
		return nil, recordID, apperrors.New(apperrors.ErrDatabaseUpdate, "outcome was not written")
	}
	return outcomeFromRecord(info.Round, existing), recordID, nil
}

// createRecord 插入只含聊天记录的回合记录
func (s *GameService) createRecord(ctx context.Context, info *SessionInfo, transcript chat.Transcript) (*models.RoundRecord, error) {
	chatJSON, err := json.Marshal(transcript)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInvalidParam, "transcript")
	}
	record := &models.RoundRecord{
		ClassCode:        info.ClassCode,
		ParticipantLabel: info.ParticipantLabel,
		GameID:           info.GameID,
		RoundNum:         info.Round,
		Strategy:         info.Strategy,
		Chat:             datatypes.JSON(chatJSON),
	}
	if err := s.records.Create(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

func outcomeFromRecord(round int, o *models.RoundOutcome) *RoundOutcome {
	out := &RoundOutcome{
		Round:          round,
		StudentMove:    dilemma.Move(o.StudentMove),
		AgentMove:      dilemma.Move(o.AgentMove),
		StudentPayoff:  o.StudentPayoff,
		AgentPayoff:    o.AgentPayoff,
		AgentReason:    o.AgentReason,
		DecisionSource: o.DecisionSource,
		Explanation:    dilemma.Explain(dilemma.Move(o.StudentMove), dilemma.Move(o.AgentMove)),
	}
	if o.AgentConfidence != nil {
		out.AgentConfidence = *o.AgentConfidence
	}
	return out
}

// resyncOutcome 已计分回合的结果没有落库时补写（上次写入失败的情况）
func (s *GameService) resyncOutcome(ctx context.Context, session *GameSession) {
	info := session.StateMachine.Info()
	outcome := info.LastOutcome
	if outcome == nil {
		return
	}

	records, err := s.records.FindByGame(ctx, info.GameID)
	if err != nil {
		s.logger.Warn("查询回合记录失败，跳过补写",
			zap.String("game_id", info.GameID),
			zap.Error(err))
		return
	}
	var recordID uint
	for _, r := range records {
		if r.RoundNum != outcome.Round {
			continue
		}
		if r.IsScored() {
			return
		}
		recordID = r.ID
		break
	}

	roundInfo := *info
	roundInfo.Round = outcome.Round
	if _, recordID, err = s.storeOutcome(ctx, &roundInfo, recordID, outcome); err != nil {
		s.logger.Warn("补写回合结果失败",
			zap.String("game_id", info.GameID),
			zap.Int("round", outcome.Round),
			zap.Error(err))
		return
	}

	session.mu.Lock()
	if recordID != 0 && session.StateMachine.Round() == outcome.Round {
		session.StateMachine.SetRecordID(recordID)
		session.StateMachine.Persist(ctx)
	}
	session.mu.Unlock()

	s.logger.Info("补写回合结果",
		zap.String("game_id", info.GameID),
		zap.Int("round", outcome.Round))
}

// scoredResult 已计分回合的重复提交，返回已有结果
func (s *GameService) scoredResult(session *GameSession) *DecisionResult {
	info := session.StateMachine.Info()
	return &DecisionResult{Outcome: info.LastOutcome, Session: info, Duplicate: true}
}

// Next 已计分 -> 下一回合聊天，最后一回合后 -> 完成
func (s *GameService) Next(ctx context.Context, gameID string) (*NextResult, error) {
	session, err := s.loadSession(ctx, gameID)
	if err != nil {
		return nil, err
	}
	sm := session.StateMachine

	session.mu.Lock()
	switch sm.GetState() {
	case StateCompleted:
		info := sm.Info()
		session.mu.Unlock()
		score, notices := s.finalScore(ctx, info)
		return &NextResult{Session: info, Completed: true, Score: score, Notices: notices}, nil
	case StateScored:
	default:
		session.mu.Unlock()
		return nil, apperrors.New(apperrors.ErrRoundNotFinished)
	}

	if sm.Round() < s.totalRounds(sm) {
		if err := sm.Trigger(ctx, EventNextRound); err != nil {
			session.mu.Unlock()
			return nil, err
		}
		s.armChatLocked(session)
		info := sm.Info()
		session.mu.Unlock()

		s.notifier.Notify(gameID, PushChatStarted, info)
		res := &NextResult{Session: info}
		res.Opener, res.Notices = s.openRound(ctx, session, info)
		if res.Opener != nil {
			res.Session = sm.Info()
		}
		return res, nil
	}

	if err := sm.Trigger(ctx, EventFinish); err != nil {
		session.mu.Unlock()
		return nil, err
	}
	info := sm.Info()
	session.mu.Unlock()

	score, notices := s.finalScore(ctx, info)
	s.notifier.Notify(gameID, PushGameCompleted, score)
	logger.LogGameEvent(EventFinish, gameID, info.Round, map[string]interface{}{
		"student_total": score.StudentTotal,
		"agent_total":   score.AgentTotal,
	})
	return &NextResult{Session: info, Completed: true, Score: score, Notices: notices}, nil
}

func (s *GameService) totalRounds(sm *StateMachine) int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.totalRounds
}

// finalScore 优先使用库中的合计；库中回合不全时使用会话内合计
func (s *GameService) finalScore(ctx context.Context, info *SessionInfo) (*FinalScore, []apperrors.Notice) {
	local := &FinalScore{
		GameID:           info.GameID,
		ParticipantLabel: info.ParticipantLabel,
		RoundsPlayed:     info.TotalRounds,
		StudentTotal:     info.StudentTotal,
		AgentTotal:       info.AgentTotal,
	}

	stored, err := s.records.ScoreByGame(ctx, info.GameID, info.ParticipantLabel)
	if err != nil {
		return local, []apperrors.Notice{apperrors.NoticeFrom(err, apperrors.ErrDatabaseQuery, noticeScoreFromLocal)}
	}
	if int(stored.ScoredRounds) != info.TotalRounds {
		return local, []apperrors.Notice{apperrors.NoticeFrom(nil, apperrors.ErrDatabaseQuery, noticeScoreFromLocal)}
	}
	return &FinalScore{
		GameID:           info.GameID,
		ParticipantLabel: info.ParticipantLabel,
		RoundsPlayed:     int(stored.ScoredRounds),
		StudentTotal:     int(stored.StudentTotal),
		AgentTotal:       int(stored.AgentTotal),
	}, nil
}

// openRound 对手可能先开口
func (s *GameService) openRound(ctx context.Context, session *GameSession, info *SessionInfo) (*dilemma.Reply, []apperrors.Notice) {
	rctx, cancel := s.withTimeout(context.WithoutCancel(ctx), s.cfg.ReplyTimeout)
	defer cancel()

	opener, err := s.counterpart.Opener(rctx, dilemma.Strategy(info.Strategy))
	if err != nil {
		s.logger.Warn("对手开场白失败",
			zap.String("game_id", info.GameID),
			zap.Int("round", info.Round),
			zap.Error(err))
		return nil, []apperrors.Notice{apperrors.NoticeFrom(err, apperrors.ErrGenerationFailed, noticeReplyFailed)}
	}
	if opener == nil || opener.Silent {
		return nil, nil
	}
	if !s.deliver(ctx, session, info.Round, opener.Text) {
		return nil, nil
	}
	return opener, nil
}

// deliver 追加对手消息；回合已离开聊天阶段时丢弃
func (s *GameService) deliver(ctx context.Context, session *GameSession, round int, text string) bool {
	sm := session.StateMachine
	if err := sm.AppendMessage(round, chat.RoleAgent, text); err != nil {
		s.logger.Info("回合已结束，丢弃迟到的回复",
			zap.String("game_id", session.GameID),
			zap.Int("round", round))
		return false
	}
	sm.Persist(ctx)
	s.notifier.Notify(session.GameID, PushAgentMessage, map[string]interface{}{
		"round": round,
		"text":  text,
	})
	return true
}

// armChatLocked 设置倒计时和推送；调用方持有 session.mu
func (s *GameService) armChatLocked(session *GameSession) {
	sm := session.StateMachine
	round := sm.Round()
	remaining := time.Until(sm.ChatDeadline())
	if remaining < 0 {
		remaining = 0
	}
	stop := session.armChatTimer(remaining, func() { s.lockChat(session, round) })
	if s.tickInterval > 0 {
		go s.tick(session, round, stop)
	}
}

// lockChat 倒计时到期
func (s *GameService) lockChat(session *GameSession, round int) {
	sm := session.StateMachine

	session.mu.Lock()
	if sm.GetState() != StateChatting || sm.Round() != round || sm.ChatLocked() {
		session.mu.Unlock()
		return
	}
	if err := sm.Trigger(context.Background(), EventLock); err != nil {
		session.mu.Unlock()
		s.logger.Warn("锁定聊天失败", zap.String("game_id", session.GameID), zap.Error(err))
		return
	}
	session.stopChatTimerLocked()
	session.mu.Unlock()

	s.notifier.Notify(session.GameID, PushChatLocked, map[string]interface{}{"round": round})
}

// tick 推送剩余秒数，锁定或离开聊天阶段后停止
func (s *GameService) tick(session *GameSession, round int, stop <-chan struct{}) {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			info := session.StateMachine.Info()
			if info.State != StateChatting || info.Round != round || info.ChatLocked {
				return
			}
			s.notifier.Notify(session.GameID, PushChatTick, map[string]interface{}{
				"round":             round,
				"remaining_seconds": info.RemainingSeconds,
			})
		}
	}
}

// loadSession 取会话；从快照恢复的聊天回合需要重新设置倒计时
func (s *GameService) loadSession(ctx context.Context, gameID string) (*GameSession, error) {
	session, recovered, err := s.sessionManager.RecoverSession(ctx, gameID)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrTimeout) {
			return nil, apperrors.New(apperrors.ErrSessionNotFound, gameID)
		}
		return nil, err
	}
	if recovered {
		session.mu.Lock()
		sm := session.StateMachine
		state := sm.GetState()
		if state == StateChatting && !sm.ChatLocked() {
			s.armChatLocked(session)
		}
		session.mu.Unlock()

		if state == StateScored || state == StateCompleted {
			s.resyncOutcome(context.WithoutCancel(ctx), session)
		}
	}
	return session, nil
}

func (s *GameService) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// ActiveSessions 内存中的会话数
func (s *GameService) ActiveSessions() int {
	return s.sessionManager.GetActiveSessions()
}

// Start 启动后台任务
func (s *GameService) Start(ctx context.Context) {
	s.sessionManager.StartCleanupTask(ctx, s.cfg.CleanupInterval)
	s.logger.Info("回合流程服务已启动",
		zap.Int("rounds", s.cfg.Rounds),
		zap.Duration("chat_duration", s.cfg.ChatDuration))
}

// Stop 保存所有活跃会话
func (s *GameService) Stop(ctx context.Context) {
	s.sessionManager.SaveAll(ctx)
	s.logger.Info("回合流程服务已停止", zap.Int("sessions", s.sessionManager.GetActiveSessions()))
}
