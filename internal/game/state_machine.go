package game

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/wfunc/pd-classroom/internal/chat"
	apperrors "github.com/wfunc/pd-classroom/internal/errors"
	"go.uber.org/zap"
)

// GameState 回合状态枚举
type GameState string

const (
	StateIdentifying GameState = "identifying" // 等待登记
	StateInstructed  GameState = "instructed"  // 已登记，阅读说明
	StateChatting    GameState = "chatting"    // 第 r 回合聊天
	StateDeciding    GameState = "deciding"    // 第 r 回合决策
	StateScored      GameState = "scored"      // 第 r 回合已计分
	StateCompleted   GameState = "completed"   // 全部回合结束
)

// 状态机事件
const (
	EventIdentify  = "identify"
	EventStartChat = "start_chat"
	EventLock      = "lock"
	EventContinue  = "continue"
	EventDecide    = "decide"
	EventNextRound = "next_round"
	EventFinish    = "finish"
)

// StateTransition 状态转换定义
type StateTransition struct {
	From   GameState
	Event  string
	To     GameState
	Action func(ctx context.Context, sm *StateMachine) error
}

// StateMachine 单个参与者的回合状态机
type StateMachine struct {
	mu           sync.RWMutex
	currentState GameState
	gameID       string
	transitions  map[string][]StateTransition
	logger       *zap.Logger

	// 会话上下文
	participantLabel string
	classCode        string
	strategy         string
	totalRounds      int
	chatDuration     time.Duration

	// 回合数据
	round        int
	scoredRounds int
	transcript   chat.Transcript
	chatDeadline time.Time
	chatLocked   bool
	recordID     uint
	pending      *RoundOutcome // decide 事件要写入的结果
	lastOutcome  *RoundOutcome
	studentTotal int
	agentTotal   int
	startTime    time.Time
	lastUpdate   time.Time

	onStateChange func(from, to GameState)
	onError       func(err error)

	persister StatePersister
}

// StatePersister 状态持久化接口
type StatePersister interface {
	Save(ctx context.Context, gameID string, state *StateMachineData) error
	Load(ctx context.Context, gameID string) (*StateMachineData, error)
	Delete(ctx context.Context, gameID string) error
}

// StateMachineData 状态机数据（用于持久化）
type StateMachineData struct {
	GameID           string          `json:"game_id"`
	ParticipantLabel string          `json:"participant_label"`
	ClassCode        string          `json:"class_code"`
	Strategy         string          `json:"strategy"`
	CurrentState     GameState       `json:"current_state"`
	TotalRounds      int             `json:"total_rounds"`
	ChatDuration     time.Duration   `json:"chat_duration"`
	Round            int             `json:"round"`
	ScoredRounds     int             `json:"scored_rounds"`
	Transcript       chat.Transcript `json:"transcript"`
	ChatDeadline     time.Time       `json:"chat_deadline"`
	ChatLocked       bool            `json:"chat_locked"`
	RecordID         uint            `json:"record_id,omitempty"`
	LastOutcome      *RoundOutcome   `json:"last_outcome,omitempty"`
	StudentTotal     int             `json:"student_total"`
	AgentTotal       int             `json:"agent_total"`
	StartTime        time.Time       `json:"start_time"`
	LastUpdate       time.Time       `json:"last_update"`
}

// MachineConfig 创建状态机所需的会话上下文
type MachineConfig struct {
	GameID           string
	ParticipantLabel string
	ClassCode        string
	Strategy         string
	TotalRounds      int
	ChatDuration     time.Duration
}

// NewStateMachine 创建新的状态机，初始状态为 identifying
func NewStateMachine(mc MachineConfig, logger *zap.Logger, persister StatePersister) *StateMachine {
	if logger == nil {
		logger = zap.NewNop()
	}
	sm := &StateMachine{
		currentState:     StateIdentifying,
		gameID:           mc.GameID,
		participantLabel: mc.ParticipantLabel,
		classCode:        mc.ClassCode,
		strategy:         mc.Strategy,
		totalRounds:      mc.TotalRounds,
		chatDuration:     mc.ChatDuration,
		transitions:      make(map[string][]StateTransition),
		logger:           logger,
		lastUpdate:       time.Now(),
		persister:        persister,
	}

	sm.initTransitions()

	return sm
}

// initTransitions 初始化状态转换规则
func (sm *StateMachine) initTransitions() {
	// 登记 -> 说明
	sm.addTransition(StateTransition{
		From:  StateIdentifying,
		Event: EventIdentify,
		To:    StateInstructed,
		Action: func(ctx context.Context, sm *StateMachine) error {
			if strings.TrimSpace(sm.participantLabel) == "" {
				return apperrors.New(apperrors.ErrInvalidParam, "participant label is required")
			}
			if sm.totalRounds <= 0 {
				return apperrors.New(apperrors.ErrInvalidParam, "total rounds must be positive")
			}
			sm.startTime = time.Now()
			return nil
		},
	})

	// 说明 -> 第 1 回合聊天
	sm.addTransition(StateTransition{
		From:  StateInstructed,
		Event: EventStartChat,
		To:    StateChatting,
		Action: func(ctx context.Context, sm *StateMachine) error {
			sm.beginRound(1)
			return nil
		},
	})

	// 聊天倒计时结束，状态不变，只锁定输入
	sm.addTransition(StateTransition{
		From:  StateChatting,
		Event: EventLock,
		To:    StateChatting,
		Action: func(ctx context.Context, sm *StateMachine) error {
			if sm.chatLocked {
				return apperrors.New(apperrors.ErrChatLocked, "already locked")
			}
			sm.chatLocked = true
			return nil
		},
	})

	// 聊天 -> 决策：冻结本回合聊天记录
	sm.addTransition(StateTransition{
		From:  StateChatting,
		Event: EventContinue,
		To:    StateDeciding,
		Action: func(ctx context.Context, sm *StateMachine) error {
			sm.chatLocked = true
			sm.transcript = sm.transcript.Clone()
			return nil
		},
	})

	// 决策 -> 已计分
	sm.addTransition(StateTransition{
		From:  StateDeciding,
		Event: EventDecide,
		To:    StateScored,
		Action: func(ctx context.Context, sm *StateMachine) error {
			if sm.pending == nil {
				return apperrors.New(apperrors.ErrRoundNotFinished, "no outcome to record")
			}
			o := sm.pending
			o.Round = sm.round
			sm.pending = nil
			sm.lastOutcome = o
			sm.scoredRounds++
			sm.studentTotal += o.StudentPayoff
			sm.agentTotal += o.AgentPayoff
			sm.logger.Info("回合计分",
				zap.String("game_id", sm.gameID),
				zap.Int("round", sm.round),
				zap.String("student_move", string(o.StudentMove)),
				zap.String("agent_move", string(o.AgentMove)))
			return nil
		},
	})

	// 已计分 -> 下一回合聊天
	sm.addTransition(StateTransition{
		From:  StateScored,
		Event: EventNextRound,
		To:    StateChatting,
		Action: func(ctx context.Context, sm *StateMachine) error {
			if sm.round >= sm.totalRounds {
				return apperrors.Newf(apperrors.ErrGameStateError, "round %d is the last round", sm.round)
			}
			sm.beginRound(sm.round + 1)
			return nil
		},
	})

	// 已计分 -> 完成（只有 N 个回合都计分后才可达）
	sm.addTransition(StateTransition{
		From:  StateScored,
		Event: EventFinish,
		To:    StateCompleted,
		Action: func(ctx context.Context, sm *StateMachine) error {
			if sm.round < sm.totalRounds || sm.scoredRounds != sm.totalRounds {
				return apperrors.Newf(apperrors.ErrRoundNotFinished,
					"%d of %d rounds scored", sm.scoredRounds, sm.totalRounds)
			}
			sm.logger.Info("整局结束",
				zap.String("game_id", sm.gameID),
				zap.Duration("duration", time.Since(sm.startTime)),
				zap.Int("student_total", sm.studentTotal),
				zap.Int("agent_total", sm.agentTotal))
			return nil
		},
	})
}

// beginRound 每回合使用新的聊天记录
func (sm *StateMachine) beginRound(round int) {
	sm.round = round
	sm.transcript = chat.Transcript{}
	sm.chatLocked = false
	sm.chatDeadline = time.Now().Add(sm.chatDuration)
	sm.recordID = 0
	sm.pending = nil
}

// addTransition 添加状态转换
func (sm *StateMachine) addTransition(transition StateTransition) {
	key := sm.transitionKey(transition.From, transition.Event)
	sm.transitions[key] = append(sm.transitions[key], transition)
}

// transitionKey 生成转换键
func (sm *StateMachine) transitionKey(state GameState, event string) string {
	return fmt.Sprintf("%s:%s", state, event)
}

// Trigger 触发事件
func (sm *StateMachine) Trigger(ctx context.Context, event string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	key := sm.transitionKey(sm.currentState, event)
	transitions, exists := sm.transitions[key]
	if !exists || len(transitions) == 0 {
		return apperrors.Newf(apperrors.ErrGameStateError, "invalid transition: state=%s event=%s", sm.currentState, event)
	}

	transition := transitions[0]
	oldState := sm.currentState

	if transition.Action != nil {
		if err := transition.Action(ctx, sm); err != nil {
			// 转换失败，保持原状态
			if sm.onError != nil {
				sm.onError(err)
			}
			return err
		}
	}

	sm.currentState = transition.To
	sm.lastUpdate = time.Now()

	if sm.onStateChange != nil && oldState != sm.currentState {
		sm.onStateChange(oldState, sm.currentState)
	}

	sm.persistLocked(ctx)

	sm.logger.Info("状态转换",
		zap.String("game_id", sm.gameID),
		zap.String("from", string(oldState)),
		zap.String("to", string(sm.currentState)),
		zap.String("event", event),
		zap.Int("round", sm.round))

	return nil
}

// persistLocked 保存快照；失败只记录日志，不阻断流程
func (sm *StateMachine) persistLocked(ctx context.Context) {
	if sm.persister == nil {
		return
	}
	if err := sm.persister.Save(ctx, sm.gameID, sm.toData()); err != nil {
		sm.logger.Error("持久化状态失败",
			zap.Error(err),
			zap.String("game_id", sm.gameID))
	}
}

// Persist 保存当前快照
func (sm *StateMachine) Persist(ctx context.Context) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	sm.persistLocked(ctx)
}

// GetState 获取当前状态
func (sm *StateMachine) GetState() GameState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.currentState
}

// Round 当前回合（未开始为 0）
func (sm *StateMachine) Round() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.round
}

// ScoredRounds 已计分回合数
func (sm *StateMachine) ScoredRounds() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.scoredRounds
}

// ChatLocked 聊天是否已锁定
func (sm *StateMachine) ChatLocked() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.chatLocked
}

// ChatDeadline 本回合聊天截止时间
func (sm *StateMachine) ChatDeadline() time.Time {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.chatDeadline
}

// Transcript 返回聊天记录副本
func (sm *StateMachine) Transcript() chat.Transcript {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.transcript.Clone()
}

// AppendMessage 追加一条消息；只允许在 round 回合的聊天阶段追加
// student 消息还要求聊天未锁定，对手回复在锁定后仍可送达
func (sm *StateMachine) AppendMessage(round int, role chat.Role, text string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.currentState != StateChatting || sm.round != round {
		return apperrors.Newf(apperrors.ErrGameStateError, "round %d chat is over", round)
	}
	if role == chat.RoleStudent && sm.chatLocked {
		return apperrors.New(apperrors.ErrChatLocked)
	}
	sm.transcript = sm.transcript.Append(role, text)
	sm.lastUpdate = time.Now()
	return nil
}

// SetPendingOutcome 设置 decide 事件要写入的结果
func (sm *StateMachine) SetPendingOutcome(o *RoundOutcome) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.pending = o
}

// LastOutcome 最近一个回合的结果
func (sm *StateMachine) LastOutcome() *RoundOutcome {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.lastOutcome
}

// SetRecordID 记录本回合落库记录的ID
func (sm *StateMachine) SetRecordID(id uint) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.recordID = id
}

// RecordID 本回合落库记录的ID（未落库为 0）
func (sm *StateMachine) RecordID() uint {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.recordID
}

// Totals 累计得分
func (sm *StateMachine) Totals() (student, agent int) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.studentTotal, sm.agentTotal
}

// OnStateChange 设置状态变更回调
func (sm *StateMachine) OnStateChange(fn func(from, to GameState)) {
	sm.onStateChange = fn
}

// OnError 设置错误回调
func (sm *StateMachine) OnError(fn func(err error)) {
	sm.onError = fn
}

// CanTransition 检查是否可以转换
func (sm *StateMachine) CanTransition(event string) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	key := sm.transitionKey(sm.currentState, event)
	transitions, exists := sm.transitions[key]
	return exists && len(transitions) > 0
}

func (sm *StateMachine) validEventsLocked() []string {
	events := []string{}
	prefix := string(sm.currentState) + ":"
	for _, event := range []string{EventIdentify, EventStartChat, EventLock, EventContinue, EventDecide, EventNextRound, EventFinish} {
		if _, ok := sm.transitions[prefix+event]; ok {
			events = append(events, event)
		}
	}
	return events
}

// Info 生成会话快照
func (sm *StateMachine) Info() *SessionInfo {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	info := &SessionInfo{
		GameID:           sm.gameID,
		ParticipantLabel: sm.participantLabel,
		ClassCode:        sm.classCode,
		Strategy:         sm.strategy,
		State:            sm.currentState,
		Round:            sm.round,
		TotalRounds:      sm.totalRounds,
		ChatLocked:       sm.chatLocked,
		Transcript:       sm.transcript.Clone(),
		StudentTotal:     sm.studentTotal,
		AgentTotal:       sm.agentTotal,
		LastOutcome:      sm.lastOutcome,
		StartTime:        sm.startTime,
		ValidEvents:      sm.validEventsLocked(),
	}
	if sm.currentState == StateChatting && !sm.chatLocked {
		if remaining := time.Until(sm.chatDeadline); remaining > 0 {
			info.RemainingSeconds = int((remaining + time.Second - 1) / time.Second)
		}
	}
	return info
}

// toData 转换为持久化数据
func (sm *StateMachine) toData() *StateMachineData {
	return &StateMachineData{
		GameID:           sm.gameID,
		ParticipantLabel: sm.participantLabel,
		ClassCode:        sm.classCode,
		Strategy:         sm.strategy,
		CurrentState:     sm.currentState,
		TotalRounds:      sm.totalRounds,
		ChatDuration:     sm.chatDuration,
		Round:            sm.round,
		ScoredRounds:     sm.scoredRounds,
		Transcript:       sm.transcript.Clone(),
		ChatDeadline:     sm.chatDeadline,
		ChatLocked:       sm.chatLocked,
		RecordID:         sm.recordID,
		LastOutcome:      sm.lastOutcome,
		StudentTotal:     sm.studentTotal,
		AgentTotal:       sm.agentTotal,
		StartTime:        sm.startTime,
		LastUpdate:       sm.lastUpdate,
	}
}

// LoadFromData 从持久化数据加载
func (sm *StateMachine) LoadFromData(data *StateMachineData) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.gameID = data.GameID
	sm.participantLabel = data.ParticipantLabel
	sm.classCode = data.ClassCode
	sm.strategy = data.Strategy
	sm.currentState = data.CurrentState
	sm.totalRounds = data.TotalRounds
	sm.chatDuration = data.ChatDuration
	sm.round = data.Round
	sm.scoredRounds = data.ScoredRounds
	sm.transcript = data.Transcript.Clone()
	sm.chatDeadline = data.ChatDeadline
	sm.chatLocked = data.ChatLocked
	sm.recordID = data.RecordID
	sm.lastOutcome = data.LastOutcome
	sm.studentTotal = data.StudentTotal
	sm.agentTotal = data.AgentTotal
	sm.startTime = data.StartTime
	sm.lastUpdate = data.LastUpdate
}
