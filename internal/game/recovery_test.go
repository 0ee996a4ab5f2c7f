package game

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/pd-classroom/internal/chat"
	apperrors "github.com/wfunc/pd-classroom/internal/errors"
	"github.com/wfunc/pd-classroom/internal/repository"
	"go.uber.org/zap"
)

func chattingData(gameID string, deadline time.Time) *StateMachineData {
	return &StateMachineData{
		GameID:           gameID,
		ParticipantLabel: "bob",
		Strategy:         "ALWAYS_DEFECT",
		CurrentState:     StateChatting,
		TotalRounds:      10,
		ChatDuration:     30 * time.Second,
		Round:            2,
		ScoredRounds:     1,
		Transcript:       chat.Transcript{{Role: chat.RoleStudent, Text: "hi"}},
		ChatDeadline:     deadline,
		StudentTotal:     3,
		AgentTotal:       3,
		LastUpdate:       time.Now(),
	}
}

func TestRecoveryManager_ChattingDeadlinePassed(t *testing.T) {
	ctx := context.Background()
	persister := NewMemoryStatePersister()
	rm := NewRecoveryManager(zap.NewNop(), persister, 30*time.Minute)

	require.NoError(t, persister.Save(ctx, "g-expired", chattingData("g-expired", time.Now().Add(-time.Minute))))

	sm, err := rm.RecoverSession(ctx, "g-expired")
	require.NoError(t, err)
	assert.Equal(t, StateChatting, sm.GetState())
	assert.True(t, sm.ChatLocked())
	assert.Equal(t, 2, sm.Round())
	assert.Len(t, sm.Transcript(), 1)

	// 锁定状态已写回快照
	data, err := persister.Load(ctx, "g-expired")
	require.NoError(t, err)
	assert.True(t, data.ChatLocked)
}

func TestRecoveryManager_ChattingStillOpen(t *testing.T) {
	ctx := context.Background()
	persister := NewMemoryStatePersister()
	rm := NewRecoveryManager(zap.NewNop(), persister, 30*time.Minute)

	require.NoError(t, persister.Save(ctx, "g-open", chattingData("g-open", time.Now().Add(time.Minute))))

	sm, err := rm.RecoverSession(ctx, "g-open")
	require.NoError(t, err)
	assert.False(t, sm.ChatLocked())
	student, agent := sm.Totals()
	assert.Equal(t, 3, student)
	assert.Equal(t, 3, agent)
}

func TestRecoveryManager_SessionTimeout(t *testing.T) {
	ctx := context.Background()
	persister := NewMemoryStatePersister()
	rm := NewRecoveryManager(zap.NewNop(), persister, 30*time.Minute)

	data := chattingData("g-old", time.Now())
	data.LastUpdate = time.Now().Add(-time.Hour)
	require.NoError(t, persister.Save(ctx, "g-old", data))

	_, err := rm.RecoverSession(ctx, "g-old")
	assert.True(t, apperrors.Is(err, apperrors.ErrTimeout))

	_, err = persister.Load(ctx, "g-old")
	assert.True(t, apperrors.Is(err, apperrors.ErrSessionNotFound))
}

func TestRecoveryManager_UnknownState(t *testing.T) {
	ctx := context.Background()
	persister := NewMemoryStatePersister()
	rm := NewRecoveryManager(zap.NewNop(), persister, 0)

	data := chattingData("g-bad", time.Now())
	data.CurrentState = GameState("spinning")
	require.NoError(t, persister.Save(ctx, "g-bad", data))

	_, err := rm.RecoverSession(ctx, "g-bad")
	assert.True(t, apperrors.Is(err, apperrors.ErrGameStateError))
}

func TestRecoveryManager_NotFound(t *testing.T) {
	rm := NewRecoveryManager(zap.NewNop(), NewMemoryStatePersister(), time.Hour)
	_, err := rm.RecoverSession(context.Background(), "missing")
	assert.True(t, apperrors.Is(err, apperrors.ErrSessionNotFound))
}

func TestDatabaseStatePersister_RoundTrip(t *testing.T) {
	ctx := context.Background()
	db := repository.SetupTestDB(t)
	persister := NewDatabaseStatePersister(repository.NewGameStateRepository(db))

	data := chattingData("g-db", time.Now().Add(time.Minute))
	data.LastOutcome = &RoundOutcome{Round: 1, StudentMove: "COOPERATE", AgentMove: "COOPERATE", StudentPayoff: 3, AgentPayoff: 3}
	require.NoError(t, persister.Save(ctx, "g-db", data))

	// 再次保存走更新路径
	data.Round = 3
	require.NoError(t, persister.Save(ctx, "g-db", data))

	loaded, err := persister.Load(ctx, "g-db")
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Round)
	assert.Equal(t, StateChatting, loaded.CurrentState)
	require.NotNil(t, loaded.LastOutcome)
	assert.Equal(t, 3, loaded.LastOutcome.StudentPayoff)
	assert.Equal(t, "hi", loaded.Transcript[0].Text)

	n, err := persister.DeleteStale(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = persister.Load(ctx, "g-db")
	assert.True(t, apperrors.Is(err, apperrors.ErrSessionNotFound))
}

func TestCacheStatePersister(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryStatePersister()
	storage := NewMemoryStatePersister()
	p := NewCacheStatePersister(cache, storage)

	require.NoError(t, p.Save(ctx, "g-c", chattingData("g-c", time.Now())))
	_, err := cache.Load(ctx, "g-c")
	require.NoError(t, err)

	// 缓存未命中时从存储层加载并回填
	require.NoError(t, cache.Delete(ctx, "g-c"))
	_, err = p.Load(ctx, "g-c")
	require.NoError(t, err)
	_, err = cache.Load(ctx, "g-c")
	require.NoError(t, err)

	require.NoError(t, p.Delete(ctx, "g-c"))
	_, err = storage.Load(ctx, "g-c")
	assert.Error(t, err)
}

func TestMemoryStatePersister_CopiesData(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryStatePersister()
	data := chattingData("g-m", time.Now())
	require.NoError(t, p.Save(ctx, "g-m", data))

	data.Transcript[0].Text = "mutated"
	loaded, err := p.Load(ctx, "g-m")
	require.NoError(t, err)
	assert.Equal(t, "hi", loaded.Transcript[0].Text)
}
