package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperrors "github.com/wfunc/pd-classroom/internal/errors"
	"github.com/wfunc/pd-classroom/internal/models"
	"gorm.io/datatypes"
)

func TestGameStateRepository_SaveUpserts(t *testing.T) {
	db := SetupTestDB(t)
	repo := NewGameStateRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, &models.GameState{
		GameID: "g1", ParticipantLabel: "alice", CurrentState: "instructed",
		StateData: datatypes.JSON(`{"round":0}`),
	}))
	require.NoError(t, repo.Save(ctx, &models.GameState{
		GameID: "g1", ParticipantLabel: "alice", CurrentState: "chatting", Round: 1,
		StateData: datatypes.JSON(`{"round":1}`),
	}))

	var count int64
	db.Model(&models.GameState{}).Count(&count)
	assert.Equal(t, int64(1), count)

	state, err := repo.FindByGameID(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "chatting", state.CurrentState)
	assert.Equal(t, 1, state.Round)
	assert.JSONEq(t, `{"round":1}`, string(state.StateData))
}

func TestGameStateRepository_NotFoundAndDelete(t *testing.T) {
	db := SetupTestDB(t)
	repo := NewGameStateRepository(db)
	ctx := context.Background()

	_, err := repo.FindByGameID(ctx, "missing")
	assert.True(t, apperrors.Is(err, apperrors.ErrSessionNotFound))

	require.NoError(t, repo.Save(ctx, &models.GameState{GameID: "g1", CurrentState: "scored"}))
	require.NoError(t, repo.Delete(ctx, "g1"))
	_, err = repo.FindByGameID(ctx, "g1")
	assert.Error(t, err)
}

func TestGameStateRepository_FindRecoverableAndStale(t *testing.T) {
	db := SetupTestDB(t)
	repo := NewGameStateRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, &models.GameState{GameID: "active", CurrentState: "chatting"}))
	require.NoError(t, repo.Save(ctx, &models.GameState{GameID: "done", CurrentState: "completed"}))
	require.NoError(t, repo.Save(ctx, &models.GameState{GameID: "old", CurrentState: "deciding"}))
	require.NoError(t, db.Model(&models.GameState{}).Where("game_id = ?", "old").
		UpdateColumn("updated_at", time.Now().Add(-3*time.Hour)).Error)

	states, err := repo.FindRecoverable(ctx, time.Now().Add(-time.Hour), []string{"completed"})
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, "active", states[0].GameID)

	n, err := repo.DeleteStale(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
