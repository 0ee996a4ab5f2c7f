package dilemma

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/pd-classroom/internal/chat"
	"github.com/wfunc/pd-classroom/internal/config"
	apperrors "github.com/wfunc/pd-classroom/internal/errors"
	"github.com/wfunc/pd-classroom/internal/llm"
)

func newTestCounterpart(gen llm.Generator, rnd Random) *Counterpart {
	return NewCounterpart(gen, rnd, testLLMConfig(), &config.GameConfig{OpenerProbability: 0.3})
}

func agreedTranscript() chat.Transcript {
	return chat.Transcript{
		{Role: chat.RoleAgent, Text: "cooperate?"},
		{Role: chat.RoleStudent, Text: "Sounds good"},
	}
}

func TestCounterpart_AgreementShortCircuit(t *testing.T) {
	calls := 0
	gen := llm.GeneratorFunc(func(ctx context.Context, req llm.Request) (string, error) {
		calls++
		return "should not be used", nil
	})

	// 0.1 < 0.4 -> 沉默
	r, err := newTestCounterpart(gen, NewSequenceRandom(0.1)).Reply(context.Background(), ChatDriven, agreedTranscript())
	require.NoError(t, err)
	assert.True(t, r.Silent)
	assert.Empty(t, r.Text)

	// 0.8 >= 0.4 -> Okay
	r, err = newTestCounterpart(gen, NewSequenceRandom(0.8)).Reply(context.Background(), ChatDriven, agreedTranscript())
	require.NoError(t, err)
	assert.False(t, r.Silent)
	assert.Equal(t, AgreementAck, r.Text)
	assert.Equal(t, ReplySourceAck, r.Source)

	assert.Zero(t, calls)
}

func TestCounterpart_GeneratedReply(t *testing.T) {
	var seen llm.Request
	gen := stubGenerator("  yeah tbh I kinda want us both to cooperate  ", nil, &seen)
	transcript := chat.Transcript{
		{Role: chat.RoleAgent, Text: "hi"},
		{Role: chat.RoleStudent, Text: "what will you do?"},
	}

	r, err := newTestCounterpart(gen, NewSequenceRandom(0.9)).Reply(context.Background(), AlwaysDefect, transcript)
	require.NoError(t, err)
	assert.Equal(t, "yeah tbh I kinda want us both to cooperate", r.Text)
	assert.False(t, r.Short)
	assert.Equal(t, ReplySourceLLM, r.Source)

	assert.Equal(t, 90, seen.MaxTokens)
	assert.InDelta(t, 0.9, seen.Temperature, 1e-9)
	assert.Contains(t, seen.System, salesyStyle)
	assert.Contains(t, seen.System, "SHORT_MODE: false")
	require.Len(t, seen.Messages, 2)
	assert.Equal(t, llm.RoleAssistant, seen.Messages[0].Role)
	assert.Equal(t, llm.RoleUser, seen.Messages[1].Role)
}

func TestCounterpart_ShortMode(t *testing.T) {
	var seen llm.Request
	gen := stubGenerator("Sure.", nil, &seen)
	r, err := newTestCounterpart(gen, NewSequenceRandom(0.1)).Reply(context.Background(), ChatDriven, sampleTranscriptNoAgreement())
	require.NoError(t, err)
	assert.True(t, r.Short)
	assert.Equal(t, 10, seen.MaxTokens)
	assert.Contains(t, seen.System, "SHORT_MODE: true")
	assert.Contains(t, seen.System, sincereStyle)
}

func TestCounterpart_EmptyOutputFallback(t *testing.T) {
	r, err := newTestCounterpart(stubGenerator("   ", nil, nil), NewSequenceRandom(0.9)).
		Reply(context.Background(), ChatDriven, sampleTranscriptNoAgreement())
	require.NoError(t, err)
	assert.Equal(t, "I'm here. Tell me in one sentence what you think cooperation means in this game.", r.Text)
	assert.Equal(t, ReplySourceFallback, r.Source)
}

func TestCounterpart_LengthCap(t *testing.T) {
	long := strings.Repeat("a", 500)
	r, err := newTestCounterpart(stubGenerator(long, nil, nil), NewSequenceRandom(0.9)).
		Reply(context.Background(), ChatDriven, sampleTranscriptNoAgreement())
	require.NoError(t, err)
	assert.Len(t, []rune(r.Text), 280)
}

func TestCounterpart_GeneratorError(t *testing.T) {
	_, err := newTestCounterpart(stubGenerator("", apperrors.New(apperrors.ErrTimeout, "slow"), nil), NewSequenceRandom(0.9)).
		Reply(context.Background(), ChatDriven, sampleTranscriptNoAgreement())
	assert.True(t, apperrors.Is(err, apperrors.ErrTimeout))
}

func TestCounterpart_Opener(t *testing.T) {
	var seen llm.Request
	gen := stubGenerator("hey, you around?", nil, &seen)

	r, err := newTestCounterpart(gen, NewSequenceRandom(0.9)).Opener(context.Background(), ChatDriven)
	require.NoError(t, err)
	assert.Nil(t, r)

	// 第一个值决定开口，第二个值决定短回复
	r, err = newTestCounterpart(gen, NewSequenceRandom(0.1, 0.9)).Opener(context.Background(), ChatDriven)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, "hey, you around?", r.Text)
	assert.Equal(t, "opener", seen.Purpose)
}

func sampleTranscriptNoAgreement() chat.Transcript {
	return chat.Transcript{{Role: chat.RoleStudent, Text: "what do you think?"}}
}
