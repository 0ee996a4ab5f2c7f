package dilemma

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/pd-classroom/internal/chat"
	"github.com/wfunc/pd-classroom/internal/config"
	apperrors "github.com/wfunc/pd-classroom/internal/errors"
	"github.com/wfunc/pd-classroom/internal/llm"
)

func testLLMConfig() *config.LLMConfig {
	return &config.LLMConfig{
		ReplyMaxTokens:              90,
		ShortReplyMaxTokens:         10,
		ReplyTemperature:            0.9,
		DecisionMaxTokens:           80,
		DecisionTemperature:         0.2,
		ShortReplyProbability:       0.4,
		AgreementSilenceProbability: 0.4,
		MaxReplyChars:               280,
	}
}

func stubGenerator(out string, err error, seen *llm.Request) llm.Generator {
	return llm.GeneratorFunc(func(ctx context.Context, req llm.Request) (string, error) {
		if seen != nil {
			*seen = req
		}
		return out, err
	})
}

func sampleTranscript() chat.Transcript {
	return chat.Transcript{
		{Role: chat.RoleAgent, Text: "hey, you gonna cooperate?"},
		{Role: chat.RoleStudent, Text: "I promise I will, deal?"},
	}
}

func TestPolicy_AlwaysDefect(t *testing.T) {
	p := NewPolicy(nil, NewRandom(7), testLLMConfig())
	for i := 0; i < 200; i++ {
		d, err := p.Decide(context.Background(), AlwaysDefect, sampleTranscript())
		require.NoError(t, err)
		assert.Equal(t, Defect, d.Move)
		assert.Equal(t, SourceRule, d.Source)
	}
}

func TestPolicy_AlwaysCooperate(t *testing.T) {
	p := NewPolicy(nil, nil, testLLMConfig())
	d, err := p.Decide(context.Background(), AlwaysCooperate, nil)
	require.NoError(t, err)
	assert.Equal(t, Cooperate, d.Move)
	assert.Equal(t, 1.0, d.Confidence)
}

func TestPolicy_Random5050(t *testing.T) {
	p := NewPolicy(nil, NewRandom(42), testLLMConfig())
	const trials = 10000
	coop := 0
	for i := 0; i < trials; i++ {
		d, err := p.Decide(context.Background(), Random5050, nil)
		require.NoError(t, err)
		if d.Move == Cooperate {
			coop++
		}
	}
	rate := float64(coop) / trials
	assert.InDelta(t, 0.5, rate, 0.03)
}

func TestPolicy_RandomPinned(t *testing.T) {
	p := NewPolicy(nil, NewSequenceRandom(0.1, 0.9), testLLMConfig())
	d1, _ := p.Decide(context.Background(), Random5050, nil)
	d2, _ := p.Decide(context.Background(), Random5050, nil)
	assert.Equal(t, Cooperate, d1.Move)
	assert.Equal(t, Defect, d2.Move)
}

func TestPolicy_ChatDriven(t *testing.T) {
	var seen llm.Request
	gen := stubGenerator(`{"agent_move":"COOPERATE","confidence":0.7,"reason":"student promised"}`, nil, &seen)
	p := NewPolicy(gen, nil, testLLMConfig())

	d, err := p.Decide(context.Background(), ChatDriven, sampleTranscript())
	require.NoError(t, err)
	assert.Equal(t, Cooperate, d.Move)
	assert.InDelta(t, 0.7, d.Confidence, 1e-9)
	assert.Equal(t, "student promised", d.Reason)
	assert.Equal(t, SourceLLM, d.Source)

	assert.True(t, seen.JSONMode)
	assert.Equal(t, 80, seen.MaxTokens)
	assert.InDelta(t, 0.2, seen.Temperature, 1e-9)
	assert.Contains(t, seen.System, "If unsure, lean DEFECT")
	require.Len(t, seen.Messages, 1)
	assert.Contains(t, seen.Messages[0].Content, "Student: I promise I will, deal?")
	assert.Contains(t, seen.Messages[0].Content, "trust_words=2")
}

func TestPolicy_ChatDrivenErrors(t *testing.T) {
	upstream := apperrors.New(apperrors.ErrGenerationFailed, "http 500")
	p := NewPolicy(stubGenerator("", upstream, nil), nil, testLLMConfig())
	_, err := p.Decide(context.Background(), ChatDriven, sampleTranscript())
	require.Error(t, err)
	assert.ErrorAs(t, err, new(*DecisionError))
	assert.True(t, errors.Is(err, upstream))

	p = NewPolicy(nil, nil, testLLMConfig())
	_, err = p.Decide(context.Background(), ChatDriven, sampleTranscript())
	assert.ErrorAs(t, err, new(*DecisionError))

	_, err = p.Decide(context.Background(), Strategy("TIT_FOR_TAT"), nil)
	assert.ErrorAs(t, err, new(*DecisionError))
}

func TestParseDecision(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		move    Move
		conf    float64
		wantErr bool
	}{
		{"strict", `{"agent_move":"DEFECT","confidence":0.4,"reason":"unsure"}`, Defect, 0.4, false},
		{"wrapped in prose", "Sure! ```json\n{\"agent_move\":\"COOPERATE\",\"confidence\":0.9,\"reason\":\"ok\"}\n```", Cooperate, 0.9, false},
		{"string confidence", `{"agent_move":"DEFECT","confidence":"0.25","reason":"x"}`, Defect, 0.25, false},
		{"confidence clamped", `{"agent_move":"DEFECT","confidence":3,"reason":"x"}`, Defect, 1, false},
		{"negative confidence", `{"agent_move":"DEFECT","confidence":-1}`, Defect, 0, false},
		{"lowercase move", `{"agent_move":"cooperate","confidence":0.5}`, "", 0, true},
		{"illegal move", `{"agent_move":"MAYBE","confidence":0.5}`, "", 0, true},
		{"no braces", "I will defect", "", 0, true},
		{"broken json", `{"agent_move":`, "", 0, true},
		{"empty", "", "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ParseDecision(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorAs(t, err, new(*DecisionError))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.move, d.Move)
			assert.InDelta(t, tt.conf, d.Confidence, 1e-9)
		})
	}
}

func TestFallback(t *testing.T) {
	d := Fallback()
	assert.Equal(t, Defect, d.Move)
	assert.Equal(t, SourceFallback, d.Source)
}
