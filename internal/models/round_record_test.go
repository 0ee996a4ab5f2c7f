package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundRecordOutcome(t *testing.T) {
	rec := &RoundRecord{GameID: "g1", RoundNum: 1}
	assert.Nil(t, rec.Outcome())
	assert.False(t, rec.IsScored())

	// 只写了一方不算完成
	c := "COOPERATE"
	rec.StudentMove = &c
	assert.Nil(t, rec.Outcome())

	d := "DEFECT"
	sp, ap := 0, 5
	rec.AgentMove = &d
	rec.StudentPayoff = &sp
	rec.AgentPayoff = &ap

	out := rec.Outcome()
	if assert.NotNil(t, out) {
		assert.Equal(t, "COOPERATE", out.StudentMove)
		assert.Equal(t, "DEFECT", out.AgentMove)
		assert.Equal(t, 0, out.StudentPayoff)
		assert.Equal(t, 5, out.AgentPayoff)
	}
	assert.True(t, rec.IsScored())
}
