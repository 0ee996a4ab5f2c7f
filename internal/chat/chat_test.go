package chat

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperrors "github.com/wfunc/pd-classroom/internal/errors"
)

func TestExtract_Empty(t *testing.T) {
	f := Extract(nil)
	assert.Equal(t, Features{}, f)
	assert.False(t, f.AgreementSignal)

	assert.Equal(t, Features{}, Extract(Transcript{}))
}

func TestExtract_AgreementAndTrust(t *testing.T) {
	f := Extract(Transcript{{Role: RoleStudent, Text: "I agree, let's cooperate"}})
	assert.True(t, f.AgreementSignal)
	assert.GreaterOrEqual(t, f.TrustWords, 1)
	assert.Equal(t, 2, f.TrustWords) // agree + cooperate
	assert.Equal(t, 1, f.NumStudentMsgs)
	assert.Equal(t, 0, f.NumAgentMsgs)
	assert.Equal(t, len("I agree, let's cooperate"), f.StudentChars)
}

func TestExtract_Counts(t *testing.T) {
	tr := Transcript{
		{Role: RoleAgent, Text: "are you going to defect?"},
		{Role: RoleStudent, Text: "No? Do you promise?"},
		{Role: RoleAgent, Text: "sure"},
		{Role: RoleStudent, Text: "I think you might cheat or lie. Cooperation is fair"},
	}
	f := Extract(tr)

	assert.Equal(t, 2, f.NumStudentMsgs)
	assert.Equal(t, 2, f.NumAgentMsgs)
	// 只统计学生文本
	assert.Equal(t, 2, f.StudentQuestions)
	assert.Equal(t, 3, f.TrustWords)     // promise, cooperation, fair
	assert.Equal(t, 2, f.SuspicionWords) // cheat, lie（agent 的 defect 不计）
	assert.False(t, f.AgreementSignal)

	student := "No? Do you promise? I think you might cheat or lie. Cooperation is fair"
	assert.Equal(t, len(student), f.StudentChars)
	assert.Equal(t, len("are you going to defect? sure"), f.AgentChars)
}

func TestExtract_WordBoundaries(t *testing.T) {
	f := Extract(Transcript{{Role: RoleStudent, Text: "cooperative lies screwdriver untrustworthy"}})
	assert.Zero(t, f.TrustWords)
	assert.Zero(t, f.SuspicionWords)

	f = Extract(Transcript{{Role: RoleStudent, Text: "Okay, DEAL."}})
	assert.True(t, f.AgreementSignal)
	assert.Equal(t, 1, f.TrustWords)
}

func TestExtract_CountsRunesNotBytes(t *testing.T) {
	f := Extract(Transcript{{Role: RoleStudent, Text: "合作吧"}})
	assert.Equal(t, 3, f.StudentChars)
}

func TestIsAgreement(t *testing.T) {
	yes := []string{"ok", " OK ", "Okay.", "sounds good to me", "I'm in", "lets do it", "100%", "I will cooperate"}
	for _, s := range yes {
		assert.True(t, IsAgreement(s), s)
	}

	no := []string{"", "   ", "what will you do", "nah", "hmm maybe"}
	for _, s := range no {
		assert.False(t, IsAgreement(s), s)
	}
}

func TestParseTranscript(t *testing.T) {
	arr := ParseTranscript([]byte(`[{"role":"student","text":"hi"},{"role":"agent","text":"hey"}]`))
	require.Len(t, arr, 2)
	assert.Equal(t, RoleStudent, arr[0].Role)
	assert.Equal(t, "hey", arr[1].Text)

	str := ParseTranscript([]byte(`"[{\"role\":\"student\",\"text\":\"hi\"}]"`))
	require.Len(t, str, 1)
	assert.Equal(t, "hi", str[0].Text)

	assert.Empty(t, ParseTranscript(nil))
	assert.Empty(t, ParseTranscript([]byte(`null`)))
	assert.Empty(t, ParseTranscript([]byte(`{"role":"student"}`)))
	assert.Empty(t, ParseTranscript([]byte(`"not json"`)))
	assert.NotNil(t, ParseTranscript([]byte(`garbage`)))
}

func TestTranscriptHelpers(t *testing.T) {
	var tr Transcript
	tr = tr.Append(RoleAgent, "hey")
	tr = tr.Append(RoleStudent, "first")
	tr = tr.Append(RoleAgent, "ok")
	tr = tr.Append(RoleStudent, "second")
	assert.Equal(t, "second", tr.LastStudentText())
	assert.Equal(t, "", Transcript{{Role: RoleAgent, Text: "x"}}.LastStudentText())

	clone := tr.Clone()
	clone[0].Text = "changed"
	assert.Equal(t, "hey", tr[0].Text)
	assert.NotNil(t, Transcript(nil).Clone())

	assert.NoError(t, tr.Validate())
	err := Transcript{{Role: "moderator", Text: "x"}}.Validate()
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidParam))
}

func TestPreview(t *testing.T) {
	tr := Transcript{
		{Role: RoleAgent, Text: "one"},
		{Role: RoleStudent, Text: "two"},
		{Role: RoleAgent, Text: "three"},
		{Role: RoleStudent, Text: "four"},
		{Role: RoleAgent, Text: "five"},
	}
	assert.Equal(t, "You: two | A: three | You: four | A: five", Preview(tr, 4, 220))
	assert.Equal(t, "You: two", Preview(tr, 4, 8))
	assert.Equal(t, "", Preview(nil, 4, 220))
}

func TestRender(t *testing.T) {
	tr := Transcript{
		{Role: RoleStudent, Text: "hi"},
		{Role: RoleAgent, Text: "yo"},
	}
	assert.Equal(t, "Student: hi\nPersonA: yo", Render(tr, 4000))

	long := Transcript{{Role: RoleStudent, Text: strings.Repeat("a", 5000)}}
	assert.Len(t, Render(long, 4000), 4000)
}
