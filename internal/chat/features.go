package chat

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	trustPattern     = regexp.MustCompile(`\btrust\b|\bdeal\b|\bfair\b|\bpromise\b|\bagree\b|\bcooperat(e|ion)\b`)
	suspicionPattern = regexp.MustCompile(`\bdefect\b|\bcheat\b|\btrick\b|\blie\b|\bstab\b|\bscrew\b`)
	agreementPattern = regexp.MustCompile(`\bok\b|\bokay\b|\bsure\b|\bdeal\b|\bagree\b|\blet's do it\b`)
)

// agreementPhrases 对手回复前判断学生是否已明确同意的短语表
var agreementPhrases = []string{
	"ok", "okay", "ok.", "okay.", "sure", "sure.", "deal", "deal.", "agreed", "agreed.",
	"yes", "yes.", "yep", "yep.", "yeah", "yeah.", "100%", "sounds good", "sounds great",
	"i agree", "i agree.", "i'm in", "im in", "i'm in.", "im in.",
	"let's do it", "lets do it", "let's do it.", "lets do it.",
	"i'll cooperate", "ill cooperate", "i will coop.", "i'll cooperate.",
	"let's cooperate", "lets cooperate", "we cooperate", "cooperate", "cooperate.",
	"i will cooperate", "i coooperate",
}

// Features 聊天词法特征（决策与看板共用同一份定义）
type Features struct {
	NumStudentMsgs   int  `json:"num_student_msgs"`
	NumAgentMsgs     int  `json:"num_agent_msgs"`
	StudentChars     int  `json:"student_chars"`
	AgentChars       int  `json:"agent_chars"`
	StudentQuestions int  `json:"student_questions"`
	TrustWords       int  `json:"trust_words"`
	SuspicionWords   int  `json:"suspicion_words"`
	AgreementSignal  bool `json:"agreement_signal"`
}

// Extract 提取特征；只统计学生文本中的关键词
func Extract(t Transcript) Features {
	var (
		f            Features
		studentTexts []string
		agentTexts   []string
	)

	for _, m := range t {
		switch m.Role {
		case RoleStudent:
			f.NumStudentMsgs++
			studentTexts = append(studentTexts, m.Text)
		case RoleAgent:
			f.NumAgentMsgs++
			agentTexts = append(agentTexts, m.Text)
		}
	}

	student := strings.Join(studentTexts, " ")
	agent := strings.Join(agentTexts, " ")
	lower := strings.ToLower(student)

	f.StudentChars = utf8.RuneCountInString(student)
	f.AgentChars = utf8.RuneCountInString(agent)
	f.StudentQuestions = strings.Count(student, "?")
	f.TrustWords = len(trustPattern.FindAllStringIndex(lower, -1))
	f.SuspicionWords = len(suspicionPattern.FindAllStringIndex(lower, -1))
	f.AgreementSignal = agreementPattern.MatchString(lower)
	return f
}

// IsAgreement 学生消息是否为明确同意（完全匹配或包含短语）
func IsAgreement(text string) bool {
	s := strings.ToLower(strings.TrimSpace(text))
	if s == "" {
		return false
	}
	for _, p := range agreementPhrases {
		if s == p || strings.Contains(s, p) {
			return true
		}
	}
	return false
}
