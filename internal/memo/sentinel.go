package memo

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Stage identifies the task-lifecycle stage a memo_data payload encodes.
type Stage int

const (
	StageUnknown Stage = iota
	StageRequest
	StageProposal
	StageAcceptance
	StageRefusal
	StageTaskOutput
	StageVerificationPrompt
	StageVerificationResponse
	StageReward
	StageUserGenesis
	StageNodeRequest
)

func (s Stage) String() string {
	switch s {
	case StageRequest:
		return "REQUEST_POST_FIAT"
	case StageProposal:
		return "PROPOSAL"
	case StageAcceptance:
		return "ACCEPTANCE"
	case StageRefusal:
		return "REFUSAL"
	case StageTaskOutput:
		return "TASK_OUTPUT"
	case StageVerificationPrompt:
		return "VERIFICATION_PROMPT"
	case StageVerificationResponse:
		return "VERIFICATION_RESPONSE"
	case StageReward:
		return "REWARD"
	case StageUserGenesis:
		return "USER_GENESIS"
	case StageNodeRequest:
		return "NODE_REQUEST"
	default:
		return "UNKNOWN"
	}
}

// Sentinel strings marking task-lifecycle memos, matched as substrings of
// memo_data. Senders place them at the start of the payload.
const (
	RequestSentinel              = "REQUEST_POST_FIAT ___"
	ProposalSentinel             = "PROPOSED PF ___"
	AcceptanceSentinel           = "ACCEPTANCE REASON ___"
	RefusalSentinel              = "REFUSAL REASON ___"
	TaskOutputSentinel           = "COMPLETION JUSTIFICATION ___"
	VerificationPromptSentinel   = "VERIFICATION PROMPT ___"
	VerificationResponseSentinel = "VERIFICATION RESPONSE ___"
	RewardSentinel               = "REWARD RESPONSE __"
)

// proposalShorthand is the weak proposal marker separating task text from
// the proposed value.
const proposalShorthand = " .. "

// Genesis-era markers. Recognized so old traffic classifies cleanly, but no
// queue ever replies to them.
const (
	userGenesisSentinel = "USER GENESIS __"
	nodeRequestSentinel = "NODE_REQUEST ___"
)

// System memo types carried in memo_type. Fixed strings, not task ids.
const (
	InitiationRewardType = "INITIATION_REWARD"
	HandshakeType        = "HANDSHAKE"
	InitiationRiteType   = "INITIATION_RITE"
	GoogleDocLinkType    = "google_doc_context_link"
	DiscordFundingType   = "discord_wallet_funding"
)

// ClassifyMemoData maps a memo_data payload to its lifecycle stage. Explicit
// sentinels are tried first; the bare " .. " shorthand only classifies as
// PROPOSAL when no other sentinel matches, so stages that quote proposal
// text keep their own marker.
func ClassifyMemoData(data string) Stage {
	switch {
	case strings.Contains(data, RequestSentinel):
		return StageRequest
	case strings.Contains(data, ProposalSentinel):
		return StageProposal
	case strings.Contains(data, AcceptanceSentinel):
		return StageAcceptance
	case strings.Contains(data, RefusalSentinel):
		return StageRefusal
	case strings.Contains(data, TaskOutputSentinel):
		return StageTaskOutput
	case strings.Contains(data, VerificationPromptSentinel):
		return StageVerificationPrompt
	case strings.Contains(data, VerificationResponseSentinel):
		return StageVerificationResponse
	case strings.Contains(data, RewardSentinel):
		return StageReward
	case strings.Contains(data, userGenesisSentinel):
		return StageUserGenesis
	case strings.Contains(data, nodeRequestSentinel):
		return StageNodeRequest
	case strings.Contains(data, proposalShorthand):
		return StageProposal
	default:
		return StageUnknown
	}
}

// taskIDPattern matches ids like 2024-01-15_14:30 or 2024-01-15_14:30__AB12.
var taskIDPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}_\d{2}:\d{2}(?:__[A-Z0-9]{4})?$`)

// IsTaskID reports whether memoType is a task id. Task ids double as
// memo_type values and correlate every memo belonging to one task.
func IsTaskID(memoType string) bool {
	return taskIDPattern.MatchString(memoType)
}

// ParseProposal splits a PROPOSAL memo into its task text and proposed
// value, the integer after the final " .. " separator. ok is false when the
// separator or the value is missing.
func ParseProposal(data string) (text string, value int, ok bool) {
	body := data
	if i := strings.Index(body, ProposalSentinel); i >= 0 {
		body = body[i+len(ProposalSentinel):]
	}
	i := strings.LastIndex(body, proposalShorthand)
	if i < 0 {
		return strings.TrimSpace(body), 0, false
	}
	value, err := strconv.Atoi(strings.TrimSpace(body[i+len(proposalShorthand):]))
	if err != nil {
		return strings.TrimSpace(body[:i]), 0, false
	}
	return strings.TrimSpace(body[:i]), value, true
}

const (
	idLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	idDigits  = "0123456789"
)

// NewTaskID mints a task id for t with a random two-letter two-digit suffix.
func NewTaskID(t time.Time) (string, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("task id entropy: %w", err)
	}
	suffix := []byte{
		idLetters[int(b[0])%len(idLetters)],
		idLetters[int(b[1])%len(idLetters)],
		idDigits[int(b[2])%len(idDigits)],
		idDigits[int(b[3])%len(idDigits)],
	}
	return t.Format("2006-01-02_15:04") + "__" + string(suffix), nil
}
