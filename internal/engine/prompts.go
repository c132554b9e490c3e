package engine

import (
	"fmt"
	"strings"
)

// The judging and generation prompts the queues send to the LLM. Replies
// are free text; the queues pull fields back out with the pipe-delimited
// extractors, so every prompt spells out the exact field syntax it expects.

const candidateSystem = `You are the task generation arm of a Post Fiat node. Users stake their
time against concrete commitments; your job is to turn a user's request
into one specific, falsifiable task they can complete within days. Favor
verifiable outputs over vague intentions, and keep continuity with the
user's existing tasks and context document.`

const candidateInstructions = `Write exactly one task commitment as a single line of the form:

<task description> .. <value>

where <value> is an integer between %d and %d reflecting difficulty and
worth in PFT. Output only that line.`

func (e *Engine) candidatePrompt(request, userContext string) string {
	var b strings.Builder
	b.WriteString("The user asked for a task:\n\n")
	b.WriteString(request)
	b.WriteString("\n\n")
	b.WriteString(userContext)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, candidateInstructions, e.minProposalValue, e.maxProposalValue)
	return b.String()
}

const selectorSystem = `You are the selection arm of a Post Fiat node. Given several candidate
task commitments for one user request, pick the single candidate that is
most concrete, most verifiable and best matched to the user's history.`

func (e *Engine) selectorPrompt(request string, candidates []candidate, userContext string) string {
	var b strings.Builder
	b.WriteString("The user asked for a task:\n\n")
	b.WriteString(request)
	b.WriteString("\n\nCandidates:\n")
	for i, c := range candidates {
		fmt.Fprintf(&b, "%d. %s .. %d\n", i+1, c.text, c.value)
	}
	b.WriteString("\n")
	b.WriteString(userContext)
	b.WriteString("\n\nAnswer with the winning candidate's number in the form:\n\n| BEST OUTPUT | <number> |")
	return b.String()
}

const initiationSystem = `You judge initiation rites for a Post Fiat node. A rite is the user's
opening commitment; grade its concreteness and seriousness, not its
ambition. Brief and specific beats grand and vague.`

func (e *Engine) initiationPrompt(rite string) string {
	var b strings.Builder
	b.WriteString("The user submitted this initiation rite:\n\n")
	b.WriteString(rite)
	fmt.Fprintf(&b,
		"\n\nGrade it and reply in the form:\n\n| Reward | <integer between %d and %d> | Justification | <one concise sentence> |",
		e.minReward, e.maxReward)
	return b.String()
}

const verificationSystem = `You write verification questions for a Post Fiat node. The user claims a
task is complete; ask the one question whose answer best proves or
disproves the claim. It must be answerable with evidence the user can
paste into a memo.`

func verificationPrompt(proposal, justification string) string {
	var b strings.Builder
	b.WriteString("The task as proposed:\n\n")
	b.WriteString(proposal)
	b.WriteString("\n\nThe user's completion claim:\n\n")
	b.WriteString(justification)
	b.WriteString("\n\nReply with a single question in the form:\n\n| Verifying Question | <one sentence> |")
	return b.String()
}

const rewardSystem = `You are the reward arm of a Post Fiat node. Judge whether the completed
work matches what was proposed and verified, then set a PFT reward. Be
skeptical of unverifiable claims and generous to documented work. Never
exceed the proposed value.`

type rewardEvidence struct {
	proposal      string
	proposedValue int
	question      string
	answer        string
	rewardHistory []string
	docSection    string
	userContext   string
}

func (e *Engine) rewardPrompt(ev rewardEvidence) string {
	var b strings.Builder
	b.WriteString("The task as proposed:\n\n")
	b.WriteString(ev.proposal)
	if ev.proposedValue > 0 {
		fmt.Fprintf(&b, "\n\nProposed value: %d PFT", ev.proposedValue)
	}
	b.WriteString("\n\nVerification question:\n\n")
	b.WriteString(ev.question)
	b.WriteString("\n\nUser's answer:\n\n")
	b.WriteString(ev.answer)

	b.WriteString("\n\nRecent rewards for this user:\n")
	if len(ev.rewardHistory) == 0 {
		b.WriteString("(none)\n")
	}
	for _, line := range ev.rewardHistory {
		b.WriteString(line + "\n")
	}

	b.WriteString("\nVerification section of the user's context document:\n\n")
	b.WriteString(ev.docSection)
	b.WriteString("\n\n")
	b.WriteString(ev.userContext)

	fmt.Fprintf(&b,
		"\n\nReply in the form:\n\n| Summary Judgment | <one sentence> | Total PFT Rewarded | <integer between %d and %d> |",
		e.minReward, e.maxReward)
	return b.String()
}
