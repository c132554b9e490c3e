package engine

import (
	"context"
	"strings"

	"github.com/postfiatorg/pftnoded/internal/gdocs"
	"github.com/postfiatorg/pftnoded/internal/lifecycle"
	"github.com/postfiatorg/pftnoded/internal/memo"
	"github.com/postfiatorg/pftnoded/internal/storage"
)

// userContext assembles the briefing the prompts embed for one user: their
// open task threads by stage, their linked context document, and their
// recent long-form messages.
func (e *Engine) userContext(ctx context.Context, rows []storage.DecodedMemo, tasks *lifecycle.TaskSet, user string) string {
	their := tasks.ForUser(user)

	var b strings.Builder
	b.WriteString("USER CONTEXT FOR " + user + "\n")

	section := func(title string, items []*lifecycle.Task) {
		b.WriteString("\n== " + title + " ==\n")
		if len(items) == 0 {
			b.WriteString("(none)\n")
			return
		}
		for _, task := range tail(items, e.contextTasks) {
			b.WriteString("- " + task.ID + ": " + truncate(taskSummary(task), 240) + "\n")
		}
	}
	section("PROPOSED, AWAITING ANSWER", their.PendingProposals())
	section("ACCEPTED, IN PROGRESS", their.AcceptedProposals())
	section("REFUSED", their.RefusedProposals())
	section("AWAITING USER VERIFICATION", their.VerificationProposals())
	section("REWARDED", their.RewardedProposals())

	b.WriteString("\n== CONTEXT DOCUMENT ==\n")
	b.WriteString(e.contextDocument(ctx, rows, user) + "\n")

	b.WriteString("\n== RECENT MESSAGES ==\n")
	messages := longFormMessages(rows, user, e.longFormMin)
	if len(messages) == 0 {
		b.WriteString("(none)\n")
	}
	for _, m := range tail(messages, e.contextMessages) {
		b.WriteString("- " + truncate(m, 300) + "\n")
	}
	return b.String()
}

func taskSummary(task *lifecycle.Task) string {
	if text := task.ProposalText(); text != "" {
		return text
	}
	if n := len(task.Memos); n > 0 {
		return strings.TrimSpace(task.Memos[n-1].MemoData)
	}
	return "(empty thread)"
}

// contextDocument fetches the user's linked document, degrading to the
// unavailable placeholder rather than failing the queue.
func (e *Engine) contextDocument(ctx context.Context, rows []storage.DecodedMemo, user string) string {
	link := latestDocLink(rows, user)
	if link == "" {
		return gdocs.UnavailablePlaceholder
	}
	text, err := e.docs.DocumentText(ctx, link)
	if err != nil {
		e.logger.Warn("context document for %s unavailable: %v", user, err)
		return gdocs.UnavailablePlaceholder
	}
	return truncate(strings.TrimSpace(text), e.contextDocChars)
}

// latestDocLink returns the newest context document link the user sent,
// empty when they never sent one.
func latestDocLink(rows []storage.DecodedMemo, user string) string {
	link := ""
	for _, row := range rows {
		if row.MemoType == memo.GoogleDocLinkType && row.Account == user {
			link = strings.TrimSpace(row.MemoData)
		}
	}
	return link
}

// longFormMessages returns the user's substantive memos, oldest first.
// System memo types are excluded; task memos stay because acceptances and
// completion justifications often carry the most useful context.
func longFormMessages(rows []storage.DecodedMemo, user string, minLen int) []string {
	var out []string
	for _, row := range rows {
		if row.Account != user {
			continue
		}
		switch row.MemoType {
		case memo.HandshakeType, memo.GoogleDocLinkType, memo.DiscordFundingType,
			memo.InitiationRiteType, memo.InitiationRewardType:
			continue
		}
		data := strings.TrimSpace(row.MemoData)
		if len(data) < minLen {
			continue
		}
		out = append(out, data)
	}
	return out
}
