package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/postfiatorg/pftnoded/internal/llm"
	"github.com/postfiatorg/pftnoded/internal/memo"
	"github.com/postfiatorg/pftnoded/internal/storage"
	"github.com/postfiatorg/pftnoded/internal/submit"
)

// runRewardQueue judges verification responses and pays the final reward,
// closing the task thread.
func (e *Engine) runRewardQueue(ctx context.Context) (int, error) {
	rows, tasks, err := e.nodeView(ctx)
	if err != nil {
		return 0, err
	}

	handled := 0
	for _, task := range tasks.ResponsesNeedingReward() {
		if err := ctx.Err(); err != nil {
			return handled, err
		}

		response, ok := task.StageMemo(memo.StageVerificationResponse)
		if !ok || e.resultDone(ctx, response.Hash) {
			continue
		}
		user := task.UserAccount

		question := ""
		if prompt, ok := task.StageMemo(memo.StageVerificationPrompt); ok {
			question = sentinelBody(prompt.MemoData, memo.VerificationPromptSentinel)
		}
		proposed, proposedOK := task.ProposedReward()

		ev := rewardEvidence{
			proposal:      task.ProposalText(),
			proposedValue: proposed,
			question:      question,
			answer:        sentinelBody(response.MemoData, memo.VerificationResponseSentinel),
			rewardHistory: e.rewardHistory(rows, user),
			docSection:    e.docs.FetchVerificationText(ctx, latestDocLink(rows, user)),
			userContext:   e.userContext(ctx, rows, tasks, user),
		}

		resp, err := e.llm.CompleteSync(ctx, llm.Request{
			ID:     task.ID + "#reward",
			System: rewardSystem,
			User:   e.rewardPrompt(ev),
		})
		if err != nil {
			e.logger.Warn("reward judgment for %s failed: %v", task.ID, err)
			continue
		}

		amount, ok := llm.ExtractInt(resp, "Total PFT Rewarded")
		if !ok {
			e.logger.Warn("reward judgment for %s carried no amount, skipping", task.ID)
			continue
		}
		summary, ok := llm.ExtractField(resp, "Summary Judgment")
		if !ok || summary == "" {
			summary = firstLine(resp)
		}

		amount = clamp(amount, e.minReward, e.maxReward)
		if proposedOK && proposed > 0 && amount > proposed {
			amount = proposed
		}
		if e.dailyCeiling > 0 {
			remaining := e.dailyCeiling - e.rewardedToday(rows, user)
			if remaining < e.minReward {
				e.logger.Warn("daily reward ceiling reached for %s, deferring %s", user, task.ID)
				continue
			}
			if amount > remaining {
				amount = remaining
			}
		}

		taskID := task.ID
		confirmed, err := e.sendAndConfirm(ctx, e.cfg.NodeAddress, user,
			submit.Memo{Type: taskID, Format: e.cfg.NodeName, Data: memo.RewardSentinel + " " + summary},
			float64(amount),
			func(row storage.DecodedMemo) bool {
				return row.Account == e.cfg.NodeAddress && row.MemoType == taskID &&
					memo.ClassifyMemoData(row.MemoData) == memo.StageReward
			})
		if err != nil {
			e.logger.Warn("reward for %s not confirmed: %v", taskID, err)
			continue
		}

		e.recordResult(ctx, "reward_queue", response, confirmed.Hash,
			fmt.Sprintf("%d PFT: %s", amount, truncate(summary, 160)))
		handled++
	}
	return handled, nil
}

// rewardHistory lists the user's task rewards inside the lookback window,
// oldest first, for the judgment prompt.
func (e *Engine) rewardHistory(rows []storage.DecodedMemo, user string) []string {
	cutoff := e.now().Add(-e.rewardWindow)
	var out []string
	for _, row := range rows {
		if !e.isTaskReward(row, user) || row.Datetime.Before(cutoff) {
			continue
		}
		out = append(out, fmt.Sprintf("- %s | %.0f PFT | %s",
			row.Datetime.Format("2006-01-02"), row.PFTAbsoluteAmount,
			truncate(sentinelBody(row.MemoData, memo.RewardSentinel), 120)))
	}
	return out
}

// rewardedToday sums the PFT paid to the user as task rewards over the
// trailing 24 hours.
func (e *Engine) rewardedToday(rows []storage.DecodedMemo, user string) int {
	cutoff := e.now().Add(-24 * time.Hour)
	total := 0.0
	for _, row := range rows {
		if !e.isTaskReward(row, user) || row.Datetime.Before(cutoff) {
			continue
		}
		total += row.PFTAbsoluteAmount
	}
	return int(total)
}

func (e *Engine) isTaskReward(row storage.DecodedMemo, user string) bool {
	return row.Account == e.cfg.NodeAddress && row.UserAccount == user &&
		memo.ClassifyMemoData(row.MemoData) == memo.StageReward
}
