package engine

import (
	"context"

	"github.com/postfiatorg/pftnoded/internal/llm"
	"github.com/postfiatorg/pftnoded/internal/memo"
	"github.com/postfiatorg/pftnoded/internal/storage"
	"github.com/postfiatorg/pftnoded/internal/submit"
)

// runVerificationQueue challenges completion justifications with one
// verifying question per finished task.
func (e *Engine) runVerificationQueue(ctx context.Context) (int, error) {
	_, tasks, err := e.nodeView(ctx)
	if err != nil {
		return 0, err
	}

	handled := 0
	for _, task := range tasks.OutputsNeedingVerification() {
		if err := ctx.Err(); err != nil {
			return handled, err
		}

		trigger, ok := task.StageMemo(memo.StageTaskOutput)
		if !ok || e.resultDone(ctx, trigger.Hash) {
			continue
		}
		justification := sentinelBody(trigger.MemoData, memo.TaskOutputSentinel)

		resp, err := e.llm.CompleteSync(ctx, llm.Request{
			ID:     task.ID + "#verify",
			System: verificationSystem,
			User:   verificationPrompt(task.ProposalText(), justification),
		})
		if err != nil {
			e.logger.Warn("verification drafting for %s failed: %v", task.ID, err)
			continue
		}

		question, ok := llm.ExtractField(resp, "Verifying Question")
		if !ok || question == "" {
			question = firstLine(resp)
		}
		if question == "" {
			e.logger.Warn("no verifying question produced for %s, skipping", task.ID)
			continue
		}

		taskID := task.ID
		confirmed, err := e.sendAndConfirm(ctx, e.cfg.NodeAddress, task.UserAccount,
			submit.Memo{Type: taskID, Format: e.cfg.NodeName, Data: memo.VerificationPromptSentinel + " " + question}, 1,
			func(row storage.DecodedMemo) bool {
				return row.Account == e.cfg.NodeAddress && row.MemoType == taskID &&
					memo.ClassifyMemoData(row.MemoData) == memo.StageVerificationPrompt
			})
		if err != nil {
			e.logger.Warn("verification prompt for %s not confirmed: %v", taskID, err)
			continue
		}

		e.recordResult(ctx, "verification_queue", trigger, confirmed.Hash, truncate(question, 200))
		handled++
	}
	return handled, nil
}
