package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/postfiatorg/pftnoded/internal/lifecycle"
	"github.com/postfiatorg/pftnoded/internal/llm"
	"github.com/postfiatorg/pftnoded/internal/memo"
	"github.com/postfiatorg/pftnoded/internal/storage"
	"github.com/postfiatorg/pftnoded/internal/submit"
)

type candidate struct {
	text  string
	value int
}

var listMarker = regexp.MustCompile(`^\d+[.)]\s*`)

// parseCandidates pulls task commitments out of generation responses. A
// usable line reads "<text> .. <value>" with the value inside the proposal
// bounds; anything else is ignored. Duplicates collapse, order survives.
func (e *Engine) parseCandidates(texts []string) []candidate {
	var out []candidate
	seen := make(map[string]bool)
	for _, text := range texts {
		for _, line := range strings.Split(text, "\n") {
			line = strings.TrimSpace(line)
			line = strings.TrimLeft(line, "-*• \t")
			line = listMarker.ReplaceAllString(line, "")
			if line == "" {
				continue
			}
			body, value, ok := memo.ParseProposal(line)
			if !ok || body == "" || value < e.minProposalValue || value > e.maxProposalValue {
				continue
			}
			body = truncate(body, e.maxCommitmentLen)
			key := fmt.Sprintf("%s .. %d", body, value)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, candidate{text: body, value: value})
		}
	}
	return out
}

// runProposalQueue answers task requests. Generation fans out across every
// work item in one batch; a second, single call per task picks the winning
// candidate, defaulting to the first when the selector's answer does not
// parse.
func (e *Engine) runProposalQueue(ctx context.Context) (int, error) {
	rows, tasks, err := e.nodeView(ctx)
	if err != nil {
		return 0, err
	}

	work := make([]*lifecycle.Task, 0)
	for _, task := range tasks.RequestsNeedingProposal() {
		if task.Request == nil || e.resultDone(ctx, task.Request.Hash) {
			continue
		}
		work = append(work, task)
	}
	if len(work) == 0 {
		return 0, nil
	}

	contexts := make(map[string]string, len(work))
	reqs := make([]llm.Request, 0, len(work)*e.candidates)
	for _, task := range work {
		uctx := e.userContext(ctx, rows, tasks, task.UserAccount)
		contexts[task.ID] = uctx
		request := sentinelBody(task.Request.MemoData, memo.RequestSentinel)
		for i := 0; i < e.candidates; i++ {
			reqs = append(reqs, llm.Request{
				ID:     fmt.Sprintf("%s#%d", task.ID, i),
				System: candidateSystem,
				User:   e.candidatePrompt(request, uctx),
			})
		}
	}

	byTask := make(map[string][]string)
	for _, res := range e.llm.CompleteBatch(ctx, reqs) {
		if res.Err != nil {
			e.logger.Warn("candidate generation %s failed: %v", res.ID, res.Err)
			continue
		}
		id := res.ID
		if i := strings.LastIndex(id, "#"); i >= 0 {
			id = id[:i]
		}
		byTask[id] = append(byTask[id], res.Text)
	}

	handled := 0
	for _, task := range work {
		if err := ctx.Err(); err != nil {
			return handled, err
		}

		cands := e.parseCandidates(byTask[task.ID])
		if len(cands) == 0 {
			e.logger.Warn("no usable candidates for task %s", task.ID)
			continue
		}
		request := sentinelBody(task.Request.MemoData, memo.RequestSentinel)

		choice := 1
		sel, err := e.llm.CompleteSync(ctx, llm.Request{
			ID:     task.ID + "#select",
			System: selectorSystem,
			User:   e.selectorPrompt(request, cands, contexts[task.ID]),
		})
		if err != nil {
			e.logger.Warn("candidate selection for %s failed, keeping the first: %v", task.ID, err)
		} else if k, ok := llm.ExtractInt(sel, "BEST OUTPUT"); ok && k >= 1 && k <= len(cands) {
			choice = k
		}
		chosen := cands[choice-1]

		data := fmt.Sprintf("%s %s .. %d", memo.ProposalSentinel, chosen.text, chosen.value)
		user := task.UserAccount
		taskID := task.ID
		confirmed, err := e.sendAndConfirm(ctx, e.cfg.NodeAddress, user,
			submit.Memo{Type: taskID, Format: e.cfg.NodeName, Data: data}, 1,
			func(row storage.DecodedMemo) bool {
				return row.Account == e.cfg.NodeAddress && row.UserAccount == user && row.MemoType == taskID
			})
		if err != nil {
			e.logger.Warn("proposal for %s not confirmed: %v", taskID, err)
			continue
		}

		e.recordResult(ctx, "proposal_queue", *task.Request, confirmed.Hash, truncate(data, 200))
		handled++
	}
	return handled, nil
}
