package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/postfiatorg/pftnoded/internal/llm"
	"github.com/postfiatorg/pftnoded/internal/memo"
	"github.com/postfiatorg/pftnoded/internal/storage"
	"github.com/postfiatorg/pftnoded/internal/submit"
)

// minRiteLength filters out placeholder rites a wallet sends while still
// being set up.
const minRiteLength = 10

// runInitiationQueue grades initiation rites and pays the one-time joining
// reward. A user is graded once; with reinitiations enabled a rite newer
// than the user's last initiation reward is graded again.
func (e *Engine) runInitiationQueue(ctx context.Context) (int, error) {
	rows, err := e.historyFor(ctx, e.cfg.NodeAddress)
	if err != nil {
		return 0, err
	}

	rites := make(map[string]storage.DecodedMemo)
	rewarded := make(map[string]time.Time)
	for _, row := range rows {
		switch row.MemoType {
		case memo.InitiationRiteType:
			if row.Destination != e.cfg.NodeAddress {
				continue
			}
			if len(strings.TrimSpace(row.MemoData)) < minRiteLength {
				continue
			}
			rites[row.UserAccount] = row
		case memo.InitiationRewardType:
			if row.Account != e.cfg.NodeAddress {
				continue
			}
			if at, ok := rewarded[row.UserAccount]; !ok || row.Datetime.After(at) {
				rewarded[row.UserAccount] = row.Datetime
			}
		}
	}

	users := make([]string, 0, len(rites))
	for user := range rites {
		users = append(users, user)
	}
	sort.Strings(users)

	handled := 0
	for _, user := range users {
		if err := ctx.Err(); err != nil {
			return handled, err
		}

		rite := rites[user]
		if at, ok := rewarded[user]; ok {
			if !e.reinitiations || !rite.Datetime.After(at) {
				continue
			}
		}
		if e.resultDone(ctx, rite.Hash) {
			continue
		}

		resp, err := e.llm.CompleteSync(ctx, llm.Request{
			ID:     "rite-" + rite.Hash,
			System: initiationSystem,
			User:   e.initiationPrompt(rite.MemoData),
		})
		if err != nil {
			e.logger.Warn("initiation grading for %s failed: %v", user, err)
			continue
		}

		amount, ok := llm.ExtractInt(resp, "Reward")
		if !ok {
			e.logger.Warn("initiation grade for %s carried no amount, skipping", user)
			continue
		}
		amount = clamp(amount, e.minReward, e.maxReward)
		justification, ok := llm.ExtractField(resp, "Justification")
		if !ok || justification == "" {
			justification = firstLine(resp)
		}

		riteAt := rite.Datetime
		confirmed, err := e.sendAndConfirm(ctx, e.cfg.NodeAddress, user,
			submit.Memo{Type: memo.InitiationRewardType, Format: e.cfg.NodeName, Data: justification},
			float64(amount),
			func(row storage.DecodedMemo) bool {
				return row.Account == e.cfg.NodeAddress && row.UserAccount == user &&
					row.MemoType == memo.InitiationRewardType && row.Datetime.After(riteAt)
			})
		if err != nil {
			e.logger.Warn("initiation reward for %s not confirmed: %v", user, err)
			continue
		}

		e.recordResult(ctx, "initiation_queue", rite, confirmed.Hash,
			fmt.Sprintf("%d PFT: %s", amount, truncate(justification, 160)))
		handled++
	}
	return handled, nil
}
