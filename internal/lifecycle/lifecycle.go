// Package lifecycle reduces task memo threads to their current state.
//
// A task's thread is every memo sharing its task id. The thread is replayed
// in ledger order: the first REQUEST and the first PROPOSAL are pinned,
// response memos overwrite one another so the newest response wins, and a
// REWARD memo is final. Memos arriving after a reward stay in the thread but
// no longer move the task.
package lifecycle

import (
	"sort"

	"github.com/postfiatorg/pftnoded/internal/memo"
	"github.com/postfiatorg/pftnoded/internal/storage"
)

// Task is one classified memo thread.
type Task struct {
	// ID is the task id shared by every memo in the thread.
	ID string

	// UserAccount is the counterparty address the thread belongs to.
	UserAccount string

	// State is the stage of the memo that currently defines the task.
	State memo.Stage

	// Request and Proposal are the pinned first memos of their stage,
	// nil when the thread has none.
	Request  *storage.DecodedMemo
	Proposal *storage.DecodedMemo

	// Memos is the full thread in ledger order, including rows that do
	// not influence the state.
	Memos []storage.DecodedMemo

	stages map[memo.Stage]*storage.DecodedMemo
}

// responseStages are the stages that overwrite a task's state, newest wins.
var responseStages = map[memo.Stage]bool{
	memo.StageAcceptance:           true,
	memo.StageRefusal:              true,
	memo.StageTaskOutput:           true,
	memo.StageVerificationPrompt:   true,
	memo.StageVerificationResponse: true,
	memo.StageReward:               true,
}

// Classify replays one task's memos and returns the resulting task. The
// rows may arrive in any order; they are sorted by close time, ledger index
// and hash before the replay.
func Classify(rows []storage.DecodedMemo) *Task {
	ordered := make([]storage.DecodedMemo, len(rows))
	copy(ordered, rows)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if !a.Datetime.Equal(b.Datetime) {
			return a.Datetime.Before(b.Datetime)
		}
		if a.LedgerIndex != b.LedgerIndex {
			return a.LedgerIndex < b.LedgerIndex
		}
		return a.Hash < b.Hash
	})

	t := &Task{
		Memos:  ordered,
		State:  memo.StageUnknown,
		stages: make(map[memo.Stage]*storage.DecodedMemo),
	}

	latest := memo.StageUnknown
	rewarded := false
	for i := range ordered {
		row := &ordered[i]
		if t.ID == "" {
			t.ID = row.MemoType
		}
		if t.UserAccount == "" {
			t.UserAccount = row.UserAccount
		}
		if rewarded {
			continue
		}
		stage := memo.ClassifyMemoData(row.MemoData)
		switch {
		case stage == memo.StageRequest:
			if t.Request == nil {
				t.Request = row
				t.stages[stage] = row
			}
		case stage == memo.StageProposal:
			if t.Proposal == nil {
				t.Proposal = row
				t.stages[stage] = row
			}
		case responseStages[stage]:
			t.stages[stage] = row
			latest = stage
			if stage == memo.StageReward {
				rewarded = true
			}
		}
	}

	switch {
	case latest != memo.StageUnknown:
		t.State = latest
	case t.Proposal != nil:
		t.State = memo.StageProposal
	case t.Request != nil:
		t.State = memo.StageRequest
	}
	return t
}

// StageMemo returns the memo pinned for stage: the first one for REQUEST and
// PROPOSAL, the latest one for every response stage.
func (t *Task) StageMemo(stage memo.Stage) (storage.DecodedMemo, bool) {
	row, ok := t.stages[stage]
	if !ok {
		return storage.DecodedMemo{}, false
	}
	return *row, true
}

// ProposalText returns the proposal body without its sentinel and without
// the trailing proposed value.
func (t *Task) ProposalText() string {
	if t.Proposal == nil {
		return ""
	}
	text, _, _ := memo.ParseProposal(t.Proposal.MemoData)
	return text
}

// ProposedReward returns the value the proposal carried after its " .. "
// separator. ok is false when the task has no proposal or the proposal
// carries no parseable value.
func (t *Task) ProposedReward() (int, bool) {
	if t.Proposal == nil {
		return 0, false
	}
	_, value, ok := memo.ParseProposal(t.Proposal.MemoData)
	return value, ok
}

// RequiresWork reports whether the thread's newest memo came from the user
// side and still awaits a node reply.
func (t *Task) RequiresWork() bool {
	switch t.State {
	case memo.StageRequest, memo.StageTaskOutput, memo.StageVerificationResponse:
		return true
	}
	return false
}

// TaskSet is the classified view of one account's task threads.
type TaskSet struct {
	tasks map[string]*Task
	ids   []string
}

// NewTaskSet groups a memo history into task threads and classifies each
// one. Rows whose memo type is not a task id are ignored.
func NewTaskSet(history []storage.DecodedMemo) *TaskSet {
	groups := make(map[string][]storage.DecodedMemo)
	for _, row := range history {
		if !memo.IsTaskID(row.MemoType) {
			continue
		}
		groups[row.MemoType] = append(groups[row.MemoType], row)
	}

	s := &TaskSet{
		tasks: make(map[string]*Task, len(groups)),
		ids:   make([]string, 0, len(groups)),
	}
	for id, rows := range groups {
		s.tasks[id] = Classify(rows)
		s.ids = append(s.ids, id)
	}
	sort.Strings(s.ids)
	return s
}

// Len returns the number of classified tasks.
func (s *TaskSet) Len() int { return len(s.tasks) }

// Task returns the classified task for id.
func (s *TaskSet) Task(id string) (*Task, bool) {
	t, ok := s.tasks[id]
	return t, ok
}

// All returns every task ordered by id. Task ids embed their creation time,
// so the order is chronological.
func (s *TaskSet) All() []*Task {
	out := make([]*Task, 0, len(s.ids))
	for _, id := range s.ids {
		out = append(out, s.tasks[id])
	}
	return out
}

// ForUser narrows the set to the threads of a single counterparty.
func (s *TaskSet) ForUser(account string) *TaskSet {
	out := &TaskSet{tasks: make(map[string]*Task)}
	for _, id := range s.ids {
		t := s.tasks[id]
		if t.UserAccount == account {
			out.tasks[id] = t
			out.ids = append(out.ids, id)
		}
	}
	return out
}

func (s *TaskSet) inState(states ...memo.Stage) []*Task {
	out := make([]*Task, 0)
	for _, id := range s.ids {
		t := s.tasks[id]
		for _, state := range states {
			if t.State == state {
				out = append(out, t)
				break
			}
		}
	}
	return out
}

// RequestsNeedingProposal returns tasks whose thread is still only a user
// request.
func (s *TaskSet) RequestsNeedingProposal() []*Task {
	return s.inState(memo.StageRequest)
}

// PendingProposals returns tasks proposed to the user and not yet answered.
func (s *TaskSet) PendingProposals() []*Task {
	return s.inState(memo.StageProposal)
}

// AcceptedProposals returns tasks the user accepted and has not completed.
func (s *TaskSet) AcceptedProposals() []*Task {
	return s.inState(memo.StageAcceptance)
}

// RefuseableProposals returns tasks the user can still refuse: proposed,
// accepted, or sitting at a verification prompt.
func (s *TaskSet) RefuseableProposals() []*Task {
	return s.inState(memo.StageProposal, memo.StageAcceptance, memo.StageVerificationPrompt)
}

// RefusedProposals returns tasks whose newest response is a refusal.
func (s *TaskSet) RefusedProposals() []*Task {
	return s.inState(memo.StageRefusal)
}

// VerificationProposals returns tasks waiting on the user's verification
// response.
func (s *TaskSet) VerificationProposals() []*Task {
	return s.inState(memo.StageVerificationPrompt)
}

// OutputsNeedingVerification returns tasks whose newest memo is the user's
// completion justification, awaiting a verification prompt.
func (s *TaskSet) OutputsNeedingVerification() []*Task {
	return s.inState(memo.StageTaskOutput)
}

// ResponsesNeedingReward returns tasks whose newest memo is the user's
// verification response, awaiting the reward.
func (s *TaskSet) ResponsesNeedingReward() []*Task {
	return s.inState(memo.StageVerificationResponse)
}

// RewardedProposals returns finished tasks.
func (s *TaskSet) RewardedProposals() []*Task {
	return s.inState(memo.StageReward)
}

// RequiresWork returns every task awaiting a node reply, ordered by id.
func (s *TaskSet) RequiresWork() []*Task {
	out := make([]*Task, 0)
	for _, id := range s.ids {
		if t := s.tasks[id]; t.RequiresWork() {
			out = append(out, t)
		}
	}
	return out
}
